package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nmbp/pledge_api/internal/config"
	"github.com/nmbp/pledge_api/internal/logging"
)

func TestServerUnknownRouteRendersJSONError(t *testing.T) {
	srv, err := New(config.Config{AppEnv: "test", SMS: config.SMSConfig{Provider: config.SMSProviderLog}}, nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error_code"] != "NOT_FOUND" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestServerRequiresBackendsInProduction(t *testing.T) {
	if _, err := New(config.Config{AppEnv: "production"}, nil, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without database and redis")
	}
}
