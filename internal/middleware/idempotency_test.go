package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nmbp/pledge_api/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	calls := 0
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/registration/otp/resend", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"validity_seconds": 180, "call": calls})
	})
	return app, &calls
}

func resendRequest(key string) *http.Request {
	req := httptest.NewRequest(fiber.MethodPost, "/registration/otp/resend", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	return req
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupTestApp(t)

	for i := 0; i < 2; i++ {
		resp, err := app.Test(resendRequest(""))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected %d got %d", fiber.StatusOK, resp.StatusCode)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	resp, err := app.Test(resendRequest("abc123"))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()

	// The replay must not reach the handler.
	resp2, err := app.Test(resendRequest("abc123"))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	cachedPayload, err := io.ReadAll(resp2.Body)
	if err != nil {
		t.Fatalf("read cached body: %v", err)
	}
	resp2.Body.Close()

	if resp2.StatusCode != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, resp2.StatusCode)
	}
	if string(cachedPayload) != string(payload) {
		t.Fatalf("expected cached payload %s got %s", string(payload), string(cachedPayload))
	}
	if *calls != 1 {
		t.Fatalf("expected one handler call, got %d", *calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal(cachedPayload, &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}
