package registration

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the registration session over HTTP.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler constructs a registration HTTP handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

type resendRequest struct {
	TransactionID string `json:"txn_id"`
}

type verifyRequest struct {
	TransactionID string `json:"txn_id"`
	OTP           string `json:"otp"`
}

type resendResponse struct {
	ValiditySeconds int `json:"validity_seconds"`
}

type commitResponse struct {
	UserID int64 `json:"user_id"`
}

// ErrorBody is the JSON shape of every failed registration call.
type ErrorBody struct {
	Code    string       `json:"error_code"`
	Message string       `json:"error_message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// RequestOTP starts a registration transaction.
func (h *Handler) RequestOTP(c *fiber.Ctx) error {
	var req Candidate
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, invalidField("body", "Request body must be valid JSON"))
	}
	ticket, err := h.manager.RequestOTP(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(ticket)
}

// ResendOTP issues a fresh code for an open transaction.
func (h *Handler) ResendOTP(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, invalidField("body", "Request body must be valid JSON"))
	}
	ticket, err := h.manager.ResendOTP(c.UserContext(), req.TransactionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(resendResponse{ValiditySeconds: ticket.ValiditySeconds})
}

// VerifyOTP checks the code and commits the registration in one call.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, invalidField("body", "Request body must be valid JSON"))
	}
	if !ValidTransactionID(req.TransactionID) {
		return h.fail(c, invalidField("txn_id", "txnId must be a valid UUID v4"))
	}
	if !ValidCode(req.OTP) {
		return h.fail(c, invalidField("otp", "OTP must be a 6-digit number"))
	}

	ok, err := h.manager.VerifyOTP(c.UserContext(), req.TransactionID, req.OTP)
	if err != nil {
		return h.fail(c, err)
	}
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(ErrorBody{Code: "USER00004", Message: "Invalid or expired OTP"})
	}

	userID, err := h.manager.CommitRegistration(c.UserContext(), req.TransactionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(commitResponse{UserID: userID})
}

// Inspect returns the state of a transaction.
func (h *Handler) Inspect(c *fiber.Ctx) error {
	state, err := h.manager.Inspect(c.UserContext(), c.Params("txnId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(state)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError && h.logger != nil {
		h.logger.ErrorContext(c.UserContext(), "registration request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return c.Status(status).JSON(body)
}

func errorResponse(err error) (int, ErrorBody) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorBody{Code: "USER00001", Message: verr.Error(), Fields: verr.Fields}
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, ErrorBody{Code: "USER00001", Message: err.Error()}
	case errors.Is(err, ErrDuplicateMobileNumber):
		return http.StatusConflict, ErrorBody{Code: "USER00002", Message: "Mobile number is already registered"}
	case errors.Is(err, ErrSessionExpired):
		return http.StatusGone, ErrorBody{Code: "USER00003", Message: "Registration session expired. Please start registration again."}
	case errors.Is(err, ErrResendLimitExceeded):
		return http.StatusTooManyRequests, ErrorBody{Code: "USER00005", Message: "Maximum OTP resend attempts exceeded. Please start registration again."}
	case errors.Is(err, ErrSessionDataMissing):
		return http.StatusGone, ErrorBody{Code: "USER00007", Message: "Registration data not found. Please start registration again."}
	case errors.Is(err, ErrSessionNotVerified):
		return http.StatusGone, ErrorBody{Code: "USER00008", Message: "Registration session is not verified"}
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorBody{Code: "USER00009", Message: "Service temporarily unavailable"}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: "USER00000", Message: "Internal Server Error"}
	}
}
