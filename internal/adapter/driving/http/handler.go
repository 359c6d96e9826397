// Package httphandler is the HTTP driving adapter that serves the account
// management API.
package httphandler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/ericfisherdev/rotavault/internal/application"
	"github.com/ericfisherdev/rotavault/internal/domain/model"
	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
	"github.com/ericfisherdev/rotavault/internal/guard"
)

// maxBodyBytes bounds request bodies; secret bundles are a few kilobytes.
const maxBodyBytes = 1 << 20

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	accounts *application.AccountService
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(accounts *application.AccountService, logger *slog.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Metrics are served from gatherer.
func NewServeMux(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", h.AddAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}/code", h.GenerateCode)
	mux.HandleFunc("POST /api/v1/accounts/{id}/password", h.ChangePassword)
	mux.HandleFunc("PUT /api/v1/accounts/{id}/rotation", h.SetRotation)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", h.DeleteAccount)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListAccounts returns every account without secrets.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	views, err := h.accounts.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, ListAccountsResponse{
		Success:  true,
		Accounts: lo.Map(views, func(v model.AccountView, _ int) AccountResponse { return toAccountResponse(v) }),
	})
}

// AddAccount creates an account with rotation disabled.
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req AddAccountRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	bundle, err := unwrapBundle(req.SecretBundle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.accounts.AddAccount(r.Context(), application.AddAccountInput{
		Login:    req.Login,
		Password: req.Password,
		Bundle:   bundle,
		Nickname: req.Nickname,
	})
	if err != nil {
		h.fail(w, "add account", err)
		return
	}

	writeJSON(w, http.StatusCreated, AddAccountResponse{Success: true, ID: id})
}

// GenerateCode returns the account's current one-time code.
func (h *Handler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	code, err := h.accounts.GenerateCode(r.Context(), id)
	if err != nil {
		h.fail(w, "generate code", err)
		return
	}

	writeJSON(w, http.StatusOK, CodeResponse{
		Success:         true,
		Code:            code.Code,
		ValidForSeconds: code.SecondsRemaining,
	})
}

// ChangePassword rotates the password immediately and returns the new one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	result, err := h.accounts.ChangePassword(r.Context(), id, req.NewPassword)
	if err != nil {
		h.fail(w, "change password", err)
		return
	}

	writeJSON(w, http.StatusOK, toChangePasswordResponse(result))
}

// SetRotation enables or disables scheduled rotation.
func (h *Handler) SetRotation(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req SetRotationRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	next, err := h.accounts.SetRotation(r.Context(), id, req.Enabled, req.IntervalHours)
	if err != nil {
		h.fail(w, "set rotation", err)
		return
	}

	writeJSON(w, http.StatusOK, SetRotationResponse{Success: true, NextRotationAt: formatOptional(next)})
}

// DeleteAccount removes an account and its timer.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), id); err != nil {
		h.fail(w, "delete account", err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{Success: true})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339),
		ArmedTimers: h.accounts.Scheduler().Len(),
	})
}

// fail maps err to a status code. Server-side failures are logged and
// hidden behind a generic message.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	h.logger.Warn("request rejected", "op", op, "status", status, "error", err)
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, driven.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, driven.ErrDuplicateLogin):
		return http.StatusConflict
	case errors.Is(err, driven.ErrAuthentication),
		errors.Is(err, driven.ErrTwoFactor),
		errors.Is(err, driven.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, guard.ErrInvalidSecret),
		errors.Is(err, application.ErrMissingSecret):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// accountID parses the {id} path value, writing a 400 on failure.
func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON body into v, writing a 400 on failure. When
// optional is set an empty body is accepted.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// unwrapBundle accepts the secret bundle either as a JSON object or as a
// string holding the file contents of one.
func unwrapBundle(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, errors.New("invalid secret bundle")
	}
	return json.RawMessage(text), nil
}
