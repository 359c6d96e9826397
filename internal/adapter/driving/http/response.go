package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/rotavault/internal/application"
	"github.com/ericfisherdev/rotavault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a failed envelope with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// okResponse is the body for operations that return nothing else.
type okResponse struct {
	Success bool `json:"success"`
}

// AccountResponse is the JSON representation of an account. It never
// carries the password or the secret bundle.
type AccountResponse struct {
	ID                    int64   `json:"id"`
	Login                 string  `json:"login"`
	Nickname              string  `json:"nickname"`
	RotationEnabled       bool    `json:"rotation_enabled"`
	RotationIntervalHours int     `json:"rotation_interval_hours"`
	LastRotationAt        *string `json:"last_rotation_at"`
	NextRotationAt        *string `json:"next_rotation_at"`
	TimeRemainingSeconds  *int64  `json:"time_remaining_seconds"`
}

// ListAccountsResponse is the body of the list endpoint.
type ListAccountsResponse struct {
	Success  bool              `json:"success"`
	Accounts []AccountResponse `json:"accounts"`
}

// AddAccountRequest is the JSON body for the add account endpoint.
// SecretBundle may be a JSON object or a string holding one.
type AddAccountRequest struct {
	Login        string          `json:"login"`
	Password     string          `json:"password"`
	SecretBundle json.RawMessage `json:"secret_bundle"`
	Nickname     string          `json:"nickname"`
}

// AddAccountResponse is the body returned after creating an account.
type AddAccountResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

// CodeResponse is the body of the code endpoint.
type CodeResponse struct {
	Success         bool   `json:"success"`
	Code            string `json:"code"`
	ValidForSeconds int    `json:"valid_for_seconds"`
}

// ChangePasswordRequest is the optional body of the password endpoint. An
// empty NewPassword asks the server to generate one.
type ChangePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// ChangePasswordResponse returns the new password. This is the only
// response that carries a password.
type ChangePasswordResponse struct {
	Success        bool    `json:"success"`
	NewPassword    string  `json:"new_password"`
	RotatedAt      string  `json:"rotated_at"`
	NextRotationAt *string `json:"next_rotation_at"`
}

// SetRotationRequest is the JSON body of the rotation endpoint. A zero
// IntervalHours selects the configured default.
type SetRotationRequest struct {
	Enabled       bool `json:"enabled"`
	IntervalHours int  `json:"interval_hours"`
}

// SetRotationResponse reports the resulting next rotation time.
type SetRotationResponse struct {
	Success        bool    `json:"success"`
	NextRotationAt *string `json:"next_rotation_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Time        string `json:"time"`
	ArmedTimers int    `json:"armed_timers"`
}

// toAccountResponse converts an account view to its JSON representation.
func toAccountResponse(v model.AccountView) AccountResponse {
	resp := AccountResponse{
		ID:                    v.ID,
		Login:                 v.Login,
		Nickname:              v.Nickname,
		RotationEnabled:       v.RotationEnabled,
		RotationIntervalHours: v.RotationIntervalHours,
		LastRotationAt:        formatOptional(v.LastRotationAt),
		NextRotationAt:        formatOptional(v.NextRotationAt),
	}
	if v.TimeRemaining != nil {
		secs := int64(v.TimeRemaining.Seconds())
		resp.TimeRemainingSeconds = &secs
	}
	return resp
}

func toChangePasswordResponse(r *application.RotationResult) ChangePasswordResponse {
	return ChangePasswordResponse{
		Success:        true,
		NewPassword:    r.NewPassword,
		RotatedAt:      r.RotatedAt.UTC().Format(time.RFC3339),
		NextRotationAt: formatOptional(r.NextRotationAt),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
