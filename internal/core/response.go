package core

import (
	"encoding/json"
	"errors"
	"net/http"

	"cliphost/internal/types"
)

// JobErrorResponse is the envelope returned for job-level fatal errors.
// Scheduler-triggered endpoints report either {success:true, ...counts} or
// this shape with success=false.
type JobErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JSON writes a JSON response with the given status code and data.
// If marshalling fails, it falls back to a 500 error response.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		// Best-effort write; if this also fails there is nothing more to do.
		_ = json.NewEncoder(w).Encode(JobErrorResponse{
			Success: false,
			Error:   "failed to marshal response",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response to the client. It inspects the error chain:
//   - If the error is (or wraps) a *types.AppError, its Code determines the
//     HTTP status.
//   - A generic error becomes a 500.
//
// Wrapped internal error details are never exposed to the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), JobErrorResponse{
			Success: false,
			Error:   appErr.Message,
		})
		return
	}

	JSON(w, r, http.StatusInternalServerError, JobErrorResponse{
		Success: false,
		Error:   "an unexpected error occurred",
	})
}
