package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// TraceHeader carries the request trace id back to the client.
const TraceHeader = "X-Trace-Id"

type traceKey struct{}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// Trace assigns every request a trace id, stored in the context and echoed in a header.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(TraceHeader, id)
		ctx := context.WithValue(r.Context(), traceKey{}, id)
		slog.Debug("request started", "trace_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID returns the trace id of the request context, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError maps err to a status and a safe message. The detailed error
// only goes to the log.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := safeMessage(r.Context(), err, status)
	traceID := TraceID(r.Context())

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "API error response",
		"trace_id", traceID,
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", status,
		"user_message", msg,
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
	)
	respondJSON(w, status, ErrorResponse{Error: msg, TraceID: traceID})
}
