package daemon

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Result is the outcome of a lifecycle operation: the HTTP status it maps
// to, a message for the caller and the names of the steps that failed.
type Result struct {
	Code    int      `json:"-"`
	Message string   `json:"msg"`
	Failed  []string `json:"failed,omitempty"`
}

func (r *Result) OK() bool {
	return r.Code == http.StatusOK
}

func (r *Result) body() map[string]any {
	if r.OK() {
		return map[string]any{"msg": r.Message}
	}

	body := map[string]any{"error": r.Message}
	if len(r.Failed) > 0 {
		body["failed"] = r.Failed
	}
	return body
}

func ok(msg string) *Result {
	return &Result{Code: http.StatusOK, Message: msg}
}

func invalid(msg string) *Result {
	return &Result{Code: http.StatusBadRequest, Message: msg}
}

func notFound(msg string) *Result {
	return &Result{Code: http.StatusNotFound, Message: msg}
}

func failed(msg string, steps ...string) *Result {
	return &Result{Code: http.StatusInternalServerError, Message: msg, Failed: steps}
}

func internal(err error) *Result {
	return &Result{Code: http.StatusInternalServerError, Message: err.Error()}
}

// Target selects whose pods a restart or component query applies to.
type Target string

const (
	TargetManager Target = "manager"
	TargetFront   Target = "front"
	TargetJob     Target = "job"
)

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id attached to ctx, or a fresh one.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
