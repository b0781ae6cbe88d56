package manager

import (
	"fmt"

	"mirrorctl/internal/logger"

	"go.uber.org/zap"
)

type Kind int

const (
	KindOK Kind = iota
	// KindTransport means the request never got a response.
	KindTransport
	// KindStatus means the manager answered with a non-200 status.
	KindStatus
	// KindPayload means a 200 response that carried an error field.
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindPayload:
		return "payload"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of a write call against the manager.
type Result struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Reason describes a failed result.
func (r Result) Reason() string {
	switch r.Kind {
	case KindOK:
		return ""
	case KindTransport:
		return r.Err.Error()
	case KindStatus:
		return fmt.Sprintf("manager returned %d: %s", r.StatusCode, r.Message)
	default:
		return "manager error: " + r.Message
	}
}

func (r Result) log(method, path string) {
	if r.OK() {
		logger.Log.Debug("manager call succeeded",
			zap.String("method", method),
			zap.String("path", path))
		return
	}

	logger.Log.Warn("manager call failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Stringer("kind", r.Kind),
		zap.String("reason", r.Reason()))
}
