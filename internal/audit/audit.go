// Package audit records session lifecycle events as structured log entries
// so operators can reconstruct who authenticated where and when.
package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so entries
// emitted while serving that request can be correlated.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Journal writes audit entries through the shared structured logger.
type Journal struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{log: log}
}

// Event records a single lifecycle event. Fields carry event-specific detail
// such as the user id or persona name.
func (j *Journal) Event(ctx context.Context, event string, fields ...zap.Field) {
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	entry := make([]zap.Field, 0, len(fields)+2)
	entry = append(entry, zap.String("audit_event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = append(entry, zap.String("request_id", rid))
	}
	entry = append(entry, fields...)
	j.log.Info("audit", entry...)
}
