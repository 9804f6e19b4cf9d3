package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"brownie.dev/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit entries. Entries land in the regular log stream
// tagged type=audit so they can be filtered downstream.
type Logger struct {
	log *zap.Logger
}

// NewLogger wraps a zap logger for audit use.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log}
}

// Event writes an audit entry enriched with request and principal context.
func (l *Logger) Event(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = append(entry, zap.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry = append(entry,
			zap.String("user_id", p.UserID),
			zap.String("org_id", p.OrgID))
	}
	entry = append(entry, fields...)
	l.log.Info("audit", entry...)
	return nil
}
