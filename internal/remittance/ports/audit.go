// Package ports holds helpers shared by the engine and the admin surface.
package ports

import (
	"context"
	"log/slog"

	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/requestcontext"
)

// LogAudit logs a committed, security-relevant operation with the standard
// audit fields.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}

// LogRejected logs a failed operation. Refused preconditions log at Warn with
// their code; infrastructure failures log at Error.
func LogRejected(ctx context.Context, logger *slog.Logger, operation string, err error, attrs ...any) {
	if logger == nil || err == nil {
		return
	}
	code := dErrors.CodeOf(err)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "operation", operation, "code", string(code), "error", err)
	switch code {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		logger.ErrorContext(ctx, "operation failed", args...)
	default:
		logger.WarnContext(ctx, "operation rejected", args...)
	}
}
