package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/medconnect/authcore/refresh"
)

// AuditErrorCode is the coarse failure reason recorded on an AuditEvent.
type AuditErrorCode string

const (
	auditErrUnauthorized AuditErrorCode = "unauthorized"
	auditErrRefreshReuse AuditErrorCode = "refresh_reuse"
	auditErrUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrInvariant    AuditErrorCode = "invariant"
	auditErrCanceled     AuditErrorCode = "canceled"
	auditErrInternal     AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	username string,
	jti string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Username:  username,
		JTI:       jti,
		Success:   success,
		Metadata:  metadata,
	}
	if userID != 0 {
		event.UserID = strconv.FormatInt(userID, 10)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode accepts both raw component errors and classified ones.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, refresh.ErrReused):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvariant), errors.Is(err, refresh.ErrInvariant):
		return auditErrInvariant
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	case errors.Is(err, ErrUnauthorized), errors.Is(err, refresh.ErrDenied):
		return auditErrUnauthorized
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
