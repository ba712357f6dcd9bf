package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/patient-track/internal/events"
)

var auditedEvents = []events.EventType{
	events.EventTokenIssued,
	events.EventTokenRefreshed,
	events.EventTokenRevoked,
	events.EventTokenSuperseded,
	events.EventTokenExpired,
	events.EventLoginFailed,
}

// AuditService writes an audit line for every token lifecycle event.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, eventType := range auditedEvents {
		a.dispatcher.Subscribe(eventType, a.handle)
	}
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("username", event.Username),
		zap.Time("at", event.Timestamp),
		zap.Any("payload", event.Payload),
	}
	if event.Type == events.EventLoginFailed {
		a.logger.Warn("auth event", fields...)
		return nil
	}
	a.logger.Info("auth event", fields...)
	return nil
}
