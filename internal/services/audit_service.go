package services

import (
	"context"
	"log/slog"

	"github.com/crewshift/pinlock/internal/models"
)

// AuditSink accepts structured engine events. Write-only and fire-and-forget:
// the engine never reads audit history back for decisions. An external
// logging/observability pipeline consumes the records downstream.
type AuditSink interface {
	Record(event models.AuditEvent)
}

// SlogAuditSink emits audit events as structured log records
type SlogAuditSink struct {
	logger *slog.Logger
}

// NewSlogAuditSink creates an audit sink over the given logger
func NewSlogAuditSink(logger *slog.Logger) *SlogAuditSink {
	return &SlogAuditSink{logger: logger}
}

func (s *SlogAuditSink) Record(event models.AuditEvent) {
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("principal_id", event.PrincipalID),
		slog.Any("data", event.Data),
	)
}
