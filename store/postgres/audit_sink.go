package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/internal/audit"
)

// AuditSink appends events to security_audit_log. Rows are never updated
// or deleted by this package.
type AuditSink struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.Logger
}

// NewAuditSink returns a sink bound to db. A nil logger discards write failures.
func NewAuditSink(db *sql.DB, logger *zap.Logger) *AuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditSink{db: db, builder: builder(), logger: logger}
}

// Emit inserts the event and only logs a failure. The engine's synchronous
// dispatcher calls Record instead.
func (s *AuditSink) Emit(ctx context.Context, event audit.Event) {
	if err := s.Insert(ctx, event); err != nil {
		s.logger.Warn("audit event persist failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// Record inserts the event and returns the database error.
func (s *AuditSink) Record(ctx context.Context, event audit.Event) error {
	if err := s.Insert(ctx, event); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Insert writes one event and reports failures.
func (s *AuditSink) Insert(ctx context.Context, event audit.Event) error {
	var metadata any
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}

	query, args, err := s.builder.Insert("security_audit_log").
		Columns(
			"occurred_at",
			"event_type",
			"user_id",
			"email",
			"ip",
			"user_agent",
			"success",
			"requires_two_factor",
			"reason",
			"metadata",
		).
		Values(
			event.Timestamp,
			event.EventType,
			nullableString(event.UserID),
			nullableString(event.Email),
			nullableString(event.IP),
			nullableString(event.UserAgent),
			event.Success,
			event.RequiresTwoFactor,
			nullableString(event.Reason),
			metadata,
		).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}
