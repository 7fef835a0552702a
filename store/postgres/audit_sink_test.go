package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MrEthical07/kairosauth/internal/audit"
)

func TestAuditSinkInsert(t *testing.T) {
	db, mock := newMockDB(t)
	sink := NewAuditSink(db, zaptest.NewLogger(t))
	ts := time.Unix(1_700_000_000, 0)

	mock.ExpectExec(`(?s)^INSERT INTO security_audit_log \(occurred_at,event_type,user_id,email,ip,user_agent,success,requires_two_factor,reason,metadata\) VALUES \(.*\)$`).
		WithArgs(ts, "login_failed", nil, "a@x.com", "203.0.113.9", nil, false, false, "invalid_credentials", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := sink.Insert(context.Background(), audit.Event{
		Timestamp: ts,
		EventType: "login_failed",
		Email:     "a@x.com",
		IP:        "203.0.113.9",
		Reason:    "invalid_credentials",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditSinkEmitSwallowsErrors(t *testing.T) {
	db, mock := newMockDB(t)
	sink := NewAuditSink(db, nil)

	mock.ExpectExec(`^INSERT INTO security_audit_log`).WillReturnError(errors.New("db down"))

	sink.Emit(context.Background(), audit.Event{Timestamp: time.Now(), EventType: "login_success", UserID: "u1", Success: true})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditSinkRecordReturnsInsertError(t *testing.T) {
	db, mock := newMockDB(t)
	sink := NewAuditSink(db, nil)
	dbErr := errors.New("db down")

	mock.ExpectExec(`^INSERT INTO security_audit_log`).WillReturnError(dbErr)

	err := sink.Record(context.Background(), audit.Event{Timestamp: time.Now(), EventType: "login_failure", Email: "a@x.com"})
	require.ErrorIs(t, err, dbErr)
	require.NoError(t, mock.ExpectationsWereMet())

	var _ audit.Recorder = sink
}
