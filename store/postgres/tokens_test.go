package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/kairosauth/token"
)

func TestTokensReplaceInvalidatesThenInserts(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTokens(db)
	now := time.Unix(1_700_000_000, 0)
	tok := token.VerificationToken{
		ID:        "t1",
		UserID:    "u1",
		Purpose:   token.PurposeEmailVerification,
		Hash:      "digest",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`^SELECT id FROM users WHERE id = \$1 FOR UPDATE$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec(`^UPDATE verification_tokens SET used_at = \$1 WHERE \(user_id = \$2 AND purpose = \$3 AND used_at IS NULL\)$`).
		WithArgs(now, "u1", "email_verification").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`^INSERT INTO verification_tokens \(id,user_id,purpose,token_hash,created_at,expires_at\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6\)$`).
		WithArgs("t1", "u1", "email_verification", "digest", now, tok.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Replace(context.Background(), tok))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokensReplaceLocksUserBeforeInvalidating(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTokens(db)
	now := time.Unix(1_700_000_000, 0)
	tok := token.VerificationToken{
		ID:        "t2",
		UserID:    "missing",
		Purpose:   token.PurposePasswordRecovery,
		Hash:      "digest",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`^SELECT id FROM users WHERE id = \$1 FOR UPDATE$`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Replace(context.Background(), tok)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokensConsume(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTokens(db)
	now := time.Unix(1_700_000_000, 0)
	q := `^UPDATE verification_tokens SET used_at = \$1 WHERE \(token_hash = \$2 AND purpose = \$3 AND used_at IS NULL AND expires_at > \$4\) RETURNING id, user_id, purpose, token_hash, created_at, expires_at$`

	mock.ExpectQuery(q).
		WithArgs(now, "digest", "password_recovery", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "purpose", "token_hash", "created_at", "expires_at"}).
			AddRow("t1", "u1", "password_recovery", "digest", now.Add(-time.Minute), now.Add(time.Hour)))
	mock.ExpectQuery(q).
		WithArgs(now, "digest", "password_recovery", now).
		WillReturnError(sql.ErrNoRows)

	got, err := store.Consume(context.Background(), "digest", token.PurposePasswordRecovery, now)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.True(t, got.Used)

	_, err = store.Consume(context.Background(), "digest", token.PurposePasswordRecovery, now)
	require.ErrorIs(t, err, token.ErrInvalidOrExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokensPurgeExpired(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTokens(db)
	cutoff := time.Unix(1_700_000_000, 0)

	mock.ExpectExec(`^DELETE FROM verification_tokens WHERE expires_at < \$1$`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}
