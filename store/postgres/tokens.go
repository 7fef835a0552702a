package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MrEthical07/kairosauth/token"
)

// Tokens implements token.Store on the verification_tokens table.
type Tokens struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewTokens returns a store bound to db.
func NewTokens(db *sql.DB) *Tokens {
	return &Tokens{db: db, builder: builder()}
}

// Replace invalidates the user's live tokens of t.Purpose and inserts t.
// The user row is locked first so concurrent replaces for one user run one
// after the other and leave exactly one live token.
func (s *Tokens) Replace(ctx context.Context, t token.VerificationToken) error {
	return WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		query, args, err := s.builder.Select("id").
			From("users").
			Where(sq.Eq{"id": t.UserID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("build lock user sql: %w", err)
		}
		var locked string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&locked); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		query, args, err = s.builder.Update("verification_tokens").
			Set("used_at", t.CreatedAt).
			Where(sq.And{
				sq.Eq{"user_id": t.UserID},
				sq.Eq{"purpose": string(t.Purpose)},
				sq.Eq{"used_at": nil},
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build invalidate tokens sql: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("invalidate tokens: %w", err)
		}

		query, args, err = s.builder.Insert("verification_tokens").
			Columns("id", "user_id", "purpose", "token_hash", "created_at", "expires_at").
			Values(t.ID, t.UserID, string(t.Purpose), t.Hash, t.CreatedAt, t.ExpiresAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert token sql: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

// Consume is a single conditional UPDATE, so two concurrent redemptions of
// one token cannot both succeed.
func (s *Tokens) Consume(ctx context.Context, hash string, purpose token.Purpose, now time.Time) (token.VerificationToken, error) {
	query, args, err := s.builder.Update("verification_tokens").
		Set("used_at", now).
		Where(sq.And{
			sq.Eq{"token_hash": hash},
			sq.Eq{"purpose": string(purpose)},
			sq.Eq{"used_at": nil},
			sq.Gt{"expires_at": now},
		}).
		Suffix("RETURNING id, user_id, purpose, token_hash, created_at, expires_at").
		ToSql()
	if err != nil {
		return token.VerificationToken{}, fmt.Errorf("build consume token sql: %w", err)
	}

	var (
		t          token.VerificationToken
		rawPurpose string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&t.ID,
		&t.UserID,
		&rawPurpose,
		&t.Hash,
		&t.CreatedAt,
		&t.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return token.VerificationToken{}, token.ErrInvalidOrExpired
	}
	if err != nil {
		return token.VerificationToken{}, fmt.Errorf("db error: %w", err)
	}
	t.Purpose = token.Purpose(rawPurpose)
	t.Used = true
	return t, nil
}

func (s *Tokens) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := s.builder.Delete("verification_tokens").
		Where(sq.Lt{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge tokens sql: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}
