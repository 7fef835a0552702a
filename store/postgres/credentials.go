package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MrEthical07/kairosauth/credential"
)

var userColumns = []string{
	"id",
	"email",
	"password_hash",
	"email_verified",
	"email_verified_at",
	"two_factor_enabled",
	"two_factor_secret",
	"two_factor_activated_at",
	"created_at",
}

// Credentials implements credential.Store on the users and backup_codes tables.
type Credentials struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewCredentials returns a store bound to db.
func NewCredentials(db *sql.DB) *Credentials {
	return &Credentials{db: db, builder: builder()}
}

func (s *Credentials) FindByEmail(ctx context.Context, email string) (credential.UserCredential, bool, error) {
	return s.findOne(ctx, sq.Eq{"email": credential.NormalizeEmail(email)})
}

func (s *Credentials) FindByID(ctx context.Context, userID string) (credential.UserCredential, bool, error) {
	return s.findOne(ctx, sq.Eq{"id": userID})
}

func (s *Credentials) findOne(ctx context.Context, where sq.Eq) (credential.UserCredential, bool, error) {
	query, args, err := s.builder.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return credential.UserCredential{}, false, fmt.Errorf("build select user sql: %w", err)
	}

	var (
		user        credential.UserCredential
		verifiedAt  sql.NullTime
		secret      sql.NullString
		activatedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.EmailVerified,
		&verifiedAt,
		&user.TwoFactorEnabled,
		&secret,
		&activatedAt,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.UserCredential{}, false, nil
	}
	if err != nil {
		return credential.UserCredential{}, false, fmt.Errorf("db error: %w", err)
	}
	user.EmailVerifiedAt = timeOrZero(verifiedAt)
	user.TwoFactorSecret = secret.String
	user.TwoFactorActivatedAt = timeOrZero(activatedAt)

	if user.TwoFactorEnabled {
		codes, err := s.backupCodes(ctx, user.ID)
		if err != nil {
			return credential.UserCredential{}, false, err
		}
		user.BackupCodes = codes
	}
	return user, true, nil
}

func (s *Credentials) backupCodes(ctx context.Context, userID string) ([]string, error) {
	query, args, err := s.builder.Select("code_hash").
		From("backup_codes").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select backup codes sql: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		codes = append(codes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return codes, nil
}

func (s *Credentials) Create(ctx context.Context, in credential.NewUser) (credential.UserCredential, error) {
	email := credential.NormalizeEmail(in.Email)
	query, args, err := s.builder.Insert("users").
		Columns("id", "email", "password_hash", "created_at").
		Values(in.ID, email, in.PasswordHash, in.CreatedAt).
		ToSql()
	if err != nil {
		return credential.UserCredential{}, fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return credential.UserCredential{}, credential.ErrDuplicateEmail
		}
		return credential.UserCredential{}, fmt.Errorf("insert user: %w", err)
	}

	return credential.UserCredential{
		ID:           in.ID,
		Email:        email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.CreatedAt,
	}, nil
}

func (s *Credentials) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUser(ctx, s.db, userID, map[string]any{"password_hash": passwordHash})
}

func (s *Credentials) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	query, args, err := s.builder.Update("users").
		Set("email_verified", true).
		Set("email_verified_at", sq.Expr("COALESCE(email_verified_at, ?)", at)).
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verify email sql: %w", err)
	}
	return execAffectingUser(ctx, s.db, query, args)
}

func (s *Credentials) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return s.updateUser(ctx, s.db, userID, map[string]any{"two_factor_secret": secret})
}

func (s *Credentials) EnableTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string, at time.Time) error {
	return WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if err := s.updateUser(ctx, tx, userID, map[string]any{
			"two_factor_enabled":      true,
			"two_factor_secret":       secret,
			"two_factor_activated_at": at,
		}); err != nil {
			return err
		}
		if err := s.deleteBackupCodes(ctx, tx, userID); err != nil {
			return err
		}
		if len(backupCodeHashes) == 0 {
			return nil
		}

		insert := s.builder.Insert("backup_codes").Columns("user_id", "code_hash", "created_at")
		for _, hash := range backupCodeHashes {
			insert = insert.Values(userID, hash, at)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("build insert backup codes sql: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert backup codes: %w", err)
		}
		return nil
	})
}

func (s *Credentials) DisableTwoFactor(ctx context.Context, userID string) error {
	return WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if err := s.updateUser(ctx, tx, userID, map[string]any{
			"two_factor_enabled":      false,
			"two_factor_secret":       nil,
			"two_factor_activated_at": nil,
		}); err != nil {
			return err
		}
		return s.deleteBackupCodes(ctx, tx, userID)
	})
}

// ConsumeBackupCode deletes one matching row. Postgres row locking makes a
// concurrent duplicate delete affect zero rows.
func (s *Credentials) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	query, args, err := s.builder.Delete("backup_codes").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"code_hash": codeHash}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume backup code sql: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return n == 1, nil
}

func (s *Credentials) updateUser(ctx context.Context, db DBTX, userID string, set map[string]any) error {
	query, args, err := s.builder.Update("users").
		SetMap(set).
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}
	return execAffectingUser(ctx, db, query, args)
}

func (s *Credentials) deleteBackupCodes(ctx context.Context, db DBTX, userID string) error {
	query, args, err := s.builder.Delete("backup_codes").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete backup codes sql: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}
	return nil
}

func execAffectingUser(ctx context.Context, db DBTX, query string, args []any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	return nil
}
