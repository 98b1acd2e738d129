package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository is the Postgres CredentialStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByNormalizedEmail(ctx context.Context, email string) (CredentialRecord, error) {
	return r.findOne(ctx, `
		SELECT id, email, password_hash, failed_login_attempts, locked_until, last_failed_login, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
}

func (r *Repository) FindByID(ctx context.Context, id string) (CredentialRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CredentialRecord{}, ErrRecordNotFound
	}

	return r.findOne(ctx, `
		SELECT id, email, password_hash, failed_login_attempts, locked_until, last_failed_login, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (CredentialRecord, error) {
	var record CredentialRecord
	var lockedUntil, lastFailed sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&record.ID,
		&record.Email,
		&record.PasswordHash,
		&record.FailedLoginAttempts,
		&lockedUntil,
		&lastFailed,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CredentialRecord{}, ErrRecordNotFound
		}
		return CredentialRecord{}, fmt.Errorf("query credential record: %w", err)
	}

	record.LockedUntil = utcPtr(lockedUntil)
	record.LastFailedLogin = utcPtr(lastFailed)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()

	return record, nil
}

// Save writes the hash and all lockout fields in one UPDATE.
func (r *Repository) Save(ctx context.Context, record CredentialRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2,
			failed_login_attempts = $3,
			locked_until = $4,
			last_failed_login = $5,
			updated_at = $6
		WHERE id = $1
	`,
		record.ID,
		record.PasswordHash,
		record.FailedLoginAttempts,
		nullTime(record.LockedUntil),
		nullTime(record.LastFailedLogin),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update credential record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential record rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

func (r *Repository) Create(ctx context.Context, record CredentialRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, failed_login_attempts, locked_until, last_failed_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID,
		record.Email,
		record.PasswordHash,
		record.FailedLoginAttempts,
		nullTime(record.LockedUntil),
		nullTime(record.LastFailedLogin),
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert credential record: %w", err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRecordNotFound
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential record rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time.UTC()
	return &value
}
