package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/model"
)

// SessionRepo defines the interface for refresh session repository operations
type SessionRepo interface {
	Create(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	// FindByTokenHash returns the session regardless of revocation or expiry;
	// the caller distinguishes revoked (reuse signal) from expired.
	FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	// Revoke conditionally revokes the session. Returns false if it was
	// already revoked.
	Revoke(ctx context.Context, id uuid.UUID) (bool, error)
	SetReplacedBy(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID) error
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error
	DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (account_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, accountID, tokenHash, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

func (r *sessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var s model.Session
	var idStr, acctStr string
	var replacedByStr sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, created_at, expires_at, revoked_at, replaced_by
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&idStr,
		&acctStr,
		&s.TokenHash,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
		&replacedByStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Session{}, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("find session: %w", err)
	}
	s.ID, _ = uuid.Parse(idStr)
	s.AccountID, _ = uuid.Parse(acctStr)
	if replacedByStr.Valid && replacedByStr.String != "" {
		u, _ := uuid.Parse(replacedByStr.String)
		s.ReplacedBy = &u
	}
	return s, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (r *sessionRepo) SetReplacedBy(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET replaced_by = $2 WHERE id = $1
	`, id, replacedBy)
	if err != nil {
		return fmt.Errorf("set replaced_by: %w", err)
	}
	return nil
}

// RevokeAllForAccount revokes all active sessions for an account (reuse/theft response)
func (r *sessionRepo) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now()
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID)
	if err != nil {
		return fmt.Errorf("revoke all sessions for account: %w", err)
	}
	return nil
}

// DeleteDeadBefore physically removes sessions that expired or were revoked
// before the cutoff.
func (r *sessionRepo) DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete dead sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
