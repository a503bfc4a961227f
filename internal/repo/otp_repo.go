package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/model"
)

// OtpRepo defines the interface for OTP challenge repository operations
type OtpRepo interface {
	// CreateOrReplace atomically consumes any active challenge for the
	// (phone, purpose) key and inserts a new one.
	CreateOrReplace(ctx context.Context, phone string, purpose model.Purpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error)
	// GetActive returns the unconsumed challenge for the key regardless of
	// expiry; expiry is the caller's check so it can distinguish error kinds.
	GetActive(ctx context.Context, phone string, purpose model.Purpose) (model.OtpChallenge, error)
	// Consume marks the challenge consumed. Returns false if it was already
	// consumed (the caller lost a verify race).
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
	// HasConsumedHash reports whether a consumed challenge for the key carries
	// the given code hash, i.e. the code was valid once but has been replaced
	// or used.
	HasConsumedHash(ctx context.Context, phone string, purpose model.Purpose, codeHashHex string) (bool, error)
	// Delete removes a challenge outright, e.g. when code delivery failed and
	// the issue should not count toward resend limits.
	Delete(ctx context.Context, id uuid.UUID) error
	LastIssuedAt(ctx context.Context, phone string, purpose model.Purpose) (*time.Time, error)
	CountIssuedSince(ctx context.Context, phone string, purpose model.Purpose, since time.Time) (int, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// CreateOrReplace ensures only one active challenge per (phone, purpose):
// atomically consumes any existing row (consumed_at IS NULL) and inserts a new
// one. Uses an advisory lock so concurrent issues for the same key serialize
// instead of hitting the partial unique index.
func (r *otpRepo) CreateOrReplace(ctx context.Context, phone string, purpose model.Purpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1 || ':' || $2))`, phone, string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE otp_challenges
		SET consumed_at = now()
		WHERE phone_number = $1 AND purpose = $2 AND consumed_at IS NULL
	`, phone, string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume existing challenges: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_challenges (phone_number, purpose, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, phone, string(purpose), codeHashHex, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse challenge ID: %w", err)
	}
	return id, nil
}

func (r *otpRepo) GetActive(ctx context.Context, phone string, purpose model.Purpose) (model.OtpChallenge, error) {
	query := `
		SELECT id, phone_number, purpose, code_hash, expires_at, consumed_at,
		       created_at, attempt_count, last_attempt_at
		FROM otp_challenges
		WHERE phone_number = $1 AND purpose = $2 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var c model.OtpChallenge
	var idStr, purposeStr, hashHex string
	err := r.db.QueryRowContext(ctx, query, phone, string(purpose)).Scan(
		&idStr,
		&c.PhoneNumber,
		&purposeStr,
		&hashHex,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.CreatedAt,
		&c.AttemptCount,
		&c.LastAttemptAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.OtpChallenge{}, fmt.Errorf("no active challenge: %w", ErrNotFound)
		}
		return model.OtpChallenge{}, fmt.Errorf("query challenge: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}
	c.Purpose = model.Purpose(purposeStr)
	c.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return c, nil
}

// Consume is a conditional update so that of two racing verifies exactly one
// observes rows affected = 1.
func (r *otpRepo) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET consumed_at = now()
		WHERE id = $1 AND consumed_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (r *otpRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, id).Scan(&newCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("challenge not found: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

func (r *otpRepo) HasConsumedHash(ctx context.Context, phone string, purpose model.Purpose, codeHashHex string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM otp_challenges
			WHERE phone_number = $1 AND purpose = $2 AND code_hash = $3
			  AND consumed_at IS NOT NULL
		)
	`, phone, string(purpose), codeHashHex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup consumed hash: %w", err)
	}
	return exists, nil
}

func (r *otpRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func (r *otpRepo) LastIssuedAt(ctx context.Context, phone string, purpose model.Purpose) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT created_at FROM otp_challenges
		WHERE phone_number = $1 AND purpose = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, phone, string(purpose)).Scan(&t)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("last issued at: %w", err)
	}
	return &t, nil
}

func (r *otpRepo) CountIssuedSince(ctx context.Context, phone string, purpose model.Purpose, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_challenges
		WHERE phone_number = $1 AND purpose = $2 AND created_at >= $3
	`, phone, string(purpose), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issued since: %w", err)
	}
	return count, nil
}

// DeleteExpiredBefore physically removes challenges whose expiry is older than
// the cutoff. Logical expiry is still enforced at read time.
func (r *otpRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_challenges WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
