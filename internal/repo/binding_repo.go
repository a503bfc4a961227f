package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bazarhub/server/internal/model"
)

// BindingRepo defines the interface for identity binding repository operations
type BindingRepo interface {
	FindByIdentity(ctx context.Context, provider model.Provider, externalID string) (model.IdentityBinding, error)
	// Create links a provider identity to an existing account. Returns
	// ErrDuplicateBinding if the (provider, external_id) pair or the
	// (account_id, provider) pair is already taken.
	Create(ctx context.Context, accountID uuid.UUID, provider model.Provider, externalID, displayName, avatarURL string, passwordHash []byte) (model.IdentityBinding, error)
	TouchVerified(ctx context.Context, id uuid.UUID) error
	CountForAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	Delete(ctx context.Context, accountID uuid.UUID, provider model.Provider) error
	SetPasswordHash(ctx context.Context, accountID uuid.UUID, passwordHash []byte) error
}

// ErrDuplicateBinding is returned when a uniqueness constraint on bindings is hit.
var ErrDuplicateBinding = fmt.Errorf("identity binding already exists")

type bindingRepo struct {
	db *sql.DB
}

// NewBindingRepo creates a new BindingRepo instance
func NewBindingRepo(db *sql.DB) BindingRepo {
	return &bindingRepo{db: db}
}

const bindingColumns = `id, account_id, provider, external_id, display_name, avatar_url, password_hash, verified_at, created_at`

func scanBinding(scan func(dest ...any) error) (model.IdentityBinding, error) {
	var b model.IdentityBinding
	var idStr, acctStr, providerStr string
	var passwordHash sql.NullString
	err := scan(&idStr, &acctStr, &providerStr, &b.ExternalID, &b.DisplayName, &b.AvatarURL, &passwordHash, &b.VerifiedAt, &b.CreatedAt)
	if err != nil {
		return model.IdentityBinding{}, err
	}
	b.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.IdentityBinding{}, fmt.Errorf("parse binding ID: %w", err)
	}
	b.AccountID, err = uuid.Parse(acctStr)
	if err != nil {
		return model.IdentityBinding{}, fmt.Errorf("parse account ID: %w", err)
	}
	b.Provider = model.Provider(providerStr)
	if passwordHash.Valid {
		b.PasswordHash = []byte(passwordHash.String)
	}
	return b, nil
}

func (r *bindingRepo) FindByIdentity(ctx context.Context, provider model.Provider, externalID string) (model.IdentityBinding, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM identity_bindings
		WHERE provider = $1 AND external_id = $2
	`, string(provider), externalID)
	b, err := scanBinding(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.IdentityBinding{}, fmt.Errorf("binding not found: %w", ErrNotFound)
		}
		return model.IdentityBinding{}, fmt.Errorf("query binding: %w", err)
	}
	return b, nil
}

func (r *bindingRepo) Create(ctx context.Context, accountID uuid.UUID, provider model.Provider, externalID, displayName, avatarURL string, passwordHash []byte) (model.IdentityBinding, error) {
	var hash any
	if len(passwordHash) > 0 {
		hash = string(passwordHash)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identity_bindings (account_id, provider, external_id, display_name, avatar_url, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+bindingColumns+`
	`, accountID, string(provider), externalID, displayName, avatarURL, hash)
	b, err := scanBinding(row.Scan)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return model.IdentityBinding{}, ErrDuplicateBinding
		}
		return model.IdentityBinding{}, fmt.Errorf("insert binding: %w", err)
	}
	return b, nil
}

// TouchVerified bumps the re-verification timestamp.
func (r *bindingRepo) TouchVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE identity_bindings SET verified_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("touch binding: %w", err)
	}
	return nil
}

func (r *bindingRepo) CountForAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM identity_bindings WHERE account_id = $1
	`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bindings: %w", err)
	}
	return count, nil
}

func (r *bindingRepo) Delete(ctx context.Context, accountID uuid.UUID, provider model.Provider) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM identity_bindings WHERE account_id = $1 AND provider = $2
	`, accountID, string(provider))
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("binding not found: %w", ErrNotFound)
	}
	return nil
}

func (r *bindingRepo) SetPasswordHash(ctx context.Context, accountID uuid.UUID, passwordHash []byte) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE identity_bindings
		SET password_hash = $2
		WHERE account_id = $1 AND provider = $3
	`, accountID, string(passwordHash), string(model.ProviderPassword))
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("password binding not found: %w", ErrNotFound)
	}
	return nil
}
