package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/model"
)

// AccountRepo defines the interface for account repository operations
type AccountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	// CreateWithBinding inserts an account and its first identity binding in
	// one transaction. If the (provider, external_id) pair already exists the
	// insert is abandoned and the existing owner account is returned with
	// created=false.
	CreateWithBinding(ctx context.Context, displayName, avatarURL string, provider model.Provider, externalID string) (acct model.Account, created bool, err error)
	// FillProfile sets display name and avatar only where they are still
	// empty (fill-if-empty policy, never overwrite).
	FillProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL string) error
}

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = sql.ErrNoRows

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

const accountColumns = `id, display_name, avatar_url, disabled, created_at, updated_at`

func scanAccount(row *sql.Row) (model.Account, error) {
	var a model.Account
	var idStr string
	err := row.Scan(&idStr, &a.DisplayName, &a.AvatarURL, &a.Disabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, err
	}
	a.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Account{}, fmt.Errorf("parse account ID: %w", err)
	}
	return a, nil
}

// GetByID retrieves an account by ID
func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, id)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Account{}, fmt.Errorf("account not found: %w", ErrNotFound)
		}
		return model.Account{}, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (r *accountRepo) CreateWithBinding(ctx context.Context, displayName, avatarURL string, provider model.Provider, externalID string) (model.Account, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var acctIDStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (display_name, avatar_url)
		VALUES ($1, $2)
		RETURNING id
	`, displayName, avatarURL).Scan(&acctIDStr)
	if err != nil {
		return model.Account{}, false, fmt.Errorf("insert account: %w", err)
	}

	// Unique index on (provider, external_id) decides the race between two
	// concurrent first logins: the loser inserts nothing and re-reads the
	// winner's account below.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO identity_bindings (account_id, provider, external_id, display_name, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, external_id) DO NOTHING
	`, acctIDStr, string(provider), externalID, displayName, avatarURL)
	if err != nil {
		return model.Account{}, false, fmt.Errorf("insert binding: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race: drop our orphan account and return the winner's.
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return model.Account{}, false, fmt.Errorf("rollback: %w", err)
		}
		acct, err := r.getByIdentity(ctx, provider, externalID)
		if err != nil {
			return model.Account{}, false, err
		}
		return acct, false, nil
	}

	if err := tx.Commit(); err != nil {
		return model.Account{}, false, fmt.Errorf("commit: %w", err)
	}

	id, err := uuid.Parse(acctIDStr)
	if err != nil {
		return model.Account{}, false, fmt.Errorf("parse account ID: %w", err)
	}
	acct, err := r.GetByID(ctx, id)
	if err != nil {
		return model.Account{}, false, err
	}
	return acct, true, nil
}

func (r *accountRepo) getByIdentity(ctx context.Context, provider model.Provider, externalID string) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT a.id, a.display_name, a.avatar_url, a.disabled, a.created_at, a.updated_at
		FROM accounts a
		JOIN identity_bindings b ON b.account_id = a.id
		WHERE b.provider = $1 AND b.external_id = $2
	`, string(provider), externalID)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Account{}, fmt.Errorf("account not found for identity: %w", ErrNotFound)
		}
		return model.Account{}, fmt.Errorf("query account by identity: %w", err)
	}
	return a, nil
}

func (r *accountRepo) FillProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET display_name = CASE WHEN display_name = '' THEN $2 ELSE display_name END,
		    avatar_url   = CASE WHEN avatar_url = ''   THEN $3 ELSE avatar_url END,
		    updated_at   = now()
		WHERE id = $1
	`, id, displayName, avatarURL)
	if err != nil {
		return fmt.Errorf("fill profile: %w", err)
	}
	return nil
}
