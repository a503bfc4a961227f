package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/model"
	"github.com/bazarhub/server/internal/repo"
)

// Resolver maps a verified identity to its Account, creating one on first
// login. Merging identities into one account only ever happens through the
// explicit link flow; matching profile attributes alone never merge.
type Resolver struct {
	accounts repo.AccountRepo
	bindings repo.BindingRepo
}

// NewResolver creates a new identity resolver
func NewResolver(accounts repo.AccountRepo, bindings repo.BindingRepo) *Resolver {
	return &Resolver{accounts: accounts, bindings: bindings}
}

// Resolve returns the account owning the identity. With a nil linkTo a
// missing binding creates a fresh account; with linkTo set the identity is
// attached to that account unless another account already owns it.
func (r *Resolver) Resolve(ctx context.Context, id VerifiedIdentity, linkTo *uuid.UUID) (model.Account, error) {
	b, err := r.bindings.FindByIdentity(ctx, id.Provider, id.ExternalID)
	switch {
	case err == nil:
		if linkTo != nil && *linkTo != b.AccountID {
			return model.Account{}, E(KindAlreadyLinked, "identity is already linked to another account")
		}
		return r.touchExisting(ctx, b, id)
	case errors.Is(err, repo.ErrNotFound):
		// fall through to create or link
	default:
		return model.Account{}, err
	}

	if linkTo == nil {
		acct, _, err := r.accounts.CreateWithBinding(ctx, id.Profile.Name, id.Profile.AvatarURL, id.Provider, id.ExternalID)
		if err != nil {
			return model.Account{}, fmt.Errorf("create account: %w", err)
		}
		return acct, nil
	}

	return r.link(ctx, id, *linkTo)
}

func (r *Resolver) touchExisting(ctx context.Context, b model.IdentityBinding, id VerifiedIdentity) (model.Account, error) {
	acct, err := r.accounts.GetByID(ctx, b.AccountID)
	if err != nil {
		return model.Account{}, err
	}

	// Fill-if-empty: a later provider snapshot never overwrites fields the
	// account already has.
	if (acct.DisplayName == "" && id.Profile.Name != "") || (acct.AvatarURL == "" && id.Profile.AvatarURL != "") {
		if err := r.accounts.FillProfile(ctx, acct.ID, id.Profile.Name, id.Profile.AvatarURL); err != nil {
			return model.Account{}, err
		}
		if acct, err = r.accounts.GetByID(ctx, acct.ID); err != nil {
			return model.Account{}, err
		}
	}

	if err := r.bindings.TouchVerified(ctx, b.ID); err != nil {
		return model.Account{}, err
	}
	return acct, nil
}

func (r *Resolver) link(ctx context.Context, id VerifiedIdentity, accountID uuid.UUID) (model.Account, error) {
	_, err := r.bindings.Create(ctx, accountID, id.Provider, id.ExternalID, id.Profile.Name, id.Profile.AvatarURL, nil)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateBinding) {
			// Either another account claimed the identity in a race, or this
			// account already holds a binding for the provider. Re-read to
			// tell the two apart.
			if b, ferr := r.bindings.FindByIdentity(ctx, id.Provider, id.ExternalID); ferr == nil {
				if b.AccountID == accountID {
					return r.accounts.GetByID(ctx, accountID)
				}
			}
			return model.Account{}, E(KindAlreadyLinked, "identity is already linked to another account")
		}
		return model.Account{}, fmt.Errorf("link identity: %w", err)
	}
	return r.accounts.GetByID(ctx, accountID)
}

// Unlink removes the account's binding for the given provider. The last
// remaining binding cannot be removed, otherwise the account would become
// unreachable.
func (r *Resolver) Unlink(ctx context.Context, accountID uuid.UUID, provider model.Provider) error {
	count, err := r.bindings.CountForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return E(KindInvalidProof, "cannot unlink the only login method")
	}
	if err := r.bindings.Delete(ctx, accountID, provider); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return E(KindNotFound, "no such linked provider")
		}
		return err
	}
	return nil
}
