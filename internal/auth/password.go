package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/bazarhub/server/internal/model"
	"github.com/bazarhub/server/internal/repo"
)

const bcryptCost = 12

// PasswordVerifier checks identifier+password logins. Unknown identifier and
// wrong password are indistinguishable to the caller: same error kind, and a
// dummy bcrypt compare keeps latency comparable on the miss path.
type PasswordVerifier struct {
	bindings  repo.BindingRepo
	dummyHash []byte
}

// NewPasswordVerifier creates a new password verifier
func NewPasswordVerifier(bindings repo.BindingRepo) *PasswordVerifier {
	dummy, err := bcrypt.GenerateFromPassword([]byte("bazarhub-dummy-password"), bcryptCost)
	if err != nil {
		// bcrypt only fails on an invalid cost, which is a constant here.
		panic(err)
	}
	return &PasswordVerifier{bindings: bindings, dummyHash: dummy}
}

func (v *PasswordVerifier) Verify(ctx context.Context, p PasswordPayload) (VerifiedIdentity, error) {
	b, err := v.bindings.FindByIdentity(ctx, model.ProviderPassword, p.Identifier)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Burn a compare so "no such account" costs the same as
			// "wrong password".
			_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(p.Password))
			return VerifiedIdentity{}, E(KindInvalidCredentials, "invalid identifier or password")
		}
		return VerifiedIdentity{}, err
	}

	if len(b.PasswordHash) == 0 {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(p.Password))
		return VerifiedIdentity{}, E(KindInvalidCredentials, "invalid identifier or password")
	}

	if err := bcrypt.CompareHashAndPassword(b.PasswordHash, []byte(p.Password)); err != nil {
		return VerifiedIdentity{}, E(KindInvalidCredentials, "invalid identifier or password")
	}

	return VerifiedIdentity{
		Provider:   model.ProviderPassword,
		ExternalID: p.Identifier,
		Profile:    Profile{Name: b.DisplayName},
	}, nil
}

// HashPassword returns the bcrypt hash used for password bindings. Exposed for
// the admin account tooling that seeds password credentials.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
}
