package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazarhub/server/internal/model"
)

func googleIdentity(subject, name string) VerifiedIdentity {
	return VerifiedIdentity{
		Provider:   model.ProviderGoogle,
		ExternalID: subject,
		Profile:    Profile{Name: name},
	}
}

func TestResolveCreatesAccountOnFirstLogin(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	acct, err := r.Resolve(ctx, googleIdentity("goog-1", "Aziz Karimov"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Aziz Karimov", acct.DisplayName)

	// Second login with the same identity returns the same account.
	again, err := r.Resolve(ctx, googleIdentity("goog-1", "Aziz Karimov"), nil)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, again.ID)
}

func TestResolveConcurrentFirstLoginSingleAccount(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	const racers = 8
	accounts := make([]model.Account, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			accounts[i], errs[i] = r.Resolve(ctx, googleIdentity("goog-raced", "Racer"), nil)
		}(i)
	}
	start.Done()
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, accounts[0].ID, accounts[i].ID, "all concurrent first logins must resolve to one account")
	}
}

func TestResolveFillIfEmptyNeverOverwrites(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	// First login arrives with no profile.
	acct, err := r.Resolve(ctx, googleIdentity("goog-2", ""), nil)
	require.NoError(t, err)
	require.Empty(t, acct.DisplayName)

	// A later snapshot fills the empty field.
	acct, err = r.Resolve(ctx, googleIdentity("goog-2", "First Name"), nil)
	require.NoError(t, err)
	assert.Equal(t, "First Name", acct.DisplayName)

	// But once set, a differing snapshot never overwrites.
	acct, err = r.Resolve(ctx, googleIdentity("goog-2", "Changed Name"), nil)
	require.NoError(t, err)
	assert.Equal(t, "First Name", acct.DisplayName)
}

func TestResolveLinkSecondProvider(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	acct, err := r.Resolve(ctx, VerifiedIdentity{Provider: model.ProviderPhone, ExternalID: testPhone}, nil)
	require.NoError(t, err)

	linked, err := r.Resolve(ctx, googleIdentity("goog-3", "Aziz"), &acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, linked.ID)

	// The linked identity now logs straight into the same account.
	viaGoogle, err := r.Resolve(ctx, googleIdentity("goog-3", "Aziz"), nil)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, viaGoogle.ID)
}

func TestResolveLinkAlreadyLinkedElsewhere(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	owner, err := r.Resolve(ctx, googleIdentity("goog-4", "Owner"), nil)
	require.NoError(t, err)

	other, err := r.Resolve(ctx, VerifiedIdentity{Provider: model.ProviderPhone, ExternalID: testPhone}, nil)
	require.NoError(t, err)
	require.NotEqual(t, owner.ID, other.ID)

	_, err = r.Resolve(ctx, googleIdentity("goog-4", "Owner"), &other.ID)
	assert.Equal(t, KindAlreadyLinked, KindOf(err))
}

func TestResolveNeverMergesOnProfileMatch(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	// Same display name from two providers must stay two accounts: merging
	// requires the explicit link step.
	a, err := r.Resolve(ctx, googleIdentity("goog-5", "Same Person"), nil)
	require.NoError(t, err)
	b, err := r.Resolve(ctx, VerifiedIdentity{
		Provider:   model.ProviderTelegram,
		ExternalID: "5555",
		Profile:    Profile{Name: "Same Person"},
	}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestUnlink(t *testing.T) {
	st := newMemStore()
	r := NewResolver(st, st)
	ctx := context.Background()

	acct, err := r.Resolve(ctx, googleIdentity("goog-6", "Aziz"), nil)
	require.NoError(t, err)

	// The only login method cannot be removed.
	err = r.Unlink(ctx, acct.ID, model.ProviderGoogle)
	require.Error(t, err)

	_, err = r.Resolve(ctx, VerifiedIdentity{Provider: model.ProviderPhone, ExternalID: testPhone}, &acct.ID)
	require.NoError(t, err)

	require.NoError(t, r.Unlink(ctx, acct.ID, model.ProviderGoogle))

	// The unlinked identity now creates a fresh account on login.
	fresh, err := r.Resolve(ctx, googleIdentity("goog-6", "Aziz"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, acct.ID, fresh.ID)
}
