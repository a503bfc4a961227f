package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

func newTestIssuer(refreshTTL time.Duration) (*SessionIssuer, *memStore) {
	st := newMemStore()
	jwtService := NewJWTService("test-jwt-secret-at-least-32-characters-long", 15*time.Minute)
	return NewSessionIssuer(memSessions{st}, jwtService, refreshTTL), st
}

func TestSessionIssueAndRefresh(t *testing.T) {
	issuer, _ := newTestIssuer(30 * 24 * time.Hour)
	ctx := context.Background()
	accountID := uuid.New()

	pair, err := issuer.IssueFor(ctx, accountID)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	rotated, err := issuer.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken, "refresh must rotate the token")
}

func TestSessionRefreshUnknownToken(t *testing.T) {
	issuer, _ := newTestIssuer(30 * 24 * time.Hour)

	_, err := issuer.Refresh(context.Background(), "bm90LWEtcmVhbC10b2tlbg")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSessionRefreshExpired(t *testing.T) {
	issuer, _ := newTestIssuer(-time.Minute)
	ctx := context.Background()

	pair, err := issuer.IssueFor(ctx, uuid.New())
	require.NoError(t, err)

	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, KindExpiredProof, KindOf(err))
}

func TestSessionReuseDetectionRevokesEverything(t *testing.T) {
	issuer, st := newTestIssuer(30 * 24 * time.Hour)
	ctx := context.Background()
	accountID := uuid.New()

	pair1, err := issuer.IssueFor(ctx, accountID)
	require.NoError(t, err)

	pair2, err := issuer.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated-away token is a compromise signal.
	_, err = issuer.Refresh(ctx, pair1.RefreshToken)
	assert.Equal(t, KindSecurityViolation, KindOf(err))
	assert.Equal(t, 0, st.activeSessionCount(accountID), "reuse must revoke every session")

	// The newest token is collateral damage: it no longer refreshes either.
	_, err = issuer.Refresh(ctx, pair2.RefreshToken)
	assert.Equal(t, KindSecurityViolation, KindOf(err))
}

func TestSessionConcurrentRefreshSingleWinner(t *testing.T) {
	issuer, _ := newTestIssuer(30 * 24 * time.Hour)
	ctx := context.Background()

	pair, err := issuer.IssueFor(ctx, uuid.New())
	require.NoError(t, err)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			_, errs[i] = issuer.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	start.Done()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 1, "at most one concurrent refresh may rotate the token")
}

func TestSessionLogout(t *testing.T) {
	issuer, _ := newTestIssuer(30 * 24 * time.Hour)
	ctx := context.Background()

	pair, err := issuer.IssueFor(ctx, uuid.New())
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, pair.RefreshToken))

	// A logged-out token is revoked, so presenting it again is reuse.
	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, KindSecurityViolation, KindOf(err))
}

func TestSessionRevokeAll(t *testing.T) {
	issuer, st := newTestIssuer(30 * 24 * time.Hour)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := issuer.IssueFor(ctx, accountID)
	require.NoError(t, err)
	_, err = issuer.IssueFor(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, 2, st.activeSessionCount(accountID))

	require.NoError(t, issuer.RevokeAll(ctx, accountID))
	assert.Equal(t, 0, st.activeSessionCount(accountID))
}
