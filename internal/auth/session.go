package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/repo"
)

// TokenPair is an access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionIssuer mints token pairs and rotates refresh tokens. Refresh tokens
// are opaque; only their SHA-256 hash is persisted.
type SessionIssuer struct {
	sessions   repo.SessionRepo
	jwt        *JWTService
	refreshTTL time.Duration
}

// NewSessionIssuer creates a new session issuer
func NewSessionIssuer(sessions repo.SessionRepo, jwtService *JWTService, refreshTTL time.Duration) *SessionIssuer {
	return &SessionIssuer{
		sessions:   sessions,
		jwt:        jwtService,
		refreshTTL: refreshTTL,
	}
}

// IssueFor mints a fresh token pair for the account
func (s *SessionIssuer) IssueFor(ctx context.Context, accountID uuid.UUID) (TokenPair, error) {
	refreshToken, hashHex, err := generateRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	if _, err := s.sessions.Create(ctx, accountID, hashHex, time.Now().Add(s.refreshTTL)); err != nil {
		return TokenPair{}, fmt.Errorf("create session: %w", err)
	}

	accessToken, err := s.jwt.SignAccessToken(accountID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Refresh rotates the presented refresh token: the old session is revoked
// before the new one is created, so a crash in between fails closed. Reuse of
// an already-revoked token is a compromise signal and revokes every session
// of the account.
func (s *SessionIssuer) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	old, err := s.sessions.FindByTokenHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, E(KindNotFound, "unknown refresh token")
		}
		return TokenPair{}, err
	}

	if old.RevokedAt != nil {
		return TokenPair{}, s.onReuse(ctx, old.AccountID)
	}
	if time.Now().After(old.ExpiresAt) {
		return TokenPair{}, E(KindExpiredProof, "refresh token expired")
	}

	ok, err := s.sessions.Revoke(ctx, old.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		// A concurrent refresh revoked it first; the second presentation of
		// the same token is reuse.
		return TokenPair{}, s.onReuse(ctx, old.AccountID)
	}

	newToken, newHashHex, err := generateRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	newID, err := s.sessions.Create(ctx, old.AccountID, newHashHex, time.Now().Add(s.refreshTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.sessions.SetReplacedBy(ctx, old.ID, newID); err != nil {
		// Lineage bookkeeping only; the rotation itself already happened.
		log.Printf("set replaced_by failed for session %s: %v", old.ID, err)
	}

	accessToken, err := s.jwt.SignAccessToken(old.AccountID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: newToken}, nil
}

func (s *SessionIssuer) onReuse(ctx context.Context, accountID uuid.UUID) error {
	if err := s.sessions.RevokeAllForAccount(ctx, accountID); err != nil {
		log.Printf("revoke all sessions for account %s failed: %v", accountID, err)
	}
	return E(KindSecurityViolation, "refresh token reuse detected, all sessions revoked")
}

// Revoke invalidates the presented refresh token (logout).
func (s *SessionIssuer) Revoke(ctx context.Context, refreshToken string) error {
	sess, err := s.sessions.FindByTokenHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return E(KindNotFound, "unknown refresh token")
		}
		return err
	}
	if _, err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		return err
	}
	return nil
}

// RevokeAll invalidates every session of the account.
func (s *SessionIssuer) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	return s.sessions.RevokeAllForAccount(ctx, accountID)
}

// generateRefreshToken returns a random Base64URL token (32 bytes) and its SHA256 hash as hex
func generateRefreshToken() (token string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hashRefreshToken(token), nil
}

// hashRefreshToken returns SHA256 hex of the token
func hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
