package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/model"
	"github.com/bazarhub/server/internal/repo"
)

// memStore is an in-memory implementation of all four repositories with the
// same atomicity guarantees the SQL layer provides, so the concurrency
// properties can be tested without Postgres.
type memStore struct {
	mu         sync.Mutex
	seq        int64
	challenges map[uuid.UUID]*model.OtpChallenge
	chSeq      map[uuid.UUID]int64
	accounts   map[uuid.UUID]*model.Account
	bindings   map[uuid.UUID]*model.IdentityBinding
	sessions   map[uuid.UUID]*model.Session
}

func newMemStore() *memStore {
	return &memStore{
		challenges: make(map[uuid.UUID]*model.OtpChallenge),
		chSeq:      make(map[uuid.UUID]int64),
		accounts:   make(map[uuid.UUID]*model.Account),
		bindings:   make(map[uuid.UUID]*model.IdentityBinding),
		sessions:   make(map[uuid.UUID]*model.Session),
	}
}

// memSessions adapts memStore to repo.SessionRepo; a separate type because
// BindingRepo and SessionRepo both declare a Create method.
type memSessions struct{ *memStore }

// memOtp adapts memStore to repo.OtpRepo; a separate type because
// BindingRepo and OtpRepo both declare a Delete method.
type memOtp struct{ *memStore }

var _ repo.OtpRepo = memOtp{}
var _ repo.AccountRepo = (*memStore)(nil)
var _ repo.BindingRepo = (*memStore)(nil)
var _ repo.SessionRepo = memSessions{}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, repo.ErrNotFound)
}

// --- OtpRepo ---

func (m *memStore) CreateOrReplace(ctx context.Context, phone string, purpose model.Purpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, c := range m.challenges {
		if c.PhoneNumber == phone && c.Purpose == purpose && c.ConsumedAt == nil {
			t := now
			c.ConsumedAt = &t
		}
	}

	m.seq++
	id := uuid.New()
	m.challenges[id] = &model.OtpChallenge{
		ID:          id,
		PhoneNumber: phone,
		Purpose:     purpose,
		CodeHash:    mustDecodeHex(codeHashHex),
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	m.chSeq[id] = m.seq
	return id, nil
}

func (m *memStore) GetActive(ctx context.Context, phone string, purpose model.Purpose) (model.OtpChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.OtpChallenge
	for _, c := range m.challenges {
		if c.PhoneNumber != phone || c.Purpose != purpose || c.ConsumedAt != nil {
			continue
		}
		if best == nil || m.chSeq[c.ID] > m.chSeq[best.ID] {
			best = c
		}
	}
	if best == nil {
		return model.OtpChallenge{}, notFound("no active challenge")
	}
	return *best, nil
}

func (m *memStore) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok || c.ConsumedAt != nil {
		return false, nil
	}
	t := time.Now()
	c.ConsumedAt = &t
	return true, nil
}

func (m *memStore) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok {
		return 0, notFound("challenge")
	}
	c.AttemptCount++
	t := time.Now()
	c.LastAttemptAt = &t
	return c.AttemptCount, nil
}

func (m *memStore) HasConsumedHash(ctx context.Context, phone string, purpose model.Purpose, codeHashHex string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := mustDecodeHex(codeHashHex)
	for _, c := range m.challenges {
		if c.PhoneNumber == phone && c.Purpose == purpose && c.ConsumedAt != nil &&
			string(c.CodeHash) == string(hash) {
			return true, nil
		}
	}
	return false, nil
}

func (m memOtp) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.challenges, id)
	delete(m.chSeq, id)
	return nil
}

func (m *memStore) LastIssuedAt(ctx context.Context, phone string, purpose model.Purpose) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.OtpChallenge
	for _, c := range m.challenges {
		if c.PhoneNumber != phone || c.Purpose != purpose {
			continue
		}
		if best == nil || m.chSeq[c.ID] > m.chSeq[best.ID] {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	t := best.CreatedAt
	return &t, nil
}

func (m *memStore) CountIssuedSince(ctx context.Context, phone string, purpose model.Purpose, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.challenges {
		if c.PhoneNumber == phone && c.Purpose == purpose && !c.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, c := range m.challenges {
		if c.ExpiresAt.Before(cutoff) {
			delete(m.challenges, id)
			n++
		}
	}
	return n, nil
}

// --- AccountRepo ---

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, notFound("account")
	}
	return *a, nil
}

func (m *memStore) CreateWithBinding(ctx context.Context, displayName, avatarURL string, provider model.Provider, externalID string) (model.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bindings {
		if b.Provider == provider && b.ExternalID == externalID {
			a := m.accounts[b.AccountID]
			return *a, false, nil
		}
	}

	now := time.Now()
	acct := &model.Account{
		ID:          uuid.New(),
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.accounts[acct.ID] = acct
	b := &model.IdentityBinding{
		ID:          uuid.New(),
		AccountID:   acct.ID,
		Provider:    provider,
		ExternalID:  externalID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		VerifiedAt:  now,
		CreatedAt:   now,
	}
	m.bindings[b.ID] = b
	return *acct, true, nil
}

func (m *memStore) FillProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return notFound("account")
	}
	if a.DisplayName == "" {
		a.DisplayName = displayName
	}
	if a.AvatarURL == "" {
		a.AvatarURL = avatarURL
	}
	a.UpdatedAt = time.Now()
	return nil
}

// --- BindingRepo ---

func (m *memStore) FindByIdentity(ctx context.Context, provider model.Provider, externalID string) (model.IdentityBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bindings {
		if b.Provider == provider && b.ExternalID == externalID {
			return *b, nil
		}
	}
	return model.IdentityBinding{}, notFound("binding")
}

func (m *memStore) Create(ctx context.Context, accountID uuid.UUID, provider model.Provider, externalID, displayName, avatarURL string, passwordHash []byte) (model.IdentityBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bindings {
		if (b.Provider == provider && b.ExternalID == externalID) ||
			(b.AccountID == accountID && b.Provider == provider) {
			return model.IdentityBinding{}, repo.ErrDuplicateBinding
		}
	}
	now := time.Now()
	b := &model.IdentityBinding{
		ID:           uuid.New(),
		AccountID:    accountID,
		Provider:     provider,
		ExternalID:   externalID,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		PasswordHash: passwordHash,
		VerifiedAt:   now,
		CreatedAt:    now,
	}
	m.bindings[b.ID] = b
	return *b, nil
}

func (m *memStore) TouchVerified(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[id]
	if !ok {
		return notFound("binding")
	}
	b.VerifiedAt = time.Now()
	return nil
}

func (m *memStore) CountForAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, b := range m.bindings {
		if b.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) Delete(ctx context.Context, accountID uuid.UUID, provider model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, b := range m.bindings {
		if b.AccountID == accountID && b.Provider == provider {
			delete(m.bindings, id)
			return nil
		}
	}
	return notFound("binding")
}

func (m *memStore) SetPasswordHash(ctx context.Context, accountID uuid.UUID, passwordHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bindings {
		if b.AccountID == accountID && b.Provider == model.ProviderPassword {
			b.PasswordHash = passwordHash
			return nil
		}
	}
	return notFound("password binding")
}

// --- SessionRepo ---

func (m memSessions) Create(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	m.sessions[id] = &model.Session{
		ID:        id,
		AccountID: accountID,
		TokenHash: tokenHash,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	return id, nil
}

func (m *memStore) FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.TokenHash == tokenHash {
			return *s, nil
		}
	}
	return model.Session{}, notFound("session")
}

func (m *memStore) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	t := time.Now()
	s.RevokedAt = &t
	return true, nil
}

func (m *memStore) SetReplacedBy(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return notFound("session")
	}
	s.ReplacedBy = &replacedBy
	return nil
}

func (m *memStore) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range m.sessions {
		if s.AccountID == accountID && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
		}
	}
	return nil
}

func (m *memStore) DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (m *memStore) activeSessionCount(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if s.AccountID == accountID && s.RevokedAt == nil {
			count++
		}
	}
	return count
}
