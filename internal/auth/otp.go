package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bazarhub/server/internal/model"
	"github.com/bazarhub/server/internal/repo"
)

const (
	otpLength         = 6
	otpExpiry         = 5 * time.Minute
	otpMaxAttempts    = 5
	otpResendInterval = 60 * time.Second

	// DB-backed send limits per (phone, purpose)
	otpSendWindow           = 5 * time.Minute
	otpMaxSendsPerWindow    = 5
	otpRegistrationWindow   = time.Hour
	otpMaxRegistrationSends = 3
)

// OtpStore manages the lifecycle of one-time codes: issuance with a minimum
// resend interval, hash-only storage, and atomic single-use verification.
type OtpStore struct {
	repo   repo.OtpRepo
	sender SMSSender
	salt   string
	now    func() time.Time
}

// NewOtpStore creates a new OTP store
func NewOtpStore(otpRepo repo.OtpRepo, sender SMSSender, salt string) *OtpStore {
	return &OtpStore{
		repo:   otpRepo,
		sender: sender,
		salt:   salt,
		now:    time.Now,
	}
}

// Issue generates a fresh code for the (phone, purpose) key, invalidating any
// prior active challenge, and dispatches it via the SMS collaborator. Delivery
// failure is surfaced, never swallowed. The plaintext code is returned so dev
// mode can expose it; only its hash is persisted.
func (s *OtpStore) Issue(ctx context.Context, phone string, purpose model.Purpose) (code string, expiresIn time.Duration, err error) {
	now := s.now()

	last, err := s.repo.LastIssuedAt(ctx, phone, purpose)
	if err != nil {
		return "", 0, fmt.Errorf("resend check: %w", err)
	}
	if last != nil {
		if wait := otpResendInterval - now.Sub(*last); wait > 0 {
			return "", 0, E(KindRateLimited, "code was sent recently, wait before requesting another").WithRetryAfter(wait)
		}
	}

	count, err := s.repo.CountIssuedSince(ctx, phone, purpose, now.Add(-otpSendWindow))
	if err != nil {
		return "", 0, fmt.Errorf("send limit check: %w", err)
	}
	if count >= otpMaxSendsPerWindow {
		return "", 0, E(KindRateLimited, "too many codes requested").WithRetryAfter(otpSendWindow)
	}
	if purpose == model.PurposeRegistration {
		count, err = s.repo.CountIssuedSince(ctx, phone, purpose, now.Add(-otpRegistrationWindow))
		if err != nil {
			return "", 0, fmt.Errorf("send limit check: %w", err)
		}
		if count >= otpMaxRegistrationSends {
			return "", 0, E(KindRateLimited, "too many codes requested").WithRetryAfter(otpRegistrationWindow)
		}
	}

	code, err = generateOTPCode()
	if err != nil {
		return "", 0, fmt.Errorf("generate code: %w", err)
	}

	hashHex := hashOTPHex(phone, purpose, code, s.salt)
	id, err := s.repo.CreateOrReplace(ctx, phone, purpose, hashHex, now.Add(otpExpiry))
	if err != nil {
		return "", 0, fmt.Errorf("create challenge: %w", err)
	}

	if err := s.sender.Send(ctx, phone, code); err != nil {
		// An undelivered code must not start the resend interval.
		_ = s.repo.Delete(ctx, id)
		return "", 0, Wrap(KindProviderUnavailable, "could not deliver verification code", err)
	}

	return code, otpExpiry, nil
}

// Verify checks the submitted code against the active challenge and consumes
// it atomically: of two concurrent calls with the correct code exactly one
// succeeds. A mismatch increments the attempt counter; hitting the attempt
// bound consumes the challenge so a fresh issue is required. A code belonging
// to a superseded challenge fails as expired without costing an attempt.
func (s *OtpStore) Verify(ctx context.Context, phone string, purpose model.Purpose, code string) error {
	ch, err := s.repo.GetActive(ctx, phone, purpose)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return E(KindNotFound, "no verification code requested")
		}
		return fmt.Errorf("lookup challenge: %w", err)
	}

	now := s.now()
	if now.After(ch.ExpiresAt) {
		return E(KindExpiredProof, "verification code expired")
	}
	if ch.AttemptCount >= otpMaxAttempts {
		_, _ = s.repo.Consume(ctx, ch.ID)
		return E(KindInvalidProof, "too many attempts, request a new code").WithAttemptsLeft(0)
	}

	provided := hashOTPBytes(phone, purpose, code, s.salt)
	if subtle.ConstantTimeCompare(provided, ch.CodeHash) != 1 {
		// A code that matched a now-superseded challenge is stale, not wrong:
		// report it as expired and leave the fresh challenge's attempt budget
		// untouched.
		stale, err := s.repo.HasConsumedHash(ctx, phone, purpose, hex.EncodeToString(provided))
		if err != nil {
			return fmt.Errorf("stale code check: %w", err)
		}
		if stale {
			return E(KindExpiredProof, "verification code was replaced, request a new one")
		}

		newCount, err := s.repo.IncrementAttempt(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		left := otpMaxAttempts - newCount
		if left <= 0 {
			_, _ = s.repo.Consume(ctx, ch.ID)
			return E(KindInvalidProof, "too many attempts, request a new code").WithAttemptsLeft(0)
		}
		return E(KindInvalidProof, "incorrect verification code").WithAttemptsLeft(left)
	}

	ok, err := s.repo.Consume(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if !ok {
		// A concurrent verify won the consume race.
		return E(KindNotFound, "verification code already used")
	}
	return nil
}

// generateOTPCode returns a uniformly random fixed-length numeric code.
func generateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpLength, n), nil
}

// hashOTPHex returns SHA-256(phone:purpose:code:salt) as hex for DB storage
func hashOTPHex(phone string, purpose model.Purpose, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(phone, purpose, code, salt))
}

func hashOTPBytes(phone string, purpose model.Purpose, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s:%s", phone, purpose, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}
