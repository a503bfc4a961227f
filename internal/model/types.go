package model

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an identity provider kind.
type Provider string

const (
	ProviderPhone    Provider = "PHONE"
	ProviderTelegram Provider = "TELEGRAM"
	ProviderGoogle   Provider = "GOOGLE"
	ProviderPassword Provider = "PASSWORD"
)

// Purpose tags what an OTP challenge was issued for.
type Purpose string

const (
	PurposeRegistration  Purpose = "REGISTRATION"
	PurposeLogin         Purpose = "LOGIN"
	PurposePasswordReset Purpose = "PASSWORD_RESET"
)

// Account is the canonical user identity.
type Account struct {
	ID          uuid.UUID
	DisplayName string
	AvatarURL   string
	Disabled    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IdentityBinding links an Account to one provider identity. The profile
// snapshot fields are informational and never overwrite Account fields
// that are already set.
type IdentityBinding struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Provider     Provider
	ExternalID   string
	DisplayName  string
	AvatarURL    string
	PasswordHash []byte
	VerifiedAt   time.Time
	CreatedAt    time.Time
}

// OtpChallenge is a short-lived single-use code for phone verification.
type OtpChallenge struct {
	ID            uuid.UUID
	PhoneNumber   string
	Purpose       Purpose
	CodeHash      []byte
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
}

// Session is a persisted refresh-token record.
type Session struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}
