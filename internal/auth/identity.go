package auth

import (
	"github.com/bazarhub/server/internal/model"
)

// Profile is the provider-supplied profile snapshot attached to a verified
// identity. Fields may be empty; they only seed Account display fields that
// have never been set.
type Profile struct {
	Name      string
	AvatarURL string
}

// VerifiedIdentity is the outcome of a successful credential verification:
// which provider vouched for the caller and under which external ID.
type VerifiedIdentity struct {
	Provider   model.Provider
	ExternalID string
	Profile    Profile
}

// Method tags a login request with its provider flow.
type Method string

const (
	MethodPhoneOTP Method = "PHONE_OTP"
	MethodTelegram Method = "TELEGRAM"
	MethodGoogle   Method = "GOOGLE"
	MethodPassword Method = "PASSWORD"
)

// PhonePayload is the phone+OTP login payload.
type PhonePayload struct {
	PhoneNumber string
	Purpose     model.Purpose
	Code        string
}

// TelegramPayload is the login-widget payload as delivered by Telegram.
type TelegramPayload struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// GooglePayload carries the OAuth authorization code.
type GooglePayload struct {
	Code string
}

// PasswordPayload is the identifier+password login payload.
type PasswordPayload struct {
	Identifier string
	Password   string
}

// LoginRequest is the tagged union accepted by the orchestrator. Only the
// payload matching Method is read.
type LoginRequest struct {
	Method   Method
	Phone    PhonePayload
	Telegram TelegramPayload
	Google   GooglePayload
	Password PasswordPayload
}
