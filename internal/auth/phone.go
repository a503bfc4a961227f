package auth

import (
	"context"

	"github.com/bazarhub/server/internal/model"
)

// PhoneVerifier proves possession of a phone number through the OTP store.
type PhoneVerifier struct {
	otp *OtpStore
}

// NewPhoneVerifier creates a new phone verifier
func NewPhoneVerifier(otp *OtpStore) *PhoneVerifier {
	return &PhoneVerifier{otp: otp}
}

func (v *PhoneVerifier) Verify(ctx context.Context, p PhonePayload) (VerifiedIdentity, error) {
	if err := v.otp.Verify(ctx, p.PhoneNumber, p.Purpose, p.Code); err != nil {
		return VerifiedIdentity{}, err
	}
	return VerifiedIdentity{
		Provider:   model.ProviderPhone,
		ExternalID: p.PhoneNumber,
	}, nil
}
