package auth

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/server/internal/model"
	"github.com/bazarhub/server/internal/ratelimit"
)

const (
	passwordLoginWindow = 5 * time.Minute
	passwordLoginMax    = 5
	passwordResetWindow = time.Hour
	passwordResetMax    = 3
)

// LoginResult is what a successful login returns to the transport layer.
type LoginResult struct {
	Account model.Account
	Tokens  TokenPair
}

type verifyFunc func(ctx context.Context, req LoginRequest) (VerifiedIdentity, error)

// Service is the authentication façade: it picks the verifier for the
// request's method, applies per-method rate limits, resolves the verified
// identity to an account and issues a token pair.
type Service struct {
	otp      *OtpStore
	resolver *Resolver
	sessions *SessionIssuer

	verifiers map[Method]verifyFunc

	loginLimiter *ratelimit.Limiter
	resetLimiter *ratelimit.Limiter
}

// NewService wires the orchestrator. Telegram and Google verifiers may be nil
// when their provider is not configured; the matching method is then disabled.
func NewService(
	otp *OtpStore,
	resolver *Resolver,
	sessions *SessionIssuer,
	phone *PhoneVerifier,
	telegram *TelegramVerifier,
	google *GoogleVerifier,
	password *PasswordVerifier,
) *Service {
	s := &Service{
		otp:          otp,
		resolver:     resolver,
		sessions:     sessions,
		verifiers:    make(map[Method]verifyFunc),
		loginLimiter: ratelimit.New(passwordLoginWindow, passwordLoginMax),
		resetLimiter: ratelimit.New(passwordResetWindow, passwordResetMax),
	}

	if phone != nil {
		s.verifiers[MethodPhoneOTP] = func(ctx context.Context, req LoginRequest) (VerifiedIdentity, error) {
			return phone.Verify(ctx, req.Phone)
		}
	}
	if telegram != nil {
		s.verifiers[MethodTelegram] = func(ctx context.Context, req LoginRequest) (VerifiedIdentity, error) {
			return telegram.Verify(ctx, req.Telegram)
		}
	}
	if google != nil {
		s.verifiers[MethodGoogle] = func(ctx context.Context, req LoginRequest) (VerifiedIdentity, error) {
			return google.Verify(ctx, req.Google)
		}
	}
	if password != nil {
		s.verifiers[MethodPassword] = func(ctx context.Context, req LoginRequest) (VerifiedIdentity, error) {
			if ok, retryAfter := s.loginLimiter.Allow("pwlogin:" + req.Password.Identifier); !ok {
				return VerifiedIdentity{}, E(KindRateLimited, "too many login attempts").WithRetryAfter(retryAfter)
			}
			return password.Verify(ctx, req.Password)
		}
	}

	return s
}

// Providers lists the currently enabled login methods.
func (s *Service) Providers() []Method {
	methods := make([]Method, 0, len(s.verifiers))
	for m := range s.verifiers {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// RequestOTP issues and dispatches a code for the phone flow. Password-reset
// requests carry their own hourly cap on top of the store's send limits.
func (s *Service) RequestOTP(ctx context.Context, phone string, purpose model.Purpose) (devCode string, expiresIn time.Duration, err error) {
	switch purpose {
	case model.PurposeRegistration, model.PurposeLogin, model.PurposePasswordReset:
	default:
		return "", 0, E(KindInvalidProof, "unknown purpose")
	}

	if purpose == model.PurposePasswordReset {
		if ok, retryAfter := s.resetLimiter.Allow("pwreset:" + phone); !ok {
			return "", 0, E(KindRateLimited, "too many reset requests").WithRetryAfter(retryAfter)
		}
	}

	return s.otp.Issue(ctx, phone, purpose)
}

// Login runs the full flow: verify, resolve, issue.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	identity, err := s.verify(ctx, req)
	if err != nil {
		return LoginResult{}, err
	}

	acct, err := s.resolver.Resolve(ctx, identity, nil)
	if err != nil {
		return LoginResult{}, err
	}
	if acct.Disabled {
		return LoginResult{}, E(KindInvalidCredentials, "account is disabled")
	}

	pair, err := s.sessions.IssueFor(ctx, acct.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	return LoginResult{Account: acct, Tokens: pair}, nil
}

// LinkProvider attaches another verified identity to an existing account.
func (s *Service) LinkProvider(ctx context.Context, accountID uuid.UUID, req LoginRequest) (model.Account, error) {
	identity, err := s.verify(ctx, req)
	if err != nil {
		return model.Account{}, err
	}
	acct, err := s.resolver.Resolve(ctx, identity, &accountID)
	if err != nil {
		return model.Account{}, err
	}
	if acct.Disabled {
		return model.Account{}, E(KindInvalidCredentials, "account is disabled")
	}
	return acct, nil
}

// UnlinkProvider removes a linked identity from the account.
func (s *Service) UnlinkProvider(ctx context.Context, accountID uuid.UUID, provider model.Provider) error {
	return s.resolver.Unlink(ctx, accountID, provider)
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Revoke(ctx, refreshToken)
}

func (s *Service) verify(ctx context.Context, req LoginRequest) (VerifiedIdentity, error) {
	verify, ok := s.verifiers[req.Method]
	if !ok {
		return VerifiedIdentity{}, E(KindNotFound, "unknown or disabled login method")
	}
	return verify(ctx, req)
}
