package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/bazarhub/server/internal/model"
)

const (
	googleExchangeTimeout = 5 * time.Second
	googleUserInfoURL     = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// GoogleVerifier exchanges an OAuth authorization code for the Google account
// identity behind it.
type GoogleVerifier struct {
	cfg         *oauth2.Config
	userInfoURL string
	timeout     time.Duration
}

// NewGoogleVerifier creates a new Google verifier
func NewGoogleVerifier(clientID, clientSecret, redirectURL string) *GoogleVerifier {
	return &GoogleVerifier{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: googleUserInfoURL,
		timeout:     googleExchangeTimeout,
	}
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (v *GoogleVerifier) Verify(ctx context.Context, p GooglePayload) (VerifiedIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	tok, err := v.cfg.Exchange(ctx, p.Code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return VerifiedIdentity{}, Wrap(KindInvalidProof, "google rejected the authorization code", err)
		}
		return VerifiedIdentity{}, Wrap(KindProviderUnavailable, "google token exchange failed", err)
	}

	info, err := v.fetchUserInfo(ctx, tok)
	if err != nil {
		return VerifiedIdentity{}, err
	}
	if info.ID == "" {
		return VerifiedIdentity{}, E(KindInvalidProof, "google returned no subject id")
	}

	return VerifiedIdentity{
		Provider:   model.ProviderGoogle,
		ExternalID: info.ID,
		Profile: Profile{
			Name:      info.Name,
			AvatarURL: info.Picture,
		},
	}, nil
}

func (v *GoogleVerifier) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (googleUserInfo, error) {
	client := v.cfg.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return googleUserInfo{}, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return googleUserInfo{}, Wrap(KindProviderUnavailable, "google userinfo fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return googleUserInfo{}, E(KindInvalidProof, "google rejected the access token")
		}
		return googleUserInfo{}, E(KindProviderUnavailable, fmt.Sprintf("google userinfo returned status %d", resp.StatusCode))
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return googleUserInfo{}, Wrap(KindProviderUnavailable, "google userinfo decode failed", err)
	}
	return info, nil
}
