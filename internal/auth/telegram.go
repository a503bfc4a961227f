package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bazarhub/server/internal/model"
)

const telegramAuthMaxAge = 24 * time.Hour

// TelegramVerifier validates Telegram login-widget payloads. The widget signs
// the alphabetically sorted key=value fields (hash excluded) with
// HMAC-SHA256 keyed by SHA-256 of the bot token.
type TelegramVerifier struct {
	secret [32]byte
	maxAge time.Duration
	now    func() time.Time
}

// NewTelegramVerifier creates a new Telegram verifier for the given bot token
func NewTelegramVerifier(botToken string) *TelegramVerifier {
	return &TelegramVerifier{
		secret: sha256.Sum256([]byte(botToken)),
		maxAge: telegramAuthMaxAge,
		now:    time.Now,
	}
}

func (v *TelegramVerifier) Verify(ctx context.Context, p TelegramPayload) (VerifiedIdentity, error) {
	expected := v.computeHash(p)

	got, err := hex.DecodeString(p.Hash)
	if err != nil || subtle.ConstantTimeCompare(expected, got) != 1 {
		return VerifiedIdentity{}, E(KindInvalidProof, "telegram signature mismatch")
	}

	authedAt := time.Unix(p.AuthDate, 0)
	if v.now().Sub(authedAt) > v.maxAge {
		return VerifiedIdentity{}, E(KindExpiredProof, "telegram auth data is stale")
	}

	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	return VerifiedIdentity{
		Provider:   model.ProviderTelegram,
		ExternalID: strconv.FormatInt(p.ID, 10),
		Profile: Profile{
			Name:      name,
			AvatarURL: p.PhotoURL,
		},
	}, nil
}

// computeHash builds the data-check string from the present fields and
// returns its HMAC-SHA256 under the bot-token key.
func (v *TelegramVerifier) computeHash(p TelegramPayload) []byte {
	pairs := []string{
		"auth_date=" + strconv.FormatInt(p.AuthDate, 10),
		"first_name=" + p.FirstName,
		"id=" + strconv.FormatInt(p.ID, 10),
	}
	if p.LastName != "" {
		pairs = append(pairs, "last_name="+p.LastName)
	}
	if p.PhotoURL != "" {
		pairs = append(pairs, "photo_url="+p.PhotoURL)
	}
	if p.Username != "" {
		pairs = append(pairs, "username="+p.Username)
	}
	sort.Strings(pairs)

	mac := hmac.New(sha256.New, v.secret[:])
	fmt.Fprint(mac, strings.Join(pairs, "\n"))
	return mac.Sum(nil)
}
