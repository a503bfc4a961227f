package auth

import (
	"context"
	"log"
	"strings"
)

// SMSSender delivers OTP codes. The real gateway integration lives outside
// this service; the store only cares that delivery succeeded.
type SMSSender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSMSSender writes codes to the process log instead of dispatching SMS.
// Used in dev mode and tests.
type LogSMSSender struct{}

func (LogSMSSender) Send(ctx context.Context, phone, code string) error {
	log.Printf("SMS to %s: your verification code is %s", MaskPhone(phone), code)
	return nil
}

// MaskPhone masks a phone number for logging (e.g., +99******67)
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
