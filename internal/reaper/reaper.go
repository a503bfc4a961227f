package reaper

import (
	"context"
	"log"
	"time"

	"github.com/bazarhub/server/internal/repo"
)

const (
	defaultInterval = time.Hour
	// How long after expiry rows are kept around before physical deletion.
	// Read paths enforce logical expiry, so the grace period is bookkeeping
	// slack, not a security boundary.
	otpRetention     = 24 * time.Hour
	sessionRetention = 30 * 24 * time.Hour
)

// Reaper periodically deletes expired OTP challenges and dead sessions so the
// tables stay bounded.
type Reaper struct {
	otp      repo.OtpRepo
	sessions repo.SessionRepo
	interval time.Duration
}

// New creates a new reaper
func New(otp repo.OtpRepo, sessions repo.SessionRepo) *Reaper {
	return &Reaper{
		otp:      otp,
		sessions: sessions,
		interval: defaultInterval,
	}
}

// Run blocks until ctx is canceled, sweeping on a fixed interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()

	if n, err := r.otp.DeleteExpiredBefore(ctx, now.Add(-otpRetention)); err != nil {
		log.Printf("reaper: delete expired OTP challenges: %v", err)
	} else if n > 0 {
		log.Printf("reaper: deleted %d expired OTP challenges", n)
	}

	if n, err := r.sessions.DeleteDeadBefore(ctx, now.Add(-sessionRetention)); err != nil {
		log.Printf("reaper: delete dead sessions: %v", err)
	} else if n > 0 {
		log.Printf("reaper: deleted %d dead sessions", n)
	}
}
