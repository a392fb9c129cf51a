// inactivity_sweeper.go implements the InactivitySweeper background job, which
// periodically deletes credentials whose key has gone unused past the
// configured threshold. The gate also expires stale credentials lazily when
// they resurface; the sweeper catches the ones that never come back, so the
// credentials table does not accumulate dead rows.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/JamieBuffing/kumasi-data-api/internal/config"
	"github.com/JamieBuffing/kumasi-data-api/internal/db/repositories"
	"github.com/JamieBuffing/kumasi-data-api/internal/notify"
	"github.com/JamieBuffing/kumasi-data-api/internal/telemetry"
)

// InactivitySweeper periodically removes credentials idle past the threshold.
type InactivitySweeper struct {
	creds    *repositories.CredentialRepository
	notifier notify.Notifier
	cfg      *config.CredentialsConfig
	interval time.Duration
	stopChan chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewInactivitySweeper creates a new sweeper. The check interval comes from
// cfg.SweepIntervalHours (default 24h).
func NewInactivitySweeper(creds *repositories.CredentialRepository, notifier notify.Notifier, cfg *config.CredentialsConfig) *InactivitySweeper {
	hours := cfg.SweepIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &InactivitySweeper{
		creds:    creds,
		notifier: notifier,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *InactivitySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("inactivity sweeper started",
		"interval", s.interval.String(),
		"threshold_days", s.cfg.InactivityDays)

	s.RunSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunSweep(ctx)
		case <-s.stopChan:
			slog.Info("inactivity sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("inactivity sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *InactivitySweeper) Stop() {
	close(s.stopChan)
}

// RunSweep performs one pass: find idle credentials, delete them, and tell
// the holders their key is gone.
func (s *InactivitySweeper) RunSweep(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.InactivityThreshold())

	stale, err := s.creds.FindInactive(ctx, cutoff)
	if err != nil {
		slog.Error("inactivity sweep query failed", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	slog.Info("inactivity sweep found stale credentials", "count", len(stale))

	for _, cred := range stale {
		if err := s.creds.Delete(ctx, cred.ID); err != nil {
			slog.Error("failed to delete stale credential", "id", cred.ID, "error", err)
			continue
		}
		telemetry.CredentialsExpiredTotal.WithLabelValues("sweeper").Inc()
		slog.Info("deleted stale credential", "email", cred.EmailLower)
		if s.notifier != nil {
			if err := s.notifier.SendKeyExpired(ctx, cred.Email); err != nil {
				slog.Warn("failed to send expiry notification", "email", cred.EmailLower, "error", err)
			}
		}
	}
}
