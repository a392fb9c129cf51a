// Package credentials implements the API key lifecycle: an email owner
// requests access, receives a short-lived challenge code by mail, and trades
// the code for a key. One credential exists per email; re-requesting rotates
// the pending challenge without touching an already issued key, so the old
// key keeps working until the new verification succeeds.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/JamieBuffing/kumasi-data-api/internal/auth"
	"github.com/JamieBuffing/kumasi-data-api/internal/db/repositories"
	"github.com/JamieBuffing/kumasi-data-api/internal/notify"
	"github.com/JamieBuffing/kumasi-data-api/internal/telemetry"
	"github.com/JamieBuffing/kumasi-data-api/internal/verification"
)

// keyIssueRetries bounds the regenerate-on-collision loop for new keys.
const keyIssueRetries = 3

var (
	// ErrInvalidEmail rejects addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidOrExpiredChallenge is the single failure answer for every
	// verify-side problem: unknown marker, expired challenge, wrong code. The
	// caller cannot tell which, so an attacker probing the endpoint cannot
	// either.
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired challenge")
)

// Service coordinates challenge issuance and key promotion.
type Service struct {
	store    *repositories.CredentialRepository
	pending  *verification.PendingStore
	notifier notify.Notifier
	validity time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewService wires the lifecycle service. validity is how long an issued
// challenge (and its marker) stays redeemable.
func NewService(store *repositories.CredentialRepository, pending *verification.PendingStore, notifier notify.Notifier, validity time.Duration) *Service {
	return &Service{
		store:    store,
		pending:  pending,
		notifier: notifier,
		validity: validity,
		now:      time.Now,
	}
}

// Request issues a fresh challenge for email and returns the opaque marker
// the verify call must present. Repeat requests for the same email replace
// the previous challenge; only the latest code redeems.
func (s *Service) Request(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}
	emailLower := strings.ToLower(email)

	code, hash, err := auth.GenerateChallenge()
	if err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	expiresAt := s.now().Add(s.validity)
	if err := s.store.UpsertChallenge(ctx, email, emailLower, hash, expiresAt); err != nil {
		return "", err
	}

	marker, err := s.pending.Put(ctx, emailLower, s.validity)
	if err != nil {
		return "", err
	}

	// Delivery is best-effort: an undelivered code simply expires on its
	// own, and the uniform answer gives away nothing about mail health.
	if err := s.notifier.SendChallenge(ctx, email, code, s.validity); err != nil {
		slog.Warn("failed to send challenge email", "email", emailLower, "error", err)
	} else {
		telemetry.NotificationEmailsSentTotal.Inc()
	}

	telemetry.ChallengesIssuedTotal.Inc()
	slog.Info("verification challenge issued", "email", emailLower)

	return marker, nil
}

// Verify redeems a challenge code against the marker's email and returns the
// newly issued API key. The key is only ever returned here; it is stored for
// lookup but never shown again.
func (s *Service) Verify(ctx context.Context, marker, code string) (string, error) {
	emailLower, err := s.pending.Lookup(ctx, marker)
	if err != nil {
		if errors.Is(err, verification.ErrNoPending) {
			return "", s.fail()
		}
		return "", err
	}

	cred, err := s.store.GetByEmailLower(ctx, emailLower)
	if err != nil {
		return "", err
	}
	if cred == nil || !cred.HasPendingChallenge(s.now()) {
		return "", s.fail()
	}

	if !auth.ValidateChallenge(strings.TrimSpace(code), *cred.ChallengeHash) {
		return "", s.fail()
	}

	key, err := s.issueKey(ctx, emailLower)
	if err != nil {
		return "", err
	}
	if key == "" {
		// The challenge was consumed by a concurrent verification.
		return "", s.fail()
	}

	if err := s.pending.Delete(ctx, marker); err != nil {
		slog.Warn("failed to consume pending marker", "error", err)
	}

	// Key delivery is best-effort; the response below is the canonical copy.
	if err := s.notifier.SendNewKey(ctx, cred.Email, key); err != nil {
		slog.Warn("failed to send new key email", "email", emailLower, "error", err)
	} else {
		telemetry.NotificationEmailsSentTotal.Inc()
	}

	telemetry.VerificationsTotal.WithLabelValues("success").Inc()
	slog.Info("credential verified", "email", emailLower)

	return key, nil
}

// issueKey generates a key and promotes the credential, regenerating on the
// rare collision with another credential's key. An empty key with nil error
// means the pending challenge vanished underneath us.
func (s *Service) issueKey(ctx context.Context, emailLower string) (string, error) {
	for attempt := 0; attempt < keyIssueRetries; attempt++ {
		key, err := auth.GenerateKey()
		if err != nil {
			return "", fmt.Errorf("failed to generate api key: %w", err)
		}

		applied, err := s.store.Promote(ctx, emailLower, key)
		if err != nil {
			if repositories.IsUniqueViolation(err) {
				continue
			}
			return "", err
		}
		if !applied {
			return "", nil
		}
		return key, nil
	}
	return "", fmt.Errorf("failed to issue api key after %d attempts", keyIssueRetries)
}

func (s *Service) fail() error {
	telemetry.VerificationsTotal.WithLabelValues("failure").Inc()
	return ErrInvalidOrExpiredChallenge
}
