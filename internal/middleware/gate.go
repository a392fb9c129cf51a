// Package middleware provides the Gin HTTP middleware for the data API.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → CORS → RequestID → Metrics → Gate → Handler
//
// Security headers run first so they appear on all responses including
// errors. The gate runs last so rejected requests still carry request IDs
// and show up in the HTTP metrics.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JamieBuffing/kumasi-data-api/internal/auth"
	"github.com/JamieBuffing/kumasi-data-api/internal/db/models"
	"github.com/JamieBuffing/kumasi-data-api/internal/db/repositories"
	"github.com/JamieBuffing/kumasi-data-api/internal/notify"
	"github.com/JamieBuffing/kumasi-data-api/internal/ratelimit"
	"github.com/JamieBuffing/kumasi-data-api/internal/safego"
	"github.com/JamieBuffing/kumasi-data-api/internal/telemetry"
)

// Strategy selects which credentials a gated route accepts.
type Strategy int

const (
	// KeyOnly admits requests with a valid API key.
	KeyOnly Strategy = iota
	// KeyOrSession additionally admits a valid session token; session
	// requests bypass the per-key rate admission since no key is involved.
	KeyOrSession
)

// Context keys populated by the gate for downstream handlers.
const (
	CredentialKey = "credential"
	AuthMethodKey = "auth_method"
)

// recordRetries bounds the re-read loop when the usage update loses a race.
const recordRetries = 3

// Gate is the single admission point for the public data routes: it resolves
// the credential, enforces inactivity expiry, applies the per-key rate
// windows, and persists the usage record.
type Gate struct {
	creds      *repositories.CredentialRepository
	sessions   *auth.SessionVerifier
	notifier   notify.Notifier
	limits     ratelimit.Limits
	inactivity time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewGate wires the access gate. inactivity is how long a key may sit unused
// before it is deleted on its next appearance.
func NewGate(creds *repositories.CredentialRepository, sessions *auth.SessionVerifier, notifier notify.Notifier, limits ratelimit.Limits, inactivity time.Duration) *Gate {
	return &Gate{
		creds:      creds,
		sessions:   sessions,
		notifier:   notifier,
		limits:     limits,
		inactivity: inactivity,
		now:        time.Now,
	}
}

// Handler returns the gate middleware for the given strategy.
func (g *Gate) Handler(strategy Strategy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strategy == KeyOrSession {
			if claims := g.trySession(c); claims != nil {
				telemetry.GatedRequestsTotal.WithLabelValues("session").Inc()
				c.Set(AuthMethodKey, "session")
				c.Set(CredentialKey, claims.Email)
				c.Next()
				return
			}
		}

		key, err := auth.ExtractKey(c)
		if err != nil {
			telemetry.GatedRequestsTotal.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_credential",
				"message": "Provide an API key in the x-api-key header or apiKey query parameter",
			})
			return
		}

		cred, err := g.creds.GetByKey(c.Request.Context(), key)
		if err != nil {
			g.fail(c, err)
			return
		}
		if cred == nil || !cred.Verified {
			telemetry.GatedRequestsTotal.WithLabelValues("invalid").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "invalid_credential",
				"message": "Unknown API key",
			})
			return
		}

		now := g.now()
		if g.isExpired(cred, now) {
			// Lazy expiry: the stale credential is removed the moment it
			// resurfaces, not just by the background sweep.
			if err := g.creds.Delete(c.Request.Context(), cred.ID); err != nil {
				slog.Warn("failed to delete expired credential", "error", err)
			}
			if g.notifier != nil {
				email := cred.Email
				safego.Go("expiry-notification", func() {
					if err := g.notifier.SendKeyExpired(context.Background(), email); err != nil {
						slog.Warn("failed to send expiry notification", "email", email, "error", err)
					}
				})
			}
			telemetry.GatedRequestsTotal.WithLabelValues("expired").Inc()
			telemetry.CredentialsExpiredTotal.WithLabelValues("gate").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "credential_expired",
				"message": "API key expired after prolonged inactivity, request a new one",
			})
			return
		}

		decision, ok, err := g.admitAndRecord(c.Request.Context(), cred, snapshotOf(c), now)
		if err != nil {
			g.fail(c, err)
			return
		}
		if !ok {
			telemetry.GatedRequestsTotal.WithLabelValues("rate_limited").Inc()
			telemetry.RateLimitedTotal.WithLabelValues(decision.Breached).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"window":  decision.Breached,
				"message": "Rate limit exceeded, slow down",
			})
			return
		}

		telemetry.GatedRequestsTotal.WithLabelValues("allowed").Inc()
		c.Set(AuthMethodKey, "api_key")
		c.Set(CredentialKey, cred)
		c.Next()
	}
}

// trySession checks for a bearer session token; nil means no usable session.
func (g *Gate) trySession(c *gin.Context) *auth.SessionClaims {
	if g.sessions == nil {
		return nil
	}
	token := auth.ExtractBearer(c.GetHeader("Authorization"))
	if token == "" {
		return nil
	}
	claims, err := g.sessions.Verify(token)
	if err != nil {
		return nil
	}
	return claims
}

// isExpired reports whether the key sat unused past the inactivity window.
// A credential that has never made a call is exempt, however old; only the
// background sweep ages those out.
func (g *Gate) isExpired(cred *models.Credential, now time.Time) bool {
	if cred.LastCallAt == nil {
		return false
	}
	return now.Sub(*cred.LastCallAt) > g.inactivity
}

// admitAndRecord evaluates both rate windows and persists the outcome. The
// usage update is conditional on the credential's lifetime counter; on a lost
// race the credential is re-read and the windows re-evaluated, so two
// concurrent requests can never fold into one stored increment. A rejected
// request persists nothing. Store failures surface as errors; only genuine
// write contention past the retry budget fails open.
func (g *Gate) admitAndRecord(ctx context.Context, cred *models.Credential, call repositories.CallSnapshot, now time.Time) (ratelimit.Decision, bool, error) {
	for attempt := 0; attempt < recordRetries; attempt++ {
		minute := ratelimit.Window{Start: cred.RateMinuteStart, Count: cred.RateMinuteCount}
		day := ratelimit.Window{Start: cred.RateDayStart, Count: cred.RateDayCount}

		decision := ratelimit.Evaluate(minute, day, now, g.limits)
		if !decision.Allowed {
			return decision, false, nil
		}

		applied, err := g.creds.RecordCall(ctx, cred.ID, cred.TotalCalls, decision.Minute, decision.Day, call, now)
		if err != nil {
			return decision, false, err
		}
		if applied {
			return decision, true, nil
		}

		fresh, err := g.creds.GetByKey(ctx, derefKey(cred))
		if err != nil {
			return decision, false, err
		}
		if fresh == nil {
			// The credential vanished mid-request (concurrent expiry); the
			// usage record has nowhere to go, but the call was admitted.
			slog.Warn("credential disappeared during usage record", "id", cred.ID)
			return decision, true, nil
		}
		cred = fresh
	}

	slog.Warn("usage record contention persisted, serving without record", "id", cred.ID)
	return ratelimit.Decision{Allowed: true}, true, nil
}

func derefKey(cred *models.Credential) string {
	if cred.APIKey == nil {
		return ""
	}
	return *cred.APIKey
}

func snapshotOf(c *gin.Context) repositories.CallSnapshot {
	return repositories.CallSnapshot{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Query:     c.Request.URL.RawQuery,
		UserAgent: c.Request.UserAgent(),
	}
}

func (g *Gate) fail(c *gin.Context, err error) {
	slog.Error("credential store failure", "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong",
	})
}
