// Package models defines the database row types for the data API.
// Each type corresponds to a database table and uses struct tags for both JSON
// serialization and sqlx row scanning. Models are pure data types; business
// logic belongs in the service layer, query logic in the repositories layer.
package models

import "time"

// Credential is the per-email record gating access to the public data API.
// A row is created on the first verification request and deleted outright
// when the key has been inactive past the configured threshold.
type Credential struct {
	ID         string `db:"id"`
	Email      string `db:"email"`       // display form, as entered
	EmailLower string `db:"email_lower"` // normalized identity key, unique
	// APIKey is set only once a verification succeeds; NULL while pending.
	APIKey   *string `db:"api_key"`
	Verified bool    `db:"verified"`

	// Challenge state; present only while a verification is pending.
	// The code itself is never stored, only its bcrypt hash.
	ChallengeHash      *string    `db:"challenge_hash"`
	ChallengeExpiresAt *time.Time `db:"challenge_expires_at"`

	// Fixed-window admission counters.
	RateMinuteStart *time.Time `db:"rate_minute_start"`
	RateMinuteCount int        `db:"rate_minute_count"`
	RateDayStart    *time.Time `db:"rate_day_start"`
	RateDayCount    int        `db:"rate_day_count"`

	// Usage snapshot of the most recent gated call.
	LastCallAt        *time.Time `db:"last_call_at"`
	LastCallMethod    *string    `db:"last_call_method"`
	LastCallPath      *string    `db:"last_call_path"`
	LastCallQuery     *string    `db:"last_call_query"`
	LastCallUserAgent *string    `db:"last_call_user_agent"`
	TotalCalls        int64      `db:"total_calls"`

	CreatedAt time.Time `db:"created_at"`
}

// HasPendingChallenge reports whether the credential holds a challenge that
// has not yet expired at the given instant.
func (c *Credential) HasPendingChallenge(now time.Time) bool {
	return c.ChallengeHash != nil && c.ChallengeExpiresAt != nil && now.Before(*c.ChallengeExpiresAt)
}
