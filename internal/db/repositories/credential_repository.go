// credential_repository.go implements CredentialRepository, providing database
// queries for the API credential lifecycle: challenge upsert, key lookup,
// promotion after verification, per-call usage recording, and inactivity
// cleanup.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/JamieBuffing/kumasi-data-api/internal/db/models"
	"github.com/JamieBuffing/kumasi-data-api/internal/ratelimit"
)

const credentialColumns = `
	id, email, email_lower, api_key, verified,
	challenge_hash, challenge_expires_at,
	rate_minute_start, rate_minute_count, rate_day_start, rate_day_count,
	last_call_at, last_call_method, last_call_path, last_call_query, last_call_user_agent,
	total_calls, created_at`

// CallSnapshot captures the request attributes recorded against a credential
// on every admitted call.
type CallSnapshot struct {
	Method    string
	Path      string
	Query     string
	UserAgent string
}

// CredentialRepository handles database operations for API credentials
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// UpsertChallenge creates the credential row for an email on first contact, or
// replaces any previous challenge on repeat requests. The upsert makes
// concurrent requests for the same email converge on a single row, with the
// last challenge winning. An existing key and verified flag are left intact so
// a pending re-verification never locks out the current key.
func (r *CredentialRepository) UpsertChallenge(ctx context.Context, email, emailLower, challengeHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO credentials (id, email, email_lower, challenge_hash, challenge_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_lower) DO UPDATE SET
			email = EXCLUDED.email,
			challenge_hash = EXCLUDED.challenge_hash,
			challenge_expires_at = EXCLUDED.challenge_expires_at
	`

	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), email, emailLower, challengeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert challenge: %w", err)
	}

	return nil
}

// GetByEmailLower retrieves a credential by its normalized email
func (r *CredentialRepository) GetByEmailLower(ctx context.Context, emailLower string) (*models.Credential, error) {
	query := `SELECT` + credentialColumns + ` FROM credentials WHERE email_lower = $1`

	cred := &models.Credential{}
	err := r.db.GetContext(ctx, cred, query, emailLower)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return cred, nil
}

// GetByKey retrieves a credential by its API key value
func (r *CredentialRepository) GetByKey(ctx context.Context, apiKey string) (*models.Credential, error) {
	query := `SELECT` + credentialColumns + ` FROM credentials WHERE api_key = $1`

	cred := &models.Credential{}
	err := r.db.GetContext(ctx, cred, query, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential by key: %w", err)
	}

	return cred, nil
}

// Promote activates a credential after a successful challenge verification:
// the new key is installed, the row is marked verified, and the consumed
// challenge is cleared. The challenge_hash guard keeps a second concurrent
// verification of the same challenge from issuing a second key. Returns false
// when no pending challenge existed to consume.
func (r *CredentialRepository) Promote(ctx context.Context, emailLower, apiKey string) (bool, error) {
	query := `
		UPDATE credentials SET
			api_key = $2,
			verified = true,
			challenge_hash = NULL,
			challenge_expires_at = NULL
		WHERE email_lower = $1 AND challenge_hash IS NOT NULL
	`

	res, err := r.db.ExecContext(ctx, query, emailLower, apiKey)
	if err != nil {
		return false, fmt.Errorf("failed to promote credential: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read promote result: %w", err)
	}

	return affected == 1, nil
}

// RecordCall persists the outcome of an admitted call: both window counters,
// the usage snapshot, and the incremented lifetime counter. The update is
// conditional on total_calls still holding the value the caller read, so two
// racing requests cannot both fold into one stored increment; the loser gets
// applied=false and re-reads.
func (r *CredentialRepository) RecordCall(ctx context.Context, id string, expectedTotalCalls int64, minute, day ratelimit.Window, call CallSnapshot, now time.Time) (bool, error) {
	query := `
		UPDATE credentials SET
			rate_minute_start = $3,
			rate_minute_count = $4,
			rate_day_start = $5,
			rate_day_count = $6,
			last_call_at = $7,
			last_call_method = $8,
			last_call_path = $9,
			last_call_query = $10,
			last_call_user_agent = $11,
			total_calls = total_calls + 1
		WHERE id = $1 AND total_calls = $2
	`

	res, err := r.db.ExecContext(ctx, query,
		id,
		expectedTotalCalls,
		minute.Start,
		minute.Count,
		day.Start,
		day.Count,
		now,
		call.Method,
		call.Path,
		call.Query,
		call.UserAgent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record call: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read record result: %w", err)
	}

	return affected == 1, nil
}

// Delete removes a credential outright
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM credentials WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return nil
}

// FindInactive retrieves verified credentials whose last admitted call, or
// creation when no call was ever made, predates the cutoff.
func (r *CredentialRepository) FindInactive(ctx context.Context, cutoff time.Time) ([]*models.Credential, error) {
	query := `SELECT` + credentialColumns + `
		FROM credentials
		WHERE verified = true
		  AND COALESCE(last_call_at, created_at) < $1
		ORDER BY last_call_at ASC NULLS FIRST
	`

	creds := make([]*models.Credential, 0)
	if err := r.db.SelectContext(ctx, &creds, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to find inactive credentials: %w", err)
	}

	return creds, nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, used to retry key generation on the rare collision.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
