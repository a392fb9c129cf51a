// Package verification holds the short-lived pending-verification markers.
// When a challenge email goes out, the response carries an opaque marker
// instead of the email address; the verify call presents the marker to name
// which email it is completing. Markers live in Redis so they survive server
// restarts and expire together with the challenge.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pending:"

// ErrNoPending is returned when a marker is unknown or already expired.
var ErrNoPending = errors.New("no pending verification")

// PendingStore maps opaque markers to the normalized email they were issued
// for.
type PendingStore struct {
	client *redis.Client
}

// NewPendingStore creates a pending verification store on the given client.
func NewPendingStore(client *redis.Client) *PendingStore {
	return &PendingStore{client: client}
}

// Put issues a fresh marker for emailLower, valid for ttl.
func (s *PendingStore) Put(ctx context.Context, emailLower string, ttl time.Duration) (string, error) {
	marker := uuid.NewString()
	if err := s.client.Set(ctx, keyPrefix+marker, emailLower, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store pending marker: %w", err)
	}
	return marker, nil
}

// Lookup resolves a marker back to its email. Unknown and expired markers are
// indistinguishable; both return ErrNoPending.
func (s *PendingStore) Lookup(ctx context.Context, marker string) (string, error) {
	emailLower, err := s.client.Get(ctx, keyPrefix+marker).Result()
	if err == redis.Nil {
		return "", ErrNoPending
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up pending marker: %w", err)
	}
	return emailLower, nil
}

// Delete consumes a marker after a successful verification. Deleting an
// already-expired marker is not an error.
func (s *PendingStore) Delete(ctx context.Context, marker string) error {
	if err := s.client.Del(ctx, keyPrefix+marker).Err(); err != nil {
		return fmt.Errorf("failed to delete pending marker: %w", err)
	}
	return nil
}
