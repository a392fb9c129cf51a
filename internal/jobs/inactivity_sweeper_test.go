package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/JamieBuffing/kumasi-data-api/internal/config"
	"github.com/JamieBuffing/kumasi-data-api/internal/db/repositories"
)

type recordingNotifier struct {
	expired []string
}

func (*recordingNotifier) SendChallenge(context.Context, string, string, time.Duration) error {
	return nil
}

func (*recordingNotifier) SendNewKey(context.Context, string, string) error { return nil }

func (n *recordingNotifier) SendKeyExpired(_ context.Context, toEmail string) error {
	n.expired = append(n.expired, toEmail)
	return nil
}

func newSweeper(t *testing.T, cfg *config.CredentialsConfig) (*InactivitySweeper, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := repositories.NewCredentialRepository(sqlx.NewDb(db, "sqlmock"))
	notifier := &recordingNotifier{}
	return NewInactivitySweeper(repo, notifier, cfg), mock, notifier
}

func staleRows() *sqlmock.Rows {
	old := time.Now().AddDate(-2, 0, 0)
	return sqlmock.NewRows([]string{
		"id", "email", "email_lower", "api_key", "verified",
		"challenge_hash", "challenge_expires_at",
		"rate_minute_start", "rate_minute_count", "rate_day_start", "rate_day_count",
		"last_call_at", "last_call_method", "last_call_path", "last_call_query", "last_call_user_agent",
		"total_calls", "created_at",
	}).AddRow(
		"stale-1", "old@example.com", "old@example.com", "oldkey", true,
		nil, nil,
		nil, 0, nil, 0,
		old, nil, nil, nil, nil,
		99, old,
	)
}

func TestRunSweep_DeletesStaleCredentials(t *testing.T) {
	cfg := &config.CredentialsConfig{InactivityDays: 365, SweepIntervalHours: 24}
	s, mock, notifier := newSweeper(t, cfg)

	mock.ExpectQuery("SELECT(.|\n)+FROM credentials(.|\n)+WHERE verified = true").
		WillReturnRows(staleRows())
	mock.ExpectExec("DELETE FROM credentials").
		WithArgs("stale-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.RunSweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	if len(notifier.expired) != 1 || notifier.expired[0] != "old@example.com" {
		t.Errorf("expiry notifications = %v, want [old@example.com]", notifier.expired)
	}
}

func TestRunSweep_CutoffUsesThreshold(t *testing.T) {
	cfg := &config.CredentialsConfig{InactivityDays: 365, SweepIntervalHours: 24}
	s, mock, _ := newSweeper(t, cfg)

	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	mock.ExpectQuery("SELECT(.|\n)+FROM credentials(.|\n)+WHERE verified = true").
		WithArgs(fixed.Add(-365 * 24 * time.Hour)).
		WillReturnRows(staleRows())
	mock.ExpectExec("DELETE FROM credentials").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.RunSweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunSweep_QueryFailureIsLoggedNotFatal(t *testing.T) {
	cfg := &config.CredentialsConfig{InactivityDays: 365}
	s, mock, _ := newSweeper(t, cfg)

	mock.ExpectQuery("SELECT(.|\n)+FROM credentials").
		WillReturnError(errors.New("db down"))

	// Must not panic.
	s.RunSweep(context.Background())
}

func TestStartStop(t *testing.T) {
	cfg := &config.CredentialsConfig{InactivityDays: 365, SweepIntervalHours: 1}
	s, mock, _ := newSweeper(t, cfg)

	// Initial sweep on start finds nothing.
	mock.ExpectQuery("SELECT(.|\n)+FROM credentials").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
