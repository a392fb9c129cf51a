package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/JamieBuffing/kumasi-data-api/internal/ratelimit"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errCredDB = errors.New("credential db error")

func newCredentialRepo(t *testing.T) (*CredentialRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCredentialRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func credentialRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "email_lower", "api_key", "verified",
		"challenge_hash", "challenge_expires_at",
		"rate_minute_start", "rate_minute_count", "rate_day_start", "rate_day_count",
		"last_call_at", "last_call_method", "last_call_path", "last_call_query", "last_call_user_agent",
		"total_calls", "created_at",
	})
}

// uuidArg matches any argument that parses as a UUID.
type uuidArg struct{}

func (uuidArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func addCredentialRow(rows *sqlmock.Rows, id, email, key string, verified bool, totalCalls int64) *sqlmock.Rows {
	return rows.AddRow(
		id, email, email, key, verified,
		nil, nil,
		nil, 0, nil, 0,
		nil, nil, nil, nil, nil,
		totalCalls, time.Now(),
	)
}

// ---------------------------------------------------------------------------
// UpsertChallenge
// ---------------------------------------------------------------------------

func TestUpsertChallenge_Success(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectExec("INSERT INTO credentials").
		WithArgs(uuidArg{}, "Ama@Example.com", "ama@example.com", "hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertChallenge(context.Background(), "Ama@Example.com", "ama@example.com", "hash", time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertChallenge_Error(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectExec("INSERT INTO credentials").
		WillReturnError(errCredDB)

	err := repo.UpsertChallenge(context.Background(), "a@b.c", "a@b.c", "hash", time.Now())
	if err == nil {
		t.Error("expected error")
	}
}

// ---------------------------------------------------------------------------
// GetByKey / GetByEmailLower
// ---------------------------------------------------------------------------

func TestGetByKey_Found(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	rows := addCredentialRow(credentialRows(), "id-1", "ama@example.com", "k0000000000000000000000000000k", true, 7)
	mock.ExpectQuery("SELECT(.|\n)+FROM credentials WHERE api_key").
		WithArgs("k0000000000000000000000000000k").
		WillReturnRows(rows)

	cred, err := repo.GetByKey(context.Background(), "k0000000000000000000000000000k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred == nil {
		t.Fatal("expected credential")
	}
	if !cred.Verified || cred.TotalCalls != 7 {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestGetByKey_NotFound(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectQuery("SELECT(.|\n)+FROM credentials WHERE api_key").
		WillReturnError(sql.ErrNoRows)

	cred, err := repo.GetByKey(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred != nil {
		t.Error("expected nil credential for no rows")
	}
}

func TestGetByEmailLower_Found(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	rows := addCredentialRow(credentialRows(), "id-2", "kofi@example.com", "key2", false, 0)
	mock.ExpectQuery("SELECT(.|\n)+FROM credentials WHERE email_lower").
		WithArgs("kofi@example.com").
		WillReturnRows(rows)

	cred, err := repo.GetByEmailLower(context.Background(), "kofi@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred == nil || cred.EmailLower != "kofi@example.com" {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

// ---------------------------------------------------------------------------
// Promote
// ---------------------------------------------------------------------------

func TestPromote_Success(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectExec("UPDATE credentials SET").
		WithArgs("ama@example.com", "newkey").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.Promote(context.Background(), "ama@example.com", "newkey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Error("expected promote to apply")
	}
}

func TestPromote_NoPendingChallenge(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectExec("UPDATE credentials SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.Promote(context.Background(), "ama@example.com", "newkey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("expected promote not to apply without a pending challenge")
	}
}

func TestPromote_UniqueViolation(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectExec("UPDATE credentials SET").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Promote(context.Background(), "ama@example.com", "collidingkey")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsUniqueViolation(err) {
		t.Error("expected unique violation to be detected through the wrap")
	}
}

// ---------------------------------------------------------------------------
// RecordCall
// ---------------------------------------------------------------------------

func TestRecordCall_Applied(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	now := time.Now()
	minute := ratelimit.Window{Start: &now, Count: 3}
	day := ratelimit.Window{Start: &now, Count: 12}

	mock.ExpectExec("UPDATE credentials SET").
		WithArgs("id-1", int64(11), minute.Start, 3, day.Start, 12, now, "GET", "/api/public/data", "page=2", "curl/8.0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.RecordCall(context.Background(), "id-1", 11, minute, day,
		CallSnapshot{Method: "GET", Path: "/api/public/data", Query: "page=2", UserAgent: "curl/8.0"}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Error("expected record to apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordCall_LostRace(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE credentials SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.RecordCall(context.Background(), "id-1", 11,
		ratelimit.Window{Start: &now, Count: 1}, ratelimit.Window{Start: &now, Count: 1},
		CallSnapshot{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("expected record not to apply when total_calls moved")
	}
}

func TestRecordCall_Error(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	now := time.Now()
	mock.ExpectExec("UPDATE credentials SET").
		WillReturnError(errCredDB)

	_, err := repo.RecordCall(context.Background(), "id-1", 0,
		ratelimit.Window{}, ratelimit.Window{}, CallSnapshot{}, now)
	if err == nil {
		t.Error("expected error")
	}
}

// ---------------------------------------------------------------------------
// Delete / FindInactive
// ---------------------------------------------------------------------------

func TestDelete_Success(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectExec("DELETE FROM credentials").
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "id-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindInactive(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	rows := addCredentialRow(credentialRows(), "id-old", "old@example.com", "oldkey", true, 42)
	mock.ExpectQuery("SELECT(.|\n)+FROM credentials(.|\n)+WHERE verified = true").
		WillReturnRows(rows)

	creds, err := repo.FindInactive(context.Background(), time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(creds) != 1 || creds[0].ID != "id-old" {
		t.Errorf("unexpected result: %+v", creds)
	}
}

func TestFindInactive_Empty(t *testing.T) {
	repo, mock := newCredentialRepo(t)
	mock.ExpectQuery("SELECT(.|\n)+FROM credentials(.|\n)+WHERE verified = true").
		WillReturnRows(credentialRows())

	creds, err := repo.FindInactive(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("expected empty slice, got %+v", creds)
	}
}

// ---------------------------------------------------------------------------
// IsUniqueViolation
// ---------------------------------------------------------------------------

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(errCredDB) {
		t.Error("plain error should not match")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("foreign key violation should not match")
	}
	if !IsUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("unique violation should match")
	}
}
