package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the commands table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE commands (
			uuid              TEXT PRIMARY KEY,
			serial_number     TEXT NOT NULL,
			command           TEXT NOT NULL,
			details           TEXT NOT NULL DEFAULT '{}',
			status            TEXT NOT NULL DEFAULT 'pending',
			submitted_by      TEXT NOT NULL DEFAULT '',
			submitted         TEXT NOT NULL,
			executed          TEXT,
			completed         TEXT,
			results           TEXT,
			error_text        TEXT NOT NULL DEFAULT '',
			execution_time_ms REAL NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_commands_status_submitted ON commands (status, submitted);
		CREATE INDEX idx_commands_serial ON commands (serial_number, submitted);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func testCommand(uuid string) *Command {
	return &Command{
		UUID:         uuid,
		SerialNumber: testSerial,
		Command:      "reboot",
		Details:      json.RawMessage(`{"when":0}`),
		SubmittedBy:  "admin@example.com",
	}
}

func TestSQLiteAddAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	cmd := testCommand("a1b2c3")
	if err := repo.Add(ctx, cmd); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := repo.Get(ctx, "a1b2c3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SerialNumber != testSerial {
		t.Errorf("serial = %q, want %q", got.SerialNumber, testSerial)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want %q", got.Status, StatusPending)
	}
	if got.SubmittedBy != "admin@example.com" {
		t.Errorf("submitted_by = %q", got.SubmittedBy)
	}
	if string(got.Details) != `{"when":0}` {
		t.Errorf("details = %s", got.Details)
	}
	if got.Submitted.IsZero() {
		t.Error("submitted timestamp not set")
	}
	if got.Executed != nil || got.Completed != nil {
		t.Error("executed/completed must be nil for a fresh command")
	}
}

func TestSQLiteAddDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Add(ctx, testCommand("dup")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := repo.Add(ctx, testCommand("dup")); !errors.Is(err, ErrCommandExists) {
		t.Errorf("duplicate Add error = %v, want ErrCommandExists", err)
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Get missing error = %v, want ErrCommandNotFound", err)
	}
}

func TestSQLiteDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	repo.Add(ctx, testCommand("gone"))
	if err := repo.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "gone"); !errors.Is(err, ErrCommandNotFound) {
		t.Error("command should be gone after Delete")
	}
	if err := repo.Delete(ctx, "gone"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("second Delete error = %v, want ErrCommandNotFound", err)
	}
}

func TestSQLiteListOrdering(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, uuid := range []string{"first", "second", "third"} {
		cmd := testCommand(uuid)
		cmd.Submitted = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Add(ctx, cmd); err != nil {
			t.Fatalf("Add %s: %v", uuid, err)
		}
	}

	got, err := repo.List(ctx, testSerial, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].UUID != "third" || got[2].UUID != "first" {
		t.Errorf("List not newest-first: %s, %s, %s", got[0].UUID, got[1].UUID, got[2].UUID)
	}

	page, err := repo.List(ctx, testSerial, 1, 1)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 || page[0].UUID != "second" {
		t.Errorf("pagination returned %v", page)
	}
}

func TestSQLiteReadyToExecute(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)

	older := testCommand("older")
	older.Submitted = base
	repo.Add(ctx, older)

	newer := testCommand("newer")
	newer.Submitted = base.Add(time.Minute)
	repo.Add(ctx, newer)

	done := testCommand("done")
	done.Submitted = base.Add(2 * time.Minute)
	repo.Add(ctx, done)
	if err := repo.MarkExecuted(ctx, "done"); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}

	got, err := repo.ReadyToExecute(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ReadyToExecute: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].UUID != "older" {
		t.Errorf("ReadyToExecute not oldest-first: %s", got[0].UUID)
	}
}

func TestSQLiteStateTransitions(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	repo.Add(ctx, testCommand("tx"))

	if err := repo.MarkExecuted(ctx, "tx"); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	got, _ := repo.Get(ctx, "tx")
	if got.Status != StatusExecuted {
		t.Errorf("status = %q, want executed", got.Status)
	}
	if got.Executed == nil {
		t.Error("executed timestamp not recorded")
	}

	if err := repo.Complete(ctx, "tx", json.RawMessage(`{"status":{"error":0}}`), 1500*time.Millisecond); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ = repo.Get(ctx, "tx")
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Completed == nil {
		t.Error("completed timestamp not recorded")
	}
	if got.ExecutionTimeMS != 1500 {
		t.Errorf("execution_time_ms = %v, want 1500", got.ExecutionTimeMS)
	}
	if string(got.Results) != `{"status":{"error":0}}` {
		t.Errorf("results = %s", got.Results)
	}
}

func TestSQLiteMarkExpiredAndTimedOut(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	repo.Add(ctx, testCommand("exp"))
	repo.Add(ctx, testCommand("tmo"))

	if err := repo.MarkExpired(ctx, "exp"); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	if err := repo.MarkTimedOut(ctx, "tmo"); err != nil {
		t.Fatalf("MarkTimedOut: %v", err)
	}

	got, _ := repo.Get(ctx, "exp")
	if got.Status != StatusExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}
	got, _ = repo.Get(ctx, "tmo")
	if got.Status != StatusTimedOut {
		t.Errorf("status = %q, want timedout", got.Status)
	}

	if err := repo.MarkExpired(ctx, "missing"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("MarkExpired missing error = %v", err)
	}
}

func TestSQLiteSetResult(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	repo.Add(ctx, testCommand("res"))
	if err := repo.SetResult(ctx, "res", `{"uuid":42}`); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	got, _ := repo.Get(ctx, "res")
	if got.Status != StatusPending {
		t.Errorf("SetResult must not change state, got %q", got.Status)
	}
	if string(got.Results) != `{"uuid":42}` {
		t.Errorf("results = %s", got.Results)
	}
}

func TestSQLitePurge(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	old := testCommand("old-exp")
	old.Submitted = time.Now().UTC().Add(-48 * time.Hour)
	repo.Add(ctx, old)
	repo.MarkExpired(ctx, "old-exp")

	recent := testCommand("new-exp")
	repo.Add(ctx, recent)
	repo.MarkExpired(ctx, "new-exp")

	oldTmo := testCommand("old-tmo")
	oldTmo.Submitted = time.Now().UTC().Add(-48 * time.Hour)
	repo.Add(ctx, oldTmo)
	repo.MarkTimedOut(ctx, "old-tmo")

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if err := repo.PurgeExpired(ctx, cutoff); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if err := repo.PurgeTimedOut(ctx, cutoff); err != nil {
		t.Fatalf("PurgeTimedOut: %v", err)
	}

	if _, err := repo.Get(ctx, "old-exp"); !errors.Is(err, ErrCommandNotFound) {
		t.Error("aged expired command should be purged")
	}
	if _, err := repo.Get(ctx, "old-tmo"); !errors.Is(err, ErrCommandNotFound) {
		t.Error("aged timed-out command should be purged")
	}
	if _, err := repo.Get(ctx, "new-exp"); err != nil {
		t.Error("recent expired command should survive")
	}
}
