package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var historyRowColumns = []string{
	"id", "ts", "kind", "client", "outcome", "mode", "duration_class",
	"duration_granted_ms", "reason", "restriction", "message", "enforcement_failed",
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
}

func TestQueryAppendHistory(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	e := &model.Event{
		Timestamp:         now,
		Kind:              model.EventSessionGranted,
		Client:            "aa:bb:cc:dd:ee:ff",
		Outcome:           model.OutcomeAllow,
		Mode:              model.ModeGatekeeper,
		DurationClass:     "short",
		DurationGranted:   10 * time.Minute,
		Message:           "need 10 minutes, quick check",
		EnforcementFailed: true,
	}
	mock.ExpectQuery("INSERT INTO history").
		WithArgs(now, "session_granted", "aa:bb:cc:dd:ee:ff", "allow", "gatekeeper", "short",
			int64(600000), nil, nil, "need 10 minutes, quick check", true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	if err := queryAppendHistory(context.Background(), db, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != 42 {
		t.Fatalf("expected id=42, got %d", e.ID)
	}
}

func TestQueryAppendHistory_Error(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO history").WillReturnError(errors.New("connection reset"))

	err := queryAppendHistory(context.Background(), db, &model.Event{Kind: model.EventModeChanged})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestQueryReadHistory_NoFilter(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(historyRowColumns).
		AddRow(1, now, "session_granted", "aa", "allow", "gatekeeper", "short", 600000, nil, nil, "quick check", false).
		AddRow(2, now, "mode_changed", nil, nil, "open", nil, 0, "schedule", nil, nil, false)
	mock.ExpectQuery("SELECT .+ FROM history ORDER BY id ASC").WillReturnRows(rows)

	evts, err := queryReadHistory(context.Background(), db, model.EventFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].DurationGranted != 10*time.Minute || evts[0].Message != "quick check" {
		t.Errorf("first event = %+v", evts[0])
	}
	if evts[1].Client != "" || evts[1].Mode != model.ModeOpen || evts[1].Reason != "schedule" {
		t.Errorf("second event = %+v", evts[1])
	}
}

func TestQueryReadHistory_WithFilter(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Date(2026, 1, 10, 21, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM \(SELECT .+ FROM history WHERE client = \$1 AND kind IN \(\$2, \$3\) AND outcome = \$4 AND ts >= \$5 ORDER BY id DESC LIMIT \$6\) recent ORDER BY id ASC`).
		WithArgs("aa", "session_granted", "access_denied", "deny", since, 10).
		WillReturnRows(sqlmock.NewRows(historyRowColumns).
			AddRow(9, since, "access_denied", "aa", "deny", "gatekeeper", "long", 0, "no_proof_timeout", nil, nil, false))

	evts, err := queryReadHistory(context.Background(), db, model.EventFilter{
		Client:  "aa",
		Kinds:   []model.EventKind{model.EventSessionGranted, model.EventAccessDenied},
		Outcome: model.OutcomeDeny,
		Since:   since,
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evts) != 1 || evts[0].Reason != model.ReasonNoProof {
		t.Fatalf("got %+v", evts)
	}
}

func TestQueryLoadSettings(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT value FROM settings WHERE key = \\$1").WithArgs("focus_domains").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`["youtube.com","reddit.com"]`)))

	s, err := queryLoadSettings(context.Background(), db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.FocusDomains) != 2 || s.FocusDomains[1] != "reddit.com" {
		t.Fatalf("got %+v", s)
	}
}

func TestQueryLoadSettings_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT value FROM settings WHERE key = \\$1").WithArgs("focus_domains").
		WillReturnError(sql.ErrNoRows)

	if _, err := queryLoadSettings(context.Background(), db); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected model.ErrNotFound, got %v", err)
	}
}

func TestQuerySaveSettings(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO settings").
		WithArgs("focus_domains", []byte(`["youtube.com"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := querySaveSettings(context.Background(), db, &model.Settings{FocusDomains: []string{"youtube.com"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQuerySaveSettings_NilDomainsStoredAsEmptyArray(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO settings").
		WithArgs("focus_domains", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := querySaveSettings(context.Background(), db, &model.Settings{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
