package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const historyColumns = `id, ts, kind, client, outcome, mode, duration_class,
	duration_granted_ms, reason, restriction, message, enforcement_failed`

const settingFocusDomains = "focus_domains"

func queryAppendHistory(ctx context.Context, db executor, e *model.Event) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO history (
			ts, kind, client, outcome, mode, duration_class,
			duration_granted_ms, reason, restriction, message, enforcement_failed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		e.Timestamp,
		string(e.Kind),
		nullString(e.Client),
		nullString(string(e.Outcome)),
		nullString(string(e.Mode)),
		nullString(e.DurationClass),
		e.DurationGranted.Milliseconds(),
		nullString(e.Reason),
		nullString(string(e.Restriction)),
		nullString(e.Message),
		e.EnforcementFailed,
	).Scan(&e.ID)
}

func queryReadHistory(ctx context.Context, db executor, filter model.EventFilter) ([]*model.Event, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.Client != "" {
		whereClauses = append(whereClauses, "client = "+nextArg())
		args = append(args, filter.Client)
	}

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = nextArg()
			args = append(args, string(k))
		}
		whereClauses = append(whereClauses, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Outcome != model.OutcomeNone {
		whereClauses = append(whereClauses, "outcome = "+nextArg())
		args = append(args, string(filter.Outcome))
	}

	if !filter.Since.IsZero() {
		whereClauses = append(whereClauses, "ts >= "+nextArg())
		args = append(args, filter.Since)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query := "SELECT " + historyColumns + " FROM history" + whereSQL + " ORDER BY id ASC"
	if filter.Limit > 0 {
		// Newest N, returned oldest first.
		query = "SELECT " + historyColumns + " FROM (SELECT " + historyColumns +
			" FROM history" + whereSQL + " ORDER BY id DESC LIMIT " + nextArg() + ") recent ORDER BY id ASC"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func queryLoadSettings(ctx context.Context, db executor) (*model.Settings, error) {
	var raw []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, settingFocusDomains).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	var s model.Settings
	if err := json.Unmarshal(raw, &s.FocusDomains); err != nil {
		return nil, fmt.Errorf("decode %s: %w", settingFocusDomains, err)
	}
	return &s, nil
}

func querySaveSettings(ctx context.Context, db executor, s *model.Settings) error {
	domains := s.FocusDomains
	if domains == nil {
		domains = []string{}
	}
	raw, err := json.Marshal(domains)
	if err != nil {
		return fmt.Errorf("encode %s: %w", settingFocusDomains, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`,
		settingFocusDomains, raw,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
