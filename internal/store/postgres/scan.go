package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by historyColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		kind          string
		client        sql.NullString
		outcome       sql.NullString
		mode          sql.NullString
		durationClass sql.NullString
		durationMS    int64
		reason        sql.NullString
		restriction   sql.NullString
		message       sql.NullString
	)

	err := row.Scan(
		&e.ID,
		&e.Timestamp,
		&kind,
		&client,
		&outcome,
		&mode,
		&durationClass,
		&durationMS,
		&reason,
		&restriction,
		&message,
		&e.EnforcementFailed,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = model.EventKind(kind)
	e.Client = client.String
	e.Outcome = model.Outcome(outcome.String)
	e.Mode = model.Mode(mode.String)
	e.DurationClass = durationClass.String
	e.DurationGranted = time.Duration(durationMS) * time.Millisecond
	e.Reason = reason.String
	e.Restriction = model.RestrictionKind(restriction.String)
	e.Message = message.String
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullString converts an empty string to a NULL sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
