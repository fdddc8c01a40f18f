// Package sql keeps the event history in Postgres.
package sql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/history"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

const schema = `CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	type       TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	services   TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL,
	log_level  TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_run_id ON events (run_id, started_at DESC)`

// A history DB that uses a postgres database
type DB struct {
	driver *sql.DB
	squirrel.StatementBuilderType
}

var _ history.EventReadWriter = &DB{}

// NewSQL connects to the database at the URL given, and creates the
// events table if it is not there.
func NewSQL(ctx context.Context, url string, pingTimeout time.Duration, logger log.Logger) (*DB, error) {
	driver, err := sql.Open(DriverName, url)
	if err != nil {
		return nil, errors.Wrap(err, "opening history database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := driver.PingContext(pingCtx); err != nil {
		driver.Close()
		return nil, errors.Wrap(err, "connecting to history database")
	}
	db := &DB{
		driver:               driver,
		StatementBuilderType: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).RunWith(driver),
	}
	if err := db.ensureTables(ctx); err != nil {
		driver.Close()
		return nil, err
	}
	logger.Log("history", "postgres", "schema", "ok")
	return db, nil
}

func (db *DB) ensureTables(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";\n") {
		if _, err := db.driver.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating events table")
		}
	}
	return nil
}

func (db *DB) eventsQuery() squirrel.SelectBuilder {
	return db.Select(
		"id", "run_id", "type", "stage", "services", "started_at", "ended_at", "log_level", "message",
	).
		From("events").
		OrderBy("started_at desc")
}

func (db *DB) scanEvents(query squirrel.SelectBuilder) ([]history.Event, error) {
	rows, err := query.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []history.Event{}
	for rows.Next() {
		var (
			e        history.Event
			services string
		)
		if err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Type,
			&e.Stage,
			&services,
			&e.StartedAt,
			&e.EndedAt,
			&e.LogLevel,
			&e.Message,
		); err != nil {
			return nil, err
		}
		if services != "" {
			e.Services = strings.Split(services, ",")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (db *DB) EventsForRun(runID string) ([]history.Event, error) {
	return db.scanEvents(db.eventsQuery().Where(squirrel.Eq{"run_id": runID}))
}

func (db *DB) AllEvents(before time.Time, limit int64) ([]history.Event, error) {
	q := db.eventsQuery().Where(squirrel.Lt{"started_at": before})
	if limit >= 0 {
		q = q.Limit(uint64(limit))
	}
	return db.scanEvents(q)
}

func (db *DB) LogEvent(e history.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	startedAt := e.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	endedAt := e.EndedAt
	if endedAt.IsZero() {
		endedAt = startedAt
	}
	_, err := db.Insert("events").
		Columns("id", "run_id", "type", "stage", "services", "started_at", "ended_at", "log_level", "message").
		Values(e.ID, e.RunID, e.Type, e.Stage, strings.Join(e.Services, ","), startedAt, endedAt, e.LogLevel, e.Message).
		Exec()
	return errors.Wrap(err, "logging event")
}

func (db *DB) Close() error {
	return db.driver.Close()
}
