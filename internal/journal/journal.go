// Package journal records every status event and every background move
// failure in a SQLite database so a session can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/undulator/internal/monitoring"
	"github.com/banshee-data/undulator/internal/motion"
)

// Journal is a motion.Observer and motion.Watcher backed by SQLite. Each Open
// starts a new session with its own id.
type Journal struct {
	db      *sql.DB
	path    string
	session string
	now     func() time.Time

	closeOnce sync.Once
}

// Entry is one recorded status event.
type Entry struct {
	ID        int64            `json:"id"`
	Session   string           `json:"session"`
	Time      time.Time        `json:"time"`
	Axis      string           `json:"axis"`
	Status    string           `json:"status"`
	CommandID motion.CommandID `json:"command_id"`
	Target    float64          `json:"target"`
	Position  float64          `json:"position"`
	Message   string           `json:"message,omitempty"`
}

// Failure is one recorded background move failure.
type Failure struct {
	ID      int64     `json:"id"`
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Kind    string    `json:"kind"`
	Status  string    `json:"status"`
	Error   string    `json:"error"`
}

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps writes serialized and lets tests use :memory:.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	j := &Journal{db: db, path: path, session: uuid.NewString(), now: time.Now}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("journal: session %s recording to %s", j.session, path)
	return j, nil
}

// Session returns the id stamped on every row written by this journal.
func (j *Journal) Session() string { return j.session }

// Close closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() { err = j.db.Close() })
	return err
}

// Update records ev. Write failures are logged, never propagated, so a full
// disk cannot stall the axis that is notifying.
func (j *Journal) Update(ev motion.StatusEvent) {
	_, err := j.db.Exec(`
		INSERT INTO status_events (session_id, ts_unix_nano, axis, status, command_id, target, position, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session, j.now().UnixNano(), ev.Axis, ev.Status.String(), int64(ev.CommandID), ev.Target, ev.Position, ev.Message,
	)
	if err != nil {
		monitoring.Logf("journal: record %s: %v", ev, err)
	}
}

// MoveFailed records a failure captured by a background execution unit.
func (j *Journal) MoveFailed(source string, err error) {
	kind := "unknown"
	var me *motion.Error
	if errors.As(err, &me) {
		kind = me.Kind.String()
	}
	_, dbErr := j.db.Exec(`
		INSERT INTO move_failures (session_id, ts_unix_nano, source, kind, status, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.session, j.now().UnixNano(), source, kind, motion.StatusOf(err).String(), err.Error(),
	)
	if dbErr != nil {
		monitoring.Logf("journal: record failure of %s: %v", source, dbErr)
	}
}

// Recent returns up to n status events, newest first. An empty axis matches
// every axis.
func (j *Journal) Recent(ctx context.Context, axis string, n int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, session_id, ts_unix_nano, axis, status, command_id, target, position, message
		FROM status_events
		WHERE ? = '' OR axis = ?
		ORDER BY event_id DESC
		LIMIT ?`, axis, axis, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, id int64
		if err := rows.Scan(&e.ID, &e.Session, &ts, &e.Axis, &e.Status, &id, &e.Target, &e.Position, &e.Message); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ts)
		e.CommandID = motion.CommandID(id)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Command returns the events recorded for one command id in order.
func (j *Journal) Command(ctx context.Context, id motion.CommandID) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, session_id, ts_unix_nano, axis, status, target, position, message
		FROM status_events
		WHERE command_id = ? AND session_id = ?
		ORDER BY event_id`, int64(id), j.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{CommandID: id}
		var ts int64
		if err := rows.Scan(&e.ID, &e.Session, &ts, &e.Axis, &e.Status, &e.Target, &e.Position, &e.Message); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Failures returns up to n recorded failures, newest first.
func (j *Journal) Failures(ctx context.Context, n int) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT failure_id, session_id, ts_unix_nano, source, kind, status, error
		FROM move_failures
		ORDER BY failure_id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		var ts int64
		if err := rows.Scan(&f.ID, &f.Session, &ts, &f.Source, &f.Kind, &f.Status, &f.Error); err != nil {
			return nil, err
		}
		f.Time = time.Unix(0, ts)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

var (
	_ motion.Observer = (*Journal)(nil)
	_ motion.Watcher  = (*Journal)(nil)
)
