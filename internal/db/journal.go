package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StartRun records a new run and remembers it as the latest one.
func (d *DB) StartRun(args []string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		Args:      strings.Join(args, " "),
		StartedAt: time.Now().Truncate(time.Millisecond),
	}
	_, err := d.sql.Exec(
		`INSERT INTO runs (id, args, started_at) VALUES (?, ?, ?)`,
		r.ID, r.Args, r.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if err := d.SetMeta("last_run", r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// EndRun stamps the run's end time and the reason it ended.
func (d *DB) EndRun(id, reason string) error {
	res, err := d.sql.Exec(
		`UPDATE runs SET ended_at = ?, end_reason = ? WHERE id = ?`,
		time.Now().UnixMilli(), reason, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// LastRunID returns the id of the most recently started run, or "".
func (d *DB) LastRunID() (string, error) {
	return d.GetMeta("last_run")
}

func (d *DB) GetRun(id string) (*Run, error) {
	row := d.sql.QueryRow(
		`SELECT id, args, started_at, ended_at, end_reason FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns up to limit runs, newest first.
func (d *DB) ListRuns(limit int) ([]*Run, error) {
	rows, err := d.sql.Query(
		`SELECT id, args, started_at, ended_at, end_reason
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var started, ended int64
	if err := row.Scan(&r.ID, &r.Args, &started, &ended, &r.EndReason); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	if ended != 0 {
		r.EndedAt = time.UnixMilli(ended)
	}
	return &r, nil
}

// InsertEvent appends e to its run's journal and sets e.ID.
func (d *DB) InsertEvent(e *Event) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	res, err := d.sql.Exec(
		`INSERT INTO events (run_id, ts, lane, header, payload) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.Ts.UnixMilli(), e.Lane, e.Header, e.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// RecentEvents returns up to limit events of a run, newest first.
func (d *DB) RecentEvents(runID string, limit int) ([]Event, error) {
	rows, err := d.sql.Query(
		`SELECT id, run_id, ts, lane, header, payload
		 FROM events
		 WHERE run_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &e.Lane, &e.Header, &e.Payload); err != nil {
			return nil, err
		}
		e.Ts = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns per-header event counts for a run.
func (d *DB) CountEvents(runID string) (map[string]int, error) {
	rows, err := d.sql.Query(
		`SELECT header, COUNT(*) FROM events WHERE run_id = ? GROUP BY header`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var h string
		var n int
		if err := rows.Scan(&h, &n); err != nil {
			return nil, err
		}
		counts[h] = n
	}
	return counts, rows.Err()
}

// DeleteRun removes a run and, by cascade, its events.
func (d *DB) DeleteRun(id string) error {
	_, err := d.sql.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}
