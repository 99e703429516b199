// Package store persists scan runs and their findings into a local sqlite
// database, so consecutive runs of a scheduled scanner can be compared.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nodehound/nodehound/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Run struct {
	UUID       string
	Targets    []string
	StartedAt  time.Time
	FinishedAt *time.Time
	Findings   int
}

type FindingRow struct {
	ID       int
	RunUUID  string
	Name     string
	KHV      string
	Category string
	Host     string
	Port     int
	Evidence string
}

func (r FindingRow) String() string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	if r.KHV != "" {
		fmt.Fprintf(&sb, " (%s)", r.KHV)
	}
	fmt.Fprintf(&sb, " on %s:%d", r.Host, r.Port)
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			targets TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT DEFAULT NULL,
			findings INTEGER NOT NULL DEFAULT 0
		)`,
	)
	if err != nil {
		return nil, err
	}
	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS findings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_uuid TEXT NOT NULL REFERENCES runs(uuid),
			name TEXT NOT NULL,
			khv_id TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			evidence TEXT NOT NULL DEFAULT ''
		)`,
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// StartRun persists that a scan run identified by 'uuid' started now.
func StartRun(ctx context.Context, db *sql.DB, uuid string, targets []string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (uuid, targets, started_at) VALUES (?,?,?);`,
		uuid, strings.Join(targets, ","), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	return nil
}

// FinishRun marks a run as done and records its finding count. Returns
// ErrNotFound for an unknown uuid, ErrAlreadyFinished when called twice.
func FinishRun(ctx context.Context, db *sql.DB, uuid string, findings int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(ctx context.Context, uuid string) {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
		}
	}(ctx, uuid)

	var finishedAt sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT finished_at FROM runs WHERE uuid=?`, uuid,
	)
	err = row.Scan(&finishedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case finishedAt.Valid:
		return ErrAlreadyFinished
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, findings = ? WHERE uuid = ?;`,
		time.Now().UTC().Format(time.RFC3339), findings, uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// GetRun returns run info, ErrNotFound when the uuid is unknown.
func GetRun(ctx context.Context, db *sql.DB, uuid string) (Run, error) {
	var (
		run        Run
		targets    string
		startedAt  string
		finishedAt sql.NullString
	)
	row := db.QueryRowContext(ctx,
		`SELECT uuid, targets, started_at, finished_at, findings FROM runs WHERE uuid=?`, uuid,
	)
	err := row.Scan(&run.UUID, &targets, &startedAt, &finishedAt, &run.Findings)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Run{}, ErrNotFound
	case err != nil:
		return Run{}, fmt.Errorf("executing sql query failed: %w", err)
	}

	if targets != "" {
		run.Targets = strings.Split(targets, ",")
	}
	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing started_at failed: %w", err)
	}
	if finishedAt.Valid {
		ts, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parsing finished_at failed: %w", err)
		}
		run.FinishedAt = &ts
	}
	return run, nil
}

// InsertFinding stores one finding under the given run.
func InsertFinding(ctx context.Context, db *sql.DB, runUUID string, f *model.Finding) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO findings (run_uuid, name, khv_id, category, host, port, evidence)
		 VALUES (?,?,?,?,?,?,?);`,
		runUUID, f.Name, f.ID, f.Category.String(), f.Host, f.Port, f.Evidence,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	return nil
}

// ListFindings returns every finding of a run in insertion order.
func ListFindings(ctx context.Context, db *sql.DB, runUUID string) ([]FindingRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, run_uuid, name, khv_id, category, host, port, evidence
		 FROM findings WHERE run_uuid=? ORDER BY id`, runUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []FindingRow
	for rows.Next() {
		var r FindingRow
		err := rows.Scan(&r.ID, &r.RunUUID, &r.Name, &r.KHV, &r.Category, &r.Host, &r.Port, &r.Evidence)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}
