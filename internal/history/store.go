// Package history keeps a sqlite record of every provisioning run, its
// devices and their command results.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harrison/crestprov/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when no run matches the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded invocation of the tool.
type Run struct {
	ID                string
	ConfigPath        string
	ToolVersion       string
	StartedAt         time.Time
	FinishedAt        time.Time
	TotalDevices      int
	SucceededDevices  int
	FailedDevices     int
	SetupDevices      int
	SkippedDevices    int
	TotalCommands     int
	SucceededCommands int
	Interrupted       bool
}

// NewRun builds a Run with a fresh id from a finished fleet report.
func NewRun(configPath, toolVersion string, startedAt time.Time, report models.FleetReport) *Run {
	return &Run{
		ID:                uuid.NewString(),
		ConfigPath:        configPath,
		ToolVersion:       toolVersion,
		StartedAt:         startedAt,
		FinishedAt:        startedAt.Add(report.Duration),
		TotalDevices:      report.TotalDevices,
		SucceededDevices:  report.SucceededDevices,
		FailedDevices:     report.FailedDevices,
		SetupDevices:      report.SetupDevices,
		SkippedDevices:    report.SkippedDevices,
		TotalCommands:     report.TotalCommands,
		SucceededCommands: report.SucceededCommands,
		Interrupted:       report.Interrupted,
	}
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store manages the SQLite run history database
type Store struct {
	db     *sql.DB
	dbPath string
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores run and its device and command results in one transaction.
func (s *Store) RecordRun(ctx context.Context, run *Run, results []models.DeviceResult) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, config_path, tool_version, started_at, finished_at, total_devices, succeeded_devices, failed_devices, setup_devices, skipped_devices, total_commands, succeeded_commands, interrupted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.ConfigPath,
		run.ToolVersion,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.TotalDevices,
		run.SucceededDevices,
		run.FailedDevices,
		run.SetupDevices,
		run.SkippedDevices,
		run.TotalCommands,
		run.SucceededCommands,
		run.Interrupted,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, r := range results {
		var credUser, credRole sql.NullString
		if r.Credentials != nil {
			credUser = sql.NullString{String: r.Credentials.Username, Valid: true}
			credRole = sql.NullString{String: string(r.Credentials.Role), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO device_results
			(run_id, position, host, port, username, status, setup_performed, cred_username, cred_role, cause, duration_ms, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, r.Target.Host, r.Target.Port, r.Target.Username, string(r.Status), r.SetupPerformed,
			credUser, credRole, r.Cause, r.Duration.Milliseconds(), r.StartedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert device result %s: %w", r.Target.Host, err)
		}
		deviceID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}

		for j, c := range r.Commands {
			_, err := tx.ExecContext(ctx, `INSERT INTO command_results
				(device_result_id, position, command, success, response, cause, duration_ms, started_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				deviceID, j, c.Command, c.Success, c.Response, c.Cause, c.Duration.Milliseconds(), c.StartedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert command result %q: %w", c.Command, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, config_path, tool_version, started_at, finished_at, total_devices, succeeded_devices, failed_devices, setup_devices, skipped_devices, total_commands, succeeded_commands, interrupted`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var configPath, toolVersion sql.NullString
	err := row.Scan(
		&run.ID,
		&configPath,
		&toolVersion,
		&run.StartedAt,
		&run.FinishedAt,
		&run.TotalDevices,
		&run.SucceededDevices,
		&run.FailedDevices,
		&run.SetupDevices,
		&run.SkippedDevices,
		&run.TotalCommands,
		&run.SucceededCommands,
		&run.Interrupted,
	)
	if err != nil {
		return nil, err
	}
	run.ConfigPath = configPath.String
	run.ToolVersion = toolVersion.String
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with id, or one whose id starts with id when the
// prefix is unambiguous.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE substr(id, 1, length(?)) = ? ORDER BY id = ? DESC LIMIT 2`,
		id, id, id)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// GetDeviceResults rebuilds the device results of a run in their original order.
func (s *Store) GetDeviceResults(ctx context.Context, runID string) ([]models.DeviceResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, host, port, username, status, setup_performed, cred_username, cred_role, cause, duration_ms, started_at
		FROM device_results WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query device results: %w", err)
	}

	var ids []int64
	var results []models.DeviceResult
	for rows.Next() {
		var (
			id                           int64
			r                            models.DeviceResult
			username, credUser, credRole sql.NullString
			cause                        sql.NullString
			status                       string
			durationMs                   int64
		)
		if err := rows.Scan(&id, &r.Target.Host, &r.Target.Port, &username, &status, &r.SetupPerformed,
			&credUser, &credRole, &cause, &durationMs, &r.StartedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan device result: %w", err)
		}
		r.Target.Username = username.String
		r.Status = models.DeviceStatus(status)
		r.Cause = cause.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if credUser.Valid {
			r.Credentials = &models.CredentialPair{Username: credUser.String, Role: models.CredentialRole(credRole.String)}
		}
		r.Commands = []models.CommandResult{}
		ids = append(ids, id)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate device results: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		commands, err := s.getCommandResults(ctx, id)
		if err != nil {
			return nil, err
		}
		results[i].Commands = commands
		for _, c := range commands {
			results[i].Target.Commands = append(results[i].Target.Commands, c.Command)
		}
	}
	return results, nil
}

func (s *Store) getCommandResults(ctx context.Context, deviceID int64) ([]models.CommandResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT command, success, response, cause, duration_ms, started_at
		FROM command_results WHERE device_result_id = ? ORDER BY position ASC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query command results: %w", err)
	}
	defer rows.Close()

	commands := []models.CommandResult{}
	for rows.Next() {
		var c models.CommandResult
		var response, cause sql.NullString
		var durationMs int64
		if err := rows.Scan(&c.Command, &c.Success, &response, &cause, &durationMs, &c.StartedAt); err != nil {
			return nil, fmt.Errorf("scan command result: %w", err)
		}
		c.Response = response.String
		c.Cause = cause.String
		c.Duration = time.Duration(durationMs) * time.Millisecond
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command results: %w", err)
	}
	return commands, nil
}

// DeleteRun removes a run and everything recorded under it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM command_results WHERE device_result_id IN
		(SELECT id FROM device_results WHERE run_id = ?)`, id); err != nil {
		return fmt.Errorf("delete command results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM device_results WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete device results: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return tx.Commit()
}
