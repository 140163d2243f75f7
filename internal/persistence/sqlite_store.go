package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps assembly jobs and the charge ledger in one SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL;",
	"PRAGMA busy_timeout = 5000;",
	"PRAGMA foreign_keys = ON;",
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		version := migrationVersion(path.Base(name))
		if version <= 0 || applied[version] {
			continue
		}
		if err := s.migrate(ctx, name, version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	ret := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		ret[v] = true
	}
	return ret, rows.Err()
}

// migrate applies one migration file and records it in the same transaction.
func (s *SQLiteStore) migrate(ctx context.Context, name string, version int) error {
	content, err := migrationFiles.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename ("001_init.sql" -> 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.AssemblyJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, dedupe_key, payload_json, status, error, result_json, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.AssemblyJob, 0)
	for rows.Next() {
		var item jobs.AssemblyJob
		var status, payloadJSON, resultJSON string
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.DedupeKey,
			&payloadJSON,
			&status,
			&item.Error,
			&resultJSON,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", item.ID, err)
		}
		if resultJSON != "" {
			item.Result = &jobs.Result{}
			if err := json.Unmarshal([]byte(resultJSON), item.Result); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w", item.ID, err)
			}
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.AssemblyJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payloadJSON := []byte("{}")
	if job.Payload != nil {
		var err error
		if payloadJSON, err = json.Marshal(job.Payload); err != nil {
			return err
		}
	}
	var resultJSON []byte
	if job.Result != nil {
		var err error
		if resultJSON, err = json.Marshal(job.Result); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, source, dedupe_key, payload_json, status, error, result_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			payload_json=excluded.payload_json,
			status=excluded.status,
			error=excluded.error,
			result_json=excluded.result_json,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		string(payloadJSON),
		string(job.Status),
		job.Error,
		string(resultJSON),
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Charge appends event to the charge ledger. It satisfies billing.Sink.
func (s *SQLiteStore) Charge(ctx context.Context, event billing.Event) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO charges (owner_id, batch_id, run_id, path, amount, duration_seconds, segment_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.OwnerID,
		event.BatchID,
		event.RunID,
		string(event.Path),
		event.Amount,
		event.DurationSeconds,
		event.SegmentIndex,
		time.Now().UTC(),
	)
	return err
}

// ListCharges returns the ledger entries of ownerID, oldest first.
func (s *SQLiteStore) ListCharges(ctx context.Context, ownerID string) ([]billing.Event, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT owner_id, batch_id, run_id, path, amount, duration_seconds, segment_index
		 FROM charges
		 WHERE owner_id = ?
		 ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]billing.Event, 0)
	for rows.Next() {
		var item billing.Event
		var p string
		if err := rows.Scan(&item.OwnerID, &item.BatchID, &item.RunID, &p, &item.Amount, &item.DurationSeconds, &item.SegmentIndex); err != nil {
			return nil, err
		}
		item.Path = billing.Path(p)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
