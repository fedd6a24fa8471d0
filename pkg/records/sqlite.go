package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/agora/pkg/fault"
)

// SQLiteStore is the embedded record store adapter for single-node deployments
// and local development. It has no Pub/Sub, so event relay is unavailable.
type SQLiteStore struct {
	db        *sql.DB
	opTimeout time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a SQLite database at path and runs the schema migration.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}
	// A single connection serialises writers; conditional writes rely on it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate record db: %w", err)
	}
	return &SQLiteStore{db: db, opTimeout: o.opTimeout}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			content       TEXT NOT NULL DEFAULT '',
			payload       TEXT NOT NULL,
			labels        TEXT NOT NULL DEFAULT '{}',
			tags          TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			version       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, created_at_ms, id);
		CREATE TABLE IF NOT EXISTS record_tags (
			record_id TEXT NOT NULL,
			tag       TEXT NOT NULL,
			PRIMARY KEY (record_id, tag)
		);
		CREATE INDEX IF NOT EXISTS idx_record_tags_tag ON record_tags(tag);
		CREATE TABLE IF NOT EXISTS record_labels (
			record_id TEXT NOT NULL,
			name      TEXT NOT NULL,
			value     TEXT NOT NULL,
			PRIMARY KEY (record_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_record_labels_nv ON record_labels(name, value);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return fault.Retryable("records.ping", s.db.PingContext(ctx))
}

// Add inserts or overwrites a record and its index rows in one transaction.
func (s *SQLiteStore) Add(ctx context.Context, rec *Record) (string, error) {
	const op = "records.add"
	if err := prepareAdd(op, rec); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var version int64
		var kind string
		err := tx.QueryRowContext(ctx, "SELECT version, kind FROM records WHERE id = ?", rec.ID).Scan(&version, &kind)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			version = 0
		case err != nil:
			return err
		default:
			if err := checkOverwrite(op, &Record{ID: rec.ID, Kind: Kind(kind)}, rec); err != nil {
				return err
			}
		}
		if err := deleteRecord(ctx, tx, rec.ID); err != nil {
			return err
		}
		rec.Version = version + 1
		return insertRecord(ctx, tx, rec)
	})
	if errors.As(err, new(*fault.Error)) {
		return "", err
	}
	if err != nil {
		return "", fault.Retryable(op, fmt.Errorf("failed to write record: %w", err))
	}
	return rec.ID, nil
}

// Get retrieves a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	const op = "records.get"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound(op, "record %q", id)
	}
	if err != nil {
		return nil, fault.Retryable(op, err)
	}
	return rec, nil
}

// Search pushes kind, tag and label filters into SQL; text matching and the
// limit window are applied in Go so both adapters share identical semantics.
func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]*Record, error) {
	const op = "records.search"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	for _, tag := range q.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM record_tags t WHERE t.record_id = records.id AND t.tag = ?)")
		args = append(args, tag)
	}
	for name, value := range q.Labels {
		where = append(where, "EXISTS (SELECT 1 FROM record_labels l WHERE l.record_id = records.id AND l.name = ? AND l.value = ?)")
		args = append(args, name, value)
	}

	query := "SELECT " + recordColumns + " FROM records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_ms, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Retryable(op, err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fault.Retryable(op, err)
		}
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Retryable(op, err)
	}

	SortRecords(out)
	return Window(out, q.Limit), nil
}

// Replace overwrites a record only if its stored version still equals expectedVersion.
func (s *SQLiteStore) Replace(ctx context.Context, rec *Record, expectedVersion int64) error {
	const op = "records.replace"
	if rec == nil || rec.ID == "" {
		return fault.InvalidArgument(op, "record id cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	next := *rec
	next.Version = expectedVersion + 1
	if next.Labels == nil {
		next.Labels = map[string]string{}
	}
	if next.Tags == nil {
		next.Tags = []string{}
	}

	var domainErr error
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var version, createdAtMs int64
		err := tx.QueryRowContext(ctx, "SELECT version, created_at_ms FROM records WHERE id = ?", rec.ID).
			Scan(&version, &createdAtMs)
		if errors.Is(err, sql.ErrNoRows) {
			domainErr = fault.NotFound(op, "record %q", rec.ID)
			return domainErr
		}
		if err != nil {
			return err
		}
		if version != expectedVersion {
			domainErr = &fault.Error{Op: op, Kind: fault.ErrConflict,
				Detail: fmt.Sprintf("record %q is at version %d, expected %d", rec.ID, version, expectedVersion)}
			return domainErr
		}

		next.CreatedAtMs = createdAtMs
		if err := next.Validate(); err != nil {
			domainErr = fault.Invalid(op, err)
			return domainErr
		}

		res, err := tx.ExecContext(ctx, "UPDATE records SET version = version WHERE id = ? AND version = ?", rec.ID, expectedVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			domainErr = &fault.Error{Op: op, Kind: fault.ErrConflict, Detail: fmt.Sprintf("record %q changed concurrently", rec.ID)}
			return domainErr
		}
		if err := deleteRecord(ctx, tx, rec.ID); err != nil {
			return err
		}
		return insertRecord(ctx, tx, &next)
	})
	if domainErr != nil {
		return domainErr
	}
	if err != nil {
		return fault.Retryable(op, err)
	}

	rec.Version = next.Version
	rec.CreatedAtMs = next.CreatedAtMs
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func deleteRecord(ctx context.Context, tx *sql.Tx, id string) error {
	for _, stmt := range []string{
		"DELETE FROM record_tags WHERE record_id = ?",
		"DELETE FROM record_labels WHERE record_id = ?",
		"DELETE FROM records WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return nil
}

const recordColumns = "id, kind, content, payload, labels, tags, created_at_ms, version"

func insertRecord(ctx context.Context, tx *sql.Tx, rec *Record) error {
	labelsJSON, err := json.Marshal(rec.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO records ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, string(rec.Kind), rec.Content, string(rec.Payload),
		string(labelsJSON), string(tagsJSON), rec.CreatedAtMs, rec.Version,
	); err != nil {
		return err
	}
	for _, tag := range rec.Tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO record_tags (record_id, tag) VALUES (?, ?)", rec.ID, tag); err != nil {
			return err
		}
	}
	for name, value := range rec.Labels {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO record_labels (record_id, name, value) VALUES (?, ?, ?)", rec.ID, name, value); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                  Record
		kind, payload        string
		labelsJSON, tagsJSON string
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Content, &payload, &labelsJSON, &tagsJSON, &rec.CreatedAtMs, &rec.Version); err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	rec.Payload = json.RawMessage(payload)
	rec.Labels = map[string]string{}
	rec.Tags = []string{}
	if err := json.Unmarshal([]byte(labelsJSON), &rec.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return &rec, nil
}
