// Package store persists event records in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/esmon"
)

const schema = `CREATE TABLE IF NOT EXISTS Logs(
	EventType TEXT,
	Timestamp INTEGER,
	TimeNS REAL,
	Executable TEXT,
	Filename TEXT,
	IsAuth INTEGER,
	PID INTEGER,
	Parameters TEXT
)`

const insertRecord = `INSERT INTO Logs(EventType, Timestamp, TimeNS, Executable, Filename, IsAuth, PID, Parameters)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`

// Store is an esmon.Sink that appends every record to the Logs table.
type Store struct {
	log slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
}

var _ esmon.Sink = &Store{}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, log slog.Logger, path string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, xerrors.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, xerrors.Errorf("open database %q: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	ok := false
	defer func() {
		if !ok {
			_ = db.Close()
		}
	}()

	_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, xerrors.Errorf("enable WAL mode: %w", err)
	}
	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		return nil, xerrors.Errorf("create Logs table: %w", err)
	}
	insert, err := db.PrepareContext(ctx, insertRecord)
	if err != nil {
		return nil, xerrors.Errorf("prepare insert: %w", err)
	}

	ok = true
	log.Debug(ctx, "opened event database", slog.F("path", path))
	return &Store{log: log, db: db, insert: insert}, nil
}

// Write appends r to the Logs table.
func (s *Store) Write(ctx context.Context, r *esmon.Record) error {
	row := esmon.RowFor(r)
	params, err := json.Marshal(row.Parameters)
	if err != nil {
		return xerrors.Errorf("marshal parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return xerrors.New("store is closed")
	}
	_, err = s.insert.ExecContext(ctx,
		row.Kind,
		row.TimestampSeconds,
		row.TimestampNanoseconds,
		row.ExecutablePath,
		row.SubjectPath,
		r.IsAuth,
		r.Process.PID,
		string(params),
	)
	if err != nil {
		return xerrors.Errorf("insert %s record: %w", row.Kind, err)
	}
	return nil
}

// Entry is a row of the Logs table.
type Entry struct {
	Kind        string
	Time        time.Time
	Executable  string
	SubjectPath string
	IsAuth      bool
	PID         int
	Parameters  map[string]string
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, xerrors.New("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT EventType, Timestamp, TimeNS, Executable, Filename, IsAuth, PID, Parameters
FROM Logs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Errorf("query Logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			sec     int64
			nsec    float64
			params  string
			isAuth  int
			subject sql.NullString
		)
		err = rows.Scan(&e.Kind, &sec, &nsec, &e.Executable, &subject, &isAuth, &e.PID, &params)
		if err != nil {
			return nil, xerrors.Errorf("scan Logs row: %w", err)
		}
		e.Time = time.Unix(sec, int64(nsec))
		e.SubjectPath = subject.String
		e.IsAuth = isAuth != 0
		if params != "" {
			err = json.Unmarshal([]byte(params), &e.Parameters)
			if err != nil {
				return nil, xerrors.Errorf("decode parameters: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate Logs: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}

	err := closeAll(
		namedCloser{"insert statement", s.insert.Close},
		namedCloser{"database", s.db.Close},
	)
	s.db = nil
	return err
}

type namedCloser struct {
	name  string
	close func() error
}

// closeAll runs every closer in order and returns all of their errors.
func closeAll(closers ...namedCloser) error {
	var merr error
	for _, c := range closers {
		if err := c.close(); err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("close %s: %w", c.name, err))
		}
	}
	return merr
}
