// Package indexdb keeps a queryable SQLite index of sessions and runs.
//
// The journal is the source of truth; the index is a read model fed asynchronously and
// may lose records when the writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"basinflow.ai/internal/session"
)

const defaultQueueSize = 4096

type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	// mu guards ch against a send racing Close.
	mu   sync.RWMutex
	ch   chan session.Record
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
	failed  atomic.Int64
}

type Stats struct {
	DroppedTotal  int64
	FailedTotal   int64
	QueueDepth    int
	QueueCapacity int
}

type SessionRow struct {
	SessionID  string
	RemoteAddr string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

type RunRow struct {
	SessionID    string
	RunSeq       int
	Segments     int
	TargetHours  float64
	StartedAt    time.Time
	CompletedAt  *time.Time
	FinalElapsed *float64
	TotalVolume  *float64
}

func OpenSQLite(path string, logger *zap.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan session.Record, defaultQueueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			session_id TEXT NOT NULL,
			run_seq INTEGER NOT NULL,
			segments INTEGER NOT NULL,
			target_hours REAL NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			final_elapsed REAL,
			total_volume REAL,
			PRIMARY KEY (session_id, run_seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record queues the transitions the index keeps (open, close, start, complete) and
// ignores the rest. It never blocks; a full queue drops the record.
func (s *SQLiteIndex) Record(r session.Record) {
	if s == nil {
		return
	}
	switch r.Kind {
	case session.RecordOpen, session.RecordClose, session.RecordStart, session.RecordComplete:
	default:
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DroppedTotal:  s.dropped.Load(),
		FailedTotal:   s.failed.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Warn("index begin failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(int64(opCount))
			s.log.Warn("index commit failed", zap.Error(err))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		if err := apply(ctx, tx, r); err != nil {
			// A failed statement leaves the transaction usable in SQLite; count and go on.
			s.failed.Add(1)
			s.log.Warn("index write failed", zap.String("session", r.Session), zap.String("kind", string(r.Kind)), zap.Error(err))
		} else {
			opCount++
		}
		if opCount >= commitEvery || len(s.ch) == 0 || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

func apply(ctx context.Context, tx *sql.Tx, r session.Record) error {
	at := r.At.UTC().Format(time.RFC3339Nano)
	var err error
	switch r.Kind {
	case session.RecordOpen:
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sessions(session_id,remote_addr,opened_at) VALUES(?,?,?)`,
			r.Session, r.RemoteAddr, at)
	case session.RecordClose:
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET closed_at=? WHERE session_id=?`, at, r.Session)
	case session.RecordStart:
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO runs(session_id,run_seq,segments,target_hours,started_at) VALUES(?,?,?,?,?)`,
			r.Session, r.RunSeq, len(r.Landscape), r.Hours, at)
	case session.RecordComplete:
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET completed_at=?, final_elapsed=?, total_volume=? WHERE session_id=? AND run_seq=?`,
			at, r.Elapsed, r.TotalVolume, r.Session, r.RunSeq)
	}
	return err
}

var ErrNotFound = errors.New("indexdb: not found")

func (s *SQLiteIndex) Session(ctx context.Context, id string) (SessionRow, error) {
	var (
		row            SessionRow
		opened, closed sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, remote_addr, opened_at, closed_at FROM sessions WHERE session_id=?`, id,
	).Scan(&row.SessionID, &row.RemoteAddr, &opened, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return row, ErrNotFound
	}
	if err != nil {
		return row, err
	}
	row.OpenedAt = parseTime(opened)
	if closed.Valid {
		t := parseTime(closed)
		row.ClosedAt = &t
	}
	return row, nil
}

// Runs lists the runs of one session in start order.
func (s *SQLiteIndex) Runs(ctx context.Context, sessionID string) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, run_seq, segments, target_hours, started_at, completed_at, final_elapsed, total_volume
		 FROM runs WHERE session_id=? ORDER BY run_seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r               RunRow
			started, done   sql.NullString
			elapsed, volume sql.NullFloat64
		)
		if err := rows.Scan(&r.SessionID, &r.RunSeq, &r.Segments, &r.TargetHours, &started, &done, &elapsed, &volume); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if done.Valid {
			t := parseTime(done)
			r.CompletedAt = &t
		}
		if elapsed.Valid {
			r.FinalElapsed = &elapsed.Float64
		}
		if volume.Valid {
			r.TotalVolume = &volume.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}
