package history

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"iptv-kiosk/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists launch attempts and playback outcomes so the status
// endpoint and post-mortems can answer "what has this box been trying to
// play, and why did it stop". The engine works fine with a nil *Store.
type Store struct {
	db *sql.DB
}

// Attempt is one recorded launch attempt.
type Attempt struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Protocol   string    `json:"protocol"`
	Ordinal    int       `json:"ordinal"`
	Result     string    `json:"result"`
	ExitCode   int       `json:"exit_code"`
	StderrTail string    `json:"stderr_tail,omitempty"`
}

// Open creates (or opens) the history database with WAL mode and a busy
// timeout, then applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// Single writer, single reader; no pool needed.
	db.SetMaxOpenConns(2)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// migrate applies the embedded migration files in lexical order.
func (s *Store) migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		ddl, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(ddl)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		logger.Debug("{history - migrate} applied %s", name)
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordAttempt inserts a new attempt row and returns its id for the later
// outcome update. Errors are logged, not propagated: history must never take
// the player loop down.
func (s *Store) RecordAttempt(url, name, category, protocol string, ordinal int) int64 {
	if s == nil {
		return 0
	}
	res, err := s.db.Exec(
		`INSERT INTO attempts (started_at, url, name, category, protocol, ordinal) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), url, name, category, protocol, ordinal,
	)
	if err != nil {
		logger.Warn("{history - RecordAttempt} insert failed: %v", err)
		return 0
	}
	id, err := res.LastInsertId()
	if err != nil {
		logger.Warn("{history - RecordAttempt} no insert id: %v", err)
		return 0
	}
	return id
}

// RecordOutcome closes out an attempt row with its result ("stable",
// "failed", "clean_end", "crashed", "aborted"), exit code and stderr tail.
func (s *Store) RecordOutcome(id int64, result string, exitCode int, stderrTail string) {
	if s == nil || id == 0 {
		return
	}
	_, err := s.db.Exec(
		`UPDATE attempts SET ended_at = ?, result = ?, exit_code = ?, stderr_tail = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), result, exitCode, stderrTail, id,
	)
	if err != nil {
		logger.Warn("{history - RecordOutcome} update failed: %v", err)
	}
}

// RecentAttempts returns up to n most recent attempts, newest first.
func (s *Store) RecentAttempts(n int) ([]Attempt, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, COALESCE(ended_at, ''), url, name, category, protocol, ordinal, result, COALESCE(exit_code, 0), stderr_tail
		 FROM attempts ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var started, ended string
		if err := rows.Scan(&a.ID, &started, &ended, &a.URL, &a.Name, &a.Category, &a.Protocol, &a.Ordinal, &a.Result, &a.ExitCode, &a.StderrTail); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.StartedAt, _ = time.Parse(time.RFC3339, started)
		if ended != "" {
			a.EndedAt, _ = time.Parse(time.RFC3339, ended)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
