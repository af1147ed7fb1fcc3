package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SessionStore is the per-run state kept in an in-memory database:
// which tasks and queues are live this session and whether a shutdown
// action is armed for them. Nothing here survives process exit.
type SessionStore struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenSession() (*SessionStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS single_db_table (
			ID INTEGER,
			gid TEXT PRIMARY KEY,
			status TEXT,
			shutdown TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS queue_db_table (
			ID INTEGER,
			category TEXT PRIMARY KEY,
			shutdown TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create session tables: %w", err)
		}
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}

// AddTask registers a task as active for this session.
func (s *SessionStore) AddTask(gid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO single_db_table VALUES (NULL, ?, 'active', NULL)`, gid)
	if err != nil {
		return fmt.Errorf("register task %s: %w", gid, err)
	}
	return nil
}

// AddQueue registers a category queue as live for this session.
func (s *SessionStore) AddQueue(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO queue_db_table VALUES (NULL, ?, NULL)`, category)
	if err != nil {
		return fmt.Errorf("register queue %s: %w", category, err)
	}
	return nil
}

// UpdateTask patches a task's status and shutdown marker. Nil fields
// keep the stored value.
func (s *SessionStore) UpdateTask(gid string, status, shutdown *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE single_db_table SET
			shutdown = coalesce(?, shutdown),
			status = coalesce(?, status)
		WHERE gid = ?`, shutdown, status, gid)
	if err != nil {
		return fmt.Errorf("update task %s: %w", gid, err)
	}
	return nil
}

// UpdateQueue patches a queue's shutdown marker.
func (s *SessionStore) UpdateQueue(category string, shutdown *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE queue_db_table SET shutdown = coalesce(?, shutdown)
		WHERE category = ?`, shutdown, category)
	if err != nil {
		return fmt.Errorf("update queue %s: %w", category, err)
	}
	return nil
}

// ActiveGIDs returns tasks still marked active this session.
func (s *SessionStore) ActiveGIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT gid FROM single_db_table WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var gids []string
	for rows.Next() {
		var gid string
		if err := rows.Scan(&gid); err != nil {
			return nil, fmt.Errorf("scan active task: %w", err)
		}
		gids = append(gids, gid)
	}
	return gids, rows.Err()
}

// Task returns the shutdown marker and status for one task.
func (s *SessionStore) Task(gid string) (shutdown, status string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sd sql.NullString
	err = s.db.QueryRow(`
		SELECT shutdown, status FROM single_db_table WHERE gid = ?`, gid).
		Scan(&sd, &status)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("search task %s: %w", gid, err)
	}
	return sd.String, status, true, nil
}

// QueueShutdown returns the shutdown marker for one queue.
func (s *SessionStore) QueueShutdown(category string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sd sql.NullString
	err := s.db.QueryRow(`
		SELECT shutdown FROM queue_db_table WHERE category = ?`, category).Scan(&sd)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("search queue %s: %w", category, err)
	}
	return sd.String, true, nil
}

// ShutdownSatisfied reports whether at least one task armed a
// shutdown marker this session and every armed task has completed.
func (s *SessionStore) ShutdownSatisfied() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var armed, pending int
	err := s.db.QueryRow(`
		SELECT count(*),
		       count(*) - count(CASE WHEN status = 'complete' THEN 1 END)
		FROM single_db_table WHERE shutdown = ?`, "shutdown").
		Scan(&armed, &pending)
	if err != nil {
		return false, fmt.Errorf("check shutdown markers: %w", err)
	}
	return armed > 0 && pending == 0, nil
}

// Reset clears all session rows.
func (s *SessionStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"single_db_table", "queue_db_table"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
	}
	return nil
}
