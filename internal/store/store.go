// Package store persists categories, downloads, link requests and
// video-audio pairs in SQLite, plus the per-run session state and the
// browser-plugin submission queue.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

// Batch writes are committed in fixed-size chunks rather than one
// transaction per row. A crash mid-batch can leave a partial prefix
// committed, so inserts are idempotent on primary identity.
const chunkSize = 5

// Built-in categories created on first open. They cannot be deleted
// by Reset.
const (
	CategoryAll       = "All Downloads"
	CategorySingle    = "Single Downloads"
	CategoryScheduled = "Scheduled Downloads"
)

// Store is the long-lived download database. All mutations are
// serialized through one writer lock; SQLite itself is kept to a
// single connection.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log logger.Logger
}

// Open opens (or creates) the download database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS category_db_table(
			category TEXT PRIMARY KEY,
			start_time_enable TEXT,
			start_time TEXT,
			end_time_enable TEXT,
			end_time TEXT,
			reverse TEXT,
			limit_enable TEXT,
			limit_value TEXT,
			after_download TEXT,
			gid_list TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS download_db_table(
			file_name TEXT,
			status TEXT,
			size TEXT,
			downloaded_size TEXT,
			percent TEXT,
			connections TEXT,
			rate TEXT,
			estimate_time_left TEXT,
			gid TEXT PRIMARY KEY,
			link TEXT,
			first_try_date TEXT,
			last_try_date TEXT,
			category TEXT,
			FOREIGN KEY(category) REFERENCES category_db_table(category)
			ON UPDATE CASCADE
			ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS addlink_db_table(
			ID INTEGER PRIMARY KEY,
			token TEXT,
			gid TEXT,
			out TEXT,
			start_time TEXT,
			end_time TEXT,
			link TEXT,
			ip TEXT,
			port TEXT,
			proxy_user TEXT,
			download_user TEXT,
			connections TEXT,
			limit_value TEXT,
			download_path TEXT,
			referer TEXT,
			load_cookies TEXT,
			user_agent TEXT,
			header TEXT,
			after_download TEXT,
			FOREIGN KEY(gid) REFERENCES download_db_table(gid)
			ON UPDATE CASCADE
			ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS video_finder_db_table(
			ID INTEGER PRIMARY KEY,
			video_gid TEXT,
			audio_gid TEXT,
			video_completed TEXT,
			audio_completed TEXT,
			muxing_status TEXT,
			checking TEXT,
			download_path TEXT,
			FOREIGN KEY(video_gid) REFERENCES download_db_table(gid)
			ON DELETE CASCADE,
			FOREIGN KEY(audio_gid) REFERENCES download_db_table(gid)
			ON DELETE CASCADE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return s.ensureBuiltinCategories()
}

func (s *Store) ensureBuiltinCategories() error {
	for _, name := range []string{CategoryAll, CategorySingle, CategoryScheduled} {
		cat := Category{
			Name:      name,
			StartTime: "0:0",
			EndTime:   "0:0",
			GIDList:   []string{},
		}
		if err := s.AddCategory(cat); err != nil {
			return err
		}
	}
	return nil
}

// SetTablesToDefault resets session-scoped flags after an unclean or
// normal shutdown: schedule enables go back to "no", unfinished
// downloads become "stopped", one-shot addlink fields are cleared and
// pair checking flags are lowered.
func (s *Store) SetTablesToDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin defaults reset: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`UPDATE category_db_table SET start_time_enable = 'no', end_time_enable = 'no',
			reverse = 'no', limit_enable = 'no', after_download = 'no'`,
		`UPDATE download_db_table SET status = 'stopped' WHERE status NOT IN ('complete', 'error')`,
		`UPDATE addlink_db_table SET start_time = NULL, end_time = NULL, after_download = NULL`,
		`UPDATE video_finder_db_table SET checking = 'no'`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reset defaults: %w", err)
		}
	}
	return tx.Commit()
}

// Reset deletes every download, link request and user-defined category
// and empties the built-in membership lists.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE category_db_table SET gid_list = '[]'`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM category_db_table WHERE category NOT IN (?, ?, ?)`,
		CategoryAll, CategorySingle, CategoryScheduled); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, table := range []string{"download_db_table", "addlink_db_table"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return tx.Commit()
}

// CorrectUnits migrates rows written by old versions that rendered
// sizes with SI labels (KB, MB, GB) to the binary labels used now.
func (s *Store) CorrectUnits() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin unit migration: %w", err)
	}
	defer tx.Rollback()

	for _, units := range [][2]string{{"KB", "KiB"}, {"MB", "MiB"}, {"GB", "GiB"}} {
		for _, column := range []string{"size", "rate", "downloaded_size"} {
			stmt := fmt.Sprintf("UPDATE download_db_table SET %s = replace(%s, ?, ?)", column, column)
			if _, err := tx.Exec(stmt, units[0], units[1]); err != nil {
				return fmt.Errorf("unit migration: %w", err)
			}
		}
	}
	return tx.Commit()
}

// chunked runs fn once per item inside transactions of chunkSize rows.
func (s *Store) chunked(n int, fn func(tx *sql.Tx, i int) error) error {
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		for i := start; i < end; i++ {
			if err := fn(tx, i); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	return nil
}
