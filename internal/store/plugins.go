package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// PluginsStore is the hand-off queue between browser extensions and
// the main process. Extensions append rows tagged "new"; the daemon
// drains them, marks them "old" and evicts old rows later.
type PluginsStore struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenPlugins(path string) (*PluginsStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plugins database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS plugins_db_table(
			ID INTEGER PRIMARY KEY,
			link TEXT,
			referer TEXT,
			load_cookies TEXT,
			user_agent TEXT,
			header TEXT,
			out TEXT,
			status TEXT
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create plugins table: %w", err)
	}
	return &PluginsStore{db: db}, nil
}

func (p *PluginsStore) Close() error {
	return p.db.Close()
}

// Add appends submissions tagged "new" in chunked transactions.
func (p *PluginsStore) Add(links []PluginLink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for start := 0; start < len(links); start += chunkSize {
		end := start + chunkSize
		if end > len(links) {
			end = len(links)
		}
		tx, err := p.db.Begin()
		if err != nil {
			return fmt.Errorf("begin plugin batch: %w", err)
		}
		for _, l := range links[start:end] {
			if _, err := tx.Exec(`
				INSERT INTO plugins_db_table VALUES (NULL, ?, ?, ?, ?, ?, ?, 'new')`,
				l.Link, l.Referer, l.LoadCookies, l.UserAgent, l.Header, l.Out,
			); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert plugin link: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit plugin batch: %w", err)
		}
	}
	return nil
}

// DrainNew returns all "new" submissions and marks them "old" in the
// same transaction, so each submission is handed out once.
func (p *PluginsStore) DrainNew() ([]PluginLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, err := p.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT link, referer, load_cookies, user_agent, header, out
		FROM plugins_db_table WHERE status = 'new'`)
	if err != nil {
		return nil, fmt.Errorf("drain plugin links: %w", err)
	}
	var links []PluginLink
	for rows.Next() {
		var l PluginLink
		if err := rows.Scan(&l.Link, &l.Referer, &l.LoadCookies,
			&l.UserAgent, &l.Header, &l.Out); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan plugin link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.Exec(`
		UPDATE plugins_db_table SET status = 'old' WHERE status = 'new'`); err != nil {
		return nil, fmt.Errorf("mark plugin links old: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}
	return links, nil
}

// Evict deletes rows already handed out.
func (p *PluginsStore) Evict() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.db.Exec(`DELETE FROM plugins_db_table WHERE status = 'old'`); err != nil {
		return fmt.Errorf("evict plugin links: %w", err)
	}
	return nil
}
