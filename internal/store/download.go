package store

import (
	"database/sql"
	"fmt"

	"github.com/ahmed-tasaly/ghermez/pkg/credman"
)

// InsertDownloads adds new download rows in chunked transactions and
// appends their GIDs to the owning category's membership list and to
// "All Downloads". Inserts are idempotent on GID, so a partially
// committed batch can be resubmitted whole.
func (s *Store) InsertDownloads(downloads []Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.chunked(len(downloads), func(tx *sql.Tx, i int) error {
		d := downloads[i]
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO download_db_table VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.FileName, d.Status, d.Size, d.DownloadedSize, d.Percent,
			d.Connections, d.Rate, d.EstimateTimeLeft, d.GID, d.Link,
			d.FirstTryDate, d.LastTryDate, d.Category,
		)
		if err != nil {
			return fmt.Errorf("insert download %s: %w", d.GID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Membership bookkeeping per owning category plus the catch-all.
	byCategory := make(map[string][]string)
	for _, d := range downloads {
		byCategory[d.Category] = append(byCategory[d.Category], d.GID)
		if d.Category != CategoryAll {
			byCategory[CategoryAll] = append(byCategory[CategoryAll], d.GID)
		}
	}
	for category, gids := range byCategory {
		if err := s.appendToGIDList(category, gids); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendToGIDList(category string, gids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin membership update: %w", err)
	}
	defer tx.Rollback()

	var encoded string
	err = tx.QueryRow(`SELECT gid_list FROM category_db_table WHERE category = ?`, category).
		Scan(&encoded)
	if err == sql.ErrNoRows {
		return fmt.Errorf("append to %s: category not found", category)
	}
	if err != nil {
		return fmt.Errorf("append to %s: %w", category, err)
	}
	list := decodeGIDList(encoded)
	for _, gid := range gids {
		if !containsGID(list, gid) {
			list = append(list, gid)
		}
	}
	if _, err := tx.Exec(`UPDATE category_db_table SET gid_list = ? WHERE category = ?`,
		encodeGIDList(list), category); err != nil {
		return fmt.Errorf("append to %s: %w", category, err)
	}
	return tx.Commit()
}

// Download returns one row by GID, reporting absence explicitly.
func (s *Store) Download(gid string) (Download, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Download
	err := s.db.QueryRow(`SELECT * FROM download_db_table WHERE gid = ?`, gid).Scan(
		&d.FileName, &d.Status, &d.Size, &d.DownloadedSize, &d.Percent,
		&d.Connections, &d.Rate, &d.EstimateTimeLeft, &d.GID, &d.Link,
		&d.FirstTryDate, &d.LastTryDate, &d.Category,
	)
	if err == sql.ErrNoRows {
		return Download{}, false, nil
	}
	if err != nil {
		return Download{}, false, fmt.Errorf("search download %s: %w", gid, err)
	}
	return d, true, nil
}

// Downloads returns rows keyed by GID. An empty category matches all.
func (s *Store) Downloads(category string) (map[string]Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT * FROM download_db_table`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Download)
	for rows.Next() {
		var d Download
		if err := rows.Scan(
			&d.FileName, &d.Status, &d.Size, &d.DownloadedSize, &d.Percent,
			&d.Connections, &d.Rate, &d.EstimateTimeLeft, &d.GID, &d.Link,
			&d.FirstTryDate, &d.LastTryDate, &d.Category,
		); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		out[d.GID] = d
	}
	return out, rows.Err()
}

// UpdateDownloads applies partial updates in chunked transactions.
// Fields left nil keep their stored value.
func (s *Store) UpdateDownloads(patches []DownloadPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunked(len(patches), func(tx *sql.Tx, i int) error {
		p := patches[i]
		_, err := tx.Exec(`
			UPDATE download_db_table SET
				file_name = coalesce(?, file_name),
				status = coalesce(?, status),
				size = coalesce(?, size),
				downloaded_size = coalesce(?, downloaded_size),
				percent = coalesce(?, percent),
				connections = coalesce(?, connections),
				rate = coalesce(?, rate),
				estimate_time_left = coalesce(?, estimate_time_left),
				link = coalesce(?, link),
				first_try_date = coalesce(?, first_try_date),
				last_try_date = coalesce(?, last_try_date),
				category = coalesce(?, category)
			WHERE gid = ?`,
			p.FileName, p.Status, p.Size, p.DownloadedSize, p.Percent,
			p.Connections, p.Rate, p.EstimateTimeLeft, p.Link,
			p.FirstTryDate, p.LastTryDate, p.Category, p.GID,
		)
		if err != nil {
			return fmt.Errorf("update download %s: %w", p.GID, err)
		}
		return nil
	})
}

// DeleteDownload removes one row and strips its GID from the owning
// category's membership list and from "All Downloads", all in one
// transaction, so lists never reference a deleted row.
func (s *Store) DeleteDownload(gid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete download: %w", err)
	}
	defer tx.Rollback()

	var category string
	err = tx.QueryRow(`SELECT category FROM download_db_table WHERE gid = ?`, gid).
		Scan(&category)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete download %s: %w", gid, err)
	}

	var token string
	err = tx.QueryRow(`SELECT token FROM addlink_db_table WHERE gid = ?`, gid).
		Scan(&token)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("delete download %s: %w", gid, err)
	}

	for _, name := range []string{category, CategoryAll} {
		var encoded string
		if err := tx.QueryRow(
			`SELECT gid_list FROM category_db_table WHERE category = ?`, name).
			Scan(&encoded); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return fmt.Errorf("delete download %s: %w", gid, err)
		}
		list := removeGID(decodeGIDList(encoded), gid)
		if _, err := tx.Exec(
			`UPDATE category_db_table SET gid_list = ? WHERE category = ?`,
			encodeGIDList(list), name); err != nil {
			return fmt.Errorf("delete download %s: %w", gid, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM download_db_table WHERE gid = ?`, gid); err != nil {
		return fmt.Errorf("delete download %s: %w", gid, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if token != "" {
		if err := credman.Delete(token); err != nil {
			s.log.Warning("store: drop secrets for %s: %v", gid, err)
		}
	}
	return nil
}

// ActiveDownloads returns GIDs in non-terminal states, optionally
// filtered by category.
func (s *Store) ActiveDownloads(category string) ([]string, error) {
	query := `SELECT gid FROM download_db_table
		WHERE status IN ('downloading', 'waiting', 'scheduled', 'paused')`
	var args []interface{}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	return s.gidQuery(query, args...)
}

// DownloadingItems returns GIDs with "downloading" or "waiting" status.
func (s *Store) DownloadingItems() ([]string, error) {
	return s.gidQuery(`SELECT gid FROM download_db_table
		WHERE status IN ('downloading', 'waiting')`)
}

// PausedItems returns GIDs with "paused" status.
func (s *Store) PausedItems() ([]string, error) {
	return s.gidQuery(`SELECT gid FROM download_db_table WHERE status = 'paused'`)
}

func (s *Store) gidQuery(query string, args ...interface{}) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gids: %w", err)
	}
	defer rows.Close()

	var gids []string
	for rows.Next() {
		var gid string
		if err := rows.Scan(&gid); err != nil {
			return nil, fmt.Errorf("scan gid: %w", err)
		}
		gids = append(gids, gid)
	}
	return gids, rows.Err()
}
