package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahmed-tasaly/ghermez/pkg/credman"
)

// InsertLinkRequests stores add-link form state in chunked
// transactions. Each row gets a fresh token unless the caller set one.
// Passwords never reach sqlite: they go to the OS keyring under the
// row's token.
func (s *Store) InsertLinkRequests(requests []LinkRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunked(len(requests), func(tx *sql.Tx, i int) error {
		r := requests[i]
		token := r.Token
		if token == "" {
			token = uuid.NewString()
		}
		_, err := tx.Exec(`
			INSERT INTO addlink_db_table VALUES (NULL,
				?, ?, ?, ?, ?, ?, ?, ?, ?,
				?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			token, r.GID, r.Out, r.StartTime, r.EndTime, r.Link, r.IP, r.Port,
			r.ProxyUser, r.DownloadUser, r.Connections, r.LimitValue,
			r.DownloadPath, r.Referer, r.LoadCookies, r.UserAgent, r.Header,
			r.AfterDownload,
		)
		if err != nil {
			return fmt.Errorf("insert link request %s: %w", r.GID, err)
		}
		secrets := credman.Credentials{
			DownloadPassword: r.DownloadPassword,
			ProxyPassword:    r.ProxyPassword,
		}
		if !secrets.Empty() {
			if err := credman.Save(token, secrets); err != nil {
				return fmt.Errorf("store secrets for %s: %w", r.GID, err)
			}
		}
		return nil
	})
}

// LinkRequestByGID returns the stored form state for one download.
func (s *Store) LinkRequestByGID(gid string) (LinkRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r LinkRequest
	var id int64
	err := s.db.QueryRow(`SELECT * FROM addlink_db_table WHERE gid = ?`, gid).Scan(
		&id, &r.Token, &r.GID, &r.Out, &r.StartTime, &r.EndTime, &r.Link,
		&r.IP, &r.Port, &r.ProxyUser, &r.DownloadUser, &r.Connections,
		&r.LimitValue, &r.DownloadPath, &r.Referer, &r.LoadCookies,
		&r.UserAgent, &r.Header, &r.AfterDownload,
	)
	if err == sql.ErrNoRows {
		return LinkRequest{}, false, nil
	}
	if err != nil {
		return LinkRequest{}, false, fmt.Errorf("search link request %s: %w", gid, err)
	}
	return r, true, nil
}

// HasLink reports whether any stored request already uses this link.
func (s *Store) HasLink(link string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(
		`SELECT count(*) FROM addlink_db_table WHERE link = ?`, link).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("search link: %w", err)
	}
	return n > 0, nil
}

// LinkRequests returns all stored requests keyed by GID.
func (s *Store) LinkRequests() (map[string]LinkRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT * FROM addlink_db_table`)
	if err != nil {
		return nil, fmt.Errorf("list link requests: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LinkRequest)
	for rows.Next() {
		var r LinkRequest
		var id int64
		if err := rows.Scan(
			&id, &r.Token, &r.GID, &r.Out, &r.StartTime, &r.EndTime, &r.Link,
			&r.IP, &r.Port, &r.ProxyUser, &r.DownloadUser, &r.Connections,
			&r.LimitValue, &r.DownloadPath, &r.Referer, &r.LoadCookies,
			&r.UserAgent, &r.Header, &r.AfterDownload,
		); err != nil {
			return nil, fmt.Errorf("scan link request: %w", err)
		}
		out[r.GID] = r
	}
	return out, rows.Err()
}

// UpdateLinkRequests applies partial updates in chunked transactions.
func (s *Store) UpdateLinkRequests(patches []LinkRequestPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunked(len(patches), func(tx *sql.Tx, i int) error {
		p := patches[i]
		_, err := tx.Exec(`
			UPDATE addlink_db_table SET
				out = coalesce(?, out),
				start_time = coalesce(?, start_time),
				end_time = coalesce(?, end_time),
				link = coalesce(?, link),
				ip = coalesce(?, ip),
				port = coalesce(?, port),
				proxy_user = coalesce(?, proxy_user),
				download_user = coalesce(?, download_user),
				connections = coalesce(?, connections),
				limit_value = coalesce(?, limit_value),
				download_path = coalesce(?, download_path),
				referer = coalesce(?, referer),
				load_cookies = coalesce(?, load_cookies),
				user_agent = coalesce(?, user_agent),
				header = coalesce(?, header),
				after_download = coalesce(?, after_download)
			WHERE gid = ?`,
			p.Out, p.StartTime, p.EndTime, p.Link, p.IP, p.Port,
			p.ProxyUser, p.DownloadUser, p.Connections, p.LimitValue,
			p.DownloadPath, p.Referer, p.LoadCookies, p.UserAgent,
			p.Header, p.AfterDownload, p.GID,
		)
		if err != nil {
			return fmt.Errorf("update link request %s: %w", p.GID, err)
		}
		return nil
	})
}

// ClearOneShot nulls the scheduling fields that must fire only once
// for a download: start time, end time and the after-download action.
func (s *Store) ClearOneShot(gid string, startTime, endTime, afterDownload bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear := func(column string) error {
		stmt := fmt.Sprintf("UPDATE addlink_db_table SET %s = NULL WHERE gid = ?", column)
		if _, err := s.db.Exec(stmt, gid); err != nil {
			return fmt.Errorf("clear %s for %s: %w", column, gid, err)
		}
		return nil
	}
	if startTime {
		if err := clear("start_time"); err != nil {
			return err
		}
	}
	if endTime {
		if err := clear("end_time"); err != nil {
			return err
		}
	}
	if afterDownload {
		if err := clear("after_download"); err != nil {
			return err
		}
	}
	return nil
}
