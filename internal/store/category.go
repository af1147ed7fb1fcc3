package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrBuiltinCategory is returned on an attempt to delete one of the
// categories created by the migration.
var ErrBuiltinCategory = errors.New("built-in categories cannot be deleted")

// AddCategory inserts a new category. Inserting a name that already
// exists is a no-op, so re-submitting the same category is safe.
func (s *Store) AddCategory(c Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCategory(s.db, c)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertCategory(e execer, c Category) error {
	_, err := e.Exec(`
		INSERT OR IGNORE INTO category_db_table VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name,
		boolToYesNo(c.StartTimeEnable),
		c.StartTime,
		boolToYesNo(c.EndTimeEnable),
		c.EndTime,
		boolToYesNo(c.Reverse),
		boolToYesNo(c.LimitEnable),
		c.LimitValue,
		c.AfterDownload,
		encodeGIDList(c.GIDList),
	)
	if err != nil {
		return fmt.Errorf("insert category %s: %w", c.Name, err)
	}
	return nil
}

// Category returns the named category, reporting absence explicitly
// instead of as an error.
func (s *Store) Category(name string) (Category, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanCategory(s.db.QueryRow(
		`SELECT * FROM category_db_table WHERE category = ?`, name))
}

func (s *Store) scanCategory(row *sql.Row) (Category, bool, error) {
	var c Category
	var startEnable, endEnable, reverse, limitEnable, gidList string
	err := row.Scan(&c.Name, &startEnable, &c.StartTime, &endEnable, &c.EndTime,
		&reverse, &limitEnable, &c.LimitValue, &c.AfterDownload, &gidList)
	if err == sql.ErrNoRows {
		return Category{}, false, nil
	}
	if err != nil {
		return Category{}, false, fmt.Errorf("scan category: %w", err)
	}
	c.StartTimeEnable = yesNoToBool(startEnable)
	c.EndTimeEnable = yesNoToBool(endEnable)
	c.Reverse = yesNoToBool(reverse)
	c.LimitEnable = yesNoToBool(limitEnable)
	c.GIDList = decodeGIDList(gidList)
	return c, true, nil
}

// Categories returns all category names in creation order.
func (s *Store) Categories() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT category FROM category_db_table ORDER BY ROWID`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateCategories applies partial updates in chunked transactions.
func (s *Store) UpdateCategories(patches []CategoryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunked(len(patches), func(tx *sql.Tx, i int) error {
		p := patches[i]
		var gidList *string
		if p.GIDList != nil {
			encoded := encodeGIDList(p.GIDList)
			gidList = &encoded
		}
		_, err := tx.Exec(`
			UPDATE category_db_table SET
				start_time_enable = coalesce(?, start_time_enable),
				start_time = coalesce(?, start_time),
				end_time_enable = coalesce(?, end_time_enable),
				end_time = coalesce(?, end_time),
				reverse = coalesce(?, reverse),
				limit_enable = coalesce(?, limit_enable),
				limit_value = coalesce(?, limit_value),
				after_download = coalesce(?, after_download),
				gid_list = coalesce(?, gid_list)
			WHERE category = ?`,
			boolPtrToText(p.StartTimeEnable),
			p.StartTime,
			boolPtrToText(p.EndTimeEnable),
			p.EndTime,
			boolPtrToText(p.Reverse),
			boolPtrToText(p.LimitEnable),
			p.LimitValue,
			p.AfterDownload,
			gidList,
			p.Name,
		)
		if err != nil {
			return fmt.Errorf("update category %s: %w", p.Name, err)
		}
		return nil
	})
}

// DeleteCategory removes a category. Downloads owned by it are removed
// by the cascade, and their GIDs are stripped from the "All Downloads"
// membership list in the same transaction.
func (s *Store) DeleteCategory(name string) error {
	switch name {
	case CategoryAll, CategorySingle, CategoryScheduled:
		return ErrBuiltinCategory
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete category: %w", err)
	}
	defer tx.Rollback()

	var gidList string
	err = tx.QueryRow(`SELECT gid_list FROM category_db_table WHERE category = ?`, name).
		Scan(&gidList)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete category %s: %w", name, err)
	}

	var allList string
	if err := tx.QueryRow(
		`SELECT gid_list FROM category_db_table WHERE category = ?`, CategoryAll).
		Scan(&allList); err != nil {
		return fmt.Errorf("delete category %s: %w", name, err)
	}
	all := decodeGIDList(allList)
	for _, gid := range decodeGIDList(gidList) {
		all = removeGID(all, gid)
	}
	if _, err := tx.Exec(
		`UPDATE category_db_table SET gid_list = ? WHERE category = ?`,
		encodeGIDList(all), CategoryAll); err != nil {
		return fmt.Errorf("delete category %s: %w", name, err)
	}

	if _, err := tx.Exec(
		`DELETE FROM category_db_table WHERE category = ?`, name); err != nil {
		return fmt.Errorf("delete category %s: %w", name, err)
	}
	return tx.Commit()
}
