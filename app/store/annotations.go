package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"casefile/app/interfaces"

	"github.com/google/uuid"
)

// keyChunk bounds the number of row keys bound into one IN list.
const keyChunk = 500

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func keyArgs(keys []int64) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

// requireRowsTx fails with ErrUnknownRow unless every key names a row.
func requireRowsTx(ctx context.Context, tx *sql.Tx, keys []int64) error {
	distinct := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		distinct[k] = struct{}{}
	}
	uniq := make([]int64, 0, len(distinct))
	for k := range distinct {
		uniq = append(uniq, k)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	for start := 0; start < len(uniq); start += keyChunk {
		part := uniq[start:min(start+keyChunk, len(uniq))]
		var found int
		q := "SELECT COUNT(*) FROM " + RowsTable + " WHERE _rk IN (" + placeholders(len(part)) + ")"
		if err := tx.QueryRowContext(ctx, q, keyArgs(part)...).Scan(&found); err != nil {
			return fmt.Errorf("failed to check row keys: %w", err)
		}
		if found == len(part) {
			continue
		}
		// name the first missing key
		for _, k := range part {
			var one int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM "+RowsTable+" WHERE _rk = ?", k).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %d", ErrUnknownRow, k)
			}
			if err != nil {
				return fmt.Errorf("failed to check row keys: %w", err)
			}
		}
	}
	return nil
}

// ToggleBookmark flips the bookmark on one row and returns the new state.
// An unknown key fails with ErrUnknownRow.
func (s *Store) ToggleBookmark(ctx context.Context, key int64) (bool, error) {
	var on bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireRowsTx(ctx, tx, []int64{key}); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM bookmarks WHERE rk = ?", key)
		if err != nil {
			return fmt.Errorf("failed to toggle bookmark: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO bookmarks (rk) VALUES (?)", key); err != nil {
			return fmt.Errorf("failed to toggle bookmark: %w", err)
		}
		on = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.annotationVersion.Add(1)
	return on, nil
}

// SetBookmarks sets or clears the bookmark on many rows in one transaction.
// Nothing changes when any key is unknown.
func (s *Store) SetBookmarks(ctx context.Context, keys []int64, on bool) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireRowsTx(ctx, tx, keys); err != nil {
			return err
		}
		return setBookmarksTx(ctx, tx, keys, on)
	})
	if err != nil {
		return err
	}
	s.annotationVersion.Add(1)
	return nil
}

func setBookmarksTx(ctx context.Context, tx *sql.Tx, keys []int64, on bool) error {
	stmtText := "DELETE FROM bookmarks WHERE rk = ?"
	if on {
		stmtText = "INSERT OR IGNORE INTO bookmarks (rk) VALUES (?)"
	}
	stmt, err := tx.PrepareContext(ctx, stmtText)
	if err != nil {
		return fmt.Errorf("failed to prepare bookmark update: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return fmt.Errorf("failed to update bookmark %d: %w", k, err)
		}
	}
	return nil
}

// BookmarkedAmong returns which of keys are bookmarked, ascending.
func (s *Store) BookmarkedAmong(ctx context.Context, keys []int64) ([]int64, error) {
	out := []int64{}
	for start := 0; start < len(keys); start += keyChunk {
		end := min(start+keyChunk, len(keys))
		part := keys[start:end]
		rows, err := s.QueryContext(ctx, "SELECT rk FROM bookmarks WHERE rk IN ("+placeholders(len(part))+")", keyArgs(part)...)
		if err != nil {
			return nil, fmt.Errorf("failed to read bookmarks: %w", err)
		}
		for rows.Next() {
			var k int64
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Bookmarks returns every bookmarked key, ascending.
func (s *Store) Bookmarks(ctx context.Context) ([]int64, error) {
	rows, err := s.QueryContext(ctx, "SELECT rk FROM bookmarks ORDER BY rk")
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// AddTag attaches tag to every key in one transaction. Nothing changes when
// any key is unknown.
func (s *Store) AddTag(ctx context.Context, keys []int64, tag string) error {
	return s.updateTags(ctx, "INSERT OR IGNORE INTO tags (rk, tag) VALUES (?, ?)", keys, tag)
}

// RemoveTag detaches tag from every key in one transaction.
func (s *Store) RemoveTag(ctx context.Context, keys []int64, tag string) error {
	return s.updateTags(ctx, "DELETE FROM tags WHERE rk = ? AND tag = ?", keys, tag)
}

func (s *Store) updateTags(ctx context.Context, stmtText string, keys []int64, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("tag name cannot be empty")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireRowsTx(ctx, tx, keys); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, stmtText)
		if err != nil {
			return fmt.Errorf("failed to prepare tag update: %w", err)
		}
		defer stmt.Close()
		for _, k := range keys {
			if _, err := stmt.ExecContext(ctx, k, tag); err != nil {
				return fmt.Errorf("failed to update tag on row %d: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.annotationVersion.Add(1)
	return nil
}

// TagsAmong returns the tags of the given keys. Untagged keys are absent.
func (s *Store) TagsAmong(ctx context.Context, keys []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	for start := 0; start < len(keys); start += keyChunk {
		end := min(start+keyChunk, len(keys))
		part := keys[start:end]
		q := "SELECT rk, tag FROM tags WHERE rk IN (" + placeholders(len(part)) + ") ORDER BY rk, tag"
		if err := s.scanTags(ctx, out, q, keyArgs(part)...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Tags returns every tag assignment.
func (s *Store) Tags(ctx context.Context) (map[int64][]string, error) {
	out := make(map[int64][]string)
	if err := s.scanTags(ctx, out, "SELECT rk, tag FROM tags ORDER BY rk, tag"); err != nil {
		return nil, err
	}
	return out, nil
}

// TagNames returns the distinct tag names in use, sorted.
func (s *Store) TagNames(ctx context.Context) ([]string, error) {
	rows, err := s.QueryContext(ctx, "SELECT DISTINCT tag FROM tags ORDER BY tag")
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) scanTags(ctx context.Context, out map[int64][]string, q string, args ...any) error {
	rows, err := s.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to read tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k int64
		var t string
		if err := rows.Scan(&k, &t); err != nil {
			return err
		}
		out[k] = append(out[k], t)
	}
	return rows.Err()
}

// RestoreAnnotations replaces all bookmarks and tags in one transaction.
// Keys that do not name an existing row are skipped.
func (s *Store) RestoreAnnotations(ctx context.Context, bookmarks []int64, tags map[int64][]string) error {
	maxKey := s.RowCount()
	valid := func(k int64) bool { return k >= 1 && k <= maxKey }
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM bookmarks"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tags"); err != nil {
			return err
		}
		keep := make([]int64, 0, len(bookmarks))
		for _, k := range bookmarks {
			if valid(k) {
				keep = append(keep, k)
			}
		}
		if err := setBookmarksTx(ctx, tx, keep, true); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO tags (rk, tag) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for k, names := range tags {
			if !valid(k) {
				continue
			}
			for _, name := range names {
				if name = strings.TrimSpace(name); name == "" {
					continue
				}
				if _, err := stmt.ExecContext(ctx, k, name); err != nil {
					return fmt.Errorf("failed to restore tag on row %d: %w", k, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore annotations: %w", err)
	}
	s.annotationVersion.Add(1)
	return nil
}

// HighlightRules returns the stored rules in display order.
func (s *Store) HighlightRules(ctx context.Context) ([]interfaces.HighlightRule, error) {
	rows, err := s.QueryContext(ctx, `SELECT id, position, column_name, condition, value, foreground, background
		FROM highlight_rules ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read highlight rules: %w", err)
	}
	defer rows.Close()
	out := []interfaces.HighlightRule{}
	for rows.Next() {
		var r interfaces.HighlightRule
		if err := rows.Scan(&r.ID, &r.Order, &r.Column, &r.Condition, &r.Value, &r.Foreground, &r.Background); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveHighlightRule inserts or updates a rule. A rule without an ID gets one.
func (s *Store) SaveHighlightRule(ctx context.Context, rule interfaces.HighlightRule) (interfaces.HighlightRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRuleTx(ctx, tx, rule)
	})
	if err != nil {
		return rule, fmt.Errorf("failed to save highlight rule: %w", err)
	}
	return rule, nil
}

// DeleteHighlightRule removes a rule by ID.
func (s *Store) DeleteHighlightRule(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM highlight_rules WHERE id = ?", id)
		return err
	})
}

// ReplaceHighlightRules swaps the whole rule list in one transaction. Rule
// order follows the slice.
func (s *Store) ReplaceHighlightRules(ctx context.Context, rules []interfaces.HighlightRule) ([]interfaces.HighlightRule, error) {
	saved := make([]interfaces.HighlightRule, len(rules))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM highlight_rules"); err != nil {
			return err
		}
		for i, r := range rules {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			r.Order = i
			if err := upsertRuleTx(ctx, tx, r); err != nil {
				return err
			}
			saved[i] = r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace highlight rules: %w", err)
	}
	return saved, nil
}

func upsertRuleTx(ctx context.Context, tx *sql.Tx, r interfaces.HighlightRule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO highlight_rules (id, position, column_name, condition, value, foreground, background)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET position = excluded.position, column_name = excluded.column_name,
			condition = excluded.condition, value = excluded.value,
			foreground = excluded.foreground, background = excluded.background`,
		r.ID, r.Order, r.Column, r.Condition, r.Value, r.Foreground, r.Background)
	return err
}
