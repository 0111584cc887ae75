package bookmarks

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/m0o0scar/nenya/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is written to PRAGMA user_version after the
// schema is applied.
const currentSchemaVersion = 1

// SQLiteStore keeps the bookmark tree in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open creates or opens a bookmark database at path, applying pragmas
// and the schema. Safe to call on an existing database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening bookmark db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to bookmark db: %w", err)
	}

	// SQLite allows one writer. A single connection also keeps the
	// foreign_keys pragma in effect for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying bookmark schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting schema version: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("node %q: %w", id, apperrors.ErrNotFound)
	}

	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

type nodeRow struct {
	id       int64
	parentID sql.NullInt64
	position int
	title    string
	url      sql.NullString
}

func (r nodeRow) node() *Node {
	n := &Node{
		ID:    formatID(r.id),
		Index: r.position,
		Title: r.title,
		URL:   r.url.String,
	}
	if r.parentID.Valid {
		n.ParentID = formatID(r.parentID.Int64)
	}

	return n
}

func scanNodes(rows *sql.Rows) ([]nodeRow, error) {
	defer rows.Close()

	var out []nodeRow

	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.id, &r.parentID, &r.position, &r.title, &r.url); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// Subtree reads a node and all its descendants in one query, then wires
// children in a second pass.
func (s *SQLiteStore) Subtree(ctx context.Context, id string) (*Node, error) {
	rootID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN sub ON n.parent_id = sub.id
		)
		SELECT n.id, n.parent_id, n.position, n.title, n.url
		FROM nodes n JOIN sub ON n.id = sub.id
		ORDER BY n.parent_id, n.position`, rootID)
	if err != nil {
		return nil, fmt.Errorf("reading subtree %s: %w", id, err)
	}

	found, err := scanNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("reading subtree %s: %w", id, err)
	}

	byID := make(map[int64]*Node, len(found))
	for _, r := range found {
		byID[r.id] = r.node()
	}

	root, ok := byID[rootID]
	if !ok {
		return nil, fmt.Errorf("subtree %s: %w", id, apperrors.ErrNotFound)
	}

	for _, r := range found {
		if r.id == rootID || !r.parentID.Valid {
			continue
		}

		if parent, ok := byID[r.parentID.Int64]; ok {
			parent.Children = append(parent.Children, byID[r.id])
		}
	}

	return root, nil
}

// Children lists the immediate children of a node in position order.
func (s *SQLiteStore) Children(ctx context.Context, id string) ([]*Node, error) {
	parentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, position, title, url FROM nodes WHERE parent_id = ? ORDER BY position`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", id, err)
	}

	found, err := scanNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", id, err)
	}

	out := make([]*Node, 0, len(found))
	for _, r := range found {
		out = append(out, r.node())
	}

	return out, nil
}

// CreateFolder appends a folder to parentID.
func (s *SQLiteStore) CreateFolder(ctx context.Context, parentID, title string) (*Node, error) {
	return s.insert(ctx, parentID, title, sql.NullString{})
}

// CreateBookmark appends a bookmark to parentID.
func (s *SQLiteStore) CreateBookmark(ctx context.Context, parentID, title, url string) (*Node, error) {
	if url == "" {
		return nil, errors.New("bookmark url must not be empty")
	}

	return s.insert(ctx, parentID, title, sql.NullString{String: url, Valid: true})
}

func (s *SQLiteStore) insert(ctx context.Context, parentID, title string, url sql.NullString) (*Node, error) {
	pid, err := parseID(parentID)
	if err != nil {
		return nil, err
	}

	var node *Node

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireFolder(ctx, tx, pid); err != nil {
			return err
		}

		pos, err := childCount(ctx, tx, pid, 0)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (parent_id, position, title, url, date_added) VALUES (?, ?, ?, ?, ?)`,
			pid, pos, title, url, time.Now().UnixMilli())
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		node = &Node{ID: formatID(id), ParentID: parentID, Index: pos, Title: title, URL: url.String}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating node %q under %s: %w", title, parentID, err)
	}

	return node, nil
}

// Rename sets the title of a folder or bookmark.
func (s *SQLiteStore) Rename(ctx context.Context, id, title string) error {
	nid, err := parseID(id)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET title = ? WHERE id = ?`, title, nid)
	if err != nil {
		return fmt.Errorf("renaming %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("renaming %s: %w", id, apperrors.ErrNotFound)
	}

	return nil
}

// Move places a node under parentID at index, shifting siblings so
// positions stay contiguous.
func (s *SQLiteStore) Move(ctx context.Context, id, parentID string, index int) error {
	nid, err := parseID(id)
	if err != nil {
		return err
	}

	pid, err := parseID(parentID)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		oldParent, oldPos, err := location(ctx, tx, nid)
		if err != nil {
			return err
		}

		if err := requireFolder(ctx, tx, pid); err != nil {
			return err
		}

		if err := refuseCycle(ctx, tx, nid, pid); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET position = position - 1 WHERE parent_id = ? AND position > ?`,
			oldParent, oldPos); err != nil {
			return err
		}

		count, err := childCount(ctx, tx, pid, nid)
		if err != nil {
			return err
		}

		if index < 0 || index > count {
			index = count
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET position = position + 1 WHERE parent_id = ? AND position >= ? AND id != ?`,
			pid, index, nid); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE nodes SET parent_id = ?, position = ? WHERE id = ?`, pid, index, nid)

		return err
	})
	if err != nil {
		return fmt.Errorf("moving %s to %s[%d]: %w", id, parentID, index, err)
	}

	return nil
}

// RemoveTree deletes a node and its descendants. The seeded top-level
// folders cannot be removed.
func (s *SQLiteStore) RemoveTree(ctx context.Context, id string) error {
	nid, err := parseID(id)
	if err != nil {
		return err
	}

	if id == RootID || id == ToolbarID || id == OtherID {
		return fmt.Errorf("removing %s: built-in folder", id)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		parent, pos, err := location(ctx, tx, nid)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, nid); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE nodes SET position = position - 1 WHERE parent_id = ? AND position > ?`, parent, pos)

		return err
	})
	if err != nil {
		return fmt.Errorf("removing %s: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func location(ctx context.Context, tx *sql.Tx, id int64) (sql.NullInt64, int, error) {
	var (
		parent sql.NullInt64
		pos    int
	)

	err := tx.QueryRowContext(ctx, `SELECT parent_id, position FROM nodes WHERE id = ?`, id).Scan(&parent, &pos)
	if errors.Is(err, sql.ErrNoRows) {
		return parent, 0, fmt.Errorf("node %d: %w", id, apperrors.ErrNotFound)
	}

	return parent, pos, err
}

func requireFolder(ctx context.Context, tx *sql.Tx, id int64) error {
	var url sql.NullString

	err := tx.QueryRowContext(ctx, `SELECT url FROM nodes WHERE id = ?`, id).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("parent %d: %w", id, apperrors.ErrNotFound)
	}

	if err != nil {
		return err
	}

	if url.Valid {
		return fmt.Errorf("parent %d is a bookmark, not a folder", id)
	}

	return nil
}

// refuseCycle fails when target is id itself or one of its descendants.
func refuseCycle(ctx context.Context, tx *sql.Tx, id, target int64) error {
	var hits int

	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN sub ON n.parent_id = sub.id
		)
		SELECT COUNT(*) FROM sub WHERE id = ?`, id, target).Scan(&hits)
	if err != nil {
		return err
	}

	if hits > 0 {
		return fmt.Errorf("cannot move node %d into its own subtree", id)
	}

	return nil
}

func childCount(ctx context.Context, tx *sql.Tx, parent, exclude int64) (int, error) {
	var n int

	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE parent_id = ? AND id != ?`, parent, exclude).Scan(&n)

	return n, err
}
