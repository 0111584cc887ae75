// Package bookmarks holds the local bookmark tree: the Store interface
// the mirror reconciles against, and a SQLite implementation laid out
// like a browser's bookmark database.
package bookmarks

import "context"

// Well-known folder ids seeded into every SQLiteStore.
const (
	RootID    = "1"
	ToolbarID = "2"
	OtherID   = "3"
)

// Node is a folder (empty URL) or a bookmark, with its children when
// read through Subtree.
type Node struct {
	ID       string  `json:"id"`
	ParentID string  `json:"parentId,omitempty"`
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	URL      string  `json:"url,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool {
	return n.URL == ""
}

// Store is a hierarchical bookmark store. Positions are zero-based and
// contiguous among siblings.
type Store interface {
	// Subtree reads the node with all descendants. A missing id returns
	// an error wrapping errors.ErrNotFound.
	Subtree(ctx context.Context, id string) (*Node, error)
	// Children lists the immediate children of a folder in order.
	Children(ctx context.Context, id string) ([]*Node, error)
	CreateFolder(ctx context.Context, parentID, title string) (*Node, error)
	CreateBookmark(ctx context.Context, parentID, title, url string) (*Node, error)
	Rename(ctx context.Context, id, title string) error
	// Move places a node under parentID at index. A negative index
	// appends.
	Move(ctx context.Context, id, parentID string, index int) error
	// RemoveTree deletes the node and everything below it.
	RemoveTree(ctx context.Context, id string) error
}
