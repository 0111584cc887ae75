package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/m0o0scar/nenya/internal/bookmarks"
	apperrors "github.com/m0o0scar/nenya/internal/errors"
	"golang.org/x/text/unicode/norm"
)

// LocalFolder is a folder under the synchronized root. PathSegments lists
// normalized ancestor titles below the root, ending with this folder.
type LocalFolder struct {
	ID           string
	ParentID     string
	Title        string
	PathSegments []string
	Depth        int
}

// LocalBookmark is a bookmark under the synchronized root, located by its
// parent folder's path.
type LocalBookmark struct {
	ID           string
	ParentID     string
	Title        string
	URL          string
	PathSegments []string
}

// LocalTreeIndex holds pass-scoped lookups over the local tree.
type LocalTreeIndex struct {
	RootID string
	// Folders includes the root itself at depth zero.
	Folders map[string]*LocalFolder
	// ChildrenByParent lists child folder ids in store order.
	ChildrenByParent map[string][]string
	Bookmarks        map[string]*LocalBookmark
	BookmarksByURL   map[string][]string
}

// NormalizeTitle applies NFC and trims whitespace, returning fallback when
// nothing is left.
func NormalizeTitle(title, fallback string) string {
	t := strings.TrimSpace(norm.NFC.String(title))
	if t == "" {
		return fallback
	}

	return t
}

// BuildIndex reads the subtree at anchorID once and indexes it.
func BuildIndex(ctx context.Context, store bookmarks.Store, anchorID, defaultTitle string) (*LocalTreeIndex, error) {
	root, err := store.Subtree(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("reading local root %s: %w", anchorID, err)
	}

	if root == nil {
		return nil, fmt.Errorf("reading local root %s: %w", anchorID, apperrors.ErrNotFound)
	}

	idx := &LocalTreeIndex{
		RootID:           root.ID,
		Folders:          make(map[string]*LocalFolder),
		ChildrenByParent: make(map[string][]string),
		Bookmarks:        make(map[string]*LocalBookmark),
		BookmarksByURL:   make(map[string][]string),
	}

	idx.Folders[root.ID] = &LocalFolder{ID: root.ID, ParentID: root.ParentID, Title: root.Title}

	var walk func(n *bookmarks.Node, path []string)
	walk = func(n *bookmarks.Node, path []string) {
		for _, c := range n.Children {
			if !c.IsFolder() {
				idx.addBookmark(&LocalBookmark{
					ID:           c.ID,
					ParentID:     n.ID,
					Title:        c.Title,
					URL:          c.URL,
					PathSegments: path,
				})

				continue
			}

			childPath := appendPath(path, NormalizeTitle(c.Title, defaultTitle))
			idx.addFolder(&LocalFolder{
				ID:           c.ID,
				ParentID:     n.ID,
				Title:        c.Title,
				PathSegments: childPath,
				Depth:        len(childPath),
			})
			walk(c, childPath)
		}
	}
	walk(root, nil)

	return idx, nil
}

// appendPath copies so sibling paths never share a backing array.
func appendPath(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)

	return append(out, seg)
}

func (idx *LocalTreeIndex) addFolder(f *LocalFolder) {
	idx.Folders[f.ID] = f
	idx.ChildrenByParent[f.ParentID] = append(idx.ChildrenByParent[f.ParentID], f.ID)
}

func (idx *LocalTreeIndex) addBookmark(b *LocalBookmark) {
	idx.Bookmarks[b.ID] = b
	idx.BookmarksByURL[b.URL] = append(idx.BookmarksByURL[b.URL], b.ID)
}

func (idx *LocalTreeIndex) removeBookmark(id string) {
	b, ok := idx.Bookmarks[id]
	if !ok {
		return
	}

	delete(idx.Bookmarks, id)
	idx.BookmarksByURL[b.URL] = without(idx.BookmarksByURL[b.URL], id)

	if len(idx.BookmarksByURL[b.URL]) == 0 {
		delete(idx.BookmarksByURL, b.URL)
	}
}

// removeSubtree drops a folder and everything indexed below it. Bookmarks
// are purged when their path starts with the folder's path and they sit
// inside its subtree; a same-titled sibling keeps its bookmarks.
func (idx *LocalTreeIndex) removeSubtree(id string) (purged int) {
	f, ok := idx.Folders[id]
	if !ok {
		return 0
	}

	gone := map[string]bool{id: true}
	stack := []string{id}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, c := range idx.ChildrenByParent[cur] {
			gone[c] = true
			stack = append(stack, c)
		}
	}

	for bid, b := range idx.Bookmarks {
		if gone[b.ParentID] && hasPrefix(b.PathSegments, f.PathSegments) {
			idx.removeBookmark(bid)
			purged++
		}
	}

	for fid := range gone {
		delete(idx.Folders, fid)
		delete(idx.ChildrenByParent, fid)
	}

	idx.ChildrenByParent[f.ParentID] = without(idx.ChildrenByParent[f.ParentID], id)

	return purged
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}

	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}

	return true
}

func without(ids []string, id string) []string {
	out := ids[:0:0]

	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}

	return out
}
