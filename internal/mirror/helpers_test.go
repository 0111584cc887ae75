package mirror

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/m0o0scar/nenya/internal/bookmarks"
	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.DiscardHandler)

func testStore(t *testing.T) *bookmarks.SQLiteStore {
	t.Helper()
	s, err := bookmarks.Open(filepath.Join(t.TempDir(), "bookmarks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustFolder(t *testing.T, s bookmarks.Store, parentID, title string) string {
	t.Helper()
	n, err := s.CreateFolder(context.Background(), parentID, title)
	require.NoError(t, err)
	return n.ID
}

func mustBookmark(t *testing.T, s bookmarks.Store, parentID, title, url string) string {
	t.Helper()
	n, err := s.CreateBookmark(context.Background(), parentID, title, url)
	require.NoError(t, err)
	return n.ID
}

func childTitles(t *testing.T, s bookmarks.Store, id string) []string {
	t.Helper()
	children, err := s.Children(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(children))
	for _, c := range children {
		out = append(out, c.Title)
	}
	return out
}

func findChild(t *testing.T, s bookmarks.Store, parentID, title string) string {
	t.Helper()
	children, err := s.Children(context.Background(), parentID)
	require.NoError(t, err)
	for _, c := range children {
		if c.Title == title {
			return c.ID
		}
	}
	t.Fatalf("no child %q under %s", title, parentID)
	return ""
}

func coll(id int64, title string, sort int64) raindrop.Collection {
	return raindrop.Collection{ID: raindrop.ID(id), Title: title, Sort: sort}
}

func child(id int64, title string, sort, parent int64) raindrop.Collection {
	c := coll(id, title, sort)
	c.Parent = &raindrop.Ref{ID: raindrop.ID(parent)}
	return c
}

func group(title string, ids ...int64) raindrop.Group {
	g := raindrop.Group{Title: title}
	for _, id := range ids {
		g.Collections = append(g.Collections, raindrop.ID(id))
	}
	return g
}

func item(id int64, link, title string, collection int64) raindrop.Item {
	return raindrop.Item{
		ID:         raindrop.ID(id),
		Link:       link,
		Title:      title,
		Collection: raindrop.Ref{ID: raindrop.ID(collection)},
	}
}

// failingStore wraps a Store and fails selected operations by node id.
type failingStore struct {
	bookmarks.Store
	failRemove map[string]bool
	failMove   map[string]bool
}

var errInjected = errors.New("injected failure")

func (f *failingStore) RemoveTree(ctx context.Context, id string) error {
	if f.failRemove[id] {
		return errInjected
	}
	return f.Store.RemoveTree(ctx, id)
}

func (f *failingStore) Move(ctx context.Context, id, parentID string, index int) error {
	if f.failMove[id] {
		return errInjected
	}
	return f.Store.Move(ctx, id, parentID, index)
}

// countingStore records mutating calls.
type countingStore struct {
	bookmarks.Store
	creates, renames, moves, removes int
}

func (c *countingStore) CreateFolder(ctx context.Context, parentID, title string) (*bookmarks.Node, error) {
	c.creates++
	return c.Store.CreateFolder(ctx, parentID, title)
}

func (c *countingStore) CreateBookmark(ctx context.Context, parentID, title, url string) (*bookmarks.Node, error) {
	c.creates++
	return c.Store.CreateBookmark(ctx, parentID, title, url)
}

func (c *countingStore) Rename(ctx context.Context, id, title string) error {
	c.renames++
	return c.Store.Rename(ctx, id, title)
}

func (c *countingStore) Move(ctx context.Context, id, parentID string, index int) error {
	c.moves++
	return c.Store.Move(ctx, id, parentID, index)
}

func (c *countingStore) RemoveTree(ctx context.Context, id string) error {
	c.removes++
	return c.Store.RemoveTree(ctx, id)
}

type fakeRemote struct {
	roots    []raindrop.Collection
	children []raindrop.Collection
	groups   []raindrop.Group
	items    []raindrop.Item
	err      error
}

func (f *fakeRemote) ListRootCollections(context.Context) ([]raindrop.Collection, error) {
	return f.roots, f.err
}

func (f *fakeRemote) ListChildCollections(context.Context) ([]raindrop.Collection, error) {
	return f.children, f.err
}

func (f *fakeRemote) ListGroups(context.Context) ([]raindrop.Group, error) {
	return f.groups, f.err
}

func (f *fakeRemote) FetchItems(context.Context, int64) ([]raindrop.Item, error) {
	return f.items, f.err
}

type fakeSide struct {
	roots   map[string]string
	folders map[int64]string
}

func newFakeSide() *fakeSide {
	return &fakeSide{roots: make(map[string]string)}
}

func (f *fakeSide) RootFolderID(title string) string { return f.roots[title] }

func (f *fakeSide) SetRootFolderID(title, id string) error {
	f.roots[title] = id
	return nil
}

func (f *fakeSide) ReplaceCollectionFolders(m map[int64]string) error {
	f.folders = m
	return nil
}
