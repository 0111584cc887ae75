package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/m0o0scar/nenya/internal/bookmarks"
	"github.com/m0o0scar/nenya/internal/raindrop"
)

// RemoteSource is the part of the remote service a mirror pass reads.
// *raindrop.Client satisfies it.
type RemoteSource interface {
	ListRootCollections(ctx context.Context) ([]raindrop.Collection, error)
	ListChildCollections(ctx context.Context) ([]raindrop.Collection, error)
	ListGroups(ctx context.Context) ([]raindrop.Group, error)
	FetchItems(ctx context.Context, collectionID int64) ([]raindrop.Item, error)
}

// SideIndex persists lookups derived from a pass. It is never read back
// as the source of truth, except for the root folder id which is
// re-validated against the store each pass.
type SideIndex interface {
	RootFolderID(title string) string
	SetRootFolderID(title, id string) error
	ReplaceCollectionFolders(m map[int64]string) error
}

// Options configures a Mirror.
type Options struct {
	// ParentID is the store folder that holds the synchronized root.
	ParentID      string
	RootTitle     string
	UnsortedTitle string
}

// Mirror runs complete bookmark mirror passes, one at a time.
type Mirror struct {
	mu sync.Mutex

	remote RemoteSource
	store  bookmarks.Store
	side   SideIndex
	opts   Options
	logger *slog.Logger
	rec    *Reconciler
}

// New creates a Mirror.
func New(remote RemoteSource, store bookmarks.Store, side SideIndex, opts Options, logger *slog.Logger) *Mirror {
	if opts.ParentID == "" {
		opts.ParentID = bookmarks.OtherID
	}

	return &Mirror{
		remote: remote,
		store:  store,
		side:   side,
		opts:   opts,
		logger: logger,
		rec:    NewReconciler(store, opts.UnsortedTitle, logger),
	}
}

// Plan fetches the remote hierarchy and builds the desired structure.
// Remote failures abort.
func (m *Mirror) Plan(ctx context.Context) (*GroupPlan, error) {
	roots, err := m.remote.ListRootCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing root collections: %w", err)
	}

	children, err := m.remote.ListChildCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing child collections: %w", err)
	}

	groups, err := m.remote.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	plan := BuildPlan(roots, children, groups)

	nodes := 0
	plan.Walk(func(*RemoteNode, int) { nodes++ })
	m.logger.Debug("remote plan built",
		slog.Int("groups", len(plan.Groups)),
		slog.Int("collections", nodes),
	)

	return plan, nil
}

// Run performs one pass: remote reads, local index, folder and bookmark
// reconciliation. Everything it reads is fetched before the first local
// mutation, so a remote failure leaves the local tree untouched.
func (m *Mirror) Run(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}

	items, err := m.remote.FetchItems(ctx, raindrop.CollectionAll)
	if err != nil {
		return nil, fmt.Errorf("fetching items: %w", err)
	}

	rootID, err := m.resolveRoot(ctx)
	if err != nil {
		return nil, err
	}

	idx, err := BuildIndex(ctx, m.store, rootID, DefaultFolderTitle)
	if err != nil {
		return nil, err
	}

	res := m.rec.ReconcileFolders(ctx, plan, idx)
	m.rec.ReconcileBookmarks(ctx, idx, res, items)

	if err := m.side.ReplaceCollectionFolders(res.CollectionFolders); err != nil {
		m.logger.Warn("saving collection folder map", slog.String("error", err.Error()))
	}

	m.logger.Info("mirror pass complete",
		slog.String("root", rootID),
		slog.Int("collections", len(res.CollectionFolders)),
		slog.Int("items", len(items)),
		slog.Int("errors", len(res.Errors)),
	)

	return res, nil
}

// resolveRoot finds the synchronized root folder under the configured
// parent, preferring the cached id so a locally renamed root is kept.
func (m *Mirror) resolveRoot(ctx context.Context) (string, error) {
	children, err := m.store.Children(ctx, m.opts.ParentID)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", m.opts.ParentID, err)
	}

	if cached := m.side.RootFolderID(m.opts.RootTitle); cached != "" {
		for _, c := range children {
			if c.ID == cached && c.IsFolder() {
				return c.ID, nil
			}
		}
	}

	want := NormalizeTitle(m.opts.RootTitle, DefaultFolderTitle)

	var rootID string

	for _, c := range children {
		if c.IsFolder() && NormalizeTitle(c.Title, DefaultFolderTitle) == want {
			rootID = c.ID
			break
		}
	}

	if rootID == "" {
		node, err := m.store.CreateFolder(ctx, m.opts.ParentID, want)
		if err != nil {
			return "", fmt.Errorf("creating root folder: %w", err)
		}

		rootID = node.ID
		m.logger.Info("created root folder", slog.String("id", rootID), slog.String("title", want))
	}

	if err := m.side.SetRootFolderID(m.opts.RootTitle, rootID); err != nil {
		m.logger.Warn("caching root folder id", slog.String("error", err.Error()))
	}

	return rootID, nil
}
