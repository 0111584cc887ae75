package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/m0o0scar/nenya/internal/bookmarks"
)

// DefaultFolderTitle replaces empty titles.
const DefaultFolderTitle = "Untitled"

// Stats counts mutations over one pass.
type Stats struct {
	FoldersCreated   int `json:"foldersCreated" yaml:"folders_created"`
	FoldersRemoved   int `json:"foldersRemoved" yaml:"folders_removed"`
	FoldersMoved     int `json:"foldersMoved" yaml:"folders_moved"`
	BookmarksCreated int `json:"bookmarksCreated" yaml:"bookmarks_created"`
	BookmarksUpdated int `json:"bookmarksUpdated" yaml:"bookmarks_updated"`
	BookmarksMoved   int `json:"bookmarksMoved" yaml:"bookmarks_moved"`
	BookmarksDeleted int `json:"bookmarksDeleted" yaml:"bookmarks_deleted"`
}

// OpError records one failed local mutation.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e OpError) Unwrap() error { return e.Err }

// Result summarizes a reconciliation pass.
type Result struct {
	Stats
	// CollectionFolders maps remote collection ids to local folder ids.
	CollectionFolders map[int64]string
	UnsortedFolderID  string
	Errors            []OpError
}

// Reconciler converges the local tree under a root onto a GroupPlan.
// Individual store failures are logged and collected; they never stop the
// rest of the pass.
type Reconciler struct {
	store         bookmarks.Store
	unsortedTitle string
	logger        *slog.Logger
}

// NewReconciler creates a Reconciler. unsortedTitle names the folder that
// receives items outside any collection.
func NewReconciler(store bookmarks.Store, unsortedTitle string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		unsortedTitle: unsortedTitle,
		logger:        logger,
	}
}

// pass carries the per-call state of one folder reconciliation.
type pass struct {
	r   *Reconciler
	idx *LocalTreeIndex
	res *Result

	used    map[string]bool
	desired map[string][]string
}

// ReconcileFolders runs ensure, sweep and ordering against idx, which is
// kept in step with every mutation.
func (r *Reconciler) ReconcileFolders(ctx context.Context, plan *GroupPlan, idx *LocalTreeIndex) *Result {
	p := &pass{
		r:       r,
		idx:     idx,
		res:     &Result{CollectionFolders: make(map[int64]string)},
		used:    map[string]bool{idx.RootID: true},
		desired: make(map[string][]string),
	}

	for _, g := range plan.Groups {
		groupID, err := p.ensureFolder(ctx, idx.RootID, g.Title)
		if err != nil {
			continue
		}

		for _, n := range g.Collections {
			p.ensureNode(ctx, groupID, n)
		}
	}

	if id, err := p.ensureFolder(ctx, idx.RootID, r.unsortedTitle); err == nil {
		p.res.UnsortedFolderID = id
	}

	p.sweep(ctx)
	p.enforceOrder(ctx)

	r.logger.Info("folders reconciled",
		slog.Int("created", p.res.FoldersCreated),
		slog.Int("removed", p.res.FoldersRemoved),
		slog.Int("moved", p.res.FoldersMoved),
		slog.Int("errors", len(p.res.Errors)),
	)

	return p.res
}

func (p *pass) fail(op, id string, err error) {
	p.r.logger.Warn("bookmark store operation failed",
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	p.res.Errors = append(p.res.Errors, OpError{Op: op, ID: id, Err: err})
}

// ensureNode ensures the folder for a collection and, when that worked,
// for each of its children.
func (p *pass) ensureNode(ctx context.Context, parentID string, n *RemoteNode) {
	id, err := p.ensureFolder(ctx, parentID, n.Title)
	if err != nil {
		return
	}

	p.res.CollectionFolders[n.ID] = id

	for _, c := range n.Children {
		p.ensureNode(ctx, id, c)
	}
}

// ensureFolder adopts the first unclaimed child folder of parentID whose
// normalized title matches, renaming it if the stored title differs, or
// creates one. The folder is marked used and appended to the parent's
// desired order.
func (p *pass) ensureFolder(ctx context.Context, parentID, title string) (string, error) {
	want := NormalizeTitle(title, DefaultFolderTitle)
	parent := p.idx.Folders[parentID]

	var found *LocalFolder

	for _, cid := range p.idx.ChildrenByParent[parentID] {
		f := p.idx.Folders[cid]
		if p.used[cid] || NormalizeTitle(f.Title, DefaultFolderTitle) != want {
			continue
		}

		found = f

		break
	}

	if found == nil {
		node, err := p.r.store.CreateFolder(ctx, parentID, want)
		if err != nil {
			p.fail("create folder", parentID, err)
			return "", err
		}

		found = &LocalFolder{ID: node.ID, ParentID: parentID, Title: node.Title}
		p.idx.addFolder(found)
		p.res.FoldersCreated++

		p.r.logger.Debug("created folder",
			slog.String("id", node.ID),
			slog.String("title", want),
		)
	} else if found.Title != want {
		if err := p.r.store.Rename(ctx, found.ID, want); err != nil {
			p.fail("rename folder", found.ID, err)
		} else {
			found.Title = want
		}
	}

	found.PathSegments = appendPath(parent.PathSegments, want)
	found.Depth = len(found.PathSegments)

	p.used[found.ID] = true
	p.desired[parentID] = append(p.desired[parentID], found.ID)

	return found.ID, nil
}

// sweep removes every indexed folder the ensure pass did not touch,
// deepest first.
func (p *pass) sweep(ctx context.Context) {
	var candidates []*LocalFolder

	for id, f := range p.idx.Folders {
		if !p.used[id] {
			candidates = append(candidates, f)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Depth != candidates[j].Depth {
			return candidates[i].Depth > candidates[j].Depth
		}

		return candidates[i].ID < candidates[j].ID
	})

	for _, f := range candidates {
		if _, ok := p.idx.Folders[f.ID]; !ok {
			continue
		}

		if err := p.r.store.RemoveTree(ctx, f.ID); err != nil {
			p.fail("remove folder", f.ID, err)
			continue
		}

		purged := p.idx.removeSubtree(f.ID)
		p.res.FoldersRemoved++

		p.r.logger.Debug("removed folder",
			slog.String("id", f.ID),
			slog.String("title", f.Title),
			slog.Int("bookmarks", purged),
		)
	}
}

// enforceOrder walks each parent's desired order and moves the first
// mismatched child into place, position by position.
func (p *pass) enforceOrder(ctx context.Context) {
	parents := make([]string, 0, len(p.desired))
	for id := range p.desired {
		parents = append(parents, id)
	}

	sort.Strings(parents)

	for _, parentID := range parents {
		want := p.desired[parentID]

		children, err := p.r.store.Children(ctx, parentID)
		if err != nil {
			p.fail("list children", parentID, err)
			continue
		}

		current := make([]string, 0, len(children))
		for _, c := range children {
			current = append(current, c.ID)
		}

		moved := 0

		for i, id := range want {
			if i < len(current) && current[i] == id {
				continue
			}

			if err := p.r.store.Move(ctx, id, parentID, i); err != nil {
				p.fail("move folder", id, err)
				continue
			}

			current = moveTo(current, id, i)
			moved++
		}

		if moved > 0 {
			p.res.FoldersMoved += moved
			p.r.logger.Debug("reordered folder",
				slog.String("id", parentID),
				slog.Int("moves", moved),
			)
		}
	}
}

// moveTo returns ids with id relocated to position i.
func moveTo(ids []string, id string, i int) []string {
	out := without(ids, id)
	if i > len(out) {
		i = len(out)
	}

	out = append(out, "")
	copy(out[i+1:], out[i:])
	out[i] = id

	return out
}
