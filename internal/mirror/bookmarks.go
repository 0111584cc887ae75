package mirror

import (
	"context"
	"log/slog"
	"sort"

	"github.com/m0o0scar/nenya/internal/raindrop"
)

// ReconcileBookmarks places one bookmark per remote item into the folder
// mapped to the item's collection. Existing bookmarks are matched by URL,
// moved and retitled as needed; bookmarks no item claims are deleted.
// Must run after ReconcileFolders on the same index and result.
func (r *Reconciler) ReconcileBookmarks(ctx context.Context, idx *LocalTreeIndex, res *Result, items []raindrop.Item) {
	p := &pass{r: r, idx: idx, res: res}
	claimed := make(map[string]bool)

	for _, item := range items {
		if item.Link == "" {
			continue
		}

		folderID := p.folderFor(int64(item.Collection.ID))
		if folderID == "" {
			continue
		}

		title := NormalizeTitle(item.Title, item.Link)

		var match *LocalBookmark

		for _, id := range idx.BookmarksByURL[item.Link] {
			if !claimed[id] {
				match = idx.Bookmarks[id]
				break
			}
		}

		if match == nil {
			node, err := r.store.CreateBookmark(ctx, folderID, title, item.Link)
			if err != nil {
				p.fail("create bookmark", folderID, err)
				continue
			}

			idx.addBookmark(&LocalBookmark{
				ID:           node.ID,
				ParentID:     folderID,
				Title:        node.Title,
				URL:          node.URL,
				PathSegments: idx.Folders[folderID].PathSegments,
			})
			claimed[node.ID] = true
			res.BookmarksCreated++

			continue
		}

		claimed[match.ID] = true

		if match.ParentID != folderID {
			if err := r.store.Move(ctx, match.ID, folderID, -1); err != nil {
				p.fail("move bookmark", match.ID, err)
			} else {
				match.ParentID = folderID
				match.PathSegments = idx.Folders[folderID].PathSegments
				res.BookmarksMoved++
			}
		}

		if match.Title != title {
			if err := r.store.Rename(ctx, match.ID, title); err != nil {
				p.fail("rename bookmark", match.ID, err)
			} else {
				match.Title = title
				res.BookmarksUpdated++
			}
		}
	}

	var stale []string

	for id := range idx.Bookmarks {
		if !claimed[id] {
			stale = append(stale, id)
		}
	}

	sort.Strings(stale)

	for _, id := range stale {
		if err := r.store.RemoveTree(ctx, id); err != nil {
			p.fail("remove bookmark", id, err)
			continue
		}

		idx.removeBookmark(id)
		res.BookmarksDeleted++
	}

	r.logger.Info("bookmarks reconciled",
		slog.Int("created", res.BookmarksCreated),
		slog.Int("updated", res.BookmarksUpdated),
		slog.Int("moved", res.BookmarksMoved),
		slog.Int("deleted", res.BookmarksDeleted),
	)
}

func (p *pass) folderFor(collectionID int64) string {
	if collectionID == raindrop.CollectionUnsorted {
		return p.res.UnsortedFolderID
	}

	id := p.res.CollectionFolders[collectionID]
	if _, ok := p.idx.Folders[id]; !ok {
		return ""
	}

	return id
}
