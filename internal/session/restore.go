package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/m0o0scar/nenya/internal/raindrop"
)

// Node types in a RestoreTree.
const (
	NodeTab   = "tab"
	NodeGroup = "group"
)

// Node is a standalone tab or a group of tabs.
type Node struct {
	Type      string `json:"type" yaml:"type"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Pinned    bool   `json:"pinned,omitempty" yaml:"pinned,omitempty"`
	Index     int    `json:"index,omitempty" yaml:"index,omitempty"`
	ID        int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Color     string `json:"color,omitempty" yaml:"color,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty" yaml:"collapsed,omitempty"`
	Tabs      []Node `json:"tabs,omitempty" yaml:"tabs,omitempty"`
}

// Window is one saved window in display order.
type Window struct {
	ID   int64  `json:"id" yaml:"id"`
	Tree []Node `json:"tree" yaml:"tree"`
}

// RestoreTree is a saved session ready to render or replay.
type RestoreTree struct {
	Windows []Window `json:"windows" yaml:"windows"`
}

// Tabs counts tab nodes across the tree.
func (t *RestoreTree) Tabs() int {
	n := 0

	for _, w := range t.Windows {
		for _, node := range w.Tree {
			if node.Type == NodeGroup {
				n += len(node.Tabs)
			} else {
				n++
			}
		}
	}

	return n
}

type positioned struct {
	item raindrop.Item
	meta Metadata
}

// PlanRestore rebuilds windows from bucket items. Items are grouped by
// window and ordered by index. A group node is placed where its first tab
// appears and collects every later tab of that group.
func PlanRestore(items []raindrop.Item) *RestoreTree {
	byWindow := make(map[int64][]positioned)

	var windowIDs []int64

	for _, item := range items {
		if item.Link == MarkerURL {
			continue
		}

		meta := ParseMetadata(item.Note)

		wid := meta.WindowID

		if _, ok := byWindow[wid]; !ok {
			windowIDs = append(windowIDs, wid)
		}

		byWindow[wid] = append(byWindow[wid], positioned{item: item, meta: meta})
	}

	sort.Slice(windowIDs, func(i, j int) bool { return windowIDs[i] < windowIDs[j] })

	tree := &RestoreTree{Windows: make([]Window, 0, len(windowIDs))}

	for _, wid := range windowIDs {
		entries := byWindow[wid]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].meta.Index < entries[j].meta.Index })

		w := Window{ID: wid}
		groupAt := make(map[int64]int)

		for _, e := range entries {
			tab := Node{Type: NodeTab, URL: e.item.Link, Title: e.item.Title, Pinned: e.meta.Pinned, Index: e.meta.Index}

			gid := e.meta.TabGroupID
			if gid < 0 {
				w.Tree = append(w.Tree, tab)
				continue
			}

			pos, ok := groupAt[gid]
			if !ok {
				pos = len(w.Tree)
				groupAt[gid] = pos
				w.Tree = append(w.Tree, Node{
					Type:      NodeGroup,
					ID:        gid,
					Title:     e.meta.GroupTitle,
					Color:     e.meta.GroupColor,
					Collapsed: e.meta.GroupCollapsed,
				})
			}

			w.Tree[pos].Tabs = append(w.Tree[pos].Tabs, tab)
		}

		tree.Windows = append(tree.Windows, w)
	}

	return tree
}

// RestoreResult summarizes a replay.
type RestoreResult struct {
	Windows int         `json:"windows" yaml:"windows"`
	Tabs    int         `json:"tabs" yaml:"tabs"`
	Groups  int         `json:"groups" yaml:"groups"`
	Failed  int         `json:"failed" yaml:"failed"`
	Errors  []ItemError `json:"-" yaml:"-"`
}

func (r *RestoreResult) fail(e ItemError) {
	r.Failed++
	r.Errors = append(r.Errors, e)
}

// Restorer replays a RestoreTree into the browser.
type Restorer struct {
	browser browser.Provider
	logger  *slog.Logger
}

// NewRestorer creates a Restorer.
func NewRestorer(provider browser.Provider, logger *slog.Logger) *Restorer {
	return &Restorer{browser: provider, logger: logger}
}

// flatTab is a tab with the position of its group node in the window
// tree, or -1.
type flatTab struct {
	node  Node
	group int
}

// flatten lists the window's tabs by saved index. Group members that were
// not adjacent in the original window go back to their own positions.
func flatten(w Window) []flatTab {
	var out []flatTab

	for i, n := range w.Tree {
		if n.Type == NodeGroup {
			for _, t := range n.Tabs {
				out = append(out, flatTab{node: t, group: i})
			}

			continue
		}

		out = append(out, flatTab{node: n, group: -1})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].node.Index < out[j].node.Index })

	return out
}

// Replay opens one new window per saved window, creates its tabs in saved
// index order, restores pinning, then rebuilds groups from the tabs that
// were created. A window whose first tab cannot be opened is skipped.
func (r *Restorer) Replay(ctx context.Context, tree *RestoreTree) *RestoreResult {
	res := &RestoreResult{}

	for _, w := range tree.Windows {
		r.replayWindow(ctx, w, res)
	}

	r.logger.Info("session restored",
		slog.Int("windows", res.Windows),
		slog.Int("tabs", res.Tabs),
		slog.Int("groups", res.Groups),
		slog.Int("failed", res.Failed),
	)

	return res
}

func (r *Restorer) replayWindow(ctx context.Context, w Window, res *RestoreResult) {
	tabs := flatten(w)
	if len(tabs) == 0 {
		return
	}

	win, err := r.browser.CreateWindow(ctx, tabs[0].node.URL)
	if err != nil {
		res.fail(ItemError{Op: "create window", Err: err})
		r.logger.Warn("restoring window",
			slog.Int64("window", w.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	if len(win.Tabs) == 0 {
		res.fail(ItemError{Op: "create window", Err: fmt.Errorf("window %d opened without a tab", win.ID)})
		return
	}

	res.Windows++

	created := make([]int64, len(tabs))
	created[0] = win.Tabs[0].ID
	res.Tabs++

	for i := 1; i < len(tabs); i++ {
		tab, err := r.browser.CreateTab(ctx, win.ID, tabs[i].node.URL)
		if err != nil {
			res.fail(ItemError{Op: "create tab", Err: err})
			r.logger.Warn("restoring tab",
				slog.String("url", tabs[i].node.URL),
				slog.String("error", err.Error()),
			)

			continue
		}

		created[i] = tab.ID
		res.Tabs++
	}

	for i, t := range tabs {
		if !t.node.Pinned || created[i] == 0 {
			continue
		}

		if err := r.browser.SetPinned(ctx, created[i], true); err != nil {
			res.fail(ItemError{Op: "pin tab", TabID: created[i], Err: err})
		}
	}

	members := make(map[int][]int64)

	for i, t := range tabs {
		if t.group >= 0 && created[i] != 0 {
			members[t.group] = append(members[t.group], created[i])
		}
	}

	for i, n := range w.Tree {
		ids := members[i]
		if n.Type != NodeGroup || len(ids) == 0 {
			continue
		}

		gid, err := r.browser.GroupTabs(ctx, win.ID, ids)
		if err != nil {
			res.fail(ItemError{Op: "group tabs", Err: err})
			continue
		}

		res.Groups++

		update := browser.GroupUpdate{Title: n.Title, Color: n.Color, Collapsed: n.Collapsed}
		if err := r.browser.UpdateGroup(ctx, gid, update); err != nil {
			res.fail(ItemError{Op: "update group", Err: err})
		}
	}
}
