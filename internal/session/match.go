package session

import (
	"sort"

	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/m0o0scar/nenya/internal/raindrop"
)

// liveTab is an open tab with its group resolved.
type liveTab struct {
	tab   browser.Tab
	group *browser.TabGroup
}

// pendingUpdate is a matched item whose stored fields differ from the tab.
type pendingUpdate struct {
	item    raindrop.Item
	live    liveTab
	changed []string
}

// exportPlan is the outcome of matching a snapshot against a bucket.
type exportPlan struct {
	creates   []liveTab
	updates   []pendingUpdate
	unchanged int
	deletes   []int64
	skipped   int
}

// snapshotTabs flattens windows into tabs ordered by window then index
// and resolves group membership. A tab whose group is missing from the
// groups snapshot keeps its group id with empty group details; the
// number of such tabs is returned.
func snapshotTabs(windows []browser.Window, groups []browser.TabGroup) ([]liveTab, int) {
	byID := make(map[int64]*browser.TabGroup, len(groups))
	for i := range groups {
		byID[groups[i].ID] = &groups[i]
	}

	var (
		out        []liveTab
		unresolved int
	)

	for _, w := range windows {
		tabs := append([]browser.Tab(nil), w.Tabs...)
		sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].Index < tabs[j].Index })

		for _, t := range tabs {
			lt := liveTab{tab: t}
			if t.Grouped() {
				g, ok := byID[t.GroupID]
				if !ok {
					g = &browser.TabGroup{ID: t.GroupID}
					unresolved++
				}

				lt.group = g
			}

			out = append(out, lt)
		}
	}

	return out, unresolved
}

// planExport matches open tabs against existing items.
//
// Items with a usable (tabId, windowId) go into an identity map where the
// first one seen wins; later items with the same identity are left
// unclaimed so they end up deleted. Items without identity are indexed by
// URL and are the only candidates for URL fallback, each consumable once.
// Anything unclaimed after all tabs are processed is deleted exactly once.
func planExport(tabs []liveTab, items []raindrop.Item) *exportPlan {
	byKey := make(map[key]raindrop.Item)
	byURL := make(map[string][]raindrop.Item)
	processed := make(map[int64]bool)

	for _, item := range items {
		id := int64(item.ID)

		if item.Link == MarkerURL {
			processed[id] = true
			continue
		}

		meta := ParseMetadata(item.Note)
		if meta.HasIdentity {
			if _, seen := byKey[meta.key()]; !seen {
				byKey[meta.key()] = item
			}

			continue
		}

		u := normalizeURL(item.Link)
		byURL[u] = append(byURL[u], item)
	}

	plan := &exportPlan{}

	for _, lt := range tabs {
		if !exportable(lt.tab.URL) {
			plan.skipped++
			continue
		}

		k := key{tabID: lt.tab.ID, windowID: lt.tab.WindowID}

		match, ok := byKey[k]
		if ok && processed[int64(match.ID)] {
			ok = false
		}

		if !ok {
			u := normalizeURL(lt.tab.URL)
			if candidates := byURL[u]; len(candidates) > 0 {
				match, ok = candidates[0], true
				byURL[u] = candidates[1:]
			}
		}

		if !ok {
			plan.creates = append(plan.creates, lt)
			continue
		}

		processed[int64(match.ID)] = true

		if changed := diffItem(match, lt); len(changed) > 0 {
			plan.updates = append(plan.updates, pendingUpdate{item: match, live: lt, changed: changed})
		} else {
			plan.unchanged++
		}
	}

	for _, item := range items {
		id := int64(item.ID)
		if !processed[id] {
			plan.deletes = append(plan.deletes, id)
			processed[id] = true
		}
	}

	return plan
}

// diffItem lists the fields of item that differ from the live tab. Group
// fields are compared only while the tab is grouped.
func diffItem(item raindrop.Item, lt liveTab) []string {
	var changed []string

	meta := ParseMetadata(item.Note)
	t := lt.tab

	check := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	check("url", normalizeURL(item.Link) != normalizeURL(t.URL))
	check("title", item.Title != tabTitle(t))
	check("tabId", !meta.HasIdentity || meta.TabID != t.ID)
	check("windowId", !meta.HasIdentity || meta.WindowID != t.WindowID)
	check("pinned", meta.Pinned != t.Pinned)
	check("index", meta.Index != t.Index)

	if lt.group != nil {
		check("tabGroupId", meta.TabGroupID != lt.group.ID)
		check("groupTitle", meta.GroupTitle != lt.group.Title)
		check("groupColor", meta.GroupColor != lt.group.Color)
		check("groupCollapsed", meta.GroupCollapsed != lt.group.Collapsed)
	} else {
		check("tabGroupId", meta.TabGroupID != browser.NoGroup)
	}

	return changed
}
