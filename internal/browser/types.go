// Package browser talks to the live browser: it enumerates windows, tabs
// and tab groups and recreates them during a restore.
package browser

import "context"

// NoGroup is the group id of a tab that is not in a tab group.
const NoGroup int64 = -1

// Tab is one open tab.
type Tab struct {
	ID       int64  `json:"id"`
	WindowID int64  `json:"windowId"`
	GroupID  int64  `json:"groupId"`
	Pinned   bool   `json:"pinned"`
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// Grouped reports whether the tab belongs to a tab group.
func (t Tab) Grouped() bool {
	return t.GroupID >= 0
}

// Window is an open window with its tabs populated.
type Window struct {
	ID   int64 `json:"id"`
	Tabs []Tab `json:"tabs"`
}

// TabGroup is a named, colored group of tabs within one window.
type TabGroup struct {
	ID        int64  `json:"id"`
	WindowID  int64  `json:"windowId"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Collapsed bool   `json:"collapsed"`
}

// GroupUpdate carries the display state applied to a tab group.
type GroupUpdate struct {
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	Collapsed bool   `json:"collapsed"`
}

// Provider enumerates and recreates browser state.
type Provider interface {
	Windows(ctx context.Context) ([]Window, error)
	TabGroups(ctx context.Context) ([]TabGroup, error)
	// CreateWindow opens a window whose first tab loads url.
	CreateWindow(ctx context.Context, url string) (*Window, error)
	CreateTab(ctx context.Context, windowID int64, url string) (*Tab, error)
	SetPinned(ctx context.Context, tabID int64, pinned bool) error
	// GroupTabs puts the tabs into a new group and returns its id.
	GroupTabs(ctx context.Context, windowID int64, tabIDs []int64) (int64, error)
	UpdateGroup(ctx context.Context, groupID int64, update GroupUpdate) error
}

// ThumbnailSource returns a stored preview image for a tab. It is
// optional: exporters that get one attach covers best-effort.
type ThumbnailSource interface {
	Thumbnail(ctx context.Context, tabID int64) ([]byte, error)
}
