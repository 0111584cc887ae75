// Package session exports the live set of open tabs into a device
// bucket of remote items, and plans restoring them back into the browser.
package session

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MarkerURL is the link of the bookkeeping item written into each
// bucket when it is created. It is never matched, deleted or restored.
const MarkerURL = "https://nenya.invalid/session-bucket"

// Metadata is the JSON document carried in an item's note. Unknown keys
// in stored notes are preserved on update.
type Metadata struct {
	TabID          int64
	WindowID       int64
	HasIdentity    bool // both tabId and windowId parsed
	TabGroupID     int64
	GroupTitle     string
	GroupColor     string
	GroupCollapsed bool
	Pinned         bool
	Index          int
}

// key is the composite identity of a tab across passes.
type key struct {
	tabID    int64
	windowID int64
}

// idValue reads a numeric id that may have been stored as a number or a
// numeric string.
func idValue(r gjson.Result) (int64, bool) {
	switch r.Type {
	case gjson.Number:
		if r.Num != float64(r.Int()) {
			return 0, false
		}

		return r.Int(), true
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(r.Str), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ParseMetadata decodes a note. Missing or malformed fields take their
// zero value, except TabGroupID which defaults to browser.NoGroup.
func ParseMetadata(note string) Metadata {
	m := Metadata{TabGroupID: browser.NoGroup}
	if !gjson.Valid(note) {
		return m
	}

	doc := gjson.Parse(note)
	if !doc.IsObject() {
		return m
	}

	tabID, okTab := idValue(doc.Get("tabId"))
	windowID, okWin := idValue(doc.Get("windowId"))
	m.TabID, m.WindowID = tabID, windowID
	m.HasIdentity = okTab && okWin

	if g, ok := idValue(doc.Get("tabGroupId")); ok {
		m.TabGroupID = g
	}

	m.GroupTitle = doc.Get("groupTitle").String()
	m.GroupColor = doc.Get("groupColor").String()
	m.GroupCollapsed = doc.Get("groupCollapsed").Bool()
	m.Pinned = doc.Get("pinned").Bool()
	m.Index = int(doc.Get("index").Int())

	return m
}

func (m Metadata) key() key {
	return key{tabID: m.TabID, windowID: m.WindowID}
}

// encodeMetadata writes the tab's fields into note, keeping keys it does
// not own. Group fields are present only while the tab is grouped.
func encodeMetadata(note string, tab browser.Tab, group *browser.TabGroup) (string, error) {
	doc := "{}"
	if gjson.Valid(note) && gjson.Parse(note).IsObject() {
		doc = note
	}

	type field struct {
		path  string
		value interface{}
	}

	fields := []field{
		{"tabId", tab.ID},
		{"windowId", tab.WindowID},
		{"pinned", tab.Pinned},
		{"index", tab.Index},
	}

	if group != nil {
		fields = append(fields,
			field{"tabGroupId", group.ID},
			field{"groupTitle", group.Title},
			field{"groupColor", group.Color},
			field{"groupCollapsed", group.Collapsed},
		)
	} else {
		fields = append(fields, field{"tabGroupId", browser.NoGroup})
	}

	var err error

	for _, f := range fields {
		if doc, err = sjson.Set(doc, f.path, f.value); err != nil {
			return "", err
		}
	}

	if group == nil {
		for _, path := range []string{"groupTitle", "groupColor", "groupCollapsed"} {
			if doc, err = sjson.Delete(doc, path); err != nil {
				return "", err
			}
		}
	}

	return doc, nil
}

// normalizeURL canonicalizes a link for comparison. Scheme and host are
// lowercased; url.URL.String drops an empty trailing fragment.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	return u.String()
}

// exportable reports whether a tab's URL can be stored remotely.
func exportable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// tabTitle falls back to the URL for untitled tabs.
func tabTitle(tab browser.Tab) string {
	if t := strings.TrimSpace(tab.Title); t != "" {
		return t
	}

	return tab.URL
}
