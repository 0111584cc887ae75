package e2e_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/m0o0scar/nenya/internal/bookmarks"
	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/m0o0scar/nenya/internal/state"
	"github.com/stretchr/testify/require"
)

const testToken = "e2e-token"

var quietLogger = slog.New(slog.DiscardHandler)

// fakeRaindrop is an in-memory stand-in for the Raindrop REST API,
// covering the endpoints the client uses.
type fakeRaindrop struct {
	mu sync.Mutex

	roots    []raindrop.Collection
	children []raindrop.Collection
	groups   []raindrop.Group
	items    []raindrop.Item
	covers   map[int64]int
	nextID   int64
}

// newFakeRaindrop starts the fake API and returns a client pointed at it.
func newFakeRaindrop(t *testing.T) (*fakeRaindrop, *raindrop.Client) {
	t.Helper()

	f := &fakeRaindrop{covers: make(map[int64]int), nextID: 1000}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/collections", f.listRoots)
	mux.HandleFunc("GET /rest/v1/collections/childrens", f.listChildren)
	mux.HandleFunc("GET /rest/v1/user", f.user)
	mux.HandleFunc("GET /rest/v1/raindrops/{collection}", f.listItems)
	mux.HandleFunc("DELETE /rest/v1/raindrops/{collection}", f.deleteItems)
	mux.HandleFunc("PUT /rest/v1/raindrops/{collection}", f.moveItems)
	mux.HandleFunc("POST /rest/v1/collection", f.createCollection)
	mux.HandleFunc("POST /rest/v1/raindrop", f.createItem)
	mux.HandleFunc("PUT /rest/v1/raindrop/{id}", f.updateItem)
	mux.HandleFunc("PUT /rest/v1/raindrop/{id}/cover", f.uploadCover)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	return f, raindrop.NewClient(ts.Client(), ts.URL, testToken)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) int64 {
	n, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return n
}

func (f *fakeRaindrop) listRoots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{"result": true, "items": f.roots})
}

func (f *fakeRaindrop) listChildren(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{"result": true, "items": f.children})
}

func (f *fakeRaindrop) user(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{"result": true, "user": map[string]interface{}{"groups": f.groups}})
}

func (f *fakeRaindrop) listItems(w http.ResponseWriter, r *http.Request) {
	collection := pathID(r, "collection")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perpage"))

	var matched []raindrop.Item

	for _, it := range f.items {
		c := int64(it.Collection.ID)
		if (collection == raindrop.CollectionAll && c != raindrop.CollectionTrash) || c == collection {
			matched = append(matched, it)
		}
	}

	start := min(page*perPage, len(matched))
	end := min(start+perPage, len(matched))

	writeJSON(w, map[string]interface{}{"result": true, "items": matched[start:end]})
}

func (f *fakeRaindrop) deleteItems(w http.ResponseWriter, r *http.Request) {
	collection := pathID(r, "collection")

	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	drop := make(map[int64]bool, len(req.IDs))
	for _, id := range req.IDs {
		drop[id] = true
	}

	kept := f.items[:0]
	modified := 0

	for _, it := range f.items {
		if drop[int64(it.ID)] && int64(it.Collection.ID) == collection {
			modified++
			continue
		}

		kept = append(kept, it)
	}

	f.items = kept

	writeJSON(w, map[string]interface{}{"result": true, "modified": modified})
}

func (f *fakeRaindrop) moveItems(w http.ResponseWriter, r *http.Request) {
	collection := pathID(r, "collection")

	var req struct {
		IDs        []int64       `json:"ids"`
		Collection *raindrop.Ref `json:"collection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Collection == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	modified := 0

	for _, id := range req.IDs {
		for i := range f.items {
			if int64(f.items[i].ID) == id && int64(f.items[i].Collection.ID) == collection {
				f.items[i].Collection = *req.Collection
				modified++
			}
		}
	}

	writeJSON(w, map[string]interface{}{"result": true, "modified": modified})
}

func (f *fakeRaindrop) createCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string        `json:"title"`
		Parent *raindrop.Ref `json:"parent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.nextID++
	c := raindrop.Collection{ID: raindrop.ID(f.nextID), Title: req.Title, Parent: req.Parent}

	if req.Parent == nil {
		f.roots = append(f.roots, c)
	} else {
		f.children = append(f.children, c)
	}

	writeJSON(w, map[string]interface{}{"result": true, "item": c})
}

func (f *fakeRaindrop) createItem(w http.ResponseWriter, r *http.Request) {
	var req raindrop.NewItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.nextID++
	it := raindrop.Item{
		ID:         raindrop.ID(f.nextID),
		Link:       req.Link,
		Title:      req.Title,
		Note:       req.Note,
		Collection: req.Collection,
	}
	f.items = append(f.items, it)

	writeJSON(w, map[string]interface{}{"result": true, "item": it})
}

func (f *fakeRaindrop) updateItem(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")

	var req raindrop.ItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for i := range f.items {
		if int64(f.items[i].ID) == id {
			f.items[i].Link = req.Link
			f.items[i].Title = req.Title
			f.items[i].Note = req.Note
			writeJSON(w, map[string]interface{}{"result": true, "item": f.items[i]})

			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]interface{}{"result": false, "errorMessage": "not found"})
}

func (f *fakeRaindrop) uploadCover(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.covers[pathID(r, "id")]++

	writeJSON(w, map[string]interface{}{"result": true})
}

// itemsIn returns a copy of the items currently in a collection.
func (f *fakeRaindrop) itemsIn(collection int64) []raindrop.Item {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []raindrop.Item

	for _, it := range f.items {
		if int64(it.Collection.ID) == collection {
			out = append(out, it)
		}
	}

	return out
}

// fakeCompanion plays the browser side of the bridge protocol over a
// real WebSocket.
type fakeCompanion struct {
	mu sync.Mutex

	windows []browser.Window
	groups  []browser.TabGroup
	nextID  int64

	opened  []string
	pinned  []int64
	grouped [][]int64
	titles  []string
}

type companionRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// newFakeCompanion starts the companion and returns its ws:// URL.
func newFakeCompanion(t *testing.T, windows []browser.Window, groups []browser.TabGroup) (*fakeCompanion, string) {
	t.Helper()

	c := &fakeCompanion{windows: windows, groups: groups, nextID: 500}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}

			var req companionRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}

			resp := map[string]interface{}{"id": req.ID}
			if result, err := c.handle(req); err != nil {
				resp["error"] = map[string]interface{}{"code": 1, "message": err.Error()}
			} else {
				resp["result"] = result
			}

			out, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	return c, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (c *fakeCompanion) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *fakeCompanion) handle(req companionRequest) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var params struct {
		URL      string  `json:"url"`
		WindowID int64   `json:"windowId"`
		TabID    int64   `json:"tabId"`
		TabIDs   []int64 `json:"tabIds"`
		Pinned   bool    `json:"pinned"`
		Update   struct {
			Title string `json:"title"`
		} `json:"update"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, err
		}
	}

	switch req.Method {
	case "windows.getAll":
		return c.windows, nil
	case "tabGroups.query":
		return c.groups, nil
	case "thumbnails.get":
		return map[string][]byte{"data": []byte("jpeg-bytes")}, nil
	case "windows.create":
		c.opened = append(c.opened, params.URL)
		w := browser.Window{ID: c.id()}
		w.Tabs = []browser.Tab{{ID: c.id(), WindowID: w.ID, URL: params.URL, GroupID: browser.NoGroup}}

		return w, nil
	case "tabs.create":
		c.opened = append(c.opened, params.URL)
		return browser.Tab{ID: c.id(), WindowID: params.WindowID, URL: params.URL, GroupID: browser.NoGroup}, nil
	case "tabs.update":
		if params.Pinned {
			c.pinned = append(c.pinned, params.TabID)
		}

		return nil, nil
	case "tabs.group":
		c.grouped = append(c.grouped, params.TabIDs)
		return c.id(), nil
	case "tabGroups.update":
		c.titles = append(c.titles, params.Update.Title)
		return nil, nil
	default:
		return nil, &unknownMethodError{method: req.Method}
	}
}

type unknownMethodError struct{ method string }

func (e *unknownMethodError) Error() string { return "unknown method " + e.method }

// openStores opens a bookmark database and a state database in a temp dir.
func openStores(t *testing.T) (*bookmarks.SQLiteStore, *state.State) {
	t.Helper()

	dir := t.TempDir()

	store, err := bookmarks.Open(filepath.Join(dir, "bookmarks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	st, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return store, st
}

// dialCompanion connects a Bridge to the companion.
func dialCompanion(t *testing.T, url string) *browser.Bridge {
	t.Helper()

	b, err := browser.Dial(context.Background(), url, quietLogger)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return b
}

// childTitles lists the titles of a folder's children in order.
func childTitles(t *testing.T, s bookmarks.Store, id string) []string {
	t.Helper()

	children, err := s.Children(context.Background(), id)
	require.NoError(t, err)

	titles := make([]string, 0, len(children))
	for _, c := range children {
		titles = append(titles, c.Title)
	}

	return titles
}

// findChild returns the id of the child of parentID titled title.
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
