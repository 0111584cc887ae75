package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/m0o0scar/nenya/internal/state"
)

var quietLogger = slog.New(slog.DiscardHandler)

var errInjected = errors.New("injected failure")

func tab(id, window int64, index int, url string) browser.Tab {
	return browser.Tab{ID: id, WindowID: window, GroupID: browser.NoGroup, Index: index, URL: url, Title: url}
}

func grouped(t browser.Tab, group int64) browser.Tab {
	t.GroupID = group
	return t
}

func sessionItem(id int64, url, note string) raindrop.Item {
	return raindrop.Item{ID: raindrop.ID(id), Link: url, Title: url, Note: note}
}

// noteFor renders the note an export would write for t.
func noteFor(t browser.Tab, g *browser.TabGroup) string {
	note, err := encodeMetadata("", t, g)
	if err != nil {
		panic(err)
	}
	return note
}

// fakeRemote is an in-memory bucket recording every mutation.
type fakeRemote struct {
	mu sync.Mutex

	items    []raindrop.Item
	fetchErr error
	nextID   int64

	createErr     map[string]error
	updateErr     map[int64]error
	deleteResults []int
	deleteErr     error
	trashErr      error
	coverErr      error

	created     []raindrop.NewItem
	updated     map[int64]raindrop.ItemUpdate
	deleteCalls [][]int64
	trashCalls  [][]int64
	covers      map[int64]string

	inFlight, maxInFlight int
}

func newFakeRemote(items ...raindrop.Item) *fakeRemote {
	return &fakeRemote{
		items:   items,
		nextID:  1000,
		updated: make(map[int64]raindrop.ItemUpdate),
		covers:  make(map[int64]string),
	}
}

func (f *fakeRemote) FetchItems(context.Context, int64) ([]raindrop.Item, error) {
	return f.items, f.fetchErr
}

func (f *fakeRemote) CreateItem(_ context.Context, item raindrop.NewItem) (*raindrop.Item, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := f.createErr[item.Link]; err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created = append(f.created, item)
	return &raindrop.Item{ID: raindrop.ID(f.nextID), Link: item.Link, Title: item.Title, Note: item.Note, Collection: item.Collection}, nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, id int64, update raindrop.ItemUpdate) (*raindrop.Item, error) {
	if err := f.updateErr[id]; err != nil {
		return nil, err
	}
	f.updated[id] = update
	return &raindrop.Item{ID: raindrop.ID(id), Link: update.Link, Title: update.Title, Note: update.Note}, nil
}

func (f *fakeRemote) DeleteItems(_ context.Context, _ int64, ids []int64) (int, error) {
	f.deleteCalls = append(f.deleteCalls, append([]int64(nil), ids...))
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	if len(f.deleteResults) > 0 {
		n := f.deleteResults[0]
		f.deleteResults = f.deleteResults[1:]
		return n, nil
	}
	return len(ids), nil
}

func (f *fakeRemote) TrashItems(_ context.Context, _ int64, ids []int64) (int, error) {
	f.trashCalls = append(f.trashCalls, append([]int64(nil), ids...))
	if f.trashErr != nil {
		return 0, f.trashErr
	}
	return len(ids), nil
}

func (f *fakeRemote) UploadCover(_ context.Context, id int64, filename string, _ []byte) error {
	if f.coverErr != nil {
		return f.coverErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.covers[id] = filename
	return nil
}

// fakeBrowser is a scripted Provider.
type fakeBrowser struct {
	windows    []browser.Window
	groups     []browser.TabGroup
	windowsErr error

	failURLs map[string]bool
	nextID   int64

	createdWindows []string
	createdTabs    []string
	pinned         []int64
	groupCalls     [][]int64
	groupUpdates   map[int64]browser.GroupUpdate
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{nextID: 500, groupUpdates: make(map[int64]browser.GroupUpdate)}
}

func (f *fakeBrowser) Windows(context.Context) ([]browser.Window, error) {
	return f.windows, f.windowsErr
}

func (f *fakeBrowser) TabGroups(context.Context) ([]browser.TabGroup, error) {
	return f.groups, nil
}

func (f *fakeBrowser) CreateWindow(_ context.Context, url string) (*browser.Window, error) {
	if f.failURLs[url] {
		return nil, errInjected
	}
	f.nextID++
	wid := f.nextID
	f.nextID++
	f.createdWindows = append(f.createdWindows, url)
	return &browser.Window{ID: wid, Tabs: []browser.Tab{{ID: f.nextID, WindowID: wid, URL: url}}}, nil
}

func (f *fakeBrowser) CreateTab(_ context.Context, windowID int64, url string) (*browser.Tab, error) {
	if f.failURLs[url] {
		return nil, errInjected
	}
	f.nextID++
	f.createdTabs = append(f.createdTabs, url)
	return &browser.Tab{ID: f.nextID, WindowID: windowID, URL: url}, nil
}

func (f *fakeBrowser) SetPinned(_ context.Context, tabID int64, pinned bool) error {
	if pinned {
		f.pinned = append(f.pinned, tabID)
	}
	return nil
}

func (f *fakeBrowser) GroupTabs(_ context.Context, _ int64, tabIDs []int64) (int64, error) {
	f.groupCalls = append(f.groupCalls, append([]int64(nil), tabIDs...))
	f.nextID++
	return f.nextID, nil
}

func (f *fakeBrowser) UpdateGroup(_ context.Context, groupID int64, update browser.GroupUpdate) error {
	f.groupUpdates[groupID] = update
	return nil
}

// thumbBrowser adds thumbnails to fakeBrowser.
type thumbBrowser struct {
	*fakeBrowser
	thumbs map[int64][]byte
}

func (t *thumbBrowser) Thumbnail(_ context.Context, tabID int64) ([]byte, error) {
	data, ok := t.thumbs[tabID]
	if !ok {
		return nil, errors.New("no thumbnail")
	}
	return data, nil
}

type fakeHistory struct {
	last map[int64]state.ExportSummary
}

func (f *fakeHistory) SetLastExport(bucketID int64, sum state.ExportSummary) error {
	if f.last == nil {
		f.last = make(map[int64]state.ExportSummary)
	}
	f.last[bucketID] = sum
	return nil
}
