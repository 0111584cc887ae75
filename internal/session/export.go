package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/m0o0scar/nenya/internal/state"
	"golang.org/x/sync/errgroup"
)

// Default batch sizes for remote mutations.
const (
	DefaultCreateChunkSize = 10
	DefaultDeleteChunkSize = 100
)

// RemoteItems is the part of the remote service the exporter uses.
// *raindrop.Client satisfies it.
type RemoteItems interface {
	FetchItems(ctx context.Context, collectionID int64) ([]raindrop.Item, error)
	CreateItem(ctx context.Context, item raindrop.NewItem) (*raindrop.Item, error)
	UpdateItem(ctx context.Context, id int64, update raindrop.ItemUpdate) (*raindrop.Item, error)
	DeleteItems(ctx context.Context, collectionID int64, ids []int64) (int, error)
	TrashItems(ctx context.Context, collectionID int64, ids []int64) (int, error)
	UploadCover(ctx context.Context, id int64, filename string, data []byte) error
}

// History records the summary of each finished export.
type History interface {
	SetLastExport(bucketID int64, sum state.ExportSummary) error
}

// ItemError is one failed item mutation inside an export or restore.
type ItemError struct {
	Op     string `json:"op" yaml:"op"`
	ItemID int64  `json:"itemId,omitempty" yaml:"item_id,omitempty"`
	TabID  int64  `json:"tabId,omitempty" yaml:"tab_id,omitempty"`
	Err    error  `json:"-" yaml:"-"`
}

func (e ItemError) Error() string {
	switch {
	case e.ItemID != 0:
		return fmt.Sprintf("%s item %d: %v", e.Op, e.ItemID, e.Err)
	case e.TabID != 0:
		return fmt.Sprintf("%s tab %d: %v", e.Op, e.TabID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e ItemError) Unwrap() error { return e.Err }

// ExportResult summarizes one export pass.
type ExportResult struct {
	Created int         `json:"created" yaml:"created"`
	Updated int         `json:"updated" yaml:"updated"`
	Deleted int         `json:"deleted" yaml:"deleted"`
	Skipped int         `json:"skipped" yaml:"skipped"`
	Failed  int         `json:"failed" yaml:"failed"`
	Errors  []ItemError `json:"-" yaml:"-"`
}

func (r *ExportResult) fail(e ItemError) {
	r.Failed++
	r.Errors = append(r.Errors, e)
}

// ExportOptions tunes an Exporter. Zero values take the defaults.
type ExportOptions struct {
	CreateChunkSize int
	DeleteChunkSize int
	History         History
}

// Exporter makes a bucket hold exactly one item per open tab.
type Exporter struct {
	remote  RemoteItems
	browser browser.Provider
	thumbs  browser.ThumbnailSource
	opts    ExportOptions
	logger  *slog.Logger
}

// NewExporter creates an Exporter. When provider also implements
// browser.ThumbnailSource, created and updated items get a cover.
func NewExporter(remote RemoteItems, provider browser.Provider, opts ExportOptions, logger *slog.Logger) *Exporter {
	if opts.CreateChunkSize <= 0 {
		opts.CreateChunkSize = DefaultCreateChunkSize
	}

	if opts.DeleteChunkSize <= 0 {
		opts.DeleteChunkSize = DefaultDeleteChunkSize
	}

	thumbs, _ := provider.(browser.ThumbnailSource)

	return &Exporter{
		remote:  remote,
		browser: provider,
		thumbs:  thumbs,
		opts:    opts,
		logger:  logger,
	}
}

// Export runs one pass against bucketID. Only failing to read the
// snapshot or the bucket returns an error; item failures are collected
// in the result.
func (e *Exporter) Export(ctx context.Context, bucketID int64) (*ExportResult, error) {
	windows, err := e.browser.Windows(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading open windows: %w", err)
	}

	groups, err := e.browser.TabGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading tab groups: %w", err)
	}

	items, err := e.remote.FetchItems(ctx, bucketID)
	if err != nil {
		return nil, fmt.Errorf("fetching bucket %d: %w", bucketID, err)
	}

	tabs, unresolved := snapshotTabs(windows, groups)
	if unresolved > 0 {
		e.logger.Debug("tabs reference unknown groups",
			slog.Int64("bucket", bucketID),
			slog.Int("tabs", unresolved),
		)
	}

	plan := planExport(tabs, items)

	e.logger.Debug("export planned",
		slog.Int64("bucket", bucketID),
		slog.Int("creates", len(plan.creates)),
		slog.Int("updates", len(plan.updates)),
		slog.Int("unchanged", plan.unchanged),
		slog.Int("deletes", len(plan.deletes)),
	)

	res := &ExportResult{Skipped: plan.skipped}

	e.runCreates(ctx, bucketID, plan.creates, res)
	e.runDeletes(ctx, bucketID, plan.deletes, res)
	e.runUpdates(ctx, plan.updates, res)

	e.logger.Info("session exported",
		slog.Int64("bucket", bucketID),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("deleted", res.Deleted),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)

	if e.opts.History != nil {
		sum := state.ExportSummary{
			At:      time.Now(),
			Created: res.Created,
			Updated: res.Updated,
			Deleted: res.Deleted,
			Skipped: res.Skipped,
			Failed:  res.Failed,
		}
		if err := e.opts.History.SetLastExport(bucketID, sum); err != nil {
			e.logger.Warn("saving export summary", slog.String("error", err.Error()))
		}
	}

	return res, nil
}

// runCreates posts items one chunk at a time; items within a chunk are
// created concurrently.
func (e *Exporter) runCreates(ctx context.Context, bucketID int64, creates []liveTab, res *ExportResult) {
	for _, chunk := range chunks(creates, e.opts.CreateChunkSize) {
		errs := make([]error, len(chunk))

		var g errgroup.Group

		for i, lt := range chunk {
			g.Go(func() error {
				errs[i] = e.create(ctx, bucketID, lt)
				return nil
			})
		}

		_ = g.Wait()

		for i, err := range errs {
			if err != nil {
				res.fail(ItemError{Op: "create", TabID: chunk[i].tab.ID, Err: err})
				e.logger.Warn("creating session item",
					slog.Int64("tab", chunk[i].tab.ID),
					slog.String("error", err.Error()),
				)

				continue
			}

			res.Created++
		}
	}
}

func (e *Exporter) create(ctx context.Context, bucketID int64, lt liveTab) error {
	note, err := encodeMetadata("", lt.tab, lt.group)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	item, err := e.remote.CreateItem(ctx, raindrop.NewItem{
		Link:       lt.tab.URL,
		Title:      tabTitle(lt.tab),
		Note:       note,
		Collection: raindrop.Ref{ID: raindrop.ID(bucketID)},
	})
	if err != nil {
		return err
	}

	e.attachCover(ctx, int64(item.ID), lt.tab.ID)

	return nil
}

// runDeletes removes items in chunks. A chunk the delete call reports as
// not modified is moved to the trash instead.
func (e *Exporter) runDeletes(ctx context.Context, bucketID int64, ids []int64, res *ExportResult) {
	for _, chunk := range chunks(ids, e.opts.DeleteChunkSize) {
		modified, err := e.remote.DeleteItems(ctx, bucketID, chunk)
		if err == nil && modified == 0 {
			e.logger.Debug("bulk delete modified nothing, moving to trash",
				slog.Int64("bucket", bucketID),
				slog.Int("items", len(chunk)),
			)

			modified, err = e.remote.TrashItems(ctx, bucketID, chunk)
		}

		if err != nil {
			for _, id := range chunk {
				res.fail(ItemError{Op: "delete", ItemID: id, Err: err})
			}

			e.logger.Warn("deleting session items",
				slog.Int("items", len(chunk)),
				slog.String("error", err.Error()),
			)

			continue
		}

		res.Deleted += modified
	}
}

// runUpdates sends each update on its own; every payload is distinct.
func (e *Exporter) runUpdates(ctx context.Context, updates []pendingUpdate, res *ExportResult) {
	for _, u := range updates {
		id := int64(u.item.ID)

		note, err := encodeMetadata(u.item.Note, u.live.tab, u.live.group)
		if err != nil {
			res.fail(ItemError{Op: "update", ItemID: id, TabID: u.live.tab.ID, Err: err})
			continue
		}

		_, err = e.remote.UpdateItem(ctx, id, raindrop.ItemUpdate{
			Link:  u.live.tab.URL,
			Title: tabTitle(u.live.tab),
			Note:  note,
		})
		if err != nil {
			res.fail(ItemError{Op: "update", ItemID: id, TabID: u.live.tab.ID, Err: err})
			e.logger.Warn("updating session item",
				slog.Int64("item", id),
				slog.String("error", err.Error()),
			)

			continue
		}

		res.Updated++

		e.logger.Debug("updated session item",
			slog.Int64("item", id),
			slog.Any("fields", u.changed),
		)

		e.attachCover(ctx, id, u.live.tab.ID)
	}
}

// attachCover uploads the tab's thumbnail if one exists. Failures are
// logged and dropped.
func (e *Exporter) attachCover(ctx context.Context, itemID, tabID int64) {
	if e.thumbs == nil {
		return
	}

	data, err := e.thumbs.Thumbnail(ctx, tabID)
	if err != nil {
		e.logger.Debug("no thumbnail", slog.Int64("tab", tabID), slog.String("error", err.Error()))
		return
	}

	if len(data) == 0 {
		return
	}

	if err := e.remote.UploadCover(ctx, itemID, fmt.Sprintf("tab-%d.jpg", tabID), data); err != nil {
		e.logger.Warn("uploading cover",
			slog.Int64("item", itemID),
			slog.String("error", err.Error()),
		)
	}
}

func chunks[T any](in []T, size int) [][]T {
	var out [][]T

	for size < len(in) {
		out = append(out, in[:size:size])
		in = in[size:]
	}

	if len(in) > 0 {
		out = append(out, in)
	}

	return out
}
