package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/tidwall/sjson"
)

// Collections is the part of the remote service used to find or create
// a device bucket.
type Collections interface {
	ListRootCollections(ctx context.Context) ([]raindrop.Collection, error)
	ListChildCollections(ctx context.Context) ([]raindrop.Collection, error)
	CreateCollection(ctx context.Context, title string, parentID int64) (*raindrop.Collection, error)
	CreateItem(ctx context.Context, item raindrop.NewItem) (*raindrop.Item, error)
}

// BucketCache remembers the bucket id resolved for a device.
type BucketCache interface {
	BucketID(device string) (int64, bool)
	SetBucketID(device string, id int64) error
}

// ResolveBucket returns the collection that holds device's sessions: a
// child named after the device under the root collection parentTitle.
// Both are created when missing; a new bucket gets a marker item.
func ResolveBucket(ctx context.Context, remote Collections, cache BucketCache, parentTitle, device string, logger *slog.Logger) (int64, error) {
	children, err := remote.ListChildCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing child collections: %w", err)
	}

	if id, ok := cache.BucketID(device); ok {
		for _, c := range children {
			if int64(c.ID) == id {
				return id, nil
			}
		}

		logger.Info("cached session bucket is gone", slog.String("device", device), slog.Int64("bucket", id))
	}

	roots, err := remote.ListRootCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing root collections: %w", err)
	}

	var parentID int64

	for _, c := range roots {
		if c.Title == parentTitle && c.ID > 0 {
			parentID = int64(c.ID)
			break
		}
	}

	if parentID == 0 {
		created, err := remote.CreateCollection(ctx, parentTitle, 0)
		if err != nil {
			return 0, fmt.Errorf("creating sessions collection: %w", err)
		}

		parentID = int64(created.ID)
		logger.Info("created sessions collection", slog.String("title", parentTitle), slog.Int64("id", parentID))
	}

	var bucketID int64

	for _, c := range children {
		if c.Title == device && c.Parent != nil && int64(c.Parent.ID) == parentID {
			bucketID = int64(c.ID)
			break
		}
	}

	if bucketID == 0 {
		created, err := remote.CreateCollection(ctx, device, parentID)
		if err != nil {
			return 0, fmt.Errorf("creating session bucket: %w", err)
		}

		bucketID = int64(created.ID)
		logger.Info("created session bucket", slog.String("device", device), slog.Int64("bucket", bucketID))

		if err := writeMarker(ctx, remote, bucketID, device); err != nil {
			logger.Warn("writing bucket marker", slog.String("error", err.Error()))
		}
	}

	if err := cache.SetBucketID(device, bucketID); err != nil {
		logger.Warn("caching session bucket", slog.String("error", err.Error()))
	}

	return bucketID, nil
}

func writeMarker(ctx context.Context, remote Collections, bucketID int64, device string) error {
	note, _ := sjson.Set("{}", "device", device)
	note, _ = sjson.Set(note, "createdAt", time.Now().UTC().Format(time.RFC3339))

	_, err := remote.CreateItem(ctx, raindrop.NewItem{
		Link:       MarkerURL,
		Title:      "nenya session bucket: " + device,
		Note:       note,
		Collection: raindrop.Ref{ID: raindrop.ID(bucketID)},
	})

	return err
}
