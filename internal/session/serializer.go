package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ExportFunc runs one export pass against a bucket.
type ExportFunc func(ctx context.Context, bucketID int64) (*ExportResult, error)

// Serializer allows one export pass per bucket at a time. A trigger that
// arrives while a pass is running joins it and receives its result
// instead of starting another. Passes are not cancelled once started.
type Serializer struct {
	run    ExportFunc
	logger *slog.Logger

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewSerializer wraps run.
func NewSerializer(run ExportFunc, logger *slog.Logger) *Serializer {
	return &Serializer{run: run, logger: logger}
}

// Export runs or joins the pass for bucketID. Cancelling ctx stops the
// wait, not the pass. shared reports whether the result came from a pass
// another caller started or joined.
func (s *Serializer) Export(ctx context.Context, bucketID int64) (res *ExportResult, shared bool, err error) {
	passCtx := context.WithoutCancel(ctx)

	ch := s.group.DoChan(strconv.FormatInt(bucketID, 10), func() (interface{}, error) {
		return s.run(passCtx, bucketID)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Shared, r.Err
		}

		out, _ := r.Val.(*ExportResult)

		return out, r.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Trigger starts or joins a pass in the background. The outcome is
// logged; reason names the trigger in those logs.
func (s *Serializer) Trigger(ctx context.Context, bucketID int64, reason string) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		res, shared, err := s.Export(context.WithoutCancel(ctx), bucketID)
		if err != nil {
			s.logger.Error("background export failed",
				slog.String("reason", reason),
				slog.Int64("bucket", bucketID),
				slog.String("error", err.Error()),
			)

			return
		}

		s.logger.Info("background export finished",
			slog.String("reason", reason),
			slog.Int64("bucket", bucketID),
			slog.Bool("joined", shared),
			slog.Int("created", res.Created),
			slog.Int("updated", res.Updated),
			slog.Int("deleted", res.Deleted),
			slog.Int("failed", res.Failed),
		)
	}()
}

// Wait blocks until every triggered pass has finished.
func (s *Serializer) Wait() {
	s.wg.Wait()
}
