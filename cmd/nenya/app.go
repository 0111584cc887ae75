package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m0o0scar/nenya/internal/bookmarks"
	"github.com/m0o0scar/nenya/internal/browser"
	"github.com/m0o0scar/nenya/internal/config"
	"github.com/m0o0scar/nenya/internal/mirror"
	"github.com/m0o0scar/nenya/internal/raindrop"
	"github.com/m0o0scar/nenya/internal/session"
	"github.com/m0o0scar/nenya/internal/state"
)

// app holds the long-lived components a command opens. Each opener is
// idempotent, so commands ask only for what they use.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	remote *raindrop.Client

	state  *state.State
	store  *bookmarks.SQLiteStore
	bridge *browser.Bridge
}

func newApp(opts *rootOptions) *app {
	return &app{
		cfg:    opts.cfg,
		logger: opts.logger,
		remote: raindrop.NewClient(nil, opts.cfg.RaindropAPIURL, opts.cfg.RaindropToken),
	}
}

// Close releases whatever was opened.
func (a *app) Close() {
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			a.logger.Debug("closing browser bridge", slog.String("error", err.Error()))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing bookmark db", slog.String("error", err.Error()))
		}
	}

	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("closing state db", slog.String("error", err.Error()))
		}
	}
}

func (a *app) openState() (*state.State, error) {
	if a.state != nil {
		return a.state, nil
	}

	st, err := state.LoadAt(a.cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	a.state = st

	return st, nil
}

func (a *app) openStore() (*bookmarks.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	if err := os.MkdirAll(filepath.Dir(a.cfg.BookmarksDB), 0o700); err != nil {
		return nil, fmt.Errorf("creating bookmark db directory: %w", err)
	}

	store, err := bookmarks.Open(a.cfg.BookmarksDB)
	if err != nil {
		return nil, err
	}

	a.store = store

	return store, nil
}

// browserBridge returns the companion bridge. It connects on first use
// and reconnects after the browser restarts.
func (a *app) browserBridge() *browser.Bridge {
	if a.bridge == nil {
		a.bridge = browser.New(a.cfg.BrowserBridgeURL, a.logger.With(slog.String("component", "bridge")))
	}

	return a.bridge
}

func (a *app) newMirror() (*mirror.Mirror, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	st, err := a.openState()
	if err != nil {
		return nil, err
	}

	return mirror.New(a.remote, store, st, mirror.Options{
		RootTitle:     a.cfg.RootFolderTitle,
		UnsortedTitle: a.cfg.UnsortedTitle,
	}, a.logger.With(slog.String("component", "mirror"))), nil
}

// bucket resolves this device's session collection.
func (a *app) bucket(ctx context.Context) (int64, error) {
	st, err := a.openState()
	if err != nil {
		return 0, err
	}

	return session.ResolveBucket(ctx, a.remote, st, a.cfg.SessionsCollection, a.cfg.DeviceName, a.logger)
}

func (a *app) newExporter() (*session.Exporter, error) {
	st, err := a.openState()
	if err != nil {
		return nil, err
	}

	return session.NewExporter(a.remote, a.browserBridge(), session.ExportOptions{
		CreateChunkSize: a.cfg.CreateChunkSize,
		DeleteChunkSize: a.cfg.DeleteChunkSize,
		History:         st,
	}, a.logger.With(slog.String("component", "export"))), nil
}

func (a *app) newRestorer() *session.Restorer {
	return session.NewRestorer(a.browserBridge(), a.logger.With(slog.String("component", "restore")))
}
