package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/m0o0scar/nenya/internal/mcpserver"
	"github.com/m0o0scar/nenya/internal/mirror"
	"github.com/m0o0scar/nenya/internal/server"
	"github.com/m0o0scar/nenya/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	var mirrorInterval time.Duration

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Export the session periodically and serve MCP tools",
		Long: `Run in the background: export the browser session once at startup and
then every EXPORT_INTERVAL, optionally mirror bookmarks on their own
interval, and serve the MCP tools when MCP_LISTEN_ADDR is set.

Example:
  nenya daemon --mirror-interval 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts, mirrorInterval)
		},
	}

	cmd.Flags().DurationVar(&mirrorInterval, "mirror-interval", 0, "run a bookmark mirror pass this often, 0 disables")

	return cmd
}

func runDaemon(ctx context.Context, opts *rootOptions, mirrorInterval time.Duration) error {
	a := newApp(opts)
	defer a.Close()

	logger := opts.logger
	logger.Info("nenya starting",
		slog.String("version", Version),
		slog.String("device", opts.cfg.DeviceName),
		slog.Duration("export_interval", opts.cfg.ExportInterval),
		slog.Duration("mirror_interval", mirrorInterval),
		slog.Bool("mcp", opts.cfg.MCPEnabled()),
	)

	bucketID, err := a.bucket(ctx)
	if err != nil {
		return err
	}

	exp, err := a.newExporter()
	if err != nil {
		return err
	}

	m, err := a.newMirror()
	if err != nil {
		return err
	}

	serializer := session.NewSerializer(exp.Export, logger.With(slog.String("component", "serializer")))
	defer serializer.Wait()

	// The daemon starting is the login event.
	serializer.Trigger(ctx, bucketID, "startup")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(gctx, opts.cfg.ExportInterval, func() {
			serializer.Trigger(gctx, bucketID, "timer")
		})
	})

	if mirrorInterval > 0 {
		g.Go(func() error {
			return every(gctx, mirrorInterval, func() {
				runMirror(gctx, m, logger)
			})
		})
	}

	if opts.cfg.MCPEnabled() {
		st, err := a.openState()
		if err != nil {
			return err
		}

		deps := mcpserver.Deps{
			Mirror:   m,
			Exporter: serializer,
			Items:    a.remote,
			Restorer: a.newRestorer(),
			History:  st,
			BucketID: bucketID,
		}

		g.Go(func() error {
			return runMCP(gctx, opts, deps)
		})
	}

	return g.Wait()
}

// every calls fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

func runMirror(ctx context.Context, m *mirror.Mirror, logger *slog.Logger) {
	res, err := m.Run(ctx)
	if err != nil {
		logger.Error("mirror pass failed", slog.String("error", err.Error()))
		return
	}

	logger.Info("mirror pass finished",
		slog.Int("folders_created", res.FoldersCreated),
		slog.Int("folders_removed", res.FoldersRemoved),
		slog.Int("bookmarks_created", res.BookmarksCreated),
		slog.Int("bookmarks_deleted", res.BookmarksDeleted),
		slog.Int("errors", len(res.Errors)),
	)
}

// runMCP serves the MCP tools until ctx is cancelled.
func runMCP(ctx context.Context, opts *rootOptions, deps mcpserver.Deps) error {
	mcpLogger := opts.logger.With(slog.String("service", "mcp"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "nenya", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, deps)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := &http.Server{
		Addr: opts.cfg.MCPListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			MCPHandler: mcpHandler,
			APIKey:     opts.cfg.MCPAPIKey,
			Logger:     mcpLogger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if opts.cfg.MCPAPIKey == "" {
		if opts.cfg.IsProduction() {
			return fmt.Errorf("MCP_API_KEY is required when serving MCP in production")
		}

		mcpLogger.Warn("MCP_API_KEY is empty, the MCP endpoint accepts unauthenticated requests")
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", opts.cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
