// Package server provides HTTP server construction for nenya.
package server

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/m0o0scar/nenya/internal/logging"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	MCPHandler http.Handler
	// APIKey guards /mcp with a static Bearer token. Empty disables the
	// check, which is only sensible on a loopback listener.
	APIKey string
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// NewMux builds the HTTP mux with the MCP endpoint and a health probe.
func NewMux(cfg MuxConfig) *http.ServeMux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	handler := cfg.MCPHandler
	if cfg.APIKey != "" {
		handler = Middleware(cfg.APIKey, cfg.Logger)(handler)
	}

	mux.Handle("/mcp", handler)

	return mux
}

// Middleware returns HTTP middleware that requires the given Bearer key.
// Rejected requests get a 401 with a WWW-Authenticate challenge.
func Middleware(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			token := []byte(strings.TrimPrefix(authHeader, "Bearer "))
			if subtle.ConstantTimeCompare(token, want) != 1 {
				logger.Warn("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
