// Package loopback presents the login page for command-line and desktop
// applications. It binds a local HTTP listener on the address of the
// callback URI carried in the authorization URL, opens the system browser,
// and feeds every request the listener receives to the flow controller.
// Intended for the authorization_code flow with a 127.0.0.1 callback.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uber/rides-go-sdk/auth"
)

const shutdownGrace = 2 * time.Second

// Opener launches the rider's browser at the authorization URL.
type Opener func(ctx context.Context, target string) error

// Browser is an auth.Surface backed by the system browser and a loopback
// callback listener.
type Browser struct {
	logger *slog.Logger
	opener Opener
}

// Option configures a Browser.
type Option func(*Browser)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Browser) { b.logger = logger }
}

// WithOpener replaces the system-browser launcher. Tests use this to drive
// the flow with an HTTP client instead of a real browser.
func WithOpener(opener Opener) Option {
	return func(b *Browser) { b.opener = opener }
}

// New builds a Browser surface.
func New(opts ...Option) *Browser {
	b := &Browser{
		logger: slog.Default(),
		opener: systemOpener,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load binds the callback listener, opens the browser at authorizeURL, and
// blocks until ctx ends. The callback address comes from the redirect_uri
// parameter of authorizeURL and must be a plain http URL with an explicit
// port, e.g. http://127.0.0.1:8282/callback.
func (b *Browser) Load(ctx context.Context, authorizeURL *url.URL, events auth.SurfaceEvents) error {
	redirect := authorizeURL.Query().Get("redirect_uri")
	if redirect == "" {
		return errors.New("authorization URL carries no redirect_uri")
	}
	callback, err := url.Parse(redirect)
	if err != nil {
		return fmt.Errorf("parse redirect_uri: %w", err)
	}
	if callback.Scheme != "http" {
		return fmt.Errorf("callback %s is not a loopback http URL", redirect)
	}
	if callback.Port() == "" {
		return fmt.Errorf("callback %s must carry an explicit port", redirect)
	}

	ln, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return fmt.Errorf("bind callback listener on %s: %w", callback.Host, err)
	}

	r := chi.NewRouter()
	r.Use(requestLogger(b.logger))
	r.HandleFunc("/*", b.handleCallback(events))

	srv := &http.Server{
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	b.logger.Info("callback listener ready", "addr", callback.Host, "path", callback.Path)

	if err := b.opener(ctx, authorizeURL.String()); err != nil {
		b.shutdown(srv)
		return fmt.Errorf("open browser: %w", err)
	}

	select {
	case <-ctx.Done():
		b.shutdown(srv)
		return nil
	case err := <-serveErr:
		return fmt.Errorf("callback listener: %w", err)
	}
}

func (b *Browser) shutdown(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// handleCallback forwards each request to the flow controller. A cancelled
// navigation means the controller consumed it; the rider gets a completion
// page and can return to the app. Anything else on this listener is 404.
func (b *Browser) handleCallback(events auth.SurfaceEvents) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
		if events.OnNavigation(u) == auth.DecisionCancel {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, completionPage)
			return
		}
		http.NotFound(w, r)
	}
}

const completionPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Login Complete</title>
<style>
body { font-family: Arial, sans-serif; margin: 4rem auto; max-width: 480px; color: #1d1d1f; text-align: center; }
</style>
</head>
<body>
<h1>All done</h1>
<p>You can close this window and return to the app.</p>
</body>
</html>
`

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("callback listener request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// systemOpener launches the platform's URL handler without waiting for it
// to exit.
func systemOpener(ctx context.Context, target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", target)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", target)
	}
	return cmd.Start()
}
