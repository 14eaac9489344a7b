package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrbridge/internal/config"
	"github.com/MeKo-Tech/qrbridge/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket detection server",
		Long: `Start an HTTP server that exposes QR detection over REST and WebSocket.

Endpoints:
  POST /detect         detect in an uploaded image (multipart field "image" or raw body)
  POST /detect/pixels  detect in a raw pixel buffer (?format=&width=&height=[&stride=&bottom_up=])
  GET  /ws             WebSocket detection stream
  GET  /health         health check with worker pool statistics
  GET  /metrics        Prometheus metrics

Examples:
  qrbridge serve
  qrbridge serve --port 8080
  qrbridge serve --host 0.0.0.0 --requests-per-minute 120`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := serverSettings(cmd, a.cfg.Server)
			if sc.Port < 1 || sc.Port > 65535 {
				return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
			}

			det, pool, err := a.openDetector()
			if err != nil {
				return err
			}
			defer a.closeDetector(det, pool)

			srv, err := server.NewServer(server.Config{
				CORSOrigin:        sc.CORSOrigin,
				MaxUploadMB:       int64(sc.MaxUploadMB),
				TimeoutSec:        sc.TimeoutSec,
				RequestsPerMinute: sc.RequestsPerMinute,
				RequestsPerHour:   sc.RequestsPerHour,
				Pool:              pool,
				Logger:            a.logger,
			}, det)
			if err != nil {
				return fmt.Errorf("failed to initialize server: %w", err)
			}

			addr := net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			httpServer := &http.Server{
				Handler:           srv.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return a.serve(cmd.Context(), httpServer, ln, time.Duration(sc.ShutdownTimeout)*time.Second)
		},
	}

	f := cmd.Flags()
	f.String("host", "localhost", "host to bind")
	f.IntP("port", "p", 8080, "port to listen on")
	f.String("cors-origin", "*", "allowed CORS origin")
	f.Int("max-upload-size", 50, "maximum upload size in MB")
	f.Int("timeout", 30, "detection timeout in seconds")
	f.Int("shutdown-timeout", 10, "graceful shutdown timeout in seconds")
	f.Int("requests-per-minute", 0, "per-client request limit per minute (0 = unlimited)")
	f.Int("requests-per-hour", 0, "per-client request limit per hour (0 = unlimited)")
	return cmd
}

// serverSettings applies explicitly set flags over the loaded configuration.
func serverSettings(cmd *cobra.Command, sc config.ServerConfig) config.ServerConfig {
	f := cmd.Flags()
	if f.Changed("host") {
		sc.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		sc.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		sc.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		sc.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("requests-per-minute") {
		sc.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		sc.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	return sc
}

// serve runs httpServer on ln until ctx is cancelled or serving fails, then
// shuts it down gracefully.
func (a *app) serve(ctx context.Context, httpServer *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting QR detection server", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("Server error", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown failed", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info("Server stopped")
	return serveErr
}
