package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/qrbridge/internal/config"
	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/version"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the command tree with its own viper instance, so
// repeated invocations in one process do not share flag state.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "qrbridge",
		Short: "Detect and decode QR codes from files, raw pixels and PDFs",
		Long: `qrbridge detects and decodes QR codes through a detection bridge.

It accepts encoded images (PNG, JPEG, GIF, BMP, TIFF, WebP), raw pixel
buffers in seven channel layouts, and PDF documents. Detections can run
synchronously or on a worker pool, and the same pipeline is served over
HTTP and WebSocket.

Examples:
  qrbridge image ticket.png
  qrbridge image *.jpg --async -o json
  qrbridge pixels frame.raw --format rgba --width 640 --height 480
  qrbridge pdf invoice.pdf --pages 1-2
  qrbridge serve --port 8080`,
		Version:           version.String(),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is search in ., $HOME, $HOME/.config/qrbridge, /etc/qrbridge)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("backend", config.BackendGo, "detection backend (go, native)")
	pf.Int("workers", 0, "worker pool size for asynchronous detection (0 = CPUs-1)")
	pf.StringP("output", "o", "text", "output format (text, json, yaml)")

	bindFlags(a.v, pf, []flagBinding{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
		{"engine.backend", "backend"},
		{"dispatcher.workers", "workers"},
		{"output.format", "output"},
	})

	root.AddCommand(
		newImageCommand(a),
		newPixelsCommand(a),
		newPDFCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and installs the JSON logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.loader = config.NewLoaderWith(a.v)
	cfg, err := a.loader.LoadFile(a.cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.cfg = cfg
	a.installLogger(cmd, cfg.SlogLevel())
	return nil
}

func (a *app) installLogger(cmd *cobra.Command, level slog.Level) {
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
}

// openDetector creates the configured bridge, worker pool and detector.
func (a *app) openDetector() (*detector.Detector, *dispatch.Dispatcher, error) {
	b, err := a.cfg.NewBridge(a.logger)
	if err != nil {
		return nil, nil, err
	}
	pool := a.cfg.NewDispatcher(a.logger)
	det := detector.New(b, a.cfg.ToDetectorOptions(a.logger, pool)...)
	if !det.Handle().Valid() {
		_ = pool.Shutdown(context.Background())
		return nil, nil, errors.New("failed to create detector")
	}
	return det, pool, nil
}

// closeDetector releases the detector and drains the pool.
func (a *app) closeDetector(det *detector.Detector, pool *dispatch.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		a.logger.Warn("Dispatcher shutdown incomplete", "error", err)
	}
	_ = det.Close()
}

type flagBinding struct {
	key  string
	flag string
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings []flagBinding) {
	for _, b := range bindings {
		if f := fs.Lookup(b.flag); f != nil {
			_ = v.BindPFlag(b.key, f)
		}
	}
}
