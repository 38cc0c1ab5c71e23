// tablewatch watches a live poker table over the Chrome DevTools Protocol and
// checks the table UI for drift against stored baselines.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/tablewatch/internal/alert"
	"github.com/GriffinCanCode/tablewatch/internal/baseline"
	"github.com/GriffinCanCode/tablewatch/internal/capability"
	"github.com/GriffinCanCode/tablewatch/internal/config"
	"github.com/GriffinCanCode/tablewatch/internal/detector"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator"
	"github.com/GriffinCanCode/tablewatch/internal/scraper"
	"github.com/GriffinCanCode/tablewatch/internal/server"
)

const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "tablewatch",
	Short: "Live poker table extraction and UI drift detection",
	Long: `tablewatch attaches to a Chromium tab over the DevTools Protocol, reads the
poker table on screen, and compares screenshots against stored baselines to
catch UI changes that would make the extracted data unreliable.

Settings come from the environment (see .env); flags override a few of them.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watch loop and the status API",
	RunE:  runServe,
}

// Global flags
var (
	envFile  string
	siteFlag string
	logLevel string
)

// Serve flags
var (
	httpAddr     string
	noDrift      bool
	closeBrowser bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file to load before reading settings")
	rootCmd.PersistentFlags().StringVar(&siteFlag, "site", "", "Site name (overrides SITE_NAME)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	serveCmd.Flags().StringVar(&httpAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().BoolVar(&noDrift, "no-drift", false, "Disable UI drift checks")
	serveCmd.Flags().BoolVar(&closeBrowser, "close-browser", true, "Stop a browser tablewatch launched when shutting down")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(baselineCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads settings and applies the global flag overrides.
func loadConfig() *config.Config {
	cfg := config.Load(envFile)
	if siteFlag != "" {
		cfg.SiteName = siteFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}

// openDetector loads thresholds and the baseline library.
func openDetector(cfg *config.Config, caps capability.Set) (*detector.Detector, error) {
	det, err := config.LoadDetection(cfg.Detector.ConfigPath)
	if err != nil {
		return nil, err
	}
	lib, err := baseline.Open(cfg.Detector.BaselineDir, det.UI.MaxBaselinesPerSite)
	if err != nil {
		return nil, err
	}
	return detector.New(det, lib, cfg.Detector.ReportsDir, caps)
}

// buildSink always logs reports and, when Redis is configured, also streams
// warnings and criticals to it. The returned close func is never nil.
func buildSink(ctx context.Context, cfg *config.Config, caps capability.Set) (alert.Sink, func()) {
	sinks := alert.MultiSink{alert.LogSink{Logger: slog.Default()}}
	if !caps.RedisConfigured {
		return sinks, func() {}
	}
	rs, err := alert.NewRedisSink(ctx, cfg.Redis.URL, cfg.Redis.Stream)
	if err != nil {
		slog.Warn("redis alerts disabled", "error", err)
		return sinks, func() {}
	}
	slog.Info("publishing drift alerts to redis", "stream", cfg.Redis.Stream)
	sinks = append(sinks, alert.LevelFilter{Min: detector.LevelWarning, Next: rs})
	return sinks, func() { _ = rs.Close() }
}

type disconnecter interface {
	Disconnect(ctx context.Context, closeChrome bool)
}

// scraperRelease disconnects exactly once. A clean shutdown honours
// --close-browser; an early error return always stops a launched browser.
type scraperRelease struct {
	scr  disconnecter
	done bool
}

func (r *scraperRelease) shutdown(ctx context.Context, closeChrome bool) {
	if r.done {
		return
	}
	r.done = true
	r.scr.Disconnect(ctx, closeChrome)
}

func (r *scraperRelease) abort() {
	r.shutdown(context.Background(), true)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	caps := capability.Detect(cfg)

	scr, err := scraper.New(scraper.OptionsFromConfig(cfg.CDP), caps)
	if err != nil {
		return err
	}
	release := &scraperRelease{scr: scr}
	defer release.abort()

	var (
		det      *detector.Detector
		watchDet orchestrator.Detector
		detStats server.DetectorStats
	)
	if !noDrift {
		det, err = openDetector(cfg, caps)
		if err != nil {
			return err
		}
		watchDet, detStats = det, det
	}

	sink, closeSink := buildSink(ctx, cfg, caps)
	defer closeSink()

	if !scr.Connect(ctx, cfg.CDP.TabFilter) {
		slog.Warn("no poker tab yet, will keep retrying", "filter", cfg.CDP.TabFilter)
	}

	watcher := orchestrator.New(cfg, scr, watchDet, sink)
	srv := server.New(ctx, watcher, scr, detStats)

	if err := watcher.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tablewatch starting", "http", cfg.HTTPAddr, "site", cfg.SiteName, "drift", !noDrift)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
		slog.Info("shutting down...")
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	watcher.Stop()
	release.shutdown(shutdownCtx, closeBrowser)
	slog.Info("shutdown complete")
	return runErr
}
