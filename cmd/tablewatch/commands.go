package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/tablewatch/internal/capability"
	"github.com/GriffinCanCode/tablewatch/internal/config"
	"github.com/GriffinCanCode/tablewatch/internal/detector"
	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/scraper"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Read the poker table once and print it",
	RunE:  runExtract,
}

var compareCmd = &cobra.Command{
	Use:   "compare [screenshot.png]",
	Short: "Compare a screenshot against the baselines",
	Long: `Compare a screenshot against the stored baselines for the site and print the
region scores. Without a file argument the live browser tab is captured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompare,
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage reference screenshots",
}

var baselineAddCmd = &cobra.Command{
	Use:   "add [screenshot.png]",
	Short: "Store a screenshot as a baseline (captures the live tab without a file)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBaselineAdd,
}

var baselineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored baselines",
	Args:  cobra.NoArgs,
	RunE:  runBaselineList,
}

var baselineRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a stored baseline",
	Args:  cobra.ExactArgs(1),
	RunE:  runBaselineRemove,
}

var baselineExportCmd = &cobra.Command{
	Use:   "export <bundle.tar.zst>",
	Short: "Write baselines to a compressed bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runBaselineExport,
}

var baselineImportCmd = &cobra.Command{
	Use:   "import <bundle.tar.zst>",
	Short: "Load baselines from a bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runBaselineImport,
}

// Extract flags
var jsonOutput bool

// Compare flags
var writeReport bool

// Baseline flags
var (
	themeFlag string
	metaPairs []string
	allSites  bool
)

func init() {
	extractCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw table state as JSON")

	compareCmd.Flags().StringVar(&themeFlag, "theme", "", "Theme (overrides SITE_THEME)")
	compareCmd.Flags().BoolVar(&writeReport, "report", false, "Write an alert report for the comparison")
	compareCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the comparison as JSON")

	baselineAddCmd.Flags().StringVar(&themeFlag, "theme", "", "Theme (overrides SITE_THEME)")
	baselineAddCmd.Flags().StringSliceVar(&metaPairs, "meta", nil, "Metadata as key=value, repeatable")
	baselineListCmd.Flags().BoolVar(&allSites, "all", false, "List every site, not only --site")
	baselineExportCmd.Flags().BoolVar(&allSites, "all", false, "Export every site, not only --site")

	baselineCmd.AddCommand(baselineAddCmd, baselineListCmd, baselineRemoveCmd, baselineExportCmd, baselineImportCmd)
}

// setupCLILogging routes slog through pterm for interactive commands.
func setupCLILogging(cfg *config.Config) {
	logger := pterm.DefaultLogger.WithLevel(ptermLevel(cfg.SlogLevel()))
	slog.SetDefault(slog.New(pterm.NewSlogHandler(logger)))
}

func ptermLevel(l slog.Level) pterm.LogLevel {
	switch {
	case l <= slog.LevelDebug:
		return pterm.LogLevelDebug
	case l <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case l <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

func themeOr(cfg *config.Config) string {
	if themeFlag != "" {
		return themeFlag
	}
	return cfg.Theme
}

// connectScraper attaches to the poker tab or fails with TAB_NOT_FOUND.
func connectScraper(ctx context.Context, cfg *config.Config, caps capability.Set) (*scraper.Scraper, error) {
	scr, err := scraper.New(scraper.OptionsFromConfig(cfg.CDP), caps)
	if err != nil {
		return nil, err
	}
	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Connecting to the poker tab ...")
	ok := scr.Connect(ctx, cfg.CDP.TabFilter)
	_ = spinner.Stop()
	if !ok {
		_ = scr.Close()
		return nil, apperr.Newf(apperr.CodeTabNotFound, "no tab matching %q", cfg.CDP.TabFilter)
	}
	return scr, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)
	ctx := cmd.Context()

	scr, err := connectScraper(ctx, cfg, capability.Detect(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = scr.Close() }()

	state := scr.ExtractTableData(ctx)
	if state == nil {
		return apperr.New(apperr.CodeInvalidPayload, "table could not be read")
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	out, err := renderTable(state)
	if err != nil {
		return err
	}
	pterm.Print(out)
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)
	ctx := cmd.Context()
	caps := capability.Detect(cfg)

	det, err := openDetector(cfg, caps)
	if err != nil {
		return err
	}

	var (
		res  *detector.ComparisonResult
		live image.Image
		src  string
	)
	if len(args) == 1 {
		src = args[0]
		res, live, err = det.CompareFile(ctx, src, cfg.SiteName, themeOr(cfg))
	} else {
		var data []byte
		data, err = captureLive(ctx, cfg, caps)
		if err != nil {
			return err
		}
		res, live, err = det.CompareBytes(ctx, data, cfg.SiteName, themeOr(cfg))
		if err == nil {
			src, err = det.SaveFrame(live)
		}
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		out, err := renderComparison(res, det.Level(res))
		if err != nil {
			return err
		}
		pterm.Print(out)
	}

	if writeReport {
		rep, err := det.GenerateAlertReport(res, live, src)
		if err != nil {
			return err
		}
		pterm.Info.Printfln("Report %s written to %s", rep.ReportID, rep.Path)
	}
	return nil
}

func captureLive(ctx context.Context, cfg *config.Config, caps capability.Set) ([]byte, error) {
	scr, err := connectScraper(ctx, cfg, caps)
	if err != nil {
		return nil, err
	}
	defer func() { _ = scr.Close() }()
	return scr.CaptureScreenshot(ctx)
}

func runBaselineAdd(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)
	caps := capability.Detect(cfg)

	meta, err := parseMeta(metaPairs)
	if err != nil {
		return err
	}

	var data []byte
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return apperr.Wrapf(err, apperr.CodeInvalidArgument, "read %s", args[0])
		}
		meta["source"] = args[0]
	} else {
		data, err = captureLive(cmd.Context(), cfg, caps)
		if err != nil {
			return err
		}
		meta["source"] = "live"
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidArgument, "decode screenshot")
	}

	det, err := openDetector(cfg, caps)
	if err != nil {
		return err
	}
	b, err := det.AddBaseline(img, cfg.SiteName, themeOr(cfg), meta)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Stored baseline %s (%s, %s, %s)", b.ID, b.Site, b.Resolution, b.Theme)
	return nil
}

func runBaselineList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)

	det, err := openDetector(cfg, capability.Detect(cfg))
	if err != nil {
		return err
	}

	site := cfg.SiteName
	if allSites {
		site = ""
	}
	out, err := renderBaselines(det.Library().List(site))
	if err != nil {
		return err
	}
	pterm.Print(out)
	return nil
}

func runBaselineRemove(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)

	det, err := openDetector(cfg, capability.Detect(cfg))
	if err != nil {
		return err
	}
	if err := det.Library().Remove(args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("Removed baseline %s", args[0])
	return nil
}

func runBaselineExport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)

	det, err := openDetector(cfg, capability.Detect(cfg))
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeStorageFailed, "create %s", args[0])
	}
	site := cfg.SiteName
	if allSites {
		site = ""
	}
	n, err := det.Library().Export(f, site)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = apperr.Wrapf(cerr, apperr.CodeStorageFailed, "close %s", args[0])
	}
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Exported %d baselines to %s", n, args[0])
	return nil
}

func runBaselineImport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupCLILogging(cfg)

	det, err := openDetector(cfg, capability.Detect(cfg))
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeInvalidArgument, "open %s", args[0])
	}
	defer f.Close()

	n, err := det.Library().Import(f)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Imported %d baselines from %s", n, args[0])
	return nil
}

// parseMeta turns key=value pairs into a map. The result is never nil.
func parseMeta(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs)+1)
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, apperr.Newf(apperr.CodeInvalidArgument, "metadata %q is not key=value", p)
		}
		meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return meta, nil
}
