package detector

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/imaging"
)

// Level grades a result: CRITICAL when a critical region failed, WARNING when
// anything else failed (a region, the global score or a hash), INFO otherwise.
// With alert_critical_changes off, critical failures are reported as WARNING.
func (d *Detector) Level(r *ComparisonResult) AlertLevel {
	switch {
	case len(r.CriticalChanges) > 0 && d.cfg.UI.AlertCriticalChanges:
		return LevelCritical
	case len(r.CriticalChanges) > 0, len(r.DiffRegions) > 0, !r.IsMatch:
		return LevelWarning
	default:
		return LevelInfo
	}
}

func (d *Detector) recommendations(r *ComparisonResult, level AlertLevel) []string {
	var recs []string
	if r.EvaluatedBaselines == 0 {
		return append(recs,
			fmt.Sprintf("No baseline exists for %s at %s; capture one once the table layout has been verified", r.Site, r.Resolution),
			"Treat extracted table data as unverified until a baseline is added")
	}
	switch level {
	case LevelCritical:
		recs = append(recs,
			fmt.Sprintf("Critical regions changed (%s); pause automated decisions for this table", strings.Join(r.CriticalChanges, ", ")),
			"Re-check the extraction selectors for the changed regions",
			"Capture a new baseline after confirming the new layout")
	case LevelWarning:
		if len(r.DiffRegions) > 0 {
			recs = append(recs, fmt.Sprintf("Non-critical regions changed (%s); monitor extraction accuracy", strings.Join(r.DiffRegions, ", ")))
		}
		if r.HashDistances.Max() > d.cfg.UI.HashDistanceThreshold {
			recs = append(recs, fmt.Sprintf("Global layout shift detected (hash distance %d > %d); the site theme or zoom level may have changed",
				r.HashDistances.Max(), d.cfg.UI.HashDistanceThreshold))
		}
		if r.MatchScore < d.cfg.UI.GlobalThreshold {
			recs = append(recs, fmt.Sprintf("Overall similarity %.3f is below %.2f", r.MatchScore, d.cfg.UI.GlobalThreshold))
		}
		if len(r.CriticalChanges) > 0 {
			recs = append(recs, fmt.Sprintf("Critical regions changed (%s) but critical alerting is disabled", strings.Join(r.CriticalChanges, ", ")))
		}
	default:
		recs = append(recs, "No action required")
	}
	return recs
}

// GenerateAlertReport grades r, writes ui_change_<ts>_<rand>.json under the
// reports directory and, when visualizations are enabled and live is given,
// a heatmap against the best baseline.
func (d *Detector) GenerateAlertReport(r *ComparisonResult, live image.Image, screenshotPath string) (*Report, error) {
	if r == nil {
		return nil, apperr.New(apperr.CodeInvalidArgument, "nil comparison result")
	}
	ts := d.now().UTC()
	id := fmt.Sprintf("ui_change_%s_%s", ts.Format("20060102_150405"), uuid.NewString()[:8])
	level := d.Level(r)

	scores := make(map[string]float64, len(r.RegionScores))
	for _, s := range r.RegionScores {
		scores[s.Name] = s.Score
	}
	rep := &Report{
		ReportID:        id,
		Timestamp:       ts,
		SiteName:        r.Site,
		AlertLevel:      level,
		IsMatch:         r.IsMatch,
		MatchScore:      r.MatchScore,
		BestBaseline:    r.BestBaseline,
		CriticalRegions: r.CriticalChanges,
		DiffRegions:     r.DiffRegions,
		HashDistances:   r.HashDistances,
		SSIMScores:      scores,
		Recommendations: d.recommendations(r, level),
		ScreenshotPath:  screenshotPath,
	}

	if err := os.MkdirAll(d.reportsDir, 0o755); err != nil {
		return rep, apperr.Wrapf(err, apperr.CodeStorageFailed, "create reports dir %s", d.reportsDir)
	}
	if d.cfg.UI.GenerateVisualizations && d.caps.ReportsWritable && live != nil && r.BestBaseline != "" {
		path, err := d.writeHeatmap(id, live, r.BestBaseline)
		if err != nil {
			return rep, err
		}
		rep.VisualizationPath = path
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return rep, apperr.Wrap(err, apperr.CodeInternal, "encode report")
	}
	rep.Path = filepath.Join(d.reportsDir, id+".json")
	if err := os.WriteFile(rep.Path, data, 0o644); err != nil {
		return rep, apperr.Wrapf(err, apperr.CodeStorageFailed, "write report %s", rep.Path)
	}
	return rep, nil
}

func (d *Detector) writeHeatmap(reportID string, live image.Image, baselineID string) (string, error) {
	b, ok := d.lib.Get(baselineID)
	if !ok {
		return "", apperr.Newf(apperr.CodeNotFound, "baseline %s not found", baselineID)
	}
	base, err := d.lib.Load(b)
	if err != nil {
		return "", err
	}
	data, err := encodePNG(imaging.Heatmap(live, base))
	if err != nil {
		return "", err
	}
	path := filepath.Join(d.reportsDir, reportID+"_heatmap.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.Wrapf(err, apperr.CodeStorageFailed, "write heatmap %s", path)
	}
	return path, nil
}

// SaveFrame writes img as frame_<ts>_<rand>.png in the reports directory so a
// report can point at the screenshot that triggered it.
func (d *Detector) SaveFrame(img image.Image) (string, error) {
	if err := os.MkdirAll(d.reportsDir, 0o755); err != nil {
		return "", apperr.Wrapf(err, apperr.CodeStorageFailed, "create reports dir %s", d.reportsDir)
	}
	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("frame_%s_%s.png", d.now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(d.reportsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.Wrapf(err, apperr.CodeStorageFailed, "write frame %s", path)
	}
	return path, nil
}

// PruneReports deletes report artefacts older than maxAge. It returns the
// number of files removed.
func (d *Detector) PruneReports(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(d.reportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperr.Wrap(err, apperr.CodeStorageFailed, "list reports")
	}
	cutoff := d.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, "ui_change_") || strings.HasPrefix(name, "frame_")) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.reportsDir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}
