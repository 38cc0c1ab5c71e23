package detector

import (
	"time"

	"github.com/GriffinCanCode/tablewatch/internal/imaging"
)

// RegionScore is the similarity of one region of interest against the best
// baseline.
type RegionScore struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Critical  bool    `json:"critical"`
}

func (r RegionScore) Passed() bool { return atLeast(r.Score, r.Threshold) }

// ComparisonResult is the outcome of comparing one live frame against the
// baseline library.
type ComparisonResult struct {
	Site               string                `json:"site_name"`
	Resolution         string                `json:"resolution"`
	Theme              string                `json:"theme"`
	IsMatch            bool                  `json:"is_match"`
	MatchScore         float64               `json:"match_score"`
	BestBaseline       string                `json:"best_baseline,omitempty"`
	HashDistances      imaging.HashDistances `json:"hash_distances"`
	RegionScores       []RegionScore         `json:"region_scores"`
	DiffRegions        []string              `json:"diff_regions"`
	CriticalChanges    []string              `json:"critical_changes"`
	EvaluatedBaselines int                   `json:"evaluated_baselines"`
	Latency            time.Duration         `json:"latency_ns"`
	ComparedAt         time.Time             `json:"compared_at"`
}

// AlertLevel grades a drift report.
type AlertLevel string

const (
	LevelCritical AlertLevel = "CRITICAL"
	LevelWarning  AlertLevel = "WARNING"
	LevelInfo     AlertLevel = "INFO"
)

// Report is the persisted alert written after a comparison.
type Report struct {
	ReportID          string                `json:"report_id"`
	Timestamp         time.Time             `json:"timestamp"`
	SiteName          string                `json:"site_name"`
	AlertLevel        AlertLevel            `json:"alert_level"`
	IsMatch           bool                  `json:"is_match"`
	MatchScore        float64               `json:"match_score"`
	BestBaseline      string                `json:"best_baseline"`
	CriticalRegions   []string              `json:"critical_regions"`
	DiffRegions       []string              `json:"diff_regions"`
	HashDistances     imaging.HashDistances `json:"hash_distances"`
	SSIMScores        map[string]float64    `json:"ssim_scores"`
	Recommendations   []string              `json:"recommendations"`
	ScreenshotPath    string                `json:"screenshot_path"`
	VisualizationPath string                `json:"visualization_path,omitempty"`

	// Path is where the report JSON was written.
	Path string `json:"-"`
}

// Stats are rolling counters since the detector was created.
type Stats struct {
	TotalComparisons int64         `json:"total_comparisons"`
	Matches          int64         `json:"matches"`
	DriftDetections  int64         `json:"drift_detections"`
	AvgLatency       time.Duration `json:"avg_latency_ns"`
	Baselines        int           `json:"baselines"`
}
