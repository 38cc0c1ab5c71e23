package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/go-playground/validator/v10"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// Detection mirrors the detector JSON file.
type Detection struct {
	UI      UIDetection         `json:"ui_detection"`
	Regions map[string][]Region `json:"regions"`
}

type UIDetection struct {
	GlobalThreshold        float64 `json:"global_ssim_threshold" validate:"gt=0,lte=1"`
	HashDistanceThreshold  int     `json:"hash_distance_threshold" validate:"gte=0,lte=64"`
	AlertCriticalChanges   bool    `json:"alert_critical_changes"`
	GenerateVisualizations bool    `json:"generate_visualizations"`
	MaxBaselinesPerSite    int     `json:"max_baselines_per_site" validate:"gte=1,lte=100"`
}

// Region is a normalized rectangle of the table screenshot.
type Region struct {
	Name      string  `json:"name" validate:"required"`
	X         float64 `json:"x" validate:"gte=0,lt=1"`
	Y         float64 `json:"y" validate:"gte=0,lt=1"`
	Width     float64 `json:"width" validate:"gt=0,lte=1"`
	Height    float64 `json:"height" validate:"gt=0,lte=1"`
	Threshold float64 `json:"threshold" validate:"gt=0,lte=1"`
	Critical  bool    `json:"critical"`
}

// DefaultRegionSet is the key used when a site has no regions of its own.
const DefaultRegionSet = "default"

// DefaultDetection returns the built-in thresholds and regions.
func DefaultDetection() Detection {
	return Detection{
		UI: UIDetection{
			GlobalThreshold:        0.85,
			HashDistanceThreshold:  10,
			AlertCriticalChanges:   true,
			GenerateVisualizations: true,
			MaxBaselinesPerSite:    5,
		},
		Regions: map[string][]Region{
			DefaultRegionSet: {
				{Name: "pot_area", X: 0.40, Y: 0.30, Width: 0.20, Height: 0.08, Threshold: 0.85, Critical: true},
				{Name: "board_cards", X: 0.30, Y: 0.38, Width: 0.40, Height: 0.14, Threshold: 0.85, Critical: true},
				{Name: "hero_cards", X: 0.42, Y: 0.68, Width: 0.16, Height: 0.12, Threshold: 0.85, Critical: true},
				{Name: "action_buttons", X: 0.55, Y: 0.85, Width: 0.43, Height: 0.13, Threshold: 0.80},
				{Name: "player_seats", X: 0.05, Y: 0.05, Width: 0.90, Height: 0.60, Threshold: 0.75},
			},
		},
	}
}

// RegionsFor returns the regions configured for site, falling back to the
// default set.
func (d Detection) RegionsFor(site string) []Region {
	if r, ok := d.Regions[site]; ok && len(r) > 0 {
		return r
	}
	return d.Regions[DefaultRegionSet]
}

// LoadDetection reads path and merges it over DefaultDetection. An empty path
// returns the defaults.
func LoadDetection(path string) (Detection, error) {
	d := DefaultDetection()
	if path == "" {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return d, apperr.Wrapf(err, apperr.CodeInvalidArgument, "read detector config %s", path)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return d, apperr.Wrapf(err, apperr.CodeInvalidArgument, "parse detector config %s", path)
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects thresholds out of range, empty region sets and rectangles
// that leave the unit square.
func (d Detection) Validate() error {
	if err := validate.Struct(d.UI); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidArgument, "invalid ui_detection")
	}
	if len(d.Regions[DefaultRegionSet]) == 0 {
		return apperr.New(apperr.CodeInvalidArgument, "regions.default must not be empty")
	}
	for set, regions := range d.Regions {
		seen := make(map[string]bool, len(regions))
		for _, r := range regions {
			if err := validate.Struct(r); err != nil {
				return apperr.Wrapf(err, apperr.CodeInvalidArgument, "invalid region %q in set %q", r.Name, set)
			}
			if r.X+r.Width > 1.0001 || r.Y+r.Height > 1.0001 {
				return apperr.Newf(apperr.CodeInvalidArgument, "region %q in set %q exceeds frame", r.Name, set)
			}
			if seen[r.Name] {
				return apperr.Newf(apperr.CodeInvalidArgument, "duplicate region %q in set %q", r.Name, set)
			}
			seen[r.Name] = true
		}
	}
	return nil
}
