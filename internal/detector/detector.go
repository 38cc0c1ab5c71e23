// Package detector decides whether the live table UI still looks like a known
// baseline, and writes alert reports when it does not.
package detector

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"sync"
	"time"

	"github.com/GriffinCanCode/tablewatch/internal/baseline"
	"github.com/GriffinCanCode/tablewatch/internal/capability"
	"github.com/GriffinCanCode/tablewatch/internal/config"
	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/imaging"
	"github.com/GriffinCanCode/tablewatch/internal/trace"
)

// criticalWeight is how much a critical region counts relative to others.
const criticalWeight = 2.0

// scoreEpsilon absorbs float rounding when a score is compared against a
// threshold, so a score equal to its threshold passes.
const scoreEpsilon = 1e-9

func atLeast(score, threshold float64) bool {
	return score+scoreEpsilon >= threshold
}

// Detector compares frames against a baseline library. Compare is safe for
// concurrent use.
type Detector struct {
	cfg        config.Detection
	lib        *baseline.Library
	reportsDir string
	caps       capability.Set
	now        func() time.Time

	mu           sync.Mutex
	stats        Stats
	totalLatency time.Duration
}

// New builds a detector. reportsDir receives alert reports, saved frames and
// heatmaps.
func New(cfg config.Detection, lib *baseline.Library, reportsDir string, caps capability.Set) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lib == nil {
		return nil, apperr.New(apperr.CodeInvalidArgument, "baseline library is required")
	}
	return &Detector{cfg: cfg, lib: lib, reportsDir: reportsDir, caps: caps, now: time.Now}, nil
}

// Library exposes the underlying baseline store.
func (d *Detector) Library() *baseline.Library { return d.lib }

// AddBaseline stores img as a reference for site.
func (d *Detector) AddBaseline(img image.Image, site, theme string, metadata map[string]string) (baseline.Baseline, error) {
	return d.lib.Add(img, site, theme, metadata)
}

// CompareFile decodes the image at path and compares it. A missing file is a
// caller error.
func (d *Detector) CompareFile(ctx context.Context, path, site, theme string) (*ComparisonResult, image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, apperr.Wrapf(err, apperr.CodeInvalidArgument, "read screenshot %s", path)
	}
	return d.CompareBytes(ctx, data, site, theme)
}

// CompareBytes decodes an encoded screenshot and compares it.
func (d *Detector) CompareBytes(ctx context.Context, data []byte, site, theme string) (*ComparisonResult, image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeInvalidArgument, "unrecognised screenshot encoding")
	}
	if len(d.caps.ImageCodecs) > 0 && !d.caps.HasCodec(format) {
		return nil, nil, apperr.Newf(apperr.CodeUnavailableDependency, "no %s decoder available", format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, nil, apperr.New(apperr.CodeInvalidArgument, "empty screenshot")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeInvalidArgument, "decode screenshot")
	}
	res, err := d.Compare(ctx, img, site, theme)
	return res, img, err
}

type candidateScore struct {
	id       string
	weighted float64
	regions  []RegionScore
	hashes   imaging.HashDistances
}

// Compare scores img against every candidate baseline for (site, theme) at
// img's resolution and keeps the best.
func (d *Detector) Compare(ctx context.Context, img image.Image, site, theme string) (*ComparisonResult, error) {
	ctx, span := trace.StartSpan(ctx, "detector.compare")
	defer span.End()
	log := trace.Logger(ctx)

	start := time.Now()
	if img == nil || img.Bounds().Empty() {
		return nil, apperr.New(apperr.CodeInvalidArgument, "empty screenshot")
	}
	if theme == "" {
		theme = "default"
	}
	live := imaging.ToRGBA(img)
	res := baseline.Resolution(live)
	w, h := live.Bounds().Dx(), live.Bounds().Dy()
	regions := d.cfg.RegionsFor(site)

	liveHashes, err := imaging.Fingerprint(live)
	if err != nil {
		return nil, err
	}

	var best *candidateScore
	evaluated := 0
	for _, cand := range d.lib.Candidates(site, res, theme) {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeCancelled, "compare aborted")
		}
		bimg, err := d.lib.Load(cand)
		if err != nil {
			log.Warn("skipping unreadable baseline", "id", cand.ID, "error", err)
			continue
		}
		hashes := cand.Hashes
		if baseline.Resolution(bimg) != res {
			bimg = imaging.ResizeTo(bimg, w, h)
			if hashes, err = imaging.Fingerprint(bimg); err != nil {
				log.Warn("skipping baseline with unhashable resize", "id", cand.ID, "error", err)
				continue
			}
		}
		dist, err := liveHashes.Distances(hashes)
		if err != nil {
			log.Warn("skipping baseline with bad fingerprint", "id", cand.ID, "error", err)
			continue
		}
		scores := scoreRegions(live, bimg, regions)
		cs := candidateScore{id: cand.ID, weighted: weightedScore(scores), regions: scores, hashes: dist}
		evaluated++
		if best == nil || cs.weighted > best.weighted {
			best = &cs
		}
	}

	if best == nil {
		best = &candidateScore{
			regions: unscoredRegions(regions),
			hashes:  imaging.HashDistances{Average: 64, Difference: 64, Perceptual: 64},
		}
		log.Warn("no baseline available for comparison", "site", site, "resolution", res, "theme", theme)
	}

	result := d.evaluate(best)
	result.Site, result.Resolution, result.Theme = site, res, theme
	result.EvaluatedBaselines = evaluated
	result.Latency = time.Since(start)
	result.ComparedAt = d.now().UTC()

	d.record(result)
	span.SetAttr("match", result.IsMatch)
	span.SetAttr("score", result.MatchScore)
	log.Debug("comparison complete", "span", span, "baselines", evaluated, "best", result.BestBaseline)
	return result, nil
}

func scoreRegions(live, base image.Image, regions []config.Region) []RegionScore {
	out := make([]RegionScore, len(regions))
	for i, r := range regions {
		out[i] = RegionScore{
			Name:      r.Name,
			Score:     imaging.RegionSimilarity(live, base, imaging.Rect{X: r.X, Y: r.Y, W: r.Width, H: r.Height}),
			Threshold: r.Threshold,
			Critical:  r.Critical,
		}
	}
	return out
}

func unscoredRegions(regions []config.Region) []RegionScore {
	out := make([]RegionScore, len(regions))
	for i, r := range regions {
		out[i] = RegionScore{Name: r.Name, Threshold: r.Threshold, Critical: r.Critical}
	}
	return out
}

// weightedScore averages region scores with critical regions counted twice.
func weightedScore(scores []RegionScore) float64 {
	var sum, weights float64
	for _, s := range scores {
		w := 1.0
		if s.Critical {
			w = criticalWeight
		}
		sum += w * s.Score
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// evaluate applies the match rule: weighted score at or above the global
// threshold, every hash distance within the hash threshold and no critical
// region under its own threshold.
func (d *Detector) evaluate(c *candidateScore) *ComparisonResult {
	r := &ComparisonResult{
		MatchScore:      c.weighted,
		BestBaseline:    c.id,
		HashDistances:   c.hashes,
		RegionScores:    c.regions,
		DiffRegions:     []string{},
		CriticalChanges: []string{},
	}
	for _, s := range c.regions {
		if s.Passed() {
			continue
		}
		r.DiffRegions = append(r.DiffRegions, s.Name)
		if s.Critical {
			r.CriticalChanges = append(r.CriticalChanges, s.Name)
		}
	}
	r.IsMatch = c.id != "" &&
		atLeast(c.weighted, d.cfg.UI.GlobalThreshold) &&
		c.hashes.Max() <= d.cfg.UI.HashDistanceThreshold &&
		len(r.CriticalChanges) == 0
	return r
}

func (d *Detector) record(r *ComparisonResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.TotalComparisons++
	if r.IsMatch {
		d.stats.Matches++
	} else {
		d.stats.DriftDetections++
	}
	d.totalLatency += r.Latency
}

// Stats returns a snapshot of the rolling counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	s := d.stats
	if s.TotalComparisons > 0 {
		s.AvgLatency = time.Duration(math.Round(float64(d.totalLatency) / float64(s.TotalComparisons)))
	}
	d.mu.Unlock()
	s.Baselines = len(d.lib.List(""))
	return s
}

// encodePNG is shared by frame and heatmap persistence.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "encode png")
	}
	return buf.Bytes(), nil
}
