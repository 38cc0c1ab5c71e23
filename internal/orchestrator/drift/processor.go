// Package drift periodically screenshots the table and checks it against
// the baseline library.
package drift

import (
	"bytes"
	"context"
	"image"
	_ "image/png" // PNG decoder
	"log/slog"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/GriffinCanCode/tablewatch/internal/alert"
	"github.com/GriffinCanCode/tablewatch/internal/detector"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator/history"
	"github.com/GriffinCanCode/tablewatch/internal/trace"
)

// ScreenSource captures the table tab as PNG.
type ScreenSource interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// Comparator is the part of the detector the loop needs.
type Comparator interface {
	CompareBytes(ctx context.Context, data []byte, site, theme string) (*detector.ComparisonResult, image.Image, error)
	SaveFrame(img image.Image) (string, error)
	GenerateAlertReport(r *detector.ComparisonResult, live image.Image, screenshotPath string) (*detector.Report, error)
}

// Event records one comparison; Report is set when drift was reported.
type Event struct {
	Result *detector.ComparisonResult `json:"result"`
	Report *detector.Report           `json:"report,omitempty"`
	At     time.Time                  `json:"at"`
}

// Processor runs drift checks.
type Processor struct {
	screen      ScreenSource
	cmp         Comparator
	sink        alert.Sink
	site, theme string
	store       *history.Store[Event]

	hashFrame func([]byte) (*goimagehash.ImageHash, error)

	mu        sync.RWMutex
	last      *detector.ComparisonResult
	matchHash *goimagehash.ImageHash
	skipped   int
}

// NewProcessor checks frames from screen for site and theme. sink may be nil.
func NewProcessor(screen ScreenSource, cmp Comparator, sink alert.Sink, site, theme string, store *history.Store[Event]) *Processor {
	return &Processor{
		screen: screen, cmp: cmp, sink: sink, site: site, theme: theme, store: store,
		hashFrame: perceptionHash,
	}
}

// Run checks every interval until ctx ends or stopCh closes.
func (p *Processor) Run(ctx context.Context, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := p.Check(ctx); err != nil {
				slog.Debug("drift check failed", "error", err)
			}
		}
	}
}

// Check captures one frame and compares it unless it is visibly the same
// frame that last matched. It returns false when no comparison ran.
func (p *Processor) Check(ctx context.Context) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "drift.check")
	defer span.End()
	log := trace.Logger(ctx)

	png, err := p.screen.CaptureScreenshot(ctx)
	if err != nil {
		return false, err
	}
	hash, skip := p.shouldSkip(png)
	if skip {
		return false, nil
	}

	res, live, err := p.cmp.CompareBytes(ctx, png, p.site, p.theme)
	if err != nil {
		return false, err
	}
	span.SetAttr("match", res.IsMatch)
	span.SetAttr("score", res.MatchScore)

	p.mu.Lock()
	p.last = res
	p.matchHash = nil
	if res.IsMatch {
		p.matchHash = hash
	}
	p.mu.Unlock()

	ev := Event{Result: res, At: res.ComparedAt}
	if !res.IsMatch {
		ev.Report = p.report(ctx, res, live)
	} else {
		log.Debug("ui matches baseline", "baseline", res.BestBaseline, "score", res.MatchScore)
	}
	p.store.Add(ev)
	p.store.Emit(ev)
	return true, nil
}

func (p *Processor) report(ctx context.Context, res *detector.ComparisonResult, live image.Image) *detector.Report {
	log := trace.Logger(ctx)
	shot, err := p.cmp.SaveFrame(live)
	if err != nil {
		log.Warn("failed to save drift frame", "error", err)
	}
	rep, err := p.cmp.GenerateAlertReport(res, live, shot)
	if err != nil {
		log.Error("failed to write drift report", "error", err)
		return nil
	}
	if p.sink != nil {
		if err := p.sink.Publish(ctx, rep); err != nil {
			log.Warn("failed to publish drift report", "report_id", rep.ReportID, "error", err)
		}
	}
	return rep
}

func perceptionHash(png []byte) (*goimagehash.ImageHash, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	return goimagehash.PerceptionHash(img)
}

// shouldSkip reports whether png is perceptually identical to the frame
// behind the last matching comparison. It also returns the frame's hash,
// nil when it could not be computed.
func (p *Processor) shouldSkip(png []byte) (*goimagehash.ImageHash, bool) {
	hash, err := p.hashFrame(png)
	if err != nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.matchHash == nil || p.skipped >= ForceCompareEvery {
		p.skipped = 0
		return hash, false
	}
	dist, err := p.matchHash.Distance(hash)
	if err != nil || dist > MaxFrameDistance {
		p.skipped = 0
		return hash, false
	}
	p.skipped++
	slog.Debug("skipping drift check for unchanged frame", "distance", dist)
	return hash, true
}

// Trusted reports whether the last comparison matched. Before any
// comparison the UI is trusted.
func (p *Processor) Trusted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last == nil || p.last.IsMatch
}

// Last returns the most recent comparison, if any.
func (p *Processor) Last() *detector.ComparisonResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
