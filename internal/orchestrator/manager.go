package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/tablewatch/internal/alert"
	"github.com/GriffinCanCode/tablewatch/internal/config"
	"github.com/GriffinCanCode/tablewatch/internal/detector"
	"github.com/GriffinCanCode/tablewatch/internal/extract"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator/drift"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator/history"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator/table"
	"github.com/GriffinCanCode/tablewatch/internal/trace"
)

// TableEvent re-exported for API consumers
type TableEvent = table.Event

// DriftEvent re-exported for API consumers
type DriftEvent = drift.Event

// Browser is the scraper surface the watcher drives.
type Browser interface {
	table.Source
	drift.ScreenSource
}

// Detector is the detector surface the watcher drives.
type Detector interface {
	drift.Comparator
	PruneReports(maxAge time.Duration) (int, error)
}

// Watcher coordinates table polling and drift checks.
type Watcher struct {
	cfg      *config.Config
	detector Detector

	tables    *history.Store[TableEvent]
	drifts    *history.Store[DriftEvent]
	tableProc *table.Processor
	driftProc *drift.Processor

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New wires a watcher. det may be nil to disable drift checks; sink may be
// nil to only write reports.
func New(cfg *config.Config, browser Browser, det Detector, sink alert.Sink) *Watcher {
	w := &Watcher{
		cfg:      cfg,
		detector: det,
		tables:   history.NewStore[TableEvent](TableHistorySize, TableEventBuffer),
		drifts:   history.NewStore[DriftEvent](DriftHistorySize, DriftEventBuffer),
		stopCh:   make(chan struct{}),
	}
	if det != nil {
		w.driftProc = drift.NewProcessor(browser, det, sink, cfg.SiteName, cfg.Theme, w.drifts)
	}
	w.tableProc = table.NewProcessor(browser, w.tables, w.Trusted)
	return w
}

// Start launches the loops. Calling it twice has no effect.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true

	log := trace.Logger(ctx)
	w.spawn(func() { w.tableProc.Run(ctx, w.cfg.PollInterval, w.stopCh) })
	if w.driftProc != nil && w.cfg.DriftInterval > 0 {
		w.spawn(func() { w.driftProc.Run(ctx, w.cfg.DriftInterval, w.stopCh) })
	} else {
		log.Info("drift checks disabled")
	}
	if w.detector != nil && w.cfg.Detector.ReportRetention > 0 {
		w.spawn(func() { w.pruneLoop(ctx) })
	}
	log.Info("watcher started", "poll", w.cfg.PollInterval, "drift", w.cfg.DriftInterval, "site", w.cfg.SiteName)
	return nil
}

func (w *Watcher) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

func (w *Watcher) pruneLoop(ctx context.Context) {
	w.prune(ctx)
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *Watcher) prune(ctx context.Context) {
	n, err := w.detector.PruneReports(w.cfg.Detector.ReportRetention)
	if err != nil {
		trace.Logger(ctx).Warn("report pruning failed", "error", err)
		return
	}
	if n > 0 {
		trace.Logger(ctx).Info("pruned old reports", "removed", n)
	}
}

// Stop ends the loops and waits for them.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()
}

// TableEvents returns channel for table change events
func (w *Watcher) TableEvents() <-chan TableEvent {
	return w.tables.Events()
}

// DriftEvents returns channel for drift comparison events
func (w *Watcher) DriftEvents() <-chan DriftEvent {
	return w.drifts.Events()
}

// Latest returns the newest table state, nil before the first read.
func (w *Watcher) Latest() *extract.TableState {
	return w.tableProc.Latest()
}

// RecentTable returns table events from the last few minutes.
func (w *Watcher) RecentTable() []TableEvent {
	return w.tables.Since(RecentTableWindow)
}

// Trusted reports whether extraction results can be relied on, i.e. the
// last drift check (if any) matched.
func (w *Watcher) Trusted() bool {
	if w.driftProc == nil {
		return true
	}
	return w.driftProc.Trusted()
}

// LastComparison returns the newest drift comparison, if any.
func (w *Watcher) LastComparison() *detector.ComparisonResult {
	if w.driftProc == nil {
		return nil
	}
	return w.driftProc.Last()
}

// CheckDrift runs one drift check immediately.
func (w *Watcher) CheckDrift(ctx context.Context) (bool, error) {
	if w.driftProc == nil {
		return false, nil
	}
	return w.driftProc.Check(ctx)
}

// Misses counts consecutive polls without table data.
func (w *Watcher) Misses() int {
	return w.tableProc.Misses()
}
