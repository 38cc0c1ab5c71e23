// Package table polls the scraper and reports table changes.
package table

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/tablewatch/internal/extract"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator/history"
)

// Source yields one table read per call, nil when nothing could be read.
type Source interface {
	ExtractTableData(ctx context.Context) *extract.TableState
}

// Event is emitted whenever the table changes.
type Event struct {
	State     *extract.TableState `json:"state"`
	Digest    string              `json:"digest"`
	PrevStage extract.Street      `json:"prev_stage,omitempty"`
	// Trusted is false while the UI is known to have drifted from its
	// baselines.
	Trusted bool      `json:"trusted"`
	At      time.Time `json:"at"`
}

// Processor turns polled reads into change events.
type Processor struct {
	src     Source
	store   *history.Store[Event]
	trusted func() bool

	mu     sync.RWMutex
	latest *extract.TableState
	digest string
	misses int
}

// NewProcessor polls src and records changes in store. trusted may be nil.
func NewProcessor(src Source, store *history.Store[Event], trusted func() bool) *Processor {
	if trusted == nil {
		trusted = func() bool { return true }
	}
	return &Processor{src: src, store: store, trusted: trusted}
}

// Run polls every interval until ctx ends or stopCh closes.
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
			p.Poll(ctx)
		}
	}
}

// Poll reads the table once and emits an event when its digest changed.
func (p *Processor) Poll(ctx context.Context) (Event, bool) {
	st := p.src.ExtractTableData(ctx)
	if st == nil {
		p.mu.Lock()
		p.misses++
		misses := p.misses
		p.mu.Unlock()
		if misses%MissLogEvery == 0 {
			slog.Warn("no table data", "consecutive_misses", misses)
		}
		return Event{}, false
	}
	digest, err := st.Digest()
	if err != nil {
		slog.Debug("digest failed", "error", err)
		return Event{}, false
	}

	p.mu.Lock()
	p.misses = 0
	if digest == p.digest {
		p.mu.Unlock()
		return Event{}, false
	}
	var prev extract.Street
	if p.latest != nil {
		prev = p.latest.Stage
	}
	p.latest = st
	p.digest = digest
	p.mu.Unlock()

	ev := Event{State: st, Digest: digest, PrevStage: prev, Trusted: p.trusted(), At: time.Now()}
	if prev != "" && prev != st.Stage {
		slog.Info("street changed", "from", prev, "to", st.Stage, "pot", st.PotSize)
	}
	p.store.Add(ev)
	p.store.Emit(ev)
	return ev, true
}

// Latest returns the most recent successful read.
func (p *Processor) Latest() *extract.TableState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Misses counts consecutive polls that produced nothing.
func (p *Processor) Misses() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.misses
}
