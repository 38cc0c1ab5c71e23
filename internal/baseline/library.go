// Package baseline persists reference screenshots of a site's table UI with
// their fingerprints, and bounds how many are kept per site.
package baseline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/imaging"
)

// Baseline is one stored reference screenshot. It mirrors the JSON sidecar.
type Baseline struct {
	ID         string            `json:"baseline_id"`
	Site       string            `json:"site_name"`
	Resolution string            `json:"resolution"`
	Theme      string            `json:"theme"`
	FilePath   string            `json:"file_path"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Hashes     imaging.Hashes    `json:"hashes"`
}

// Library is the on-disk baseline store plus its in-memory index.
type Library struct {
	dir        string
	maxPerSite int
	now        func() time.Time

	mu   sync.RWMutex
	byID map[string]Baseline
}

// Resolution formats img's size as "WxH".
func Resolution(img image.Image) string {
	b := img.Bounds()
	return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
}

// Open indexes every sidecar in dir, creating dir if needed.
func Open(dir string, maxPerSite int) (*Library, error) {
	if maxPerSite < 1 {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "max baselines per site must be positive, got %d", maxPerSite)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorageFailed, "create baseline dir %s", dir)
	}
	l := &Library{dir: dir, maxPerSite: maxPerSite, now: time.Now, byID: make(map[string]Baseline)}

	sidecars, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorageFailed, "scan baseline dir")
	}
	sites := make(map[string]bool)
	for _, path := range sidecars {
		b, err := readSidecar(path)
		if err != nil {
			slog.Warn("skipping baseline sidecar", "path", path, "error", err)
			continue
		}
		if _, err := os.Stat(b.FilePath); err != nil {
			slog.Warn("skipping baseline without image", "id", b.ID, "path", b.FilePath)
			continue
		}
		l.byID[b.ID] = b
		sites[b.Site] = true
	}
	for site := range sites {
		l.enforceLimit(site)
	}
	slog.Info("baseline library opened", "dir", dir, "baselines", len(l.byID))
	return l, nil
}

// WithClock replaces the creation-time source.
func (l *Library) WithClock(now func() time.Time) *Library {
	l.now = now
	return l
}

func (l *Library) Dir() string     { return l.dir }
func (l *Library) MaxPerSite() int { return l.maxPerSite }

func readSidecar(path string) (Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Baseline{}, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, err
	}
	if b.ID == "" || b.Site == "" || !b.Hashes.Valid() {
		return Baseline{}, apperr.New(apperr.CodeInvalidPayload, "incomplete sidecar")
	}
	return b, nil
}

// Add stores img as a new baseline for site and prunes the oldest baselines
// beyond the per-site cap.
func (l *Library) Add(img image.Image, site, theme string, metadata map[string]string) (Baseline, error) {
	if site == "" {
		return Baseline{}, apperr.New(apperr.CodeInvalidArgument, "site is required")
	}
	if img.Bounds().Empty() {
		return Baseline{}, apperr.New(apperr.CodeInvalidArgument, "empty image")
	}
	if theme == "" {
		theme = "default"
	}
	img = imaging.ToRGBA(img)
	hashes, err := imaging.Fingerprint(img)
	if err != nil {
		return Baseline{}, err
	}

	res := Resolution(img)
	id := fmt.Sprintf("%s_%s_%s_%s", sanitize(site), res, sanitize(theme), uuid.NewString()[:8])
	b := Baseline{
		ID:         id,
		Site:       site,
		Resolution: res,
		Theme:      theme,
		FilePath:   filepath.Join(l.dir, id+".png"),
		CreatedAt:  l.now().UTC(),
		Metadata:   metadata,
		Hashes:     hashes,
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Baseline{}, apperr.Wrap(err, apperr.CodeStorageFailed, "encode baseline")
	}
	if err := l.write(b, buf.Bytes()); err != nil {
		return Baseline{}, err
	}

	l.mu.Lock()
	l.byID[id] = b
	l.enforceLimit(site)
	l.mu.Unlock()

	slog.Info("baseline added", "id", id, "site", site, "resolution", res, "theme", theme)
	return b, nil
}

// write persists the image then the sidecar, so a sidecar never points at a
// missing file.
func (l *Library) write(b Baseline, pngData []byte) error {
	if err := os.WriteFile(b.FilePath, pngData, 0o644); err != nil {
		return apperr.Wrapf(err, apperr.CodeStorageFailed, "write %s", b.FilePath)
	}
	sidecar, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "encode sidecar")
	}
	if err := os.WriteFile(l.sidecarPath(b.ID), sidecar, 0o644); err != nil {
		_ = os.Remove(b.FilePath)
		return apperr.Wrapf(err, apperr.CodeStorageFailed, "write sidecar for %s", b.ID)
	}
	return nil
}

func (l *Library) sidecarPath(id string) string {
	return filepath.Join(l.dir, id+".json")
}

// enforceLimit deletes the oldest baselines of site beyond the cap. Callers
// hold l.mu (or own l exclusively during Open).
func (l *Library) enforceLimit(site string) {
	list := l.listLocked(site)
	if len(list) <= l.maxPerSite {
		return
	}
	// listLocked is newest first; everything past the cap goes.
	for _, b := range list[l.maxPerSite:] {
		l.removeLocked(b)
		slog.Info("baseline pruned", "id", b.ID, "site", site, "created_at", b.CreatedAt)
	}
}

func (l *Library) removeLocked(b Baseline) {
	delete(l.byID, b.ID)
	for _, p := range []string{b.FilePath, l.sidecarPath(b.ID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to delete baseline file", "path", p, "error", err)
		}
	}
}

// Remove deletes a baseline by id.
func (l *Library) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.byID[id]
	if !ok {
		return apperr.Newf(apperr.CodeNotFound, "baseline %s not found", id)
	}
	l.removeLocked(b)
	return nil
}

// Get returns one baseline by id.
func (l *Library) Get(id string) (Baseline, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.byID[id]
	return b, ok
}

// List returns the baselines of site (all sites when empty), newest first.
func (l *Library) List(site string) []Baseline {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listLocked(site)
}

func (l *Library) listLocked(site string) []Baseline {
	out := make([]Baseline, 0, len(l.byID))
	for _, b := range l.byID {
		if site == "" || b.Site == site {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Candidates narrows the library for a comparison. It tries the exact
// (site, resolution, theme) triple, then (site, resolution), then site, then
// every baseline, returning the first non-empty set.
func (l *Library) Candidates(site, resolution, theme string) []Baseline {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.listLocked("")
	filters := []func(Baseline) bool{
		func(b Baseline) bool { return b.Site == site && b.Resolution == resolution && b.Theme == theme },
		func(b Baseline) bool { return b.Site == site && b.Resolution == resolution },
		func(b Baseline) bool { return b.Site == site },
	}
	for _, keep := range filters {
		var out []Baseline
		for _, b := range all {
			if keep(b) {
				out = append(out, b)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return all
}

// Load decodes the baseline image.
func (l *Library) Load(b Baseline) (image.Image, error) {
	f, err := os.Open(b.FilePath)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorageFailed, "open baseline %s", b.ID)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeInvalidPayload, "decode baseline %s", b.ID)
	}
	return img, nil
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
