package baseline

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

func frame(w, h int, shade uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{shade, uint8(x), uint8(y), 255})
		}
	}
	return img
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTest(t *testing.T, max int) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir, max)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	l.WithClock((&stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}).now)
	return l, dir
}

func TestAddWritesImageAndSidecar(t *testing.T) {
	l, dir := openTest(t, 5)
	b, err := l.Add(frame(64, 48, 10), "betfair", "dark", map[string]string{"note": "lobby"})
	if err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if b.Resolution != "64x48" {
		t.Errorf("Resolution = %q, want 64x48", b.Resolution)
	}
	if _, err := os.Stat(filepath.Join(dir, b.ID+".png")); err != nil {
		t.Errorf("png missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, b.ID+".json")); err != nil {
		t.Errorf("sidecar missing: %v", err)
	}
	if !b.Hashes.Valid() {
		t.Error("hashes not populated")
	}

	reopened, err := Open(dir, 5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Get(b.ID)
	if !ok {
		t.Fatal("baseline not indexed after reopen")
	}
	if got.Theme != "dark" || got.Metadata["note"] != "lobby" || !got.CreatedAt.Equal(b.CreatedAt) {
		t.Errorf("reopened baseline = %+v", got)
	}
	d, err := got.Hashes.Distances(b.Hashes)
	if err != nil || d.Max() != 0 {
		t.Errorf("hash distances after reopen = %+v, %v", d, err)
	}
}

func TestCapacityPrunesOldest(t *testing.T) {
	const max = 3
	l, dir := openTest(t, max)
	var added []Baseline
	for i := 0; i < max+1; i++ {
		b, err := l.Add(frame(32, 32, uint8(i*40)), "betfair", "default", nil)
		if err != nil {
			t.Fatalf("Add(%d) = %v", i, err)
		}
		added = append(added, b)
	}

	list := l.List("betfair")
	if len(list) != max {
		t.Fatalf("len(List) = %d, want %d", len(list), max)
	}
	if _, ok := l.Get(added[0].ID); ok {
		t.Error("oldest baseline should have been pruned")
	}
	for _, b := range added[1:] {
		if _, ok := l.Get(b.ID); !ok {
			t.Errorf("baseline %s should remain", b.ID)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, added[0].ID+".png")); !os.IsNotExist(err) {
		t.Error("pruned png still on disk")
	}
	if list[0].ID != added[max].ID {
		t.Errorf("List()[0] = %s, want newest %s", list[0].ID, added[max].ID)
	}
}

func TestCapacityIsPerSite(t *testing.T) {
	l, _ := openTest(t, 1)
	if _, err := l.Add(frame(16, 16, 1), "betfair", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Add(frame(16, 16, 2), "pokerstars", "", nil); err != nil {
		t.Fatal(err)
	}
	if n := len(l.List("")); n != 2 {
		t.Errorf("total = %d, want 2", n)
	}
}

func TestCandidatesCascade(t *testing.T) {
	l, _ := openTest(t, 10)
	exact, _ := l.Add(frame(64, 48, 1), "betfair", "dark", nil)
	sameRes, _ := l.Add(frame(64, 48, 2), "betfair", "light", nil)
	otherRes, _ := l.Add(frame(32, 24, 3), "betfair", "dark", nil)
	other, _ := l.Add(frame(64, 48, 4), "pokerstars", "dark", nil)

	ids := func(bs []Baseline) map[string]bool {
		m := make(map[string]bool)
		for _, b := range bs {
			m[b.ID] = true
		}
		return m
	}

	tests := []struct {
		name             string
		site, res, theme string
		want             []string
	}{
		{"exact", "betfair", "64x48", "dark", []string{exact.ID}},
		{"site and resolution", "betfair", "64x48", "neon", []string{exact.ID, sameRes.ID}},
		{"site only", "betfair", "800x600", "dark", []string{exact.ID, sameRes.ID, otherRes.ID}},
		{"everything", "partypoker", "64x48", "dark", []string{exact.ID, sameRes.ID, otherRes.ID, other.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(l.Candidates(tt.site, tt.res, tt.theme))
			if len(got) != len(tt.want) {
				t.Fatalf("Candidates = %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("missing %s", id)
				}
			}
		})
	}
}

func TestLoadReturnsStoredPixels(t *testing.T) {
	l, _ := openTest(t, 5)
	src := frame(20, 10, 77)
	b, _ := l.Add(src, "betfair", "", nil)
	img, err := l.Load(b)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	r, g, bl, _ := img.At(5, 3).RGBA()
	if r>>8 != 77 || g>>8 != 5 || bl>>8 != 3 {
		t.Errorf("pixel = %d,%d,%d", r>>8, g>>8, bl>>8)
	}
}

func TestRemove(t *testing.T) {
	l, _ := openTest(t, 5)
	b, _ := l.Add(frame(8, 8, 1), "betfair", "", nil)
	if err := l.Remove(b.ID); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	if err := l.Remove(b.ID); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("second Remove() = %v, want NOT_FOUND", err)
	}
}

func TestAddRejectsMissingSite(t *testing.T) {
	l, _ := openTest(t, 5)
	if _, err := l.Add(frame(8, 8, 1), "", "", nil); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Errorf("Add() = %v, want INVALID_ARGUMENT", err)
	}
}

func TestOpenSkipsCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Open(dir, 5)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if n := len(l.List("")); n != 0 {
		t.Errorf("indexed %d baselines, want 0", n)
	}
}

func TestExportImport(t *testing.T) {
	src, _ := openTest(t, 5)
	a, _ := src.Add(frame(16, 16, 1), "betfair", "", nil)
	b, _ := src.Add(frame(16, 16, 2), "betfair", "", nil)
	_, _ = src.Add(frame(16, 16, 3), "pokerstars", "", nil)

	var buf bytes.Buffer
	n, err := src.Export(&buf, "betfair")
	if err != nil || n != 2 {
		t.Fatalf("Export() = %d, %v", n, err)
	}

	dst, dir := openTest(t, 5)
	got, err := dst.Import(bytes.NewReader(buf.Bytes()))
	if err != nil || got != 2 {
		t.Fatalf("Import() = %d, %v", got, err)
	}
	for _, want := range []Baseline{a, b} {
		imp, ok := dst.Get(want.ID)
		if !ok {
			t.Fatalf("missing %s", want.ID)
		}
		if filepath.Dir(imp.FilePath) != dir {
			t.Errorf("FilePath = %s, want under %s", imp.FilePath, dir)
		}
		if _, err := dst.Load(imp); err != nil {
			t.Errorf("Load(%s) = %v", imp.ID, err)
		}
	}

	again, err := dst.Import(bytes.NewReader(buf.Bytes()))
	if err != nil || again != 0 {
		t.Errorf("re-import = %d, %v; want 0 duplicates", again, err)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	l, _ := openTest(t, 5)
	if _, err := l.Import(bytes.NewReader([]byte("definitely not zstd"))); err == nil {
		t.Error("expected error for garbage bundle")
	}
}
