package baseline

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// maxBundleEntry bounds a single file read from an imported bundle.
const maxBundleEntry = 64 << 20

// Export writes the baselines of site (all when empty) to w as a
// zstd-compressed tar of <id>.png and <id>.json pairs.
func (l *Library) Export(w io.Writer, site string) (int, error) {
	list := l.List(site)

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "create zstd writer")
	}
	tw := tar.NewWriter(zw)

	for _, b := range list {
		img, err := l.Load(b)
		if err != nil {
			_ = zw.Close()
			return 0, err
		}
		var imgBuf bytes.Buffer
		if err := png.Encode(&imgBuf, img); err != nil {
			_ = zw.Close()
			return 0, apperr.Wrap(err, apperr.CodeInternal, "encode baseline")
		}
		meta := b
		meta.FilePath = b.ID + ".png"
		sidecar, err := json.Marshal(meta)
		if err != nil {
			_ = zw.Close()
			return 0, apperr.Wrap(err, apperr.CodeInternal, "encode sidecar")
		}
		if err := addEntry(tw, b.ID+".png", imgBuf.Bytes(), b.CreatedAt); err != nil {
			_ = zw.Close()
			return 0, err
		}
		if err := addEntry(tw, b.ID+".json", sidecar, b.CreatedAt); err != nil {
			_ = zw.Close()
			return 0, err
		}
	}

	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return 0, apperr.Wrap(err, apperr.CodeStorageFailed, "finish tar")
	}
	if err := zw.Close(); err != nil {
		return 0, apperr.Wrap(err, apperr.CodeStorageFailed, "finish zstd")
	}
	return len(list), nil
}

func addEntry(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), ModTime: mod, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return apperr.Wrapf(err, apperr.CodeStorageFailed, "tar header %s", name)
	}
	if _, err := tw.Write(data); err != nil {
		return apperr.Wrapf(err, apperr.CodeStorageFailed, "tar write %s", name)
	}
	return nil
}

// Import reads a bundle produced by Export into the library. Baselines whose
// id already exists are skipped; site caps are enforced afterwards.
func (l *Library) Import(r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInvalidPayload, "open zstd stream")
	}
	defer zr.Close()

	images := make(map[string][]byte)
	sidecars := make(map[string]Baseline)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, apperr.Wrap(err, apperr.CodeInvalidPayload, "read bundle")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Base(hdr.Name)
		data, err := io.ReadAll(io.LimitReader(tr, maxBundleEntry))
		if err != nil {
			return 0, apperr.Wrapf(err, apperr.CodeInvalidPayload, "read %s", name)
		}
		switch {
		case strings.HasSuffix(name, ".png"):
			images[strings.TrimSuffix(name, ".png")] = data
		case strings.HasSuffix(name, ".json"):
			var b Baseline
			if err := json.Unmarshal(data, &b); err != nil {
				return 0, apperr.Wrapf(err, apperr.CodeInvalidPayload, "parse %s", name)
			}
			sidecars[strings.TrimSuffix(name, ".json")] = b
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	imported := 0
	sites := make(map[string]bool)
	for id, b := range sidecars {
		data, ok := images[id]
		if !ok || b.ID != id || sanitizeID(id) != id || !b.Hashes.Valid() {
			continue
		}
		if _, exists := l.byID[id]; exists {
			continue
		}
		if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
			continue
		}
		b.FilePath = filepath.Join(l.dir, id+".png")
		if err := l.write(b, data); err != nil {
			return imported, err
		}
		l.byID[id] = b
		sites[b.Site] = true
		imported++
	}
	for site := range sites {
		l.enforceLimit(site)
	}
	return imported, nil
}

// sanitizeID strips anything that could escape the baseline directory.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return -1
		}
		return r
	}, strings.ReplaceAll(id, "..", ""))
}
