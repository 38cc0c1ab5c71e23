// Package capability probes the host once at startup. The resulting Set is
// passed to constructors; nothing else in tablewatch looks at the
// environment to decide what it can do.
package capability

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/GriffinCanCode/tablewatch/internal/chrome"
	"github.com/GriffinCanCode/tablewatch/internal/config"
)

// Set records what this process can rely on.
type Set struct {
	// ChromeBinary is the browser executable, empty when none was found.
	ChromeBinary    string
	ChromeAvailable bool
	// CDPTransport is false when the debugging endpoint address is unusable,
	// which makes every scraper operation impossible.
	CDPTransport    bool
	ImageCodecs     []string
	RedisConfigured bool
	ReportsWritable bool
}

// Detect runs every probe.
func Detect(cfg *config.Config) Set {
	var s Set
	if bin, err := chrome.Find(cfg.CDP.ChromePath); err == nil {
		s.ChromeBinary = bin
		s.ChromeAvailable = true
	} else {
		slog.Debug("chrome not found", "error", err)
	}
	s.CDPTransport = validEndpoint(cfg.CDP.Host, cfg.CDP.Port)
	s.ImageCodecs = probeCodecs()
	s.RedisConfigured = cfg.Redis.URL != ""
	s.ReportsWritable = writableDir(cfg.Detector.ReportsDir)

	slog.Info("capabilities detected",
		"chrome", s.ChromeBinary,
		"cdp", s.CDPTransport,
		"codecs", s.ImageCodecs,
		"redis", s.RedisConfigured,
		"reports_writable", s.ReportsWritable)
	return s
}

// HasCodec reports whether images of the given format can be decoded.
func (s Set) HasCodec(format string) bool {
	for _, c := range s.ImageCodecs {
		if c == format {
			return true
		}
	}
	return false
}

func validEndpoint(host string, port int) bool {
	if host == "" || port <= 0 || port > 65535 {
		return false
	}
	_, _, err := net.SplitHostPort(net.JoinHostPort(host, strconv.Itoa(port)))
	return err == nil
}

// probeCodecs round-trips a one-pixel image through each registered codec.
func probeCodecs() []string {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	encoders := []struct {
		name string
		enc  func(*bytes.Buffer) error
	}{
		{"png", func(b *bytes.Buffer) error { return png.Encode(b, img) }},
		{"jpeg", func(b *bytes.Buffer) error { return jpeg.Encode(b, img, nil) }},
		{"gif", func(b *bytes.Buffer) error { return gif.Encode(b, img, nil) }},
	}
	var out []string
	for _, e := range encoders {
		var buf bytes.Buffer
		if err := e.enc(&buf); err != nil {
			continue
		}
		if _, format, err := image.Decode(&buf); err == nil && format == e.name {
			out = append(out, e.name)
		}
	}
	return out
}

func writableDir(dir string) bool {
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(filepath.Clean(name))
	return true
}
