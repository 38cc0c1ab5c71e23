package alert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/GriffinCanCode/tablewatch/internal/detector"
	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

type recordingSink struct {
	got []string
	err error
}

func (s *recordingSink) Publish(_ context.Context, r *detector.Report) error {
	s.got = append(s.got, r.ReportID)
	return s.err
}

func report(level detector.AlertLevel) *detector.Report {
	return &detector.Report{
		ReportID:        "r-" + string(level),
		SiteName:        "betfair",
		AlertLevel:      level,
		DiffRegions:     []string{"action_buttons", "board_cards"},
		CriticalRegions: []string{"board_cards"},
	}
}

func TestMultiSinkPublishesToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("down")}
	c := &recordingSink{}
	err := MultiSink{a, b, c}.Publish(context.Background(), report(detector.LevelWarning))
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("Publish() = %v, want joined error", err)
	}
	if len(a.got) != 1 || len(c.got) != 1 {
		t.Error("a failing sink should not stop the others")
	}
}

func TestLevelFilter(t *testing.T) {
	next := &recordingSink{}
	f := LevelFilter{Min: detector.LevelWarning, Next: next}
	for _, l := range []detector.AlertLevel{detector.LevelInfo, detector.LevelWarning, detector.LevelCritical} {
		_ = f.Publish(context.Background(), report(l))
	}
	if strings.Join(next.got, ",") != "r-WARNING,r-CRITICAL" {
		t.Errorf("forwarded %v", next.got)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := s.Publish(context.Background(), report(detector.LevelCritical)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"level=ERROR", "report_id=r-CRITICAL", "critical=board_cards", "diff=action_buttons,board_cards"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestNewRedisSinkErrors(t *testing.T) {
	if _, err := NewRedisSink(context.Background(), "not a url", "s"); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Errorf("bad url = %v, want INVALID_ARGUMENT", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRedisSink(ctx, "redis://127.0.0.1:1/0", "s"); !apperr.IsCode(err, apperr.CodeUnavailableDependency) {
		t.Errorf("unreachable = %v, want UNAVAILABLE_DEPENDENCY", err)
	}
}
