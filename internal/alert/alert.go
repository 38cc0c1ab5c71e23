// Package alert fans drift reports out to operators and downstream
// consumers.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/tablewatch/internal/detector"
	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

const (
	// StreamMaxLen bounds the alert stream; trimming is approximate.
	StreamMaxLen = 1000
	pingTimeout  = 3 * time.Second
)

// Sink receives drift reports.
type Sink interface {
	Publish(ctx context.Context, r *detector.Report) error
}

// LogSink writes one structured line per report.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, r *detector.Report) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	level := slog.LevelInfo
	switch r.AlertLevel {
	case detector.LevelCritical:
		level = slog.LevelError
	case detector.LevelWarning:
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "ui drift report",
		"report_id", r.ReportID,
		"site", r.SiteName,
		"level", r.AlertLevel,
		"score", r.MatchScore,
		"baseline", r.BestBaseline,
		"critical", strings.Join(r.CriticalRegions, ","),
		"diff", strings.Join(r.DiffRegions, ","),
		"path", r.Path,
	)
	return nil
}

// RedisSink appends reports to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to url and checks the server answers.
func NewRedisSink(ctx context.Context, url, stream string) (*RedisSink, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidArgument, "parse redis url")
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, apperr.Wrap(err, apperr.CodeUnavailableDependency, "connect to redis").
			WithMetadata("addr", opt.Addr)
	}
	slog.Info("alert stream ready", "addr", opt.Addr, "stream", stream)
	return &RedisSink{client: client, stream: stream}, nil
}

func (s *RedisSink) Publish(ctx context.Context, r *detector.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "encode report")
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: StreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"report_id": r.ReportID,
			"site":      r.SiteName,
			"level":     string(r.AlertLevel),
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return apperr.Wrap(err, apperr.CodeConnectionFailed, "publish report").
			WithMetadata("stream", s.stream)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, r *detector.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LevelFilter forwards reports at or above Min.
type LevelFilter struct {
	Min  detector.AlertLevel
	Next Sink
}

func (f LevelFilter) Publish(ctx context.Context, r *detector.Report) error {
	if rank(r.AlertLevel) < rank(f.Min) {
		return nil
	}
	return f.Next.Publish(ctx, r)
}

func rank(l detector.AlertLevel) int {
	switch l {
	case detector.LevelCritical:
		return 2
	case detector.LevelWarning:
		return 1
	default:
		return 0
	}
}
