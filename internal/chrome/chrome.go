// Package chrome finds and launches a local Chrome with remote debugging
// enabled, and owns the resulting process until it is stopped.
package chrome

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/resilience"
)

// StopGrace is how long Stop waits after an interrupt before killing.
const StopGrace = 5 * time.Second

// Options configures one browser launch.
type Options struct {
	Binary     string
	Port       int
	ProfileDir string
	Headless   bool
	StartURL   string
	// Ready overrides the readiness polling schedule.
	Ready resilience.Policy
	// Output receives the browser's stdout and stderr; nil discards them.
	Output io.Writer
}

// Find returns override when it points at a file, otherwise the first known
// install location for this platform, otherwise the first match on PATH.
func Find(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", apperr.Wrapf(err, apperr.CodeUnavailableDependency, "chrome override %s", override)
		}
		return override, nil
	}
	for _, p := range candidatePaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	for _, name := range pathNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", apperr.New(apperr.CodeUnavailableDependency, "no chrome or chromium installation found")
}

// Args builds the command line for opts.
func Args(opts Options) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(opts.Port),
		"--user-data-dir=" + opts.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-popup-blocking",
		"--remote-allow-origins=*",
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--window-size=1920,1080")
	}
	if opts.StartURL != "" {
		args = append(args, opts.StartURL)
	}
	return args
}

// Process is a browser started by Launch.
type Process struct {
	cmd   *exec.Cmd
	ready resilience.Policy

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
}

// Launch starts the browser. The process is not tied to ctx; callers must
// Stop it.
func Launch(ctx context.Context, opts Options) (*Process, error) {
	if opts.Binary == "" {
		return nil, apperr.New(apperr.CodeUnavailableDependency, "no chrome binary")
	}
	if opts.Port <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "invalid debugging port %d", opts.Port)
	}
	if opts.ProfileDir == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "profile dir is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCancelled, "launch aborted")
	}
	if err := os.MkdirAll(opts.ProfileDir, 0o700); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorageFailed, "create profile dir %s", opts.ProfileDir)
	}

	cmd := exec.Command(opts.Binary, Args(opts)...)
	cmd.Stdout = opts.Output
	cmd.Stderr = opts.Output
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeUnavailableDependency, "start %s", opts.Binary)
	}

	ready := opts.Ready
	if ready.MaxAttempts == 0 {
		ready = resilience.ReadyPolicy()
	}
	p := &Process{cmd: cmd, ready: ready, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	slog.Info("chrome launched", "pid", cmd.Process.Pid, "port", opts.Port, "profile", opts.ProfileDir, "headless", opts.Headless)
	return p, nil
}

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// WaitReady polls probe until it succeeds. On failure the process is stopped
// before returning.
func (p *Process) WaitReady(ctx context.Context, probe func(context.Context) error) error {
	err := resilience.Retry(ctx, p.ready, func(int) error {
		if p.Exited() {
			return apperr.Wrap(p.waitErr, apperr.CodeUnavailableDependency, "chrome exited during startup")
		}
		if err := probe(ctx); err != nil {
			return apperr.Wrap(err, apperr.CodeConnectionFailed, "debugging endpoint not ready")
		}
		return nil
	})
	if err != nil {
		_ = p.Stop(context.Background())
		return err
	}
	return nil
}

// Stop interrupts the browser, kills it if it has not exited within
// StopGrace (or when ctx ends), and waits for it. Safe to call repeatedly.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		if p.Exited() {
			return
		}
		pid := p.PID()
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = p.cmd.Process.Kill()
		}
		timer := time.NewTimer(StopGrace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			slog.Warn("chrome ignored interrupt, killing", "pid", pid)
			_ = p.cmd.Process.Kill()
			<-p.done
		case <-ctx.Done():
			_ = p.cmd.Process.Kill()
			<-p.done
		}
		slog.Info("chrome stopped", "pid", pid)
	})
	return nil
}
