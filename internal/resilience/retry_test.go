package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

type recordingSleeper struct{ delays []time.Duration }

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestConnectPolicyDelays(t *testing.T) {
	p := ConnectPolicy(6)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDelayNonDecreasingAndCapped(t *testing.T) {
	p := ConnectPolicy(20)
	prev := time.Duration(0)
	for i := 0; i < 64; i++ {
		d := p.Delay(i)
		if d < prev {
			t.Fatalf("Delay(%d) = %v < previous %v", i, d, prev)
		}
		if d > DefaultConnectMaxDelay {
			t.Fatalf("Delay(%d) = %v exceeds cap", i, d)
		}
		prev = d
	}
}

func TestRetryNeverExceedsMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		rec := &recordingSleeper{}
		p := ConnectPolicy(max)
		p.Sleep = rec.sleep
		calls := 0
		err := Retry(context.Background(), p, func(int) error {
			calls++
			return apperr.New(apperr.CodeTabNotFound, "no tab")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != max {
			t.Errorf("max=%d: calls = %d", max, calls)
		}
		if len(rec.delays) != max-1 {
			t.Errorf("max=%d: sleeps = %d, want %d", max, len(rec.delays), max-1)
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	rec := &recordingSleeper{}
	p := ConnectPolicy(5)
	p.Sleep = rec.sleep
	var attempts []int
	err := Retry(context.Background(), p, func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return apperr.New(apperr.CodeConnectionFailed, "refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() = %v", err)
	}
	if len(attempts) != 3 || attempts[2] != 2 {
		t.Errorf("attempts = %v, want [0 1 2]", attempts)
	}
	if len(rec.delays) != 2 || rec.delays[0] != 2*time.Second || rec.delays[1] != 4*time.Second {
		t.Errorf("delays = %v", rec.delays)
	}
}

func TestRetryNonRetryable(t *testing.T) {
	p := ConnectPolicy(5)
	p.Sleep = (&recordingSleeper{}).sleep
	calls := 0
	err := Retry(context.Background(), p, func(int) error {
		calls++
		return apperr.New(apperr.CodeUnavailableDependency, "no browser")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !apperr.IsCode(err, apperr.CodeUnavailableDependency) {
		t.Errorf("err = %v", err)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, ConnectPolicy(3), func(int) error { return nil })
	if !apperr.IsCode(err, apperr.CodeCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want cancelled", err)
	}
}

func TestRetryRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := Retry(ctx, ConnectPolicy(3), func(int) error {
		return apperr.New(apperr.CodeTimeout, "slow")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > time.Second {
		t.Error("Retry ignored context deadline while sleeping")
	}
}
