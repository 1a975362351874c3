package resilience_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momtouch/ansim/internal/resilience"
)

var errBackend = errors.New("backend unavailable")

func TestCircuitBreaker_GuardsRecognitionBackend(t *testing.T) {
	// A recognition endpoint that can be flipped between healthy and
	// failing, the shape the breaker guards in production.
	var failing atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "vision pipeline down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"food_name":"김치찌개"}`)
	}))
	t.Cleanup(srv.Close)

	recognize := func() error {
		resp, err := http.Get(srv.URL + "/api/vision/foods")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("recognition failed: %s", resp.Status)
		}
		return nil
	}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  3,
		ResetTimeout: 25 * time.Millisecond,
		HalfOpenMax:  2,
	})

	// Healthy backend, breaker stays closed.
	if err := cb.Execute(recognize); err != nil {
		t.Fatalf("healthy call: %v", err)
	}

	// Backend goes down. The failure streak opens the breaker.
	failing.Store(true)
	for i := 0; i < 3; i++ {
		if err := cb.Execute(recognize); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	// While open, callers are rejected without touching the backend.
	before := hits.Load()
	if err := cb.Execute(recognize); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != before {
		t.Error("open breaker must not forward calls to the backend")
	}

	// Backend recovers. After the cool-down the probes close the breaker.
	failing.Store(false)
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if err := cb.Execute(recognize); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", got)
	}
}

func TestCircuitBreaker_DefaultFailureStreak(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		ResetTimeout: time.Hour,
	})

	// Four failures are not enough with the default streak of five.
	for i := 0; i < 4; i++ {
		_ = cb.Execute(func() error { return errBackend })
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v after 4 failures, want closed", got)
	}

	_ = cb.Execute(func() error { return errBackend })
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state = %v after 5 failures, want open", got)
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	// Two failures, one success, two more failures: the streak never
	// reaches three, so the breaker stays closed.
	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })

	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  2,
		ResetTimeout: 20 * time.Millisecond,
		HalfOpenMax:  3,
	})

	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })

	time.Sleep(25 * time.Millisecond)
	if got := cb.State(); got != resilience.StateHalfOpen {
		t.Fatalf("state = %v after cool-down, want half-open", got)
	}

	// The first probe fails, so the breaker re-opens immediately and the
	// remaining probe budget is irrelevant.
	if err := cb.Execute(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v", err)
	}
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state = %v after failed probe, want open", got)
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
		HalfOpenMax:  3,
	})

	_ = cb.Execute(func() error { return errBackend })
	time.Sleep(25 * time.Millisecond)

	// Fill every probe slot with a call that blocks inside the breaker.
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	probeErr := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			probeErr <- cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	for i := 0; i < 3; i++ {
		<-started
	}

	// Budget spent: the next caller is rejected even though no probe has
	// failed yet.
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen while probes are pending", err)
	}

	close(release)
	for i := 0; i < 3; i++ {
		if err := <-probeErr; err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed once all probes succeed", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	cb.Reset()
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v after Reset, want closed", got)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("call after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[resilience.State]string{
		resilience.StateClosed:   "closed",
		resilience.StateOpen:     "open",
		resilience.StateHalfOpen: "half-open",
		resilience.State(42):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
