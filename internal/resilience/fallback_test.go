package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()

	fg := newGroup("primary", "secondary")
	var called []string
	err := fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_StopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	fg := newGroup("a", "b", "c")
	var called []string
	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		called = append(called, v)
		if v == "a" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-b" {
		t.Fatalf("result = %q, want from-b", got)
	}
	if len(called) != 2 {
		t.Fatalf("called = %v, want [a b]", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	var reported []string
	fg := NewFallbackGroup("a", "a", FallbackConfig{
		OnFailure: func(name string, err error) { reported = append(reported, name) },
	})
	fg.AddFallback("b", "b")

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want it to wrap the individual failures", err)
	}
	if len(reported) != 2 {
		t.Fatalf("OnFailure calls = %v, want 2", reported)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := newGroup("primary", "secondary")
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}

	var called []string
	_ = fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}
}

func TestFallbackGroup_CancelStopsWalk(t *testing.T) {
	t.Parallel()

	fg := newGroup("a", "b")
	var called []string
	err := fg.Execute(func(v string) error {
		called = append(called, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the first entry", called)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	got := newGroup("x", "y", "z").Names()
	if len(got) != 3 || got[0] != "x" || got[2] != "z" {
		t.Fatalf("Names() = %v", got)
	}
}

func TestFallbackGroup_Available(t *testing.T) {
	t.Parallel()

	fg := newGroup("primary", "secondary")
	if !fg.Available() {
		t.Fatal("fresh group should be available")
	}
	for range 2 {
		_ = fg.Execute(func(string) error { return errTest })
	}
	if fg.Available() {
		t.Error("group with every breaker open should be unavailable")
	}
	fg.Breaker("secondary").Reset()
	if !fg.Available() {
		t.Error("group should be available after a breaker reset")
	}
}
