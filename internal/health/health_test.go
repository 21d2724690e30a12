package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, ctx context.Context, h http.HandlerFunc) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "voices", Check: func(context.Context) error { return errors.New("down") }})

	code, body := serve(t, context.Background(), h.Healthz)
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "voices", Check: ok},
				{Name: "recognizer", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"voices": "ok", "recognizer": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "voices", Check: ok},
				{Name: "recognizer", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"voices": "ok", "recognizer": "fail: connection refused"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "voices", Check: func(context.Context) error { return errors.New("no voices configured") }},
				{Name: "recognizer", Check: func(context.Context) error { return errors.New("timeout") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"voices": "fail: no voices configured", "recognizer": "fail: timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, context.Background(), New(tt.checkers...).Readyz)
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if body.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tt.wantBody)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other; sequential evaluation would time out.
	a, b := make(chan struct{}), make(chan struct{})
	h := New(
		Checker{Name: "a", Check: func(ctx context.Context) error {
			close(a)
			select {
			case <-b:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("b never ran")
			}
		}},
		Checker{Name: "b", Check: func(ctx context.Context) error {
			close(b)
			select {
			case <-a:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("a never ran")
			}
		}},
	)

	code, body := serve(t, context.Background(), h.Readyz)
	if code != http.StatusOK {
		t.Errorf("status = %d, checks = %v", code, body.Checks)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()

	called := false
	h := New(Checker{Name: "voices", Check: func(context.Context) error {
		called = true
		return nil
	}})
	h.SetDraining(true)

	code, body := serve(t, context.Background(), h.Readyz)
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("got %d %q, want 503 draining", code, body.Status)
	}
	if called {
		t.Error("checkers must not run while draining")
	}

	h.SetDraining(false)
	if code, _ := serve(t, context.Background(), h.Readyz); code != http.StatusOK {
		t.Errorf("status after draining = %d, want 200", code)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := serve(t, ctx, h.Readyz); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "voices", Check: ok})

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
