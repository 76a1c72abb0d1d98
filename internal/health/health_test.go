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

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// probe serves path on a mux with h registered and decodes the report.
func probe(t *testing.T, h *Handler, ctx context.Context, path string) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	h := New(Checker{Name: "model", Check: failWith("not loaded")})
	code, rep := probe(t, h, context.Background(), "/healthz")
	if code != http.StatusOK || rep.Status != StatusOK || rep.Checks != nil {
		t.Errorf("healthz = %d %+v, want 200 ok without checks", code, rep)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string // name -> error ("" for ok)
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
		},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "model", Check: pass}, {Name: "sessions", Check: pass}},
			wantCode: http.StatusOK,
			want:     map[string]string{"model": "", "sessions": ""},
		},
		{
			name:     "one fails",
			checkers: []Checker{{Name: "model", Check: failWith("not loaded")}, {Name: "sessions", Check: pass}},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"model": "not loaded", "sessions": ""},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "model", Check: failWith("not loaded")},
				{Name: "sessions", Check: failWith("at capacity (4)")},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"model": "not loaded", "sessions": "at capacity (4)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, rep := probe(t, New(tt.checkers...), context.Background(), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			wantStatus := StatusOK
			if tt.wantCode != http.StatusOK {
				wantStatus = StatusFail
			}
			if rep.Status != wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, wantStatus)
			}
			if len(rep.Checks) != len(tt.want) {
				t.Fatalf("checks = %v, want %d entries", rep.Checks, len(tt.want))
			}
			for name, wantErr := range tt.want {
				got := rep.Checks[name]
				if got.Error != wantErr {
					t.Errorf("%s error = %q, want %q", name, got.Error, wantErr)
				}
				if (wantErr == "") != (got.Status == StatusOK) {
					t.Errorf("%s status = %q with error %q", name, got.Status, got.Error)
				}
				if got.Duration == "" {
					t.Errorf("%s has no duration", name)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "authority", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, rep := probe(t, h, ctx, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if got := rep.Checks["authority"].Error; got != context.Canceled.Error() {
		t.Errorf("error = %q, want %q", got, context.Canceled.Error())
	}
}

func TestEvaluate_CheckTimeout(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.timeout = 10 * time.Millisecond

	rep := h.Evaluate(context.Background())
	if rep.Status != StatusFail || rep.Checks["slow"].Error != context.DeadlineExceeded.Error() {
		t.Errorf("report = %+v, want slow to exceed its deadline", rep)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	// Each checker waits for the other to start.
	a, b := make(chan struct{}), make(chan struct{})
	meet := func(mine, other chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-other:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New(Checker{Name: "a", Check: meet(a, b)}, Checker{Name: "b", Check: meet(b, a)})

	if rep := h.Evaluate(context.Background()); rep.Status != StatusOK {
		t.Errorf("report = %+v, want both checks to meet", rep)
	}
}

func TestAdd_ReplacesByName(t *testing.T) {
	h := New(Checker{Name: "model", Check: failWith("not loaded")})
	h.Add(Checker{Name: "model", Check: pass}, Checker{Name: "sessions", Check: pass})

	rep := h.Evaluate(context.Background())
	if rep.Status != StatusOK || len(rep.Checks) != 2 {
		t.Errorf("report = %+v, want 2 passing checks", rep)
	}
}
