package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serveHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()

	srv, _ := NewServer(testConfig(), discardLogger())
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func okProbe(name string) HealthProbe {
	return NewProbe(name, func(context.Context) error { return nil })
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := serveHealth(t)

	if code != http.StatusOK || resp.Status != "healthy" {
		t.Errorf("expected healthy 200, got %d %q", code, resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("expected build version, got %q", resp.Version)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := serveHealth(t, okProbe("models"), okProbe("city_index"))

	if code != http.StatusOK || resp.Status != "healthy" {
		t.Fatalf("expected healthy 200, got %d %q", code, resp.Status)
	}
	if len(resp.Components) != 2 || resp.Components["models"].Status != "healthy" {
		t.Errorf("unexpected components: %+v", resp.Components)
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	failing := NewProbe("dataset", func(context.Context) error {
		return errors.New("data/daily_London.csv not found")
	})

	code, resp := serveHealth(t, okProbe("models"), failing)

	if code != http.StatusServiceUnavailable || resp.Status != "unhealthy" {
		t.Fatalf("expected unhealthy 503, got %d %q", code, resp.Status)
	}
	if resp.Components["dataset"].Message != "data/daily_London.csv not found" {
		t.Errorf("unexpected component: %+v", resp.Components["dataset"])
	}
	if resp.Components["models"].Status != "healthy" {
		t.Errorf("healthy probe misreported: %+v", resp.Components["models"])
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	boom := NewProbe("boom", func(context.Context) error { panic("nil map") })

	code, resp := serveHealth(t, boom)

	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if resp.Components["boom"].Message != "probe panicked: nil map" {
		t.Errorf("unexpected message %q", resp.Components["boom"].Message)
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health check deadline")
	}

	stuck := NewProbe("upstream", func(ctx context.Context) error {
		// Ignores ctx so the handler has to give up on it.
		time.Sleep(healthCheckTimeout + time.Second)
		return nil
	})

	start := time.Now()
	code, resp := serveHealth(t, stuck)

	if elapsed := time.Since(start); elapsed > healthCheckTimeout+500*time.Millisecond {
		t.Errorf("health check took %v", elapsed)
	}
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if resp.Components["upstream"].Message != "health check timed out" {
		t.Errorf("unexpected message %q", resp.Components["upstream"].Message)
	}
}
