package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/waymark-labs/waymark/internal/testutil"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error {
	return p.err
}

func findComponent(t *testing.T, status HealthStatus, name string) Component {
	t.Helper()
	for _, comp := range status.Components {
		if comp.Name == name {
			return comp
		}
	}
	t.Fatalf("component %q not found in %v", name, status.Components)
	return Component{}
}

func TestCheckAllHealthy(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Auth failures still prove the endpoint is up.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	checker := New(Config{
		RoadmapStore: &stubPinger{},
		UsageStore:   &stubPinger{},
		ModelBaseURL: upstream.URL,
		HTTPTimeout:  2 * time.Second,
	})

	status := checker.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}
	if len(status.Components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(status.Components))
	}

	api := findComponent(t, status, "model_api")
	if api.Status != StatusHealthy {
		t.Fatalf("expected model_api healthy, got %s (%s)", api.Status, api.Error)
	}
}

func TestCheckDatabaseFailureIsCritical(t *testing.T) {
	checker := New(Config{
		RoadmapStore: &stubPinger{err: errors.New("connection refused")},
		UsageStore:   &stubPinger{},
	})

	status := checker.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}

	db := findComponent(t, status, "roadmap_db")
	if db.Status != StatusUnhealthy {
		t.Fatalf("expected roadmap_db unhealthy, got %s", db.Status)
	}
	if db.Error != "connection refused" {
		t.Fatalf("expected ping error recorded, got %q", db.Error)
	}
}

func TestCheckModelEndpointDownIsDegraded(t *testing.T) {
	upstream := testutil.NewIPv4Server(t, nil)
	url := upstream.URL
	upstream.Close()

	checker := New(Config{
		RoadmapStore: &stubPinger{},
		ModelBaseURL: url,
		HTTPTimeout:  2 * time.Second,
	})

	status := checker.Check(context.Background())
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}

	api := findComponent(t, status, "model_api")
	if api.Status != StatusDegraded {
		t.Fatalf("expected model_api degraded, got %s", api.Status)
	}
}

func TestCheckWithoutComponents(t *testing.T) {
	checker := New(Config{})

	status := checker.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy with nothing to check, got %s", status.Status)
	}
	if len(status.Components) != 0 {
		t.Fatalf("expected no components, got %d", len(status.Components))
	}
}

func TestGetLastStatus(t *testing.T) {
	checker := New(Config{
		RoadmapStore: &stubPinger{err: errors.New("down")},
	})

	if got := checker.GetLastStatus().Status; got != StatusHealthy {
		t.Fatalf("expected healthy before first check, got %s", got)
	}

	checker.Check(context.Background())

	if got := checker.GetLastStatus().Status; got != StatusUnhealthy {
		t.Fatalf("expected last status unhealthy, got %s", got)
	}
}
