// Package health probes the storage backends and the completion API and
// summarises the results for the healthz endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status classifies a component or the service as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is the connectivity probe a storage backend exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component is the outcome of probing one dependency.
type Component struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// HealthStatus is the aggregate of the most recent probe round.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config wires the dependencies the checker should watch. Nil stores and an
// empty URL are simply skipped.
type Config struct {
	RoadmapStore Pinger
	UsageStore   Pinger

	// Completion API base URL.
	ModelBaseURL string

	DBTimeout          time.Duration
	HTTPTimeout        time.Duration
	MaxDatabaseLatency time.Duration
}

// Checker runs the configured probes concurrently on demand.
type Checker struct {
	cfg Config

	mu   sync.RWMutex
	last []Component
}

// New returns a Checker with unset timeouts defaulted.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	return &Checker{cfg: cfg}
}

// Check probes every configured dependency and returns the aggregate.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var probes []func(context.Context) Component
	if c.cfg.RoadmapStore != nil {
		probes = append(probes, func(ctx context.Context) Component {
			return c.probeStore(ctx, "roadmap_db", c.cfg.RoadmapStore)
		})
	}
	if c.cfg.UsageStore != nil {
		probes = append(probes, func(ctx context.Context) Component {
			return c.probeStore(ctx, "usage_db", c.cfg.UsageStore)
		})
	}
	if c.cfg.ModelBaseURL != "" {
		probes = append(probes, func(ctx context.Context) Component {
			return c.probeURL(ctx, "model_api", c.cfg.ModelBaseURL)
		})
	}

	results := make(chan Component, len(probes))
	var wg sync.WaitGroup
	for _, probe := range probes {
		wg.Add(1)
		go func(run func(context.Context) Component) {
			defer wg.Done()
			results <- run(ctx)
		}(probe)
	}
	wg.Wait()
	close(results)

	components := make([]Component, 0, len(probes))
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return summarize(components)
}

// GetLastStatus re-summarises the previous round without probing again.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.last) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return summarize(c.last)
}

func (c *Checker) probeStore(ctx context.Context, name string, p Pinger) Component {
	comp := Component{Name: name, Type: "database", Timestamp: time.Now()}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.DBTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pingCtx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "database unreachable"
	case comp.Latency > c.cfg.MaxDatabaseLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "connected"
	}
	return comp
}

func (c *Checker) probeURL(ctx context.Context, name, baseURL string) Component {
	comp := Component{Name: name, Type: "http", Timestamp: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}

	client := &http.Client{Timeout: c.cfg.HTTPTimeout}
	start := time.Now()
	resp, err := client.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "endpoint unreachable"
		return comp
	}
	resp.Body.Close()

	// Any response, including 4xx from an auth wall, proves the endpoint is up.
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// summarize folds component states into the overall status. A dead database
// is critical; anything else degrades.
func summarize(components []Component) HealthStatus {
	overall := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				overall = StatusUnhealthy
			} else if overall == StatusHealthy {
				overall = StatusDegraded
			}
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}
