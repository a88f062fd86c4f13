package metrics

import (
	"sync"
	"time"
)

// Collector collects and exports metrics for Prometheus.
// This implementation uses manual metric tracking without external dependencies.
// For production, consider integrating prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64 // current in-flight requests

	// Generation metrics
	generations       map[string]int64 // by kind (roadmap, guide, ...)
	generationErrors  map[string]int64 // errors by kind
	generationLatency map[string]int64 // total latency in ms by kind

	// Guide cache metrics
	cacheHits       int64
	cacheHitsByKind map[string]int64

	// Character throughput metrics
	totalPromptChars     int64
	totalCompletionChars int64
	charsByModel         map[string]int64 // total chars by model
	charsByUser          map[string]int64 // total chars by user

	// System metrics
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		generations:        make(map[string]int64),
		generationErrors:   make(map[string]int64),
		generationLatency:  make(map[string]int64),
		cacheHitsByKind:    make(map[string]int64),
		charsByModel:       make(map[string]int64),
		charsByUser:        make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordGeneration records one completed generation of a kind.
func (c *Collector) RecordGeneration(kind string, duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[kind]++
	c.generationLatency[kind] += duration.Milliseconds()

	if failed {
		c.generationErrors[kind]++
	}
}

// RecordCacheHit records a generation served from storage.
func (c *Collector) RecordCacheHit(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cacheHits++
	c.cacheHitsByKind[kind]++
}

// RecordChars records prompt and completion character throughput.
func (c *Collector) RecordChars(model, userUID string, promptChars, completionChars int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalPromptChars += promptChars
	c.totalCompletionChars += completionChars

	if model != "" {
		c.charsByModel[model] += (promptChars + completionChars)
	}
	if userUID != "" {
		c.charsByUser[userUID] += (promptChars + completionChars)
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	Uptime               int64
	TotalRequests        map[string]int64
	TotalRequestsDur     map[string]int64
	RequestErrors        map[string]int64
	RequestsInProgress   map[string]int64
	Generations          map[string]int64
	GenerationErrors     map[string]int64
	GenerationLatency    map[string]int64
	CacheHits            int64
	CacheHitsByKind      map[string]int64
	TotalPromptChars     int64
	TotalCompletionChars int64
	CharsByModel         map[string]int64
	CharsByUser          map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:               int64(time.Since(c.startTime).Seconds()),
		TotalRequests:        copyMap(c.totalRequests),
		TotalRequestsDur:     copyMap(c.totalRequestsDur),
		RequestErrors:        copyMap(c.requestErrors),
		RequestsInProgress:   copyMap(c.requestsInProgress),
		Generations:          copyMap(c.generations),
		GenerationErrors:     copyMap(c.generationErrors),
		GenerationLatency:    copyMap(c.generationLatency),
		CacheHits:            c.cacheHits,
		CacheHitsByKind:      copyMap(c.cacheHitsByKind),
		TotalPromptChars:     c.totalPromptChars,
		TotalCompletionChars: c.totalCompletionChars,
		CharsByModel:         copyMap(c.charsByModel),
		CharsByUser:          copyMap(c.charsByUser),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
