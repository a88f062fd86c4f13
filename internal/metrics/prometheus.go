package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	// Process uptime
	sb.WriteString("# HELP waymark_uptime_seconds Time since the server started\n")
	sb.WriteString("# TYPE waymark_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("waymark_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	// Total requests by endpoint
	sb.WriteString("# HELP waymark_requests_total Total number of requests by endpoint\n")
	sb.WriteString("# TYPE waymark_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequests) {
		count := snap.TotalRequests[endpoint]
		sb.WriteString(fmt.Sprintf("waymark_requests_total{endpoint=\"%s\"} %d\n", endpoint, count))
	}
	sb.WriteString("\n")

	// Request errors by endpoint
	sb.WriteString("# HELP waymark_request_errors_total Total number of request errors by endpoint\n")
	sb.WriteString("# TYPE waymark_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.RequestErrors) {
		count := snap.RequestErrors[endpoint]
		sb.WriteString(fmt.Sprintf("waymark_request_errors_total{endpoint=\"%s\"} %d\n", endpoint, count))
	}
	sb.WriteString("\n")

	// Requests in progress
	sb.WriteString("# HELP waymark_requests_in_progress Current number of requests being processed\n")
	sb.WriteString("# TYPE waymark_requests_in_progress gauge\n")
	for _, endpoint := range sortedKeys(snap.RequestsInProgress) {
		count := snap.RequestsInProgress[endpoint]
		if count > 0 { // Only show active endpoints
			sb.WriteString(fmt.Sprintf("waymark_requests_in_progress{endpoint=\"%s\"} %d\n", endpoint, count))
		}
	}
	sb.WriteString("\n")

	// Request duration (average)
	sb.WriteString("# HELP waymark_request_duration_ms_total Total request duration in milliseconds\n")
	sb.WriteString("# TYPE waymark_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequestsDur) {
		duration := snap.TotalRequestsDur[endpoint]
		sb.WriteString(fmt.Sprintf("waymark_request_duration_ms_total{endpoint=\"%s\"} %d\n", endpoint, duration))
	}
	sb.WriteString("\n")

	// Generations by kind
	sb.WriteString("# HELP waymark_generations_total Total number of generations by kind\n")
	sb.WriteString("# TYPE waymark_generations_total counter\n")
	for _, kind := range sortedKeys(snap.Generations) {
		count := snap.Generations[kind]
		sb.WriteString(fmt.Sprintf("waymark_generations_total{kind=\"%s\"} %d\n", kind, count))
	}
	sb.WriteString("\n")

	// Generation errors by kind
	sb.WriteString("# HELP waymark_generation_errors_total Total generation failures by kind\n")
	sb.WriteString("# TYPE waymark_generation_errors_total counter\n")
	for _, kind := range sortedKeys(snap.GenerationErrors) {
		count := snap.GenerationErrors[kind]
		sb.WriteString(fmt.Sprintf("waymark_generation_errors_total{kind=\"%s\"} %d\n", kind, count))
	}
	sb.WriteString("\n")

	// Generation latency by kind
	sb.WriteString("# HELP waymark_generation_duration_ms_total Total generation duration in milliseconds\n")
	sb.WriteString("# TYPE waymark_generation_duration_ms_total counter\n")
	for _, kind := range sortedKeys(snap.GenerationLatency) {
		latency := snap.GenerationLatency[kind]
		sb.WriteString(fmt.Sprintf("waymark_generation_duration_ms_total{kind=\"%s\"} %d\n", kind, latency))
	}
	sb.WriteString("\n")

	// Cache hits
	sb.WriteString("# HELP waymark_cache_hits_total Total generations served from storage\n")
	sb.WriteString("# TYPE waymark_cache_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("waymark_cache_hits_total %d\n", snap.CacheHits))
	sb.WriteString("\n")

	// Cache hits by kind
	sb.WriteString("# HELP waymark_cache_hits_by_kind_total Cache hits by generation kind\n")
	sb.WriteString("# TYPE waymark_cache_hits_by_kind_total counter\n")
	for _, kind := range sortedKeys(snap.CacheHitsByKind) {
		count := snap.CacheHitsByKind[kind]
		sb.WriteString(fmt.Sprintf("waymark_cache_hits_by_kind_total{kind=\"%s\"} %d\n", kind, count))
	}
	sb.WriteString("\n")

	// Character throughput
	sb.WriteString("# HELP waymark_prompt_chars_total Total prompt characters sent to the model\n")
	sb.WriteString("# TYPE waymark_prompt_chars_total counter\n")
	sb.WriteString(fmt.Sprintf("waymark_prompt_chars_total %d\n", snap.TotalPromptChars))
	sb.WriteString("\n")

	sb.WriteString("# HELP waymark_completion_chars_total Total completion characters generated\n")
	sb.WriteString("# TYPE waymark_completion_chars_total counter\n")
	sb.WriteString(fmt.Sprintf("waymark_completion_chars_total %d\n", snap.TotalCompletionChars))
	sb.WriteString("\n")

	// Chars by model
	sb.WriteString("# HELP waymark_chars_by_model_total Total characters by model\n")
	sb.WriteString("# TYPE waymark_chars_by_model_total counter\n")
	for _, model := range sortedKeys(snap.CharsByModel) {
		count := snap.CharsByModel[model]
		sb.WriteString(fmt.Sprintf("waymark_chars_by_model_total{model=\"%s\"} %d\n", model, count))
	}
	sb.WriteString("\n")

	// Chars by user
	sb.WriteString("# HELP waymark_chars_by_user_total Total characters by user\n")
	sb.WriteString("# TYPE waymark_chars_by_user_total counter\n")
	for _, user := range sortedKeys(snap.CharsByUser) {
		count := snap.CharsByUser[user]
		// Mask user IDs for privacy
		maskedUser := maskUserID(user)
		sb.WriteString(fmt.Sprintf("waymark_chars_by_user_total{user=\"%s\"} %d\n", maskedUser, count))
	}
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maskUserID(userID string) string {
	if len(userID) <= 4 {
		return "user_***"
	}
	// Show last 4 characters only
	return "user_***" + userID[len(userID)-4:]
}
