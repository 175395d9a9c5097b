package models

import "time"

// SystemMetrics is a point-in-time summary of request and job counters.
type SystemMetrics struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	Uptime        string           `json:"uptime"`
	TotalRequests float64          `json:"total_requests"`
	ErrorRequests float64          `json:"error_requests"`
	ErrorRate     float64          `json:"error_rate"`
	P95LatencyMS  float64          `json:"p95_latency_ms"`
	CacheHitRatio float64          `json:"cache_hit_ratio"`
	DomainEvents  map[string]int64 `json:"domain_events"`
}
