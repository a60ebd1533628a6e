package circuitbreaker

import (
	"fmt"
	"time"
)

// Stats is a point-in-time snapshot of the breaker's counters. Advisory
// output only; transition logic never reads it back.
type Stats struct {
	State                 State         `json:"state"`
	FailureCount          int           `json:"failureCount"`
	SuccessCount          int64         `json:"successCount"`
	TotalExecutions       int64         `json:"totalExecutions"`
	AverageExecutionTime  time.Duration `json:"averageExecutionTime"`
	ErrorRate             float64       `json:"errorRate"`
	UptimePercentage      float64       `json:"uptimePercentage"`
	OpenCount             int64         `json:"circuitOpenCount"`
	HalfOpenCallsInFlight int           `json:"halfOpenCallsInFlight"`
	LastFailureAt         time.Time     `json:"lastFailureTime,omitzero"`
	LastSuccessAt         time.Time     `json:"lastSuccessTime,omitzero"`
	LastStateChangeAt     time.Time     `json:"lastStateChange"`
}

// Diagnostics is a human-readable health summary with named issues and
// recommended actions.
type Diagnostics struct {
	Healthy         bool     `json:"healthy"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.now()
	b.refreshLocked(now)
	b.pruneSamplesLocked(now)

	stats := Stats{
		State:                 b.state,
		FailureCount:          b.failureCount,
		SuccessCount:          b.successCount,
		TotalExecutions:       b.totalExecutions,
		OpenCount:             b.openCount,
		HalfOpenCallsInFlight: b.halfOpenInFlight,
		LastFailureAt:         b.lastFailureAt,
		LastSuccessAt:         b.lastSuccessAt,
		LastStateChangeAt:     b.lastStateChange,
		ErrorRate:             b.errorRateLocked(),
		UptimePercentage:      b.uptimeLocked(now),
	}

	if b.totalExecutions > 0 {
		stats.AverageExecutionTime = b.totalExecTime / time.Duration(b.totalExecutions)
	}

	return stats
}

// errorRateLocked returns the failed share of calls inside the monitoring
// period, as a percentage. Caller holds the lock.
func (b *Breaker) errorRateLocked() float64 {
	if len(b.samples) == 0 {
		return 0
	}

	failed := 0
	for _, s := range b.samples {
		if s.failed {
			failed++
		}
	}

	return 100 * float64(failed) / float64(len(b.samples))
}

// uptimeLocked computes time-not-OPEN over the breaker's observed lifetime.
func (b *Breaker) uptimeLocked(now time.Time) float64 {
	lifetime := now.Sub(b.createdAt)
	if lifetime <= 0 {
		return 100
	}

	open := b.openElapsed
	if b.state == Open {
		open += now.Sub(b.lastStateChange)
	}

	return 100 * float64(lifetime-open) / float64(lifetime)
}

const (
	healthyUptimeFloor = 99.0
	// Average latency above this share of the per-call timeout is flagged.
	latencyBudgetShare = 0.5
)

func (b *Breaker) Diagnostics() Diagnostics {
	stats := b.Stats()

	diag := Diagnostics{
		Issues:          []string{},
		Recommendations: []string{},
	}

	if stats.State == Open {
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("circuit is open (opened %d times)", stats.OpenCount))
		diag.Recommendations = append(diag.Recommendations,
			"wait for the recovery timeout or investigate the downstream dependency before forcing the circuit closed")
	}

	if stats.ErrorRate > b.opts.ExpectedErrorRate {
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("error rate %.1f%% exceeds expected threshold %.1f%%", stats.ErrorRate, b.opts.ExpectedErrorRate))
		diag.Recommendations = append(diag.Recommendations,
			"check downstream dependency health and recent deploys")
	}

	latencyBudget := time.Duration(latencyBudgetShare * float64(b.opts.Timeout))
	if stats.AverageExecutionTime > latencyBudget {
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("average execution time %s exceeds %s", stats.AverageExecutionTime, latencyBudget))
		diag.Recommendations = append(diag.Recommendations,
			"raise the per-call timeout or reduce payload size for this dependency")
	}

	if stats.UptimePercentage < healthyUptimeFloor && stats.OpenCount > 0 {
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("uptime %.2f%% below %.0f%%", stats.UptimePercentage, healthyUptimeFloor))
		diag.Recommendations = append(diag.Recommendations,
			"review failure threshold and recovery timeout for this dependency")
	}

	diag.Healthy = len(diag.Issues) == 0

	return diag
}
