package passauth

import "sync/atomic"

// MetricID defines a public type used by passauth APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricEmailChallengeIssued is an exported constant or variable used by the authentication engine.
	MetricEmailChallengeIssued MetricID = iota
	// MetricEmailChallengeFailure is an exported constant or variable used by the authentication engine.
	MetricEmailChallengeFailure
	// MetricEmailChallengeRateLimited is an exported constant or variable used by the authentication engine.
	MetricEmailChallengeRateLimited
	// MetricEmailVerifySuccess is an exported constant or variable used by the authentication engine.
	MetricEmailVerifySuccess
	// MetricEmailVerifyFailure is an exported constant or variable used by the authentication engine.
	MetricEmailVerifyFailure
	// MetricEmailVerifyAttemptsExceeded is an exported constant or variable used by the authentication engine.
	MetricEmailVerifyAttemptsExceeded
	// MetricPasskeyRegistered is an exported constant or variable used by the authentication engine.
	MetricPasskeyRegistered
	// MetricPasskeyLoginSuccess is an exported constant or variable used by the authentication engine.
	MetricPasskeyLoginSuccess
	// MetricPasskeyLoginFailure is an exported constant or variable used by the authentication engine.
	MetricPasskeyLoginFailure
	// MetricPasskeyCloneDetected is an exported constant or variable used by the authentication engine.
	MetricPasskeyCloneDetected
	// MetricTokenPairIssued is an exported constant or variable used by the authentication engine.
	MetricTokenPairIssued
	// MetricAccessValidateSuccess is an exported constant or variable used by the authentication engine.
	MetricAccessValidateSuccess
	// MetricAccessValidateFailure is an exported constant or variable used by the authentication engine.
	MetricAccessValidateFailure
	// MetricRefreshSuccess is an exported constant or variable used by the authentication engine.
	MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the authentication engine.
	MetricRefreshFailure
	// MetricRefreshReuseDetected is an exported constant or variable used by the authentication engine.
	MetricRefreshReuseDetected
	// MetricRevocation is an exported constant or variable used by the authentication engine.
	MetricRevocation
	// MetricRateLimitHit is an exported constant or variable used by the authentication engine.
	MetricRateLimitHit
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by passauth APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by passauth APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics may return an error when input validation, dependency calls, or security checks fail.
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{enabled: true}
}

// Inc describes the inc operation and its observable behavior.
//
// Inc may return an error when input validation, dependency calls, or security checks fail.
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot may return an error when input validation, dependency calls, or security checks fail.
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, metricIDCount),
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
