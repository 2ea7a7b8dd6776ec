package passauth

import (
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/recitalhub/passauth/internal/rate"
	"github.com/recitalhub/passauth/internal/stores"
	"github.com/recitalhub/passauth/jwt"
)

// Engine defines a public type used by passauth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config      Config
	limiter     *rate.Limiter
	challenges  *stores.EmailChallengeStore
	ceremonies  *stores.WebAuthnChallengeStore
	refresh     *stores.RefreshTokenStore
	revocations *stores.RevocationIndex
	jwtManager  *jwt.Manager
	webAuthn    *webauthn.WebAuthn
	mailer      Mailer
	passkeys    PasskeyProvider
	audit       *auditDispatcher
	metrics     *Metrics
	guardDigest string
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters: map[MetricID]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
