package passauth

import (
	"errors"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"

	"github.com/recitalhub/passauth/internal/otp"
	"github.com/recitalhub/passauth/internal/rate"
	"github.com/recitalhub/passauth/internal/stores"
	"github.com/recitalhub/passauth/jwt"
)

// Builder defines a public type used by passauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	mailer    Mailer
	passkeys  PasskeyProvider
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer describes the withmailer operation and its observable behavior.
//
// WithMailer may return an error when input validation, dependency calls, or security checks fail.
// WithMailer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithPasskeyProvider describes the withpasskeyprovider operation and its observable behavior.
//
// WithPasskeyProvider may return an error when input validation, dependency calls, or security checks fail.
// WithPasskeyProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithPasskeyProvider(p PasskeyProvider) *Builder {
	b.passkeys = p
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.EmailChallenge.Enabled && b.mailer == nil {
		return nil, errors.New("mailer required when email challenges are enabled")
	}
	if cfg.WebAuthn.Enabled && b.passkeys == nil {
		return nil, errors.New("passkey provider required when webauthn is enabled")
	}

	engine := &Engine{
		config: cloneConfig(cfg),
	}

	engine.mailer = b.mailer
	engine.passkeys = b.passkeys
	engine.challenges = stores.NewEmailChallengeStore(b.redis, cfg.EmailChallenge.RedisPrefix)
	engine.ceremonies = stores.NewWebAuthnChallengeStore(b.redis, cfg.WebAuthn.RedisPrefix)
	engine.refresh = stores.NewRefreshTokenStore(b.redis, cfg.Refresh.RedisPrefix)
	engine.revocations = stores.NewRevocationIndex(b.redis, cfg.Refresh.RedisPrefix)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.RateLimit.Shared {
		engine.limiter = rate.New(rate.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix))
	} else {
		engine.limiter = rate.New(rate.NewMemoryStore())
	}

	if cfg.EmailChallenge.Enabled {
		engine.guardDigest = otp.GuardDigest(cfg.EmailChallenge.Secret)
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    cfg.JWT.RequireIAT,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.WebAuthn.Enabled {
		wa, err := webauthn.New(&webauthn.Config{
			RPID:          cfg.WebAuthn.RPID,
			RPDisplayName: cfg.WebAuthn.RPDisplayName,
			RPOrigins:     append([]string(nil), cfg.WebAuthn.RPOrigins...),
		})
		if err != nil {
			return nil, err
		}
		engine.webAuthn = wa
	}

	b.built = true

	return engine, nil
}
