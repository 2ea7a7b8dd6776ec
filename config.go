package passauth

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by passauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Issuer         string
	JWT            JWTConfig
	Refresh        RefreshConfig
	EmailChallenge EmailChallengeConfig
	WebAuthn       WebAuthnConfig
	RateLimit      RateLimitConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by passauth APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	TokenEndpoint string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig defines a public type used by passauth APIs.
//
// RefreshConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RefreshConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
EMAIL CHALLENGE CONFIG
====================================
*/

// EmailChallengeConfig defines a public type used by passauth APIs.
//
// EmailChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EmailChallengeConfig struct {
	Enabled     bool
	Secret      []byte // HMAC key binding codes and challenge tokens to an address
	CodeTTL     time.Duration
	UsedGrace   time.Duration // how long a consumed challenge stays observable as "used"
	MaxAttempts int
	OTPDigits   int
	Subject     string
	RedisPrefix string

	// FailurePolicy controls whether backend failures during issuance are
	// surfaced or masked as success for anti-enumeration.
	FailurePolicy FailurePolicy

	MaxPerEmail int
	EmailWindow time.Duration
	MaxPerIP    int
	IPWindow    time.Duration
}

/*
====================================
WEBAUTHN CONFIG
====================================
*/

// WebAuthnConfig defines a public type used by passauth APIs.
//
// WebAuthnConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WebAuthnConfig struct {
	Enabled       bool
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	ChallengeTTL  time.Duration
	RedisPrefix   string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by passauth APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	// Shared moves window state into Redis so multiple instances enforce
	// one budget. The default in-memory store is lifetime-scoped to the
	// Engine and resets with it.
	Shared      bool
	RedisPrefix string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by passauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by passauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     72 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
			RequireIAT:    true,
		},
		Refresh: RefreshConfig{
			TTL:         30 * 24 * time.Hour,
			RedisPrefix: "prt",
		},
		EmailChallenge: EmailChallengeConfig{
			Enabled:     true,
			CodeTTL:     10 * time.Minute,
			UsedGrace:   5 * time.Minute,
			MaxAttempts: 5,
			OTPDigits:   6,
			Subject:     "Your sign-in code",
			RedisPrefix: "pec",
			MaxPerEmail: 3,
			EmailWindow: 15 * time.Minute,
			MaxPerIP:    10,
			IPWindow:    15 * time.Minute,
		},
		WebAuthn: WebAuthnConfig{
			Enabled:      false,
			ChallengeTTL: 5 * time.Minute,
			RedisPrefix:  "pwc",
		},
		RateLimit: RateLimitConfig{
			Shared:      false,
			RedisPrefix: "prl",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("Issuer must be set")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL < c.JWT.AccessTTL {
		return errors.New("Refresh TTL must not be shorter than JWT AccessTTL")
	}

	// Email challenge
	if c.EmailChallenge.Enabled {
		if len(c.EmailChallenge.Secret) < 32 {
			return errors.New("EmailChallenge Secret must be at least 32 bytes")
		}
		if c.EmailChallenge.CodeTTL <= 0 {
			return errors.New("EmailChallenge CodeTTL must be > 0")
		}
		if c.EmailChallenge.UsedGrace < 0 {
			return errors.New("EmailChallenge UsedGrace must be >= 0")
		}
		if c.EmailChallenge.MaxAttempts <= 0 {
			return errors.New("EmailChallenge MaxAttempts must be > 0")
		}
		if c.EmailChallenge.OTPDigits < 6 || c.EmailChallenge.OTPDigits > 10 {
			return errors.New("EmailChallenge OTPDigits must be between 6 and 10")
		}
		if c.EmailChallenge.MaxPerEmail <= 0 || c.EmailChallenge.MaxPerIP <= 0 {
			return errors.New("EmailChallenge rate budgets must be > 0")
		}
		if c.EmailChallenge.EmailWindow <= 0 || c.EmailChallenge.IPWindow <= 0 {
			return errors.New("EmailChallenge rate windows must be > 0")
		}
	}

	// WebAuthn
	if c.WebAuthn.Enabled {
		if strings.TrimSpace(c.WebAuthn.RPID) == "" {
			return errors.New("WebAuthn RPID must be set")
		}
		if strings.TrimSpace(c.WebAuthn.RPDisplayName) == "" {
			return errors.New("WebAuthn RPDisplayName must be set")
		}
		if len(c.WebAuthn.RPOrigins) == 0 {
			return errors.New("WebAuthn RPOrigins must be set")
		}
		if c.WebAuthn.ChallengeTTL <= 0 {
			return errors.New("WebAuthn ChallengeTTL must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.EmailChallenge.Secret = cloneBytes(cfg.EmailChallenge.Secret)
	if cfg.WebAuthn.RPOrigins != nil {
		out.WebAuthn.RPOrigins = append([]string(nil), cfg.WebAuthn.RPOrigins...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
