package passauth

import (
	"context"
	"time"
)

// FailurePolicy selects how issuance endpoints respond when a backend step
// fails. [MaskAsSuccess] exists for anti-enumeration: the client receives a
// response indistinguishable from success while the real failure is audited.
type FailurePolicy uint8

const (
	// SurfaceFailures is an exported constant or variable used by the authentication engine.
	SurfaceFailures FailurePolicy = iota
	// MaskAsSuccess is an exported constant or variable used by the authentication engine.
	MaskAsSuccess
)

// Mailer is the outbound email capability injected into the Engine. Delivery
// is best-effort; retries and backoff are the implementation's concern.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// PasskeyRecord is a stored WebAuthn credential owned by a user. SignCount is
// monotonically non-decreasing and updated on every successful assertion.
type PasskeyRecord struct {
	ID           string
	UserID       string
	CredentialID []byte
	PublicKey    []byte
	AAGUID       []byte
	SignCount    uint32
	Transports   []string
	DeviceType   string
	BackedUp     bool
	Name         string
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// PasskeyProvider is the interface callers implement to persist passkey rows
// in their user database. The Engine never caches credentials across calls.
type PasskeyProvider interface {
	PasskeysForUser(ctx context.Context, userID string) ([]PasskeyRecord, error)
	PasskeyByCredentialID(ctx context.Context, credentialID []byte) (PasskeyRecord, error)
	CreatePasskey(ctx context.Context, record PasskeyRecord) error
	UpdatePasskeyUsage(ctx context.Context, id string, signCount uint32, lastUsedAt time.Time) error
	DeletePasskey(ctx context.Context, userID, id string) error
}

// EmailChallenge is returned by [Engine.CreateEmailChallenge]. ChallengeToken
// is the only raw secret handed back to the caller; the code travels out of
// band via the [Mailer]. Masked reports that a backend failure was hidden
// under [MaskAsSuccess] and the token will never verify.
type EmailChallenge struct {
	ID             string
	ChallengeToken string
	ExpiresAt      time.Time
	Masked         bool
}

// EmailVerification is returned by [Engine.VerifyEmailChallenge] on success.
type EmailVerification struct {
	ChallengeID string
	Email       string
}

// TokenPair carries one access token and the refresh token that can renew it.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
}

// PasskeyLoginResult is returned by [Engine.FinishPasskeyLogin].
type PasskeyLoginResult struct {
	UserID    string
	PasskeyID string
}

// AuthResult is returned by [Engine.ValidateAccess]. It contains the
// authenticated user's ID, role claim, token id, and refresh-family id.
type AuthResult struct {
	UserID   string
	Role     string
	TokenID  string
	FamilyID string
}
