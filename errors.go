package passauth

import "errors"

var (
	// ErrUnauthorized is an exported constant or variable used by the authentication engine.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation is an exported constant or variable used by the authentication engine.
	ErrValidation = errors.New("invalid request")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmailChallengeDisabled is an exported constant or variable used by the authentication engine.
	ErrEmailChallengeDisabled = errors.New("email challenge disabled")
	// ErrChallengeInvalid is an exported constant or variable used by the authentication engine.
	ErrChallengeInvalid = errors.New("challenge invalid")
	// ErrChallengeUsed is an exported constant or variable used by the authentication engine.
	ErrChallengeUsed = errors.New("challenge already used")
	// ErrChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAttempts is an exported constant or variable used by the authentication engine.
	ErrChallengeAttempts = errors.New("challenge attempts exceeded")
	// ErrCodeMismatch is an exported constant or variable used by the authentication engine.
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrMailUnavailable is an exported constant or variable used by the authentication engine.
	ErrMailUnavailable = errors.New("mail delivery unavailable")
	// ErrWebAuthnDisabled is an exported constant or variable used by the authentication engine.
	ErrWebAuthnDisabled = errors.New("webauthn disabled")
	// ErrCeremonyInvalid is an exported constant or variable used by the authentication engine.
	ErrCeremonyInvalid = errors.New("webauthn ceremony invalid")
	// ErrCeremonyExpired is an exported constant or variable used by the authentication engine.
	ErrCeremonyExpired = errors.New("webauthn ceremony expired")
	// ErrPasskeyNotFound is an exported constant or variable used by the authentication engine.
	ErrPasskeyNotFound = errors.New("passkey not found")
	// ErrPasskeyCloneDetected is an exported constant or variable used by the authentication engine.
	ErrPasskeyCloneDetected = errors.New("passkey counter regression detected")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is an exported constant or variable used by the authentication engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshInvalid is an exported constant or variable used by the authentication engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is an exported constant or variable used by the authentication engine.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshReuse is an exported constant or variable used by the authentication engine.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrPermissionDenied is an exported constant or variable used by the authentication engine.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrBackendUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
