package passauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventEmailChallengeIssued   = "email_challenge_issued"
	auditEventEmailChallengeMasked   = "email_challenge_masked_failure"
	auditEventEmailChallengeVerify   = "email_challenge_verify"
	auditEventPasskeyRegisterBegin   = "passkey_register_begin"
	auditEventPasskeyRegistered      = "passkey_registered"
	auditEventPasskeyLoginBegin      = "passkey_login_begin"
	auditEventPasskeyLoginSuccess    = "passkey_login_success"
	auditEventPasskeyLoginFailure    = "passkey_login_failure"
	auditEventPasskeyCloneDetected   = "passkey_clone_detected"
	auditEventPasskeyDeleted         = "passkey_deleted"
	auditEventLastPasskeyDeleted     = "last_passkey_deleted"
	auditEventTokenPairIssued        = "token_pair_issued"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshReuseDetected   = "refresh_reuse_detected"
	auditEventAccessTokenRevoked     = "access_token_revoked"
	auditEventFamilyRevoked          = "token_family_revoked"
	auditEventAllTokensRevoked       = "all_user_tokens_revoked"
	auditEventAccessValidationFailed = "access_validation_failed"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
)

// AuditErrorCode defines a public type used by passauth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUnauthorized     AuditErrorCode = "unauthorized"
	auditErrValidation       AuditErrorCode = "validation"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrChallengeMissing AuditErrorCode = "challenge_missing"
	auditErrChallengeUsed    AuditErrorCode = "challenge_used"
	auditErrChallengeExpired AuditErrorCode = "challenge_expired"
	auditErrAttemptsExceeded AuditErrorCode = "attempts_exceeded"
	auditErrCodeMismatch     AuditErrorCode = "code_mismatch"
	auditErrMailUnavailable  AuditErrorCode = "mail_unavailable"
	auditErrCeremonyInvalid  AuditErrorCode = "ceremony_invalid"
	auditErrCloneDetected    AuditErrorCode = "clone_detected"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrTokenRevoked     AuditErrorCode = "token_revoked"
	auditErrRefreshReuse     AuditErrorCode = "refresh_reuse"
	auditErrRefreshExpired   AuditErrorCode = "refresh_expired"
	auditErrPermissionDenied AuditErrorCode = "permission_denied"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		FamilyID:  familyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrChallengeInvalid):
		return auditErrChallengeMissing
	case errors.Is(err, ErrChallengeUsed):
		return auditErrChallengeUsed
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrCodeMismatch):
		return auditErrCodeMismatch
	case errors.Is(err, ErrMailUnavailable):
		return auditErrMailUnavailable
	case errors.Is(err, ErrCeremonyInvalid),
		errors.Is(err, ErrCeremonyExpired),
		errors.Is(err, ErrPasskeyNotFound):
		return auditErrCeremonyInvalid
	case errors.Is(err, ErrPasskeyCloneDetected):
		return auditErrCloneDetected
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrRefreshExpired):
		return auditErrRefreshExpired
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
