package passauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/recitalhub/passauth/internal/ident"
	"github.com/recitalhub/passauth/internal/stores"
)

// IssueTokenPair describes the issuetokenpair operation and its observable behavior.
//
// IssueTokenPair may return an error when input validation, dependency calls, or security checks fail.
// IssueTokenPair does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueTokenPair(ctx context.Context, userID, role string) (*TokenPair, error) {
	if e == nil || e.refresh == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrValidation
	}

	familyID := ident.New()
	secret, err := ident.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	refreshToken, err := ident.EncodeRefreshToken(familyID, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	refreshExpiresAt := now.Add(e.config.Refresh.TTL)

	record := &stores.RefreshTokenRecord{
		UserID:    userID,
		FamilyID:  familyID,
		Role:      role,
		ExpiresAt: refreshExpiresAt.Unix(),
		CreatedAt: now.Unix(),
	}

	if err := e.refresh.Create(ctx, ident.HashRefreshToken(refreshToken), record, e.config.Refresh.TTL); err != nil {
		e.emitAudit(ctx, auditEventTokenPairIssued, false, userID, familyID, ErrBackendUnavailable, nil)
		return nil, ErrBackendUnavailable
	}

	access, accessExpiresAt, err := e.mintAccessToken(userID, role, familyID)
	if err != nil {
		e.emitAudit(ctx, auditEventTokenPairIssued, false, userID, familyID, err, nil)
		return nil, err
	}

	e.metricInc(MetricTokenPairIssued)
	e.emitAudit(ctx, auditEventTokenPairIssued, true, userID, familyID, nil, nil)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		FamilyID:         familyID,
	}, nil
}

// ValidateAccess describes the validateaccess operation and its observable behavior.
//
// ValidateAccess may return an error when input validation, dependency calls, or security checks fail.
// ValidateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil || e.refresh == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.metricInc(MetricAccessValidateFailure)
		return nil, ErrTokenInvalid
	}

	// One signature check above, two EXISTS lookups below. Revocation state
	// is fail-closed: an unreachable oracle denies.
	familyRevoked, err := e.refresh.IsFamilyRevoked(ctx, claims.SID)
	if err != nil {
		e.metricInc(MetricAccessValidateFailure)
		return nil, ErrBackendUnavailable
	}
	if familyRevoked {
		e.metricInc(MetricAccessValidateFailure)
		e.emitAudit(ctx, auditEventAccessValidationFailed, false, claims.Subject, claims.SID, ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	}

	tokenRevoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		e.metricInc(MetricAccessValidateFailure)
		return nil, ErrBackendUnavailable
	}
	if tokenRevoked {
		e.metricInc(MetricAccessValidateFailure)
		e.emitAudit(ctx, auditEventAccessValidationFailed, false, claims.Subject, claims.SID, ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	}

	e.metricInc(MetricAccessValidateSuccess)

	return &AuthResult{
		UserID:   claims.Subject,
		Role:     claims.Role,
		TokenID:  claims.ID,
		FamilyID: claims.SID,
	}, nil
}

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.refresh == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	familyID, _, err := ident.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := ident.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	nextToken, err := ident.EncodeRefreshToken(familyID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	now := time.Now()
	redeemed, err := e.refresh.Rotate(
		ctx,
		ident.HashRefreshToken(refreshToken),
		ident.HashRefreshToken(nextToken),
		e.config.Refresh.TTL,
	)
	if err != nil {
		return nil, e.refreshFailure(ctx, familyID, err)
	}

	access, accessExpiresAt, err := e.mintAccessToken(redeemed.UserID, redeemed.Role, familyID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, redeemed.UserID, familyID, err, func() map[string]string {
			return map[string]string{
				"reason": "issue_access_failed",
			}
		})
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, redeemed.UserID, familyID, nil, nil)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     nextToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: now.Add(e.config.Refresh.TTL),
		FamilyID:         familyID,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, familyID string, err error) error {
	switch {
	case errors.Is(err, stores.ErrRefreshReuse):
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", familyID, ErrRefreshReuse, nil)
		return ErrRefreshReuse
	case errors.Is(err, stores.ErrFamilyRevoked):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", familyID, ErrTokenRevoked, func() map[string]string {
			return map[string]string{
				"reason": "family_revoked",
			}
		})
		return ErrTokenRevoked
	case errors.Is(err, stores.ErrRefreshExpired):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", familyID, ErrRefreshExpired, func() map[string]string {
			return map[string]string{
				"reason": "expired",
			}
		})
		return ErrRefreshExpired
	case errors.Is(err, stores.ErrRefreshNotFound):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", familyID, ErrRefreshInvalid, func() map[string]string {
			return map[string]string{
				"reason": "token_not_found",
			}
		})
		return ErrRefreshInvalid
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", familyID, ErrBackendUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "rotate_failed",
			}
		})
		return ErrBackendUnavailable
	}
}

// RevokeRefreshFamily describes the revokerefreshfamily operation and its observable behavior.
//
// RevokeRefreshFamily may return an error when input validation, dependency calls, or security checks fail.
// RevokeRefreshFamily does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeRefreshFamily(ctx context.Context, familyID string) error {
	if e == nil || e.refresh == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(familyID) == "" {
		return ErrValidation
	}

	err := e.refresh.RevokeFamily(ctx, familyID, e.config.Refresh.TTL)
	if err == nil {
		e.metricInc(MetricRevocation)
	}
	e.emitAudit(ctx, auditEventFamilyRevoked, err == nil, "", familyID, err, nil)
	if err != nil {
		return ErrBackendUnavailable
	}
	return nil
}

// RevokeAllForUser describes the revokeallforuser operation and its observable behavior.
//
// RevokeAllForUser may return an error when input validation, dependency calls, or security checks fail.
// RevokeAllForUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if e == nil || e.refresh == nil {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrValidation
	}

	count, err := e.refresh.RevokeAllForUser(ctx, userID, e.config.Refresh.TTL)
	if err == nil {
		e.metricInc(MetricRevocation)
	}
	e.emitAudit(ctx, auditEventAllTokensRevoked, err == nil, userID, "", err, nil)
	if err != nil {
		return 0, ErrBackendUnavailable
	}
	return count, nil
}

// RevokeAccessToken describes the revokeaccesstoken operation and its observable behavior.
//
// RevokeAccessToken may return an error when input validation, dependency calls, or security checks fail.
// RevokeAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAccessToken(ctx context.Context, tokenStr string) error {
	if e == nil || e.jwtManager == nil || e.revocations == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		e.emitAudit(ctx, auditEventAccessTokenRevoked, false, "", "", ErrTokenInvalid, nil)
		return ErrTokenInvalid
	}

	// The denial entry only needs to outlive the token itself.
	ttl := e.config.JWT.AccessTTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}

	err = e.revocations.Revoke(ctx, claims.ID, ttl)
	if err == nil {
		e.metricInc(MetricRevocation)
	}
	e.emitAudit(ctx, auditEventAccessTokenRevoked, err == nil, claims.Subject, claims.SID, err, nil)
	if err != nil {
		return ErrBackendUnavailable
	}
	return nil
}

func (e *Engine) mintAccessToken(userID, role, familyID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(e.config.JWT.AccessTTL)
	access, err := e.jwtManager.CreateAccess(userID, role, familyID, ident.New())
	if err != nil {
		return "", time.Time{}, err
	}
	return access, expiresAt, nil
}
