package passauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/recitalhub/passauth/internal/ident"
	"github.com/recitalhub/passauth/internal/otp"
	"github.com/recitalhub/passauth/internal/stores"
)

const (
	emailChallengeEmailScope = "email_challenge:email"
	emailChallengeIPScope    = "email_challenge:ip"
)

// CreateEmailChallenge describes the createemailchallenge operation and its observable behavior.
//
// CreateEmailChallenge may return an error when input validation, dependency calls, or security checks fail.
// CreateEmailChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CreateEmailChallenge(ctx context.Context, email string) (*EmailChallenge, error) {
	if e == nil || e.challenges == nil || e.limiter == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.EmailChallenge.Enabled {
		return nil, ErrEmailChallengeDisabled
	}
	if e.mailer == nil {
		return nil, ErrEngineNotReady
	}

	email, err := normalizeEmail(email)
	if err != nil {
		e.metricInc(MetricEmailChallengeFailure)
		e.emitAudit(ctx, auditEventEmailChallengeIssued, false, "", "", ErrValidation, func() map[string]string {
			return map[string]string{
				"reason": "invalid_email",
			}
		})
		return nil, ErrValidation
	}

	cfg := e.config.EmailChallenge
	ip := clientIPFromContext(ctx)

	limited, err := e.limiter.IsLimited(ctx, emailChallengeEmailScope, email, cfg.MaxPerEmail, cfg.EmailWindow)
	if err != nil {
		return e.issueFailure(ctx, email, ErrBackendUnavailable, "limiter_unavailable")
	}
	if !limited && ip != "" {
		limited, err = e.limiter.IsLimited(ctx, emailChallengeIPScope, ip, cfg.MaxPerIP, cfg.IPWindow)
		if err != nil {
			return e.issueFailure(ctx, email, ErrBackendUnavailable, "limiter_unavailable")
		}
	}
	if limited {
		e.metricInc(MetricEmailChallengeRateLimited)
		e.emitRateLimit(ctx, "email_challenge", func() map[string]string {
			return map[string]string{
				"email": email,
			}
		})
		// Refusal keeps the same shape as other masked failures so callers
		// cannot distinguish throttling from delivery.
		if cfg.FailurePolicy == MaskAsSuccess {
			return e.maskedChallenge(ctx, email, ErrRateLimited, "rate_limited")
		}
		return nil, ErrRateLimited
	}

	code, err := otp.NewCode(cfg.OTPDigits)
	if err != nil {
		return e.issueFailure(ctx, email, err, "code_generation")
	}
	token, err := otp.NewChallengeToken()
	if err != nil {
		return e.issueFailure(ctx, email, err, "token_generation")
	}
	challengeID := ident.New()

	now := time.Now()
	expiresAt := now.Add(cfg.CodeTTL)

	// Delivery before persistence: a challenge that was never delivered must
	// not exist as a guessable row.
	subject := cfg.Subject
	text, html := renderChallengeEmail(code, cfg.CodeTTL)
	if err := e.mailer.Send(ctx, email, subject, text, html); err != nil {
		return e.issueFailure(ctx, email, ErrMailUnavailable, "mail_send_failed")
	}

	record := &stores.EmailChallengeRecord{
		ID:        challengeID,
		Email:     email,
		IP:        ip,
		UserAgent: userAgentFromContext(ctx),
		CodeHash:  otp.HashCodeRaw(cfg.Secret, email, code),
		ExpiresAt: expiresAt.Unix(),
		CreatedAt: now.Unix(),
	}

	lookupHash := otp.HashCode(cfg.Secret, email, token)
	if err := e.challenges.Save(ctx, lookupHash, record, cfg.CodeTTL+cfg.UsedGrace); err != nil {
		return e.issueFailure(ctx, email, ErrBackendUnavailable, "challenge_save_failed")
	}

	e.metricInc(MetricEmailChallengeIssued)
	e.emitAudit(ctx, auditEventEmailChallengeIssued, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"email":        email,
			"challenge_id": challengeID,
		}
	})

	return &EmailChallenge{
		ID:             challengeID,
		ChallengeToken: token,
		ExpiresAt:      expiresAt,
	}, nil
}

// VerifyEmailChallenge describes the verifyemailchallenge operation and its observable behavior.
//
// VerifyEmailChallenge may return an error when input validation, dependency calls, or security checks fail.
// VerifyEmailChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyEmailChallenge(ctx context.Context, email, challengeToken, code string) (*EmailVerification, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.EmailChallenge.Enabled {
		return nil, ErrEmailChallengeDisabled
	}

	email, err := normalizeEmail(email)
	if err != nil || challengeToken == "" || code == "" {
		// Equal-cost digest work keeps malformed submissions from being a
		// cheaper probe than real ones.
		otp.TimingSafeMatch(e.guardDigest, e.guardDigest)
		return e.verifyFailure(ctx, email, ErrValidation, "invalid_input")
	}

	cfg := e.config.EmailChallenge
	lookupHash := otp.HashCode(cfg.Secret, email, challengeToken)
	providedHash := otp.HashCodeRaw(cfg.Secret, email, code)

	record, err := e.challenges.Consume(ctx, lookupHash, providedHash, cfg.MaxAttempts, cfg.UsedGrace)
	if err != nil {
		mapped := mapChallengeStoreError(err)
		if errors.Is(mapped, ErrChallengeInvalid) {
			otp.TimingSafeMatch(e.guardDigest, e.guardDigest)
		}
		if errors.Is(mapped, ErrChallengeAttempts) {
			e.metricInc(MetricEmailVerifyAttemptsExceeded)
		}
		return e.verifyFailure(ctx, email, mapped, "")
	}

	e.metricInc(MetricEmailVerifySuccess)
	e.emitAudit(ctx, auditEventEmailChallengeVerify, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"email":        record.Email,
			"challenge_id": record.ID,
		}
	})

	return &EmailVerification{
		ChallengeID: record.ID,
		Email:       record.Email,
	}, nil
}

func (e *Engine) issueFailure(ctx context.Context, email string, cause error, reason string) (*EmailChallenge, error) {
	if e.config.EmailChallenge.FailurePolicy == MaskAsSuccess {
		return e.maskedChallenge(ctx, email, cause, reason)
	}
	e.metricInc(MetricEmailChallengeFailure)
	e.emitAudit(ctx, auditEventEmailChallengeIssued, false, "", "", cause, func() map[string]string {
		return map[string]string{
			"email":  email,
			"reason": reason,
		}
	})
	return nil, cause
}

// maskedChallenge fabricates a response indistinguishable from success. The
// returned token binds to no stored row, so verification can never succeed.
func (e *Engine) maskedChallenge(ctx context.Context, email string, cause error, reason string) (*EmailChallenge, error) {
	e.metricInc(MetricEmailChallengeFailure)
	e.emitAudit(ctx, auditEventEmailChallengeMasked, false, "", "", cause, func() map[string]string {
		return map[string]string{
			"email":  email,
			"reason": reason,
		}
	})

	token, err := otp.NewChallengeToken()
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	return &EmailChallenge{
		ID:             ident.New(),
		ChallengeToken: token,
		ExpiresAt:      time.Now().Add(e.config.EmailChallenge.CodeTTL),
		Masked:         true,
	}, nil
}

func (e *Engine) verifyFailure(ctx context.Context, email string, cause error, reason string) (*EmailVerification, error) {
	e.metricInc(MetricEmailVerifyFailure)
	e.emitAudit(ctx, auditEventEmailChallengeVerify, false, "", "", cause, func() map[string]string {
		meta := map[string]string{
			"email": email,
		}
		if reason != "" {
			meta["reason"] = reason
		}
		return meta
	})
	return nil, cause
}

func mapChallengeStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeInvalid
	case errors.Is(err, stores.ErrChallengeUsed):
		return ErrChallengeUsed
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return ErrChallengeAttempts
	case errors.Is(err, stores.ErrChallengeCodeMismatch):
		return ErrCodeMismatch
	default:
		return ErrBackendUnavailable
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > 254 {
		return "", errors.New("invalid email")
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", errors.New("invalid email")
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return "", errors.New("invalid email")
	}
	return email, nil
}

func renderChallengeEmail(code string, ttl time.Duration) (text, html string) {
	minutes := int(ttl.Minutes())
	text = fmt.Sprintf("Your sign-in code is %s. It expires in %d minutes.\n\nIf you did not request this code, you can ignore this message.", code, minutes)
	html = fmt.Sprintf("<p>Your sign-in code is <strong>%s</strong>. It expires in %d minutes.</p><p>If you did not request this code, you can ignore this message.</p>", code, minutes)
	return text, html
}
