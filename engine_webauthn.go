package passauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/recitalhub/passauth/internal/ident"
	"github.com/recitalhub/passauth/internal/stores"
)

// webauthnUser adapts caller-owned passkey rows to the ceremony library's
// user model. The handle is the caller's user id verbatim.
type webauthnUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.id }
func (u *webauthnUser) WebAuthnName() string                       { return u.name }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// BeginPasskeyRegistration describes the beginpasskeyregistration operation and its observable behavior.
//
// BeginPasskeyRegistration may return an error when input validation, dependency calls, or security checks fail.
// BeginPasskeyRegistration does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginPasskeyRegistration(ctx context.Context, userID, name, displayName string) (json.RawMessage, error) {
	if e == nil || e.ceremonies == nil || e.passkeys == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.WebAuthn.Enabled || e.webAuthn == nil {
		return nil, ErrWebAuthnDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrValidation
	}

	records, err := e.passkeys.PasskeysForUser(ctx, userID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	user := &webauthnUser{
		id:          []byte(userID),
		name:        name,
		displayName: displayName,
		credentials: credentialsFromRecords(records),
	}

	options, session, err := e.webAuthn.BeginRegistration(user,
		webauthn.WithExclusions(descriptorsFromRecords(records)),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationRequired,
		}),
	)
	if err != nil {
		e.emitAudit(ctx, auditEventPasskeyRegisterBegin, false, userID, "", ErrCeremonyInvalid, nil)
		return nil, ErrCeremonyInvalid
	}

	if err := e.saveCeremony(ctx, session); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventPasskeyRegisterBegin, true, userID, "", nil, nil)

	return json.Marshal(options)
}

// FinishPasskeyRegistration describes the finishpasskeyregistration operation and its observable behavior.
//
// FinishPasskeyRegistration may return an error when input validation, dependency calls, or security checks fail.
// FinishPasskeyRegistration does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, userID, passkeyName string, response []byte) (*PasskeyRecord, error) {
	if e == nil || e.ceremonies == nil || e.passkeys == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.WebAuthn.Enabled || e.webAuthn == nil {
		return nil, ErrWebAuthnDisabled
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		e.emitAudit(ctx, auditEventPasskeyRegistered, false, userID, "", ErrCeremonyInvalid, nil)
		return nil, ErrCeremonyInvalid
	}

	session, err := e.consumeCeremony(ctx, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		e.emitAudit(ctx, auditEventPasskeyRegistered, false, userID, "", err, nil)
		return nil, err
	}
	if string(session.UserID) != userID {
		e.emitAudit(ctx, auditEventPasskeyRegistered, false, userID, "", ErrCeremonyInvalid, func() map[string]string {
			return map[string]string{
				"reason": "user_mismatch",
			}
		})
		return nil, ErrCeremonyInvalid
	}

	records, err := e.passkeys.PasskeysForUser(ctx, userID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	user := &webauthnUser{
		id:          []byte(userID),
		credentials: credentialsFromRecords(records),
	}

	credential, err := e.webAuthn.CreateCredential(user, *session, parsed)
	if err != nil {
		e.emitAudit(ctx, auditEventPasskeyRegistered, false, userID, "", ErrCeremonyInvalid, nil)
		return nil, ErrCeremonyInvalid
	}

	record := recordFromCredential(userID, passkeyName, credential)
	if err := e.passkeys.CreatePasskey(ctx, record); err != nil {
		e.emitAudit(ctx, auditEventPasskeyRegistered, false, userID, "", ErrBackendUnavailable, nil)
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, auditEventPasskeyRegistered, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"passkey_id": record.ID,
		}
	})

	return &record, nil
}

// BeginPasskeyLogin describes the beginpasskeylogin operation and its observable behavior.
//
// An empty userID starts a discoverable (usernameless) ceremony where the
// authenticator chooses the credential.
//
// BeginPasskeyLogin may return an error when input validation, dependency calls, or security checks fail.
// BeginPasskeyLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, userID string) (json.RawMessage, error) {
	if e == nil || e.ceremonies == nil || e.passkeys == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.WebAuthn.Enabled || e.webAuthn == nil {
		return nil, ErrWebAuthnDisabled
	}

	var (
		options interface{}
		session *webauthn.SessionData
	)

	if userID == "" {
		assertion, sess, err := e.webAuthn.BeginDiscoverableLogin()
		if err != nil {
			e.emitAudit(ctx, auditEventPasskeyLoginBegin, false, "", "", ErrCeremonyInvalid, nil)
			return nil, ErrCeremonyInvalid
		}
		options, session = assertion, sess
	} else {
		records, err := e.passkeys.PasskeysForUser(ctx, userID)
		if err != nil {
			return nil, ErrBackendUnavailable
		}
		if len(records) == 0 {
			e.emitAudit(ctx, auditEventPasskeyLoginBegin, false, userID, "", ErrPasskeyNotFound, nil)
			return nil, ErrPasskeyNotFound
		}

		user := &webauthnUser{
			id:          []byte(userID),
			credentials: credentialsFromRecords(records),
		}
		assertion, sess, err := e.webAuthn.BeginLogin(user)
		if err != nil {
			e.emitAudit(ctx, auditEventPasskeyLoginBegin, false, userID, "", ErrCeremonyInvalid, nil)
			return nil, ErrCeremonyInvalid
		}
		options, session = assertion, sess
	}

	if err := e.saveCeremony(ctx, session); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventPasskeyLoginBegin, true, userID, "", nil, nil)

	return json.Marshal(options)
}

// FinishPasskeyLogin describes the finishpasskeylogin operation and its observable behavior.
//
// FinishPasskeyLogin may return an error when input validation, dependency calls, or security checks fail.
// FinishPasskeyLogin does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, response []byte) (*PasskeyLoginResult, error) {
	if e == nil || e.ceremonies == nil || e.passkeys == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.WebAuthn.Enabled || e.webAuthn == nil {
		return nil, ErrWebAuthnDisabled
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, "", "", ErrCeremonyInvalid, nil)
		return nil, ErrCeremonyInvalid
	}

	session, err := e.consumeCeremony(ctx, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, "", "", err, nil)
		return nil, err
	}

	var (
		userID     string
		credential *webauthn.Credential
	)

	if len(session.UserID) > 0 {
		userID = string(session.UserID)
		records, loadErr := e.passkeys.PasskeysForUser(ctx, userID)
		if loadErr != nil {
			return nil, ErrBackendUnavailable
		}
		user := &webauthnUser{
			id:          session.UserID,
			credentials: credentialsFromRecords(records),
		}
		credential, err = e.webAuthn.ValidateLogin(user, *session, parsed)
	} else {
		credential, err = e.webAuthn.ValidateDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			record, lookupErr := e.passkeys.PasskeyByCredentialID(ctx, rawID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			userID = record.UserID
			return &webauthnUser{
				id:          []byte(record.UserID),
				credentials: credentialsFromRecords([]PasskeyRecord{record}),
			}, nil
		}, *session, parsed)
	}
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, userID, "", ErrCeremonyInvalid, nil)
		return nil, ErrCeremonyInvalid
	}

	record, err := e.passkeys.PasskeyByCredentialID(ctx, credential.ID)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLoginFailure, false, userID, "", ErrPasskeyNotFound, nil)
		return nil, ErrPasskeyNotFound
	}

	if credential.Authenticator.CloneWarning {
		e.metricInc(MetricPasskeyCloneDetected)
		e.emitAudit(ctx, auditEventPasskeyCloneDetected, false, record.UserID, "", ErrPasskeyCloneDetected, func() map[string]string {
			return map[string]string{
				"passkey_id": record.ID,
			}
		})
		return nil, ErrPasskeyCloneDetected
	}

	// Usage bookkeeping is best-effort and must not fail an otherwise valid
	// assertion.
	if err := e.passkeys.UpdatePasskeyUsage(ctx, record.ID, credential.Authenticator.SignCount, time.Now()); err != nil {
		log.Print("passauth: passkey usage update failed")
	}

	e.metricInc(MetricPasskeyLoginSuccess)
	e.emitAudit(ctx, auditEventPasskeyLoginSuccess, true, record.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"passkey_id": record.ID,
		}
	})

	return &PasskeyLoginResult{
		UserID:    record.UserID,
		PasskeyID: record.ID,
	}, nil
}

// DeletePasskey describes the deletepasskey operation and its observable behavior.
//
// DeletePasskey may return an error when input validation, dependency calls, or security checks fail.
// DeletePasskey does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DeletePasskey(ctx context.Context, userID, passkeyID string) error {
	if e == nil || e.passkeys == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(passkeyID) == "" {
		return ErrValidation
	}

	records, err := e.passkeys.PasskeysForUser(ctx, userID)
	if err != nil {
		return ErrBackendUnavailable
	}

	found := false
	for _, record := range records {
		if record.ID == passkeyID {
			found = true
			break
		}
	}
	if !found {
		return ErrPasskeyNotFound
	}

	if err := e.passkeys.DeletePasskey(ctx, userID, passkeyID); err != nil {
		e.emitAudit(ctx, auditEventPasskeyDeleted, false, userID, "", ErrBackendUnavailable, nil)
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventPasskeyDeleted, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"passkey_id": passkeyID,
		}
	})

	// Removing the final passkey strands an email-only account; flag it for
	// downstream risk review.
	if len(records) == 1 {
		e.emitAudit(ctx, auditEventLastPasskeyDeleted, true, userID, "", nil, func() map[string]string {
			return map[string]string{
				"passkey_id": passkeyID,
			}
		})
	}

	return nil
}

func (e *Engine) saveCeremony(ctx context.Context, session *webauthn.SessionData) error {
	encoded, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return e.ceremonies.Save(ctx, session.Challenge, encoded, e.config.WebAuthn.ChallengeTTL)
}

func (e *Engine) consumeCeremony(ctx context.Context, challenge string) (*webauthn.SessionData, error) {
	raw, err := e.ceremonies.Consume(ctx, challenge)
	if err != nil {
		if errors.Is(err, stores.ErrCeremonyNotFound) {
			return nil, ErrCeremonyInvalid
		}
		return nil, ErrBackendUnavailable
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, ErrCeremonyInvalid
	}
	if !session.Expires.IsZero() && time.Now().After(session.Expires) {
		return nil, ErrCeremonyExpired
	}

	return &session, nil
}

func credentialsFromRecords(records []PasskeyRecord) []webauthn.Credential {
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credentials = append(credentials, webauthn.Credential{
			ID:        record.CredentialID,
			PublicKey: record.PublicKey,
			Transport: transportsFromStrings(record.Transports),
			Flags: webauthn.CredentialFlags{
				BackupEligible: record.DeviceType == "multi_device",
				BackupState:    record.BackedUp,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    record.AAGUID,
				SignCount: record.SignCount,
			},
		})
	}
	return credentials
}

func descriptorsFromRecords(records []PasskeyRecord) []protocol.CredentialDescriptor {
	descriptors := make([]protocol.CredentialDescriptor, 0, len(records))
	for _, record := range records {
		descriptors = append(descriptors, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: record.CredentialID,
			Transport:    transportsFromStrings(record.Transports),
		})
	}
	return descriptors
}

func recordFromCredential(userID, passkeyName string, credential *webauthn.Credential) PasskeyRecord {
	deviceType := "single_device"
	if credential.Flags.BackupEligible {
		deviceType = "multi_device"
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}

	return PasskeyRecord{
		ID:           ident.New(),
		UserID:       userID,
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		AAGUID:       credential.Authenticator.AAGUID,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transports,
		DeviceType:   deviceType,
		BackedUp:     credential.Flags.BackupState,
		Name:         passkeyName,
		CreatedAt:    time.Now(),
	}
}

func transportsFromStrings(values []string) []protocol.AuthenticatorTransport {
	transports := make([]protocol.AuthenticatorTransport, 0, len(values))
	for _, value := range values {
		transports = append(transports, protocol.AuthenticatorTransport(value))
	}
	return transports
}
