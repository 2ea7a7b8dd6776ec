package passauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

func TestBeginPasskeyRegistrationExcludesExistingCredentials(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	provider := newMockPasskeyProvider()
	provider.records["u1"] = []PasskeyRecord{{
		ID:           "pk1",
		UserID:       "u1",
		CredentialID: []byte("existing-credential"),
		PublicKey:    []byte{0x01},
	}}
	engine := newTestEngine(t, rdb, &mockMailer{}, provider, nil)

	options, err := engine.BeginPasskeyRegistration(ctx, "u1", "alice", "Alice")
	if err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}

	var decoded struct {
		PublicKey struct {
			Challenge          string `json:"challenge"`
			ExcludeCredentials []struct {
				ID string `json:"id"`
			} `json:"excludeCredentials"`
			AuthenticatorSelection struct {
				ResidentKey      string `json:"residentKey"`
				UserVerification string `json:"userVerification"`
			} `json:"authenticatorSelection"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(options, &decoded); err != nil {
		t.Fatalf("options are not valid JSON: %v", err)
	}
	if decoded.PublicKey.Challenge == "" {
		t.Fatal("expected challenge in options")
	}

	wantID := base64.RawURLEncoding.EncodeToString([]byte("existing-credential"))
	found := false
	for _, cred := range decoded.PublicKey.ExcludeCredentials {
		if cred.ID == wantID {
			found = true
		}
	}
	if !found {
		t.Fatal("existing credential missing from exclusion list")
	}
	if decoded.PublicKey.AuthenticatorSelection.ResidentKey != "required" {
		t.Fatalf("expected resident key required, got %q", decoded.PublicKey.AuthenticatorSelection.ResidentKey)
	}
	if decoded.PublicKey.AuthenticatorSelection.UserVerification != "required" {
		t.Fatalf("expected user verification required, got %q", decoded.PublicKey.AuthenticatorSelection.UserVerification)
	}

	keys, err := rdb.Keys(ctx, "pwc:*").Result()
	if err != nil {
		t.Fatalf("keys scan failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one stored ceremony, found %d", len(keys))
	}
}

func TestBeginPasskeyLoginWithoutCredentials(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, &mockMailer{}, newMockPasskeyProvider(), nil)

	if _, err := engine.BeginPasskeyLogin(ctx, "nobody"); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound, got %v", err)
	}
}

func TestBeginPasskeyLoginDiscoverable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, &mockMailer{}, newMockPasskeyProvider(), nil)

	options, err := engine.BeginPasskeyLogin(ctx, "")
	if err != nil {
		t.Fatalf("discoverable BeginPasskeyLogin failed: %v", err)
	}
	if !strings.Contains(string(options), "challenge") {
		t.Fatal("expected assertion options with challenge")
	}
}

func TestFinishPasskeyRegistrationRejectsGarbage(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, &mockMailer{}, newMockPasskeyProvider(), nil)

	if _, err := engine.FinishPasskeyRegistration(ctx, "u1", "laptop", []byte("{")); !errors.Is(err, ErrCeremonyInvalid) {
		t.Fatalf("expected ErrCeremonyInvalid, got %v", err)
	}
}

func TestConsumeCeremonyStates(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, &mockMailer{}, newMockPasskeyProvider(), nil)

	if _, err := engine.consumeCeremony(ctx, "never-stored"); !errors.Is(err, ErrCeremonyInvalid) {
		t.Fatalf("expected ErrCeremonyInvalid for missing ceremony, got %v", err)
	}

	stale := webauthn.SessionData{
		Challenge: "stale-challenge",
		UserID:    []byte("u1"),
		Expires:   time.Now().Add(-time.Minute),
	}
	if err := engine.saveCeremony(ctx, &stale); err != nil {
		t.Fatalf("saveCeremony failed: %v", err)
	}
	if _, err := engine.consumeCeremony(ctx, "stale-challenge"); !errors.Is(err, ErrCeremonyExpired) {
		t.Fatalf("expected ErrCeremonyExpired, got %v", err)
	}

	// Consumption is one-shot even on the expired branch.
	if _, err := engine.consumeCeremony(ctx, "stale-challenge"); !errors.Is(err, ErrCeremonyInvalid) {
		t.Fatalf("expected ErrCeremonyInvalid on second consume, got %v", err)
	}

	live := webauthn.SessionData{
		Challenge: "live-challenge",
		UserID:    []byte("u1"),
		Expires:   time.Now().Add(time.Minute),
	}
	if err := engine.saveCeremony(ctx, &live); err != nil {
		t.Fatalf("saveCeremony failed: %v", err)
	}
	session, err := engine.consumeCeremony(ctx, "live-challenge")
	if err != nil {
		t.Fatalf("consumeCeremony failed: %v", err)
	}
	if string(session.UserID) != "u1" {
		t.Fatalf("session user mismatch: %q", session.UserID)
	}
}

func TestWebAuthnDisabled(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	engine := newTestEngine(t, rdb, &mockMailer{}, newMockPasskeyProvider(), func(cfg *Config) {
		cfg.WebAuthn.Enabled = false
	})

	if _, err := engine.BeginPasskeyRegistration(ctx, "u1", "alice", "Alice"); !errors.Is(err, ErrWebAuthnDisabled) {
		t.Fatalf("expected ErrWebAuthnDisabled, got %v", err)
	}
	if _, err := engine.BeginPasskeyLogin(ctx, "u1"); !errors.Is(err, ErrWebAuthnDisabled) {
		t.Fatalf("expected ErrWebAuthnDisabled, got %v", err)
	}
	if _, err := engine.FinishPasskeyLogin(ctx, []byte("{}")); !errors.Is(err, ErrWebAuthnDisabled) {
		t.Fatalf("expected ErrWebAuthnDisabled, got %v", err)
	}
}

func TestDeletePasskeyLastCredentialAudit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	provider := newMockPasskeyProvider()
	provider.records["u1"] = []PasskeyRecord{{
		ID:           "pk1",
		UserID:       "u1",
		CredentialID: []byte("cred-1"),
	}}

	sink := NewChannelSink(16)
	mailer := &mockMailer{}
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMailer(mailer).
		WithPasskeyProvider(provider).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := engine.DeletePasskey(ctx, "u1", "missing"); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound, got %v", err)
	}

	if err := engine.DeletePasskey(ctx, "u1", "pk1"); err != nil {
		t.Fatalf("DeletePasskey failed: %v", err)
	}
	if len(provider.records["u1"]) != 0 {
		t.Fatal("expected passkey removed")
	}

	engine.Close()

	events := map[string]int{}
drain:
	for {
		select {
		case event := <-sink.Events():
			events[event.EventType]++
		default:
			break drain
		}
	}
	if events[auditEventPasskeyDeleted] != 1 {
		t.Fatalf("expected one deletion event, got %d", events[auditEventPasskeyDeleted])
	}
	if events[auditEventLastPasskeyDeleted] != 1 {
		t.Fatalf("expected last-passkey event, got %d", events[auditEventLastPasskeyDeleted])
	}
}

// testAuthenticator signs login assertions with its own ed25519 key, standing
// in for a platform authenticator.
type testAuthenticator struct {
	priv   ed25519.PrivateKey
	credID []byte
}

func newTestAuthenticator(t *testing.T) *testAuthenticator {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	credID := make([]byte, 16)
	if _, err := rand.Read(credID); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	return &testAuthenticator{priv: priv, credID: credID}
}

// coseKey encodes the public key as a COSE_Key map
// (kty OKP, alg EdDSA, crv Ed25519, x).
func (a *testAuthenticator) coseKey() []byte {
	pub := a.priv.Public().(ed25519.PublicKey)
	key := []byte{0xa4, 0x01, 0x01, 0x03, 0x27, 0x20, 0x06, 0x21, 0x58, 0x20}
	return append(key, pub...)
}

func (a *testAuthenticator) record(id, userID string, signCount uint32) PasskeyRecord {
	return PasskeyRecord{
		ID:           id,
		UserID:       userID,
		CredentialID: a.credID,
		PublicKey:    a.coseKey(),
		SignCount:    signCount,
		DeviceType:   "single_device",
		Name:         "laptop",
		CreatedAt:    time.Now(),
	}
}

// assertion builds a signed login response for the given ceremony challenge:
// authenticator data for rpID "auth.test" with UP and UV set, client data for
// origin "https://auth.test", and an ed25519 signature over
// authData || SHA-256(clientDataJSON).
func (a *testAuthenticator) assertion(t *testing.T, challenge, userID string, counter uint32) []byte {
	t.Helper()

	clientData, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": challenge,
		"origin":    "https://auth.test",
	})
	if err != nil {
		t.Fatalf("client data marshal failed: %v", err)
	}

	rpIDHash := sha256.Sum256([]byte("auth.test"))
	authData := make([]byte, 0, 37)
	authData = append(authData, rpIDHash[:]...)
	authData = append(authData, 0x05)
	var counterBytes [4]byte
	binary.BigEndian.PutUint32(counterBytes[:], counter)
	authData = append(authData, counterBytes[:]...)

	clientDataHash := sha256.Sum256(clientData)
	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	signature := ed25519.Sign(a.priv, signed)

	b64 := base64.RawURLEncoding.EncodeToString
	body, err := json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]string{
			"clientDataJSON":    b64(clientData),
			"authenticatorData": b64(authData),
			"signature":         b64(signature),
			"userHandle":        b64([]byte(userID)),
		},
	})
	if err != nil {
		t.Fatalf("assertion marshal failed: %v", err)
	}
	return body
}

func loginChallenge(t *testing.T, options json.RawMessage) string {
	t.Helper()

	var decoded struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(options, &decoded); err != nil {
		t.Fatalf("options are not valid JSON: %v", err)
	}
	if decoded.PublicKey.Challenge == "" {
		t.Fatal("expected challenge in options")
	}
	return decoded.PublicKey.Challenge
}

func TestFinishPasskeyLoginSuccess(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	authenticator := newTestAuthenticator(t)
	provider := newMockPasskeyProvider()
	provider.records["u1"] = []PasskeyRecord{authenticator.record("pk1", "u1", 0)}
	engine := newTestEngine(t, rdb, &mockMailer{}, provider, nil)

	options, err := engine.BeginPasskeyLogin(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}

	challenge := loginChallenge(t, options)
	result, err := engine.FinishPasskeyLogin(ctx, authenticator.assertion(t, challenge, "u1", 1))
	if err != nil {
		t.Fatalf("FinishPasskeyLogin failed: %v", err)
	}
	if result.UserID != "u1" || result.PasskeyID != "pk1" {
		t.Fatalf("result mismatch: %+v", result)
	}

	provider.mu.Lock()
	updated := provider.records["u1"][0]
	provider.mu.Unlock()
	if updated.SignCount != 1 {
		t.Fatalf("expected sign count 1 after login, got %d", updated.SignCount)
	}
	if updated.LastUsedAt.IsZero() {
		t.Fatal("expected last-used timestamp after login")
	}

	// The ceremony is one-shot: replaying the same assertion must fail.
	if _, err := engine.FinishPasskeyLogin(ctx, authenticator.assertion(t, challenge, "u1", 2)); !errors.Is(err, ErrCeremonyInvalid) {
		t.Fatalf("expected ErrCeremonyInvalid on replay, got %v", err)
	}
}

func TestFinishPasskeyLoginDiscoverable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	authenticator := newTestAuthenticator(t)
	provider := newMockPasskeyProvider()
	provider.records["u2"] = []PasskeyRecord{authenticator.record("pk2", "u2", 0)}
	engine := newTestEngine(t, rdb, &mockMailer{}, provider, nil)

	options, err := engine.BeginPasskeyLogin(ctx, "")
	if err != nil {
		t.Fatalf("discoverable BeginPasskeyLogin failed: %v", err)
	}

	challenge := loginChallenge(t, options)
	result, err := engine.FinishPasskeyLogin(ctx, authenticator.assertion(t, challenge, "u2", 1))
	if err != nil {
		t.Fatalf("discoverable FinishPasskeyLogin failed: %v", err)
	}
	if result.UserID != "u2" || result.PasskeyID != "pk2" {
		t.Fatalf("result mismatch: %+v", result)
	}
}

func TestFinishPasskeyLoginCloneDetected(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	authenticator := newTestAuthenticator(t)
	provider := newMockPasskeyProvider()
	provider.records["u1"] = []PasskeyRecord{authenticator.record("pk1", "u1", 5)}
	engine := newTestEngine(t, rdb, &mockMailer{}, provider, nil)

	options, err := engine.BeginPasskeyLogin(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}

	// A counter behind the stored sign count means a second authenticator is
	// using a copied key.
	challenge := loginChallenge(t, options)
	if _, err := engine.FinishPasskeyLogin(ctx, authenticator.assertion(t, challenge, "u1", 3)); !errors.Is(err, ErrPasskeyCloneDetected) {
		t.Fatalf("expected ErrPasskeyCloneDetected, got %v", err)
	}

	// The regressed counter must not overwrite the stored one.
	provider.mu.Lock()
	stored := provider.records["u1"][0]
	provider.mu.Unlock()
	if stored.SignCount != 5 {
		t.Fatalf("stored sign count must stay 5, got %d", stored.SignCount)
	}
}
