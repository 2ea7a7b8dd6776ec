package passauth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestKeys(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	return priv, pub
}

func testConfig(t *testing.T) Config {
	t.Helper()

	priv, pub := newTestKeys(t)

	cfg := defaultConfig()
	cfg.Issuer = "https://auth.test"
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.KeyID = "test-key-1"
	cfg.JWT.Audience = "https://api.test"
	cfg.JWT.AccessTTL = time.Hour
	cfg.Refresh.TTL = 24 * time.Hour
	cfg.EmailChallenge.Secret = bytes.Repeat([]byte{0x42}, 32)
	cfg.WebAuthn.Enabled = true
	cfg.WebAuthn.RPID = "auth.test"
	cfg.WebAuthn.RPDisplayName = "Auth Test"
	cfg.WebAuthn.RPOrigins = []string{"https://auth.test"}
	return cfg
}

type sentMail struct {
	to      string
	subject string
	text    string
	html    string
}

type mockMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *mockMailer) Send(_ context.Context, to, subject, text, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unreachable")
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, text: text, html: html})
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var codePattern = regexp.MustCompile(`\b(\d{6,10})\b`)

func (m *mockMailer) lastCode(t *testing.T) string {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail delivered")
	}
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].text)
	if match == nil {
		t.Fatalf("no code found in mail body: %q", m.sent[len(m.sent)-1].text)
	}
	return match[1]
}

type mockPasskeyProvider struct {
	mu      sync.Mutex
	records map[string][]PasskeyRecord
	fail    bool
}

func newMockPasskeyProvider() *mockPasskeyProvider {
	return &mockPasskeyProvider{records: make(map[string][]PasskeyRecord)}
}

func (m *mockPasskeyProvider) PasskeysForUser(_ context.Context, userID string) ([]PasskeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("db unreachable")
	}
	return append([]PasskeyRecord(nil), m.records[userID]...), nil
}

func (m *mockPasskeyProvider) PasskeyByCredentialID(_ context.Context, credentialID []byte) (PasskeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return PasskeyRecord{}, errors.New("db unreachable")
	}
	for _, records := range m.records {
		for _, record := range records {
			if bytes.Equal(record.CredentialID, credentialID) {
				return record, nil
			}
		}
	}
	return PasskeyRecord{}, errors.New("not found")
}

func (m *mockPasskeyProvider) CreatePasskey(_ context.Context, record PasskeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db unreachable")
	}
	m.records[record.UserID] = append(m.records[record.UserID], record)
	return nil
}

func (m *mockPasskeyProvider) UpdatePasskeyUsage(_ context.Context, id string, signCount uint32, lastUsedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, records := range m.records {
		for i := range records {
			if records[i].ID == id {
				records[i].SignCount = signCount
				records[i].LastUsedAt = lastUsedAt
				m.records[userID] = records
				return nil
			}
		}
	}
	return errors.New("not found")
}

func (m *mockPasskeyProvider) DeletePasskey(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.records[userID]
	for i := range records {
		if records[i].ID == id {
			m.records[userID] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func newTestEngine(t *testing.T, rdb *redis.Client, mailer *mockMailer, provider *mockPasskeyProvider, mutate func(*Config)) *Engine {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMailer(mailer).
		WithPasskeyProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}
