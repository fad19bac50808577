package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmw4134/portalflow/internal/security"
)

func newTestVault(t *testing.T) *security.Vault {
	t.Helper()
	vault, err := security.NewVault("test-passphrase")
	require.NoError(t, err)
	return vault
}

func validCredential() PlatformCredential {
	return PlatformCredential{
		PlatformName: "mailchimp",
		LoginURL:     "https://login.mailchimp.com",
		Email:        "ops@example.com",
		Secret:       "hunter2",
	}
}

func TestCredentialStoreRegisterAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := NewCredentialStore(path, newTestVault(t), nil)
	require.NoError(t, err)

	require.NoError(t, s.Register(validCredential()))

	got, err := s.Get("mailchimp")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", got.Email)
	assert.Equal(t, "hunter2", got.Secret)
	assert.True(t, s.Has("mailchimp"))
	assert.Equal(t, []string{"mailchimp"}, s.Platforms())
}

func TestCredentialStoreUnknownPlatform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := NewCredentialStore(path, newTestVault(t), nil)
	require.NoError(t, err)

	_, err = s.Get("hubspot")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.False(t, s.Has("hubspot"))
}

func TestCredentialStoreRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := NewCredentialStore(path, newTestVault(t), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*PlatformCredential)
	}{
		{"missing platform", func(c *PlatformCredential) { c.PlatformName = "" }},
		{"bad url", func(c *PlatformCredential) { c.LoginURL = "not-a-url" }},
		{"bad email", func(c *PlatformCredential) { c.Email = "nope" }},
		{"missing secret", func(c *PlatformCredential) { c.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := validCredential()
			tt.mutate(&cred)
			assert.Error(t, s.Register(cred))
		})
	}
}

func TestCredentialSecretNeverOnDiskInCleartext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := NewCredentialStore(path, newTestVault(t), nil)
	require.NoError(t, err)
	require.NoError(t, s.Register(validCredential()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	// The document must still be well-formed JSON keyed by platform.
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "mailchimp")
}

func TestCredentialStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	vault := newTestVault(t)

	s, err := NewCredentialStore(path, vault, nil)
	require.NoError(t, err)
	require.NoError(t, s.Register(validCredential()))

	reopened, err := NewCredentialStore(path, vault, nil)
	require.NoError(t, err)
	got, err := reopened.Get("mailchimp")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Secret)
}

func testSession(expires time.Time, valid bool) *PlatformSession {
	return &PlatformSession{
		PlatformName: "instagram",
		Cookies: []Cookie{
			{Name: "sessionid", Value: "abc123", Domain: ".instagram.com", Path: "/", Secure: true, HTTPOnly: true},
			{Name: "csrftoken", Value: "tok", Domain: ".instagram.com", Path: "/"},
		},
		UserAgent: "Mozilla/5.0",
		Storage: StorageSnapshot{
			LocalStorage:   `{"theme":"dark"}`,
			SessionStorage: `{}`,
		},
		ExpiresAt: expires,
		IsValid:   valid,
	}
}

func TestSessionStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := NewSessionStore(path, nil)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.Save(testSession(now.Add(24*time.Hour), true)))

	loaded := s.Load("instagram", now)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc123", loaded.Cookies[0].Value)
}

func TestSessionStoreExpiryAndValidityBothRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := NewSessionStore(path, nil)
	require.NoError(t, err)

	now := time.Now()

	// Expired but still flagged valid: must not be returned.
	require.NoError(t, s.Save(testSession(now.Add(-time.Minute), true)))
	assert.Nil(t, s.Load("instagram", now))

	// Unexpired but invalidated: must not be returned either.
	require.NoError(t, s.Save(testSession(now.Add(time.Hour), true)))
	require.NoError(t, s.Invalidate("instagram"))
	assert.Nil(t, s.Load("instagram", now))
}

func TestSessionStoreLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := NewSessionStore(path, nil)
	require.NoError(t, err)

	now := time.Now()
	first := testSession(now.Add(time.Hour), true)
	require.NoError(t, s.Save(first))

	second := testSession(now.Add(2*time.Hour), true)
	second.Cookies[0].Value = "newer"
	require.NoError(t, s.Save(second))

	loaded := s.Load("instagram", now)
	require.NotNil(t, loaded)
	assert.Equal(t, "newer", loaded.Cookies[0].Value)
}

func TestSessionRoundTripThroughDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := NewSessionStore(path, nil)
	require.NoError(t, err)

	now := time.Now()
	original := testSession(now.Add(24*time.Hour).Truncate(time.Second), true)
	require.NoError(t, s.Save(original))

	reopened, err := NewSessionStore(path, nil)
	require.NoError(t, err)
	loaded := reopened.Load("instagram", now)
	require.NotNil(t, loaded)

	assert.Equal(t, original.Cookies, loaded.Cookies)
	assert.True(t, original.ExpiresAt.Equal(loaded.ExpiresAt))
	assert.Equal(t, original.IsValid, loaded.IsValid)
	assert.Equal(t, original.Storage, loaded.Storage)
}

func TestSessionUsable(t *testing.T) {
	now := time.Now()
	assert.False(t, (*PlatformSession)(nil).Usable(now))
	assert.True(t, testSession(now.Add(time.Minute), true).Usable(now))
	assert.False(t, testSession(now.Add(time.Minute), false).Usable(now))
	assert.False(t, testSession(now, true).Usable(now), "expiresAt == now must not be usable")
}
