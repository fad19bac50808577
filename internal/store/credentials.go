package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Bmw4134/portalflow/internal/security"
)

// ErrCredentialsNotFound is returned when no credential is registered for
// a platform.
var ErrCredentialsNotFound = errors.New("no credentials registered for platform")

var credentialValidate = validator.New()

// storedCredential is the on-disk form; the secret only exists as an
// encrypted vault payload.
type storedCredential struct {
	PlatformName    string          `json:"platform_name"`
	LoginURL        string          `json:"login_url"`
	Email           string          `json:"email"`
	EncryptedSecret json.RawMessage `json:"encrypted_secret"`
}

// CredentialStore owns per-platform login credentials. Mutations flush
// the whole document to disk immediately.
type CredentialStore struct {
	mu     sync.RWMutex
	path   string
	vault  *security.Vault
	logger *slog.Logger
	creds  map[string]storedCredential
}

// NewCredentialStore opens (or creates) the credential document at path.
func NewCredentialStore(path string, vault *security.Vault, logger *slog.Logger) (*CredentialStore, error) {
	if vault == nil {
		return nil, errors.New("credential store requires a vault")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &CredentialStore{
		path:   path,
		vault:  vault,
		logger: logger.With(slog.String("component", "store.credentials")),
		creds:  make(map[string]storedCredential),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register stores (or replaces) the credential for a platform.
func (s *CredentialStore) Register(cred PlatformCredential) error {
	if err := credentialValidate.Struct(cred); err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}

	encrypted, err := s.vault.EncryptString(cred.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[cred.PlatformName] = storedCredential{
		PlatformName:    cred.PlatformName,
		LoginURL:        cred.LoginURL,
		Email:           cred.Email,
		EncryptedSecret: encrypted,
	}
	if err := s.flushLocked(); err != nil {
		return err
	}

	s.logger.Info("credential_registered",
		slog.String("platform", cred.PlatformName),
		slog.String("login_url", cred.LoginURL))
	return nil
}

// Get returns the credential for a platform with the secret decrypted.
func (s *CredentialStore) Get(platform string) (PlatformCredential, error) {
	s.mu.RLock()
	stored, ok := s.creds[platform]
	s.mu.RUnlock()

	if !ok {
		return PlatformCredential{}, fmt.Errorf("%w: %s", ErrCredentialsNotFound, platform)
	}

	secret, err := s.vault.DecryptString(stored.EncryptedSecret)
	if err != nil {
		return PlatformCredential{}, fmt.Errorf("failed to decrypt secret for %s: %w", platform, err)
	}

	return PlatformCredential{
		PlatformName: stored.PlatformName,
		LoginURL:     stored.LoginURL,
		Email:        stored.Email,
		Secret:       secret,
	}, nil
}

// Has reports whether a credential is registered for the platform.
func (s *CredentialStore) Has(platform string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[platform]
	return ok
}

// Platforms returns the registered platform names, sorted.
func (s *CredentialStore) Platforms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *CredentialStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read credential store: %w", err)
	}

	if err := json.Unmarshal(data, &s.creds); err != nil {
		return fmt.Errorf("failed to parse credential store: %w", err)
	}
	s.logger.Info("credentials_loaded", slog.Int("platforms", len(s.creds)))
	return nil
}

func (s *CredentialStore) flushLocked() error {
	data, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	return nil
}
