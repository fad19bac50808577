package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/scrypt"
)

// Vault encrypts credential secrets before they touch disk. AES-256-GCM
// with an scrypt-derived key; a fresh salt and nonce per encryption.
type Vault struct {
	passphrase []byte
	cfg        VaultConfig
}

// VaultConfig defines the scrypt and GCM parameters.
type VaultConfig struct {
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int // block size parameter
	SCryptP      int // parallelization parameter
	SCryptKeyLen int // 32 for AES-256
	NonceSize    int // 12 for GCM
	SaltSize     int
}

// DefaultVaultConfig returns OWASP-recommended scrypt parameters.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
		SaltSize:     32,
	}
}

// EncryptedPayload is the on-disk form of an encrypted secret.
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"` // includes the GCM auth tag
	Timestamp  int64  `json:"timestamp"`
}

const payloadVersion = 1

var (
	// ErrEmptyPassphrase is returned when constructing a vault without a key.
	ErrEmptyPassphrase = errors.New("vault passphrase must not be empty")
	// ErrDecryptFailed is returned when authentication of a payload fails.
	ErrDecryptFailed = errors.New("failed to decrypt payload: authentication failed")
)

// NewVault creates a vault bound to the given passphrase.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &Vault{
		passphrase: []byte(passphrase),
		cfg:        DefaultVaultConfig(),
	}, nil
}

// Encrypt seals plaintext into a serializable payload.
func (v *Vault) Encrypt(plaintext []byte) (*EncryptedPayload, error) {
	salt := make([]byte, v.cfg.SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, v.cfg.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedPayload{
		Version:    payloadVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Timestamp:  time.Now().Unix(),
	}, nil
}

// Decrypt opens a payload produced by Encrypt.
func (v *Vault) Decrypt(payload *EncryptedPayload) ([]byte, error) {
	if payload == nil {
		return nil, errors.New("nil payload")
	}
	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version: %d", payload.Version)
	}

	gcm, err := v.aead(payload.Salt)
	if err != nil {
		return nil, err
	}
	if len(payload.Nonce) != gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptString seals a string and returns the payload as JSON, the form
// the credential store persists.
func (v *Vault) EncryptString(plaintext string) ([]byte, error) {
	payload, err := v.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}

// DecryptString opens a JSON payload produced by EncryptString.
func (v *Vault) DecryptString(data []byte) (string, error) {
	var payload EncryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("failed to parse encrypted payload: %w", err)
	}
	plaintext, err := v.Decrypt(&payload)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.passphrase, salt, v.cfg.SCryptN, v.cfg.SCryptR, v.cfg.SCryptP, v.cfg.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
