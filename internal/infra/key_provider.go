package infra

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

const (
	keyFileName = ".state.key"
	keySize     = 32 // 256-bit SQLCipher key

	// KeyEnvVar overrides the key file with a hex-encoded key (CI, managed installs).
	KeyEnvVar = "SCREENTIME_STATE_KEY"
)

// FileKeyProvider implements domain.KeyProvider using a file in the data directory.
// The CLI and both daemons read the same file, so they open the same database.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey returns the key from KeyEnvVar if set, otherwise from the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	if env := strings.TrimSpace(os.Getenv(KeyEnvVar)); env != "" {
		key, err := hex.DecodeString(env)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", KeyEnvVar, err)
		}
		return checkKeySize(key)
	}

	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	return checkKeySize(key)
}

// StoreKey writes the key file with owner-only permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if _, err := checkKeySize(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.keyPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists reports whether a key is available from the environment or the key file.
func (p *FileKeyProvider) KeyExists() bool {
	if os.Getenv(KeyEnvVar) != "" {
		return true
	}
	_, err := os.Stat(p.keyPath)
	return err == nil
}

func checkKeySize(key []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the existing key, generating and storing one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
