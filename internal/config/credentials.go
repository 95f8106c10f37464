package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain.
	KeyringService = "ContribGraph"

	// KeyringGitHubTokenItem is the keychain item holding the API token.
	KeyringGitHubTokenItem = "github-token"
)

// KeyringManager stores the GitHub token in the OS keychain:
// Keychain Access on macOS, Credential Manager on Windows, Secret Service
// on Linux. Headless systems fall back to environment variables.
type KeyringManager struct {
	logger *logrus.Logger
}

// NewKeyringManager creates a keyring manager.
func NewKeyringManager(logger *logrus.Logger) *KeyringManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &KeyringManager{logger: logger}
}

// SetGitHubToken stores the token in the OS keychain.
func (km *KeyringManager) SetGitHubToken(token string) error {
	if token == "" {
		return fmt.Errorf("github token cannot be empty")
	}
	if err := keyring.Set(KeyringService, KeyringGitHubTokenItem, token); err != nil {
		return fmt.Errorf("save to OS keychain: %w", err)
	}
	km.logger.WithField("service", KeyringService).Info("github token saved to keychain")
	return nil
}

// GetGitHubToken retrieves the token. An unset token is ("", nil).
func (km *KeyringManager) GetGitHubToken() (string, error) {
	token, err := keyring.Get(KeyringService, KeyringGitHubTokenItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read from OS keychain: %w", err)
	}
	return token, nil
}

// DeleteGitHubToken removes the token. Deleting an unset token is a no-op.
func (km *KeyringManager) DeleteGitHubToken() error {
	err := keyring.Delete(KeyringService, KeyringGitHubTokenItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete from OS keychain: %w", err)
	}
	km.logger.Info("github token deleted from keychain")
	return nil
}

// IsAvailable reports whether the OS keychain works on this system.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "availability-probe")
	if err == keyring.ErrNotFound {
		return true
	}
	return err == nil
}

// ResolveGitHubToken returns the token to use and where it came from,
// checking the environment, then the config file, then the OS keychain.
func ResolveGitHubToken(cfg *Config, km *KeyringManager) (string, string, error) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, "env", nil
	}
	if cfg != nil && cfg.GitHub.Token != "" {
		return cfg.GitHub.Token, "config", nil
	}
	if km != nil && km.IsAvailable() {
		token, err := km.GetGitHubToken()
		if err != nil {
			return "", "", err
		}
		if token != "" {
			return token, "keychain", nil
		}
	}
	return "", "none", nil
}

// MaskToken masks a token for display: "ghp_abc...wxyz".
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", token[:7], token[len(token)-4:])
}
