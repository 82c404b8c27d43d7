package config

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	keychainService = "fixhero"

	accountAPIToken   = "api_token"
	accountLoginHash  = "login_secret_hash"
	accountGitHubAuth = "github_token"
)

// Keychain stores secrets outside the plain config backend.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token shared by the daemon and the CLI,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(keychainService, accountAPIToken); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.NewString()
	if err := kc.Set(keychainService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}

// SetLoginCredentials stores the identifier in the config backend and the
// bcrypt hash of the secret in the keychain.
func SetLoginCredentials(kc Keychain, identifier, secretHash string) error {
	if err := newPlatformBackend().Store("auth.identifier", identifier); err != nil {
		return fmt.Errorf("storing login identifier: %w", err)
	}
	if err := kc.Set(keychainService, accountLoginHash, secretHash); err != nil {
		return fmt.Errorf("storing login secret hash: %w", err)
	}
	return nil
}

// SetGitHubToken stores the token used to sync issues to GitHub.
func SetGitHubToken(kc Keychain, token string) error {
	if err := kc.Set(keychainService, accountGitHubAuth, token); err != nil {
		return fmt.Errorf("storing github token: %w", err)
	}
	return nil
}
