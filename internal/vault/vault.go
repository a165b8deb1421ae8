package vault

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "scoutman"

// KnownProviders lists the provider names checked by List.
var KnownProviders = []string{
	"gemini", "groq", "openai", "openrouter", "anthropic",
	"serper", "google", "tavily", "exa",
}

// ErrNoKey is returned when no key is stored for a provider.
var ErrNoKey = errors.New("no key found")

// Source says where a key was found.
type Source string

const (
	SourceNone    Source = ""
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
)

// Entry is one provider with a stored key.
type Entry struct {
	Provider string
	Source   Source
}

// Vault provides API key storage using the OS keychain, with fallback to
// SCOUTMAN_KEY_<PROVIDER> environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// EnvVar returns the environment variable consulted for provider.
func EnvVar(provider string) string {
	return "SCOUTMAN_KEY_" + strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
}

// Set stores an API key for the given provider in the OS keychain.
func (v *Vault) Set(provider, key string) error {
	if provider == "" {
		return errors.New("provider name must not be empty")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key must not be empty")
	}
	return keyring.Set(serviceName, provider, key)
}

// Get retrieves the API key for the given provider.
func (v *Vault) Get(provider string) (string, error) {
	key, src := v.Lookup(provider)
	if src == SourceNone {
		return "", fmt.Errorf("%w for provider %q: not in keychain and %s not set", ErrNoKey, provider, EnvVar(provider))
	}
	return key, nil
}

// Lookup returns the key for provider and where it came from. The keychain
// wins over the environment.
func (v *Vault) Lookup(provider string) (string, Source) {
	if secret, err := keyring.Get(serviceName, provider); err == nil && secret != "" {
		return secret, SourceKeyring
	}
	if val := os.Getenv(EnvVar(provider)); val != "" {
		return val, SourceEnv
	}
	return "", SourceNone
}

// Delete removes the API key for the given provider from the OS keychain.
func (v *Vault) Delete(provider string) error {
	err := keyring.Delete(serviceName, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w for provider %q in keychain", ErrNoKey, provider)
	}
	return err
}

// List returns the known providers that currently have a key.
func (v *Vault) List() []Entry {
	var entries []Entry
	for _, provider := range KnownProviders {
		if _, src := v.Lookup(provider); src != SourceNone {
			entries = append(entries, Entry{Provider: provider, Source: src})
		}
	}
	return entries
}

// Resolve returns the key for a configured provider. An empty keyRef means
// the provider's own keychain entry or environment variable.
func (v *Vault) Resolve(provider, keyRef string) (string, error) {
	if keyRef == "" {
		return v.Get(provider)
	}
	return v.ResolveKeyRef(keyRef)
}

// ResolveKeyRef parses a key reference and retrieves the corresponding API key.
// Supported formats:
//   - "keyring://scoutman/<provider>"
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/key"
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://%s/<provider>\")", keyRef, serviceName)
		}
		return v.Get(parts[1])

	case strings.HasPrefix(keyRef, "env:"):
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("%w: environment variable %q is not set", ErrNoKey, envVar)

	case strings.HasPrefix(keyRef, "file://"):
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("%w: key file %q is empty", ErrNoKey, filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://%s/<provider>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef, serviceName)
}
