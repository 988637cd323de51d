// Package credentials resolves provider API keys from a credentials file and
// the environment.
//
// The file is TOML with one section per configured provider name or
// provider kind, plus an optional [llm] fallback:
//
//	[groq]
//	api_key = "gsk_..."
//
//	[llm]
//	api_key = "..."
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file is readable
// or writable by group or others.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds API keys by section name.
type Credentials struct {
	// LLM is the fallback key used when no section matches.
	LLM *ProviderCreds

	sections map[string]*ProviderCreds
}

// ProviderCreds holds credentials for a single provider.
type ProviderCreds struct {
	APIKey string `toml:"api_key"`
}

// StandardPaths returns the credential file locations in priority order.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "callkit", "credentials.toml"))
	}
	return paths
}

// Load loads the first credentials file found in StandardPaths. A missing
// file is not an error: creds and path are both empty.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from path. On Unix the file must grant no
// access to group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o (use 0600 or 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]ProviderCreds
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	creds := &Credentials{sections: make(map[string]*ProviderCreds, len(raw))}
	for key, section := range raw {
		if section.APIKey == "" {
			continue
		}
		pc := section
		if key == "llm" {
			creds.LLM = &pc
			continue
		}
		creds.sections[normalize(key)] = &pc
	}
	return creds, nil
}

// Resolve returns the API key for the provider configured as name with the
// given kind. Lookup order: [name], [kind], [llm], $NAME_API_KEY,
// $KIND_API_KEY. Empty when nothing matches.
func (c *Credentials) Resolve(name, kind string) string {
	if c != nil {
		for _, key := range []string{name, kind} {
			if key == "" {
				continue
			}
			if pc, ok := c.sections[normalize(key)]; ok {
				return pc.APIKey
			}
		}
		if c.LLM != nil && c.LLM.APIKey != "" {
			return c.LLM.APIKey
		}
	}

	for _, key := range []string{name, kind} {
		if key == "" {
			continue
		}
		if v := os.Getenv(EnvVar(key)); v != "" {
			return v
		}
	}
	return ""
}

// EnvVar returns the environment variable consulted for a provider.
func EnvVar(provider string) string {
	switch normalize(provider) {
	case "openai-compat", "litellm":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	}
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
