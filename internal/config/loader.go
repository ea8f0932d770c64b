package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".attache"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ATTACHE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("ATTACHE_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// ExpandPath expands a leading ~ to the resolved home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := resolveHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], string(os.PathSeparator)))
}

// Load reads the config file (if present) and applies env overrides with the
// ATTACHE prefix. It does not validate the result; callers that need the
// run-mode requirements call Validate.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := envconfig.Process("ATTACHE", cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	return cfg, nil
}

// Validate checks that run-mode requirements are satisfied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner.Address) == "" {
		return fmt.Errorf("owner address is required")
	}
	if len(c.ResolveAPIKeys()) == 0 {
		return fmt.Errorf("at least one LLM API key is required")
	}
	return nil
}

// ResolveAPIKeys merges the primary key, numbered ATTACHE_LLM_API_KEY_N env
// vars and the comma-separated list into one ordered, de-duplicated pool.
func (c *Config) ResolveAPIKeys() []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	add(c.LLM.APIKey)
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("ATTACHE_LLM_API_KEY_%d", i))
		if strings.TrimSpace(v) == "" {
			break
		}
		add(v)
	}
	for _, k := range strings.Split(c.LLM.APIKeys, ",") {
		add(k)
	}
	return keys
}

// IsOwnerAddress reports whether addr identifies the owner, either by the
// canonical address or the configured secondary id.
func (c *Config) IsOwnerAddress(addr string) bool {
	if addr == "" {
		return false
	}
	return addr == c.Owner.Address || (c.Owner.SecondaryID != "" && addr == c.Owner.SecondaryID)
}
