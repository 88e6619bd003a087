// Package config holds OPERATOR-LEVEL configuration for a Kiddos installation.
//
// This is infrastructure config set by whoever deploys the service, NOT
// end-user data. The boundary is:
//
//   - Operator config (this package): data directory, confirm-token signing
//     key, vault encryption key, OpenAI fallback credential, API keys.
//     Set via env vars (KIDDOS_*) or config file (kiddos.config.yaml).
//
//   - Per-user credentials (e.g. a family's own OpenAI key): stored ONLY in
//     the encrypted vault (internal/secrets) and resolved per request.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the KIDDOS_ prefix
// (e.g. "signing_key" → KIDDOS_SIGNING_KEY) and to a YAML field
// in kiddos.config.yaml.
const (
	KeyDataDir       = "data_dir"
	KeySigningKey    = "signing_key"
	KeyVaultKey      = "vault_key"
	KeyOpenAIAPIKey  = "openai_api_key"
	KeyOpenAIModel   = "openai_model"
	KeyAPIKeys       = "api_keys"
	KeySweepSchedule = "sweep_schedule"
)

// Defaults that do NOT involve crypto material. Crypto keys intentionally
// have no baked-in defaults — when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultSweepSchedule = "@every 15m"
)

// Config holds resolved operator-level configuration for a Kiddos process.
type Config struct {
	DataDir       string // Base directory for all state (~/.kiddos)
	SigningKey    string // HMAC-SHA256 key for confirm tokens (≥32 bytes)
	VaultKey      string // Encryption key for the credential vault (exactly 32 bytes)
	OpenAIAPIKey  string // Operator fallback OpenAI credential
	OpenAIModel   string // Chat/extraction model
	SweepSchedule string // Cron expression for the auto-extraction sweep ("" disables)

	usingDefaultSigningKey bool
	usingDefaultVaultKey   bool
}

// UsingDefaultKeys returns true if either crypto key fell back to a
// generated default. Commands should warn when this is the case.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultSigningKey || c.usingDefaultVaultKey
}

// StoreDBPath returns the full path to the primary SQLite database.
func (c *Config) StoreDBPath() string {
	return filepath.Join(c.DataDir, "kiddos.db")
}

// VaultDBPath returns the full path to the credential vault database.
func (c *Config) VaultDBPath() string {
	return filepath.Join(c.DataDir, "vault.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when crypto keys are not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default KIDDOS_SIGNING_KEY — set via env var or config file for production")
	}
	if c.usingDefaultVaultKey {
		log.Warn().Msg("Using generated default KIDDOS_VAULT_KEY — set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("KIDDOS")
	viper.AutomaticEnv()
	viper.SetDefault(KeyOpenAIModel, DefaultOpenAIModel)
	viper.SetDefault(KeySweepSchedule, DefaultSweepSchedule)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		SigningKey:    viper.GetString(KeySigningKey),
		VaultKey:      viper.GetString(KeyVaultKey),
		OpenAIAPIKey:  viper.GetString(KeyOpenAIAPIKey),
		OpenAIModel:   viper.GetString(KeyOpenAIModel),
		SweepSchedule: viper.GetString(KeySweepSchedule),
	}

	if cfg.OpenAIAPIKey == "" {
		// Quickstart fallback for single-operator development.
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = derivedKey("signing")
		cfg.usingDefaultSigningKey = true
	}
	if len(cfg.SigningKey) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes (got %d)", len(cfg.SigningKey))
	}

	if cfg.VaultKey == "" {
		cfg.VaultKey = derivedKey("vault")[:32]
		cfg.usingDefaultVaultKey = true
	}

	return cfg, nil
}

// APIKeys returns a map of API key -> user_id from KIDDOS_API_KEYS
// (comma-separated; each entry "key" or "key:user_id").
func APIKeys() map[string]string {
	m := make(map[string]string)
	env := viper.GetString(KeyAPIKeys)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		userID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			userID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = userID
	}
	return m
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kiddos"
	}
	return filepath.Join(home, ".kiddos")
}

// derivedKey produces a deterministic per-machine fallback key. It is NOT a
// substitute for an operator-provisioned key: tokens signed with it do not
// survive a hostname change.
func derivedKey(label string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	sum := sha256.Sum256([]byte("kiddos:" + label + ":" + host))
	return hex.EncodeToString(sum[:])
}
