package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// EnvironmentProduction enables the IP allow-list gate.
	EnvironmentProduction = "production"

	defaultSessionTimeout = 15 * time.Minute
	maxCheckInterval      = 60 * time.Second
	defaultSyncInterval   = 5 * time.Minute
)

// Config represents the main configuration for cercasp.
type Config struct {
	InstanceID  string                      `toml:"instance_id"`
	BaseDir     string                      `toml:"base_dir"`
	LogDir      string                      `toml:"log_dir"`
	Environment string                      `toml:"environment"` // "production" or anything else
	Session     SessionConfig               `toml:"session"`
	Crypto      CryptoConfig                `toml:"crypto"`
	Queue       QueueConfig                 `toml:"queue"`
	Remote      RemoteConfig                `toml:"remote"`
	Vault       VaultConfig                 `toml:"vault"`
	Identity    IdentityConfig              `toml:"identity"`
	Sync        SyncConfig                  `toml:"sync"`
	Server      ServerConfig                `toml:"server"`
	Collections map[string]CollectionConfig `toml:"collections,omitempty"`
}

// SessionConfig controls the inactivity timeout and the production IP gate.
type SessionConfig struct {
	TimeoutMinutes       int      `toml:"timeout_minutes"`
	CheckIntervalSeconds int      `toml:"check_interval_seconds"`
	AllowedIPRanges      []string `toml:"allowed_ip_ranges"` // exact addresses or CIDR prefixes
}

// CryptoConfig holds field-encryption settings and where the passphrase comes from.
// When neither PassphraseEnv nor PassphraseFile is set the CLI prompts.
type CryptoConfig struct {
	Cipher            string `toml:"cipher"` // "aes-256-gcm" (default)
	Iterations        int    `toml:"iterations,omitempty"`
	Salt              string `toml:"salt,omitempty"`
	DeterministicSalt *bool  `toml:"deterministic_salt,omitempty"`
	PassphraseEnv     string `toml:"passphrase_env,omitempty"`
	PassphraseFile    string `toml:"passphrase_file,omitempty"`
	ArchiveWorkFactor int    `toml:"archive_work_factor,omitempty"`
}

// QueueConfig represents configuration for the offline queue store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type QueueConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig represents configuration for the remote document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "redis"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisURL    string `toml:"redis_url,omitempty"`
	RedisPrefix string `toml:"redis_prefix,omitempty"`
}

// VaultConfig represents configuration for the snapshot vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Names of the environment variables holding static S3 credentials.
	// When unset the default AWS credential chain applies.
	S3AccessKeyEnv string `toml:"s3_access_key_env,omitempty"`
	S3SecretKeyEnv string `toml:"s3_secret_key_env,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// IdentityConfig represents configuration for the identity provider.
type IdentityConfig struct {
	Type                string  `toml:"type"` // "local"
	AccountsFile        string  `toml:"accounts_file"`
	TokenSecretEnv      string  `toml:"token_secret_env,omitempty"`
	TokenTTLMinutes     int     `toml:"token_ttl_minutes,omitempty"`
	SignInRatePerMinute float64 `toml:"sign_in_rate_per_minute,omitempty"`
	SignInBurst         int     `toml:"sign_in_burst,omitempty"`
}

// SyncConfig controls the background sync loop.
type SyncConfig struct {
	IntervalSeconds          int `toml:"interval_seconds"`
	ConnectivityProbeSeconds int `toml:"connectivity_probe_seconds"`
	Concurrency              int `toml:"concurrency"`
}

// ServerConfig controls the serve-mode HTTP listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// CollectionConfig overrides per-collection settings.
type CollectionConfig struct {
	SensitiveFields []string `toml:"sensitive_fields"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID:  instanceID,
		BaseDir:     baseDir,
		LogDir:      filepath.Join(baseDir, "log"),
		Environment: "development",
		Session: SessionConfig{
			TimeoutMinutes:       15,
			CheckIntervalSeconds: 60,
		},
		Crypto: CryptoConfig{
			Cipher:        "aes-256-gcm",
			PassphraseEnv: "CERCASP_PASSPHRASE",
		},
		Queue: QueueConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "queue"),
		},
		Remote: RemoteConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "remote"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Identity: IdentityConfig{
			Type:           "local",
			AccountsFile:   filepath.Join(baseDir, "accounts.toml"),
			TokenSecretEnv: "CERCASP_TOKEN_SECRET",
		},
		Sync: SyncConfig{
			IntervalSeconds:          300,
			ConnectivityProbeSeconds: 30,
			Concurrency:              2,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8089"},
	}
}

// IsProduction reports whether the production-only checks apply.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// SessionTimeout returns the inactivity window, defaulting to 15 minutes.
func (c *Config) SessionTimeout() time.Duration {
	if c.Session.TimeoutMinutes <= 0 {
		return defaultSessionTimeout
	}
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// CheckInterval returns the expiry check cadence, capped at 60 seconds.
func (c *Config) CheckInterval() time.Duration {
	d := time.Duration(c.Session.CheckIntervalSeconds) * time.Second
	if d <= 0 || d > maxCheckInterval {
		return maxCheckInterval
	}
	return d
}

// SyncInterval returns the periodic sync cadence.
func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalSeconds <= 0 {
		return defaultSyncInterval
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// Deterministic reports whether field keys use the fixed salt. Defaults to true.
func (c CryptoConfig) Deterministic() bool {
	if c.DeterministicSalt == nil {
		return true
	}
	return *c.DeterministicSalt
}

// ApplyEnv overlays runtime settings from the environment:
//   - CERCASP_ENV: deployment mode
//   - CERCASP_SESSION_TIMEOUT_MINUTES: inactivity window
//   - CERCASP_ALLOWED_IP_RANGES: comma-separated allow-list
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("CERCASP_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("CERCASP_SESSION_TIMEOUT_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CERCASP_SESSION_TIMEOUT_MINUTES %q", v)
		}
		c.Session.TimeoutMinutes = n
	}
	if v := getenv("CERCASP_ALLOWED_IP_RANGES"); v != "" {
		var ranges []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				ranges = append(ranges, r)
			}
		}
		c.Session.AllowedIPRanges = ranges
	}
	return nil
}

// SensitiveFieldOverrides returns the per-collection field lists set in config.
func (c *Config) SensitiveFieldOverrides() map[string][]string {
	if len(c.Collections) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c.Collections))
	for name, col := range c.Collections {
		out[name] = col.SensitiveFields
	}
	return out
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
