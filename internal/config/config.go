package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/authz-server/internal/auth"
	"github.com/alexjbarnes/authz-server/internal/keys"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AccessTokenLifetimeSetting names the default access token lifetime in
// minutes.
const AccessTokenLifetimeSetting = auth.DefaultLifetimeSetting

// Config holds all environment-based configuration for authz-server.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	ServerURL  string `env:"SERVER_URL"`

	// StateDBPath defaults to ~/.authz-server/state.db when empty.
	StateDBPath string `env:"STATE_DB_PATH"`

	// Certificate store and the subject names of the two key pairs.
	CertStoreDir           string `env:"CERT_STORE_DIR"`
	CryptoKeySettingPrefix string `env:"CRYPTO_KEY_SETTING_PREFIX" envDefault:"CryptoKeyHelper.Certificates.Services"`
	CertSubjectAuthZServer string `env:"CERT_SUBJECT_AUTHZ_SERVER"`
	CertSubjectAPIService  string `env:"CERT_SUBJECT_API_SERVICE"`

	// Token lifetimes.
	AccessTokenLifetimeMinutes string        `env:"ACCESS_TOKEN_LIFETIME_MINUTES" envDefault:"15"`
	RefreshTokenLifetime       time.Duration `env:"REFRESH_TOKEN_LIFETIME" envDefault:"336h"`

	// Registry seeding.
	SeedFile           string `env:"SEED_FILE"`
	EnableTestAccounts bool   `env:"ENABLE_TEST_ACCOUNTS" envDefault:"false"`

	// SettingsFile is an optional YAML map of named settings that
	// override the values derived from environment variables.
	SettingsFile string `env:"SETTINGS_FILE"`

	fileSettings map[string]string
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.SettingsFile != "" {
		settings, err := loadSettingsFile(cfg.SettingsFile)
		if err != nil {
			return nil, err
		}

		cfg.fileSettings = settings
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve the certificate store once at startup.
	absDir, err := filepath.Abs(cfg.CertStoreDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cert store dir to absolute path: %w", err)
	}

	cfg.CertStoreDir = absDir

	return cfg, nil
}

func loadSettingsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	settings := make(map[string]string)
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}

	return settings, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}

	if c.CertStoreDir == "" {
		return fmt.Errorf("CERT_STORE_DIR is required")
	}

	if c.RefreshTokenLifetime <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_LIFETIME must be positive")
	}

	// The token issuer parses this again on first use.
	lifetime, ok := c.GetSetting(AccessTokenLifetimeSetting)
	if !ok {
		return fmt.Errorf("ACCESS_TOKEN_LIFETIME_MINUTES is required")
	}

	minutes, err := strconv.ParseFloat(strings.TrimSpace(lifetime), 64)
	if err != nil || minutes <= 0 {
		return fmt.Errorf("access token lifetime must be a positive number of minutes, got %q", lifetime)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// GetSetting resolves a named setting. Values from the settings file win
// over values derived from environment variables. Empty values count as
// missing.
func (c *Config) GetSetting(name string) (string, bool) {
	if v, ok := c.fileSettings[name]; ok && v != "" {
		return v, true
	}

	var v string

	switch name {
	case AccessTokenLifetimeSetting:
		v = c.AccessTokenLifetimeMinutes
	case keys.SettingName(c.CryptoKeySettingPrefix, keys.PurposeAuthZServer):
		v = c.CertSubjectAuthZServer
	case keys.SettingName(c.CryptoKeySettingPrefix, keys.PurposeAPIService):
		v = c.CertSubjectAPIService
	}

	return v, v != ""
}
