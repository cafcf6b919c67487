package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nftmarket/crypto"
	"nftmarket/storage"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ProgramID      string    `toml:"ProgramID"`
	NetworkName    string    `toml:"NetworkName"`
	ListenAddress  string    `toml:"ListenAddress"`
	DataDir        string    `toml:"DataDir"`
	StorageBackend string    `toml:"StorageBackend"`
	IndexDSN       string    `toml:"IndexDSN"`
	GenesisFile    string    `toml:"GenesisFile"`
	PausedModules  []string  `toml:"PausedModules"`
	Ledger         Ledger    `toml:"ledger"`
	Faucet         Faucet    `toml:"faucet"`
	RateLimit      RateLimit `toml:"rate_limit"`
	Telemetry      Telemetry `toml:"telemetry"`
	Admin          Admin     `toml:"admin"`
}

// DefaultAdminSecretEnv holds the operator token secret unless overridden.
const DefaultAdminSecretEnv = "MARKET_ADMIN_JWT_SECRET"

// Load loads the configuration from the given path. A missing file is
// created with defaults and a freshly generated program identity.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	if strings.TrimSpace(cfg.ProgramID) == "" {
		program, err := newProgramID()
		if err != nil {
			return nil, err
		}
		cfg.ProgramID = program
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Program decodes the configured marketplace program address.
func (c *Config) Program() (crypto.Address, error) {
	return crypto.DecodeAddress(c.ProgramID)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "nftmarket-local"
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./market-data"
	}
	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = storage.BackendLevelDB
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	if strings.TrimSpace(cfg.Telemetry.Environment) == "" {
		cfg.Telemetry.Environment = "dev"
	}
	if strings.TrimSpace(cfg.Telemetry.LogLevel) == "" {
		cfg.Telemetry.LogLevel = "info"
	}
	if cfg.Telemetry.LogFile != "" {
		if cfg.Telemetry.LogMaxSizeMB == 0 {
			cfg.Telemetry.LogMaxSizeMB = 100
		}
		if cfg.Telemetry.LogMaxBackups == 0 {
			cfg.Telemetry.LogMaxBackups = 5
		}
	}
	if strings.TrimSpace(cfg.Admin.SecretEnv) == "" {
		cfg.Admin.SecretEnv = DefaultAdminSecretEnv
	}
}

// AdminSecret returns the operator token secret from the environment. An
// empty result disables the admin endpoints.
func (c *Config) AdminSecret() string {
	return strings.TrimSpace(os.Getenv(c.Admin.SecretEnv))
}

// AdminClockSkew parses Admin.ClockSkew. Zero means the server default.
func (c *Config) AdminClockSkew() (time.Duration, error) {
	if strings.TrimSpace(c.Admin.ClockSkew) == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Admin.ClockSkew)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	program, err := newProgramID()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProgramID:      program,
		NetworkName:    "nftmarket-local",
		ListenAddress:  ":8080",
		DataDir:        "./market-data",
		StorageBackend: storage.BackendLevelDB,
		IndexDSN:       "",
		GenesisFile:    "",
		PausedModules:  []string{},
		Ledger:         Ledger{RentPerByte: 0},
		Faucet: Faucet{
			Enabled:             false,
			Amount:              "10",
			MaxRequestsPerEpoch: 5,
			MaxAmountPerEpoch:   "50",
			EpochSeconds:        3600,
		},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
		Telemetry: Telemetry{Environment: "dev", LogLevel: "info"},
		Admin:     Admin{SecretEnv: DefaultAdminSecretEnv},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newProgramID() (string, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	return key.Address().String(), nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
