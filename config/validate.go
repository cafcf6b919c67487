package config

import (
	"fmt"
	"strings"

	"nftmarket/crypto"
	nativecommon "nftmarket/native/common"
	"nftmarket/storage"
)

var (
	MaxRentPerByte = uint64(1_000_000)
)

// ValidateConfig checks cross-field constraints after defaults are applied.
func ValidateConfig(cfg *Config) error {
	if _, err := crypto.DecodeAddress(cfg.ProgramID); err != nil {
		return fmt.Errorf("ProgramID: %w", err)
	}
	switch strings.ToLower(cfg.StorageBackend) {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("StorageBackend: unknown backend %q", cfg.StorageBackend)
	}
	if cfg.Ledger.RentPerByte > MaxRentPerByte {
		return fmt.Errorf("ledger: RentPerByte %d exceeds %d", cfg.Ledger.RentPerByte, MaxRentPerByte)
	}
	for _, module := range cfg.PausedModules {
		if !nativecommon.IsKnownModule(module) {
			return fmt.Errorf("PausedModules: unknown module %q", module)
		}
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: negative limits")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: Burst must be positive when RequestsPerSecond is set")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio %v outside [0, 1]", cfg.Telemetry.SampleRatio)
	}
	if cfg.Telemetry.LogMaxSizeMB < 0 || cfg.Telemetry.LogMaxBackups < 0 || cfg.Telemetry.LogMaxAgeDays < 0 {
		return fmt.Errorf("telemetry: negative log rotation limits")
	}
	if skew, err := cfg.AdminClockSkew(); err != nil {
		return fmt.Errorf("admin: ClockSkew: %w", err)
	} else if skew < 0 {
		return fmt.Errorf("admin: ClockSkew must not be negative")
	}
	if cfg.Faucet.Enabled {
		limits, err := cfg.Faucet.FaucetLimits()
		if err != nil {
			return fmt.Errorf("faucet: %w", err)
		}
		if limits.Amount == 0 {
			return fmt.Errorf("faucet: Amount must be positive")
		}
		if cfg.Faucet.EpochSeconds == 0 {
			return fmt.Errorf("faucet: EpochSeconds must be positive")
		}
	}
	return nil
}
