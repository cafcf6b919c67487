package config

import (
	"fmt"

	nativecommon "nftmarket/native/common"
	"nftmarket/native/marketplace"
)

// FaucetLimits represents the parsed faucet amounts and quota.
type FaucetLimits struct {
	Amount uint64
	Quota  nativecommon.Quota
}

// FaucetLimits parses the configured faucet amounts into base units.
func (f Faucet) FaucetLimits() (FaucetLimits, error) {
	limits := FaucetLimits{Quota: nativecommon.Quota{
		MaxRequestsPerEpoch: f.MaxRequestsPerEpoch,
		EpochSeconds:        f.EpochSeconds,
	}}
	amount, err := marketplace.ParsePrice(f.Amount)
	if err != nil {
		return limits, fmt.Errorf("invalid Faucet.Amount: %w", err)
	}
	limits.Amount = amount
	if f.MaxAmountPerEpoch != "" {
		maxAmount, err := marketplace.ParsePrice(f.MaxAmountPerEpoch)
		if err != nil {
			return limits, fmt.Errorf("invalid Faucet.MaxAmountPerEpoch: %w", err)
		}
		limits.Quota.MaxAmountPerEpoch = maxAmount
	}
	return limits, nil
}
