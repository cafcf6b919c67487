package genesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
)

const appliedKey = "genesis/applied"

var ErrNilSpec = errors.New("genesis: spec must not be nil")

// Apply seeds l from spec in a single atomic commit. A ledger that already
// carries a genesis marker is left untouched and Apply reports false.
func Apply(ctx context.Context, l *ledger.Ledger, spec *GenesisSpec) (bool, []types.Event, error) {
	if spec == nil {
		return false, nil, ErrNilSpec
	}
	if _, done, err := l.Meta(appliedKey); err != nil {
		return false, nil, err
	} else if done {
		return false, nil, nil
	}

	env := ledger.Env{Program: ledger.SystemProgram}
	for _, alloc := range spec.balances {
		env.Accounts = append(env.Accounts, ledger.AccountMeta{Address: alloc.Address, Writable: true})
	}
	type plannedAsset struct {
		spec    AssetSpec
		mint    crypto.Address
		holding crypto.Address
	}
	assets := make([]plannedAsset, 0, len(spec.Assets))
	for _, asset := range spec.Assets {
		mint, _, err := ledger.AssetAddress(asset.creator, []byte(asset.Salt))
		if err != nil {
			return false, nil, fmt.Errorf("asset %s/%s: %w", asset.Creator, asset.Salt, err)
		}
		holding, _, err := ledger.HoldingAddress(asset.creator, mint)
		if err != nil {
			return false, nil, fmt.Errorf("asset %s/%s: %w", asset.Creator, asset.Salt, err)
		}
		assets = append(assets, plannedAsset{spec: asset, mint: mint, holding: holding})
		env.Accounts = append(env.Accounts,
			ledger.AccountMeta{Address: asset.creator, Signer: true, Writable: true},
			ledger.AccountMeta{Address: mint, Writable: true},
			ledger.AccountMeta{Address: holding, Writable: true},
		)
	}

	commit, err := l.Execute(ctx, env, func(txn *ledger.Txn) error {
		if done, err := txn.HasMeta(appliedKey); err != nil {
			return err
		} else if done {
			return errAlreadyApplied
		}
		for _, alloc := range spec.balances {
			if err := txn.Fund(alloc.Address, alloc.Amount); err != nil {
				return fmt.Errorf("alloc %s: %w", alloc.Address, err)
			}
		}
		for _, asset := range assets {
			mint, holding, err := txn.MintAsset(asset.spec.creator, []byte(asset.spec.Salt), asset.spec.URI)
			if err != nil {
				return fmt.Errorf("asset %s/%s: %w", asset.spec.Creator, asset.spec.Salt, err)
			}
			if mint != asset.mint || holding != asset.holding {
				return fmt.Errorf("asset %s/%s: derived accounts moved", asset.spec.Creator, asset.spec.Salt)
			}
		}
		txn.PutMeta(appliedKey, []byte(strconv.FormatInt(txn.Now(), 10)))
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("apply genesis: %w", err)
	}
	slog.Info("genesis applied",
		slog.Int("allocations", len(spec.balances)),
		slog.Int("assets", len(assets)))
	return true, commit.Events, nil
}

var errAlreadyApplied = errors.New("genesis: already applied")
