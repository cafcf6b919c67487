package genesis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/crypto"
	"nftmarket/ledger"
	"nftmarket/storage"
)

func writeGenesis(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func newAddress(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.Address()
}

func TestLoadGenesisSpecAndApply(t *testing.T) {
	alice := newAddress(t)
	bob := newAddress(t)
	path := writeGenesis(t, fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
alloc:
  %s: "1.5"
  %s: "20"
assets:
  - creator: %s
    salt: genesis-1
    uri: ipfs://genesis-1
`, alice, bob, alice))

	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)
	require.Equal(t, int64(1704067200), spec.GenesisTimestamp().Unix())
	require.Len(t, spec.Allocations(), 2)

	l := ledger.New(storage.NewMemDB())
	l.SetRentPerByte(1)
	applied, events, err := Apply(context.Background(), l, spec)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, events, 1)
	require.Equal(t, "system.asset.minted", events[0].Type)

	bobBalance, err := l.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(20_000_000_000), bobBalance.Uint64())

	mint, _, err := ledger.AssetAddress(alice, []byte("genesis-1"))
	require.NoError(t, err)
	holding, _, err := ledger.HoldingAddress(alice, mint)
	require.NoError(t, err)
	acc, err := l.Account(holding)
	require.NoError(t, err)
	require.Equal(t, uint64(1), acc.Amount)

	aliceBalance, err := l.Balance(alice)
	require.NoError(t, err)
	require.Less(t, aliceBalance.Uint64(), uint64(1_500_000_000), "rent charged to the creator")

	again, events, err := Apply(context.Background(), l, spec)
	require.NoError(t, err)
	require.False(t, again)
	require.Empty(t, events)
	bobBalance, err = l.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(20_000_000_000), bobBalance.Uint64())
}

func TestLoadGenesisSpecRejectsInvalidInput(t *testing.T) {
	addr := newAddress(t)
	cases := map[string]string{
		"bad address": "alloc:\n  nope: \"1\"\n",
		"bad amount":  fmt.Sprintf("alloc:\n  %s: \"-1\"\n", addr),
		"bad time":    "genesisTime: yesterday\n",
		"empty salt":  fmt.Sprintf("assets:\n  - creator: %s\n    uri: ipfs://x\n", addr),
		"unknown key": "validators: []\n",
		"duplicate asset": fmt.Sprintf(`assets:
  - creator: %s
    salt: a
    uri: ipfs://a
  - creator: %s
    salt: a
    uri: ipfs://b
`, addr, addr),
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadGenesisSpec(writeGenesis(t, contents))
			require.Error(t, err)
		})
	}
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	alice := newAddress(t)
	path := writeGenesis(t, fmt.Sprintf(`assets:
  - creator: %s
    salt: unfunded
    uri: ipfs://unfunded
`, alice))
	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)

	l := ledger.New(storage.NewMemDB())
	l.SetRentPerByte(1)
	_, _, err = Apply(context.Background(), l, spec)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, done, err := l.Meta(appliedKey)
	require.NoError(t, err)
	require.False(t, done)
}

func TestApplyNilSpec(t *testing.T) {
	_, _, err := Apply(context.Background(), ledger.New(storage.NewMemDB()), nil)
	require.ErrorIs(t, err, ErrNilSpec)
}
