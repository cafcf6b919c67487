package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftmarket/crypto"
	"nftmarket/ledger"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/marketplace"
	"nftmarket/rpc"
	"nftmarket/runtime"
	"nftmarket/storage"
)

type cliHarness struct {
	t       *testing.T
	program crypto.Address
	keys    map[string]*crypto.PrivateKey
}

// newCLIHarness points the CLI at an in-process node and resolves keystore
// paths from an in-memory map.
func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	programKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	program := programKey.Address()

	l := ledger.New(storage.NewMemDB())
	engine := marketplace.NewEngine(program)
	proc := runtime.NewProcessor(l, engine)
	server := rpc.New(rpc.Config{
		Processor: proc,
		Pauses:    nativecommon.NewPauseSet(),
		Faucet: rpc.FaucetConfig{
			Enabled: true,
			Amount:  5_000_000_000,
			Quota:   nativecommon.Quota{MaxRequestsPerEpoch: 10, EpochSeconds: 60},
		},
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	h := &cliHarness{t: t, program: program, keys: map[string]*crypto.PrivateKey{}}

	originalEndpoint := rpcEndpoint
	rpcEndpoint = ts.URL
	originalLoad := loadKeyFn
	loadKeyFn = func(path string) (*crypto.PrivateKey, error) {
		key, ok := h.keys[path]
		if !ok {
			return nil, fmt.Errorf("no key registered for %s", path)
		}
		return key, nil
	}
	originalNow := cliNow
	var tick int64
	cliNow = func() time.Time {
		tick++
		return time.Unix(1_700_000_000, tick)
	}
	t.Cleanup(func() {
		rpcEndpoint = originalEndpoint
		loadKeyFn = originalLoad
		cliNow = originalNow
	})
	return h
}

func (h *cliHarness) wallet(name string) crypto.Address {
	h.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(h.t, err)
	h.keys[name] = key
	return key.Address()
}

func (h *cliHarness) run(args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	stdout, stderr, code := h.run(args...)
	require.Equalf(h.t, 0, code, "market-cli %s failed: %s", strings.Join(args, " "), stderr)
	return stdout
}

func outputField(t *testing.T, out, label string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if value, ok := strings.CutPrefix(line, label+": "); ok {
			return strings.TrimSpace(value)
		}
	}
	t.Fatalf("no %q line in output:\n%s", label, out)
	return ""
}

func TestMarketplaceFlowThroughCLI(t *testing.T) {
	h := newCLIHarness(t)
	seller := h.wallet("seller.json")
	buyer := h.wallet("buyer.json")

	h.mustRun("faucet", "--key", "seller.json")
	h.mustRun("faucet", "--key", "buyer.json")

	out := h.mustRun("mint", "--key", "seller.json", "--uri", "ipfs://cat", "--salt", "0a0b0c")
	asset := outputField(t, out, "Asset")
	expectedAsset, _, err := ledger.AssetAddress(seller, []byte{0x0a, 0x0b, 0x0c})
	require.NoError(t, err)
	require.Equal(t, expectedAsset.String(), asset)

	out = h.mustRun("list", "--key", "seller.json", "--asset", asset, "--price", "1.5")
	listing := outputField(t, out, "Listing")
	require.Equal(t, "1.5", outputField(t, out, "Price"))

	expected, _, err := marketplace.DeriveListing(h.program, seller, expectedAsset)
	require.NoError(t, err)
	require.Equal(t, expected.String(), listing)

	out = h.mustRun("derive", "--seller", seller.String(), "--asset", asset, "--program", h.program.String())
	var offline rpc.DeriveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &offline))
	out = h.mustRun("derive", "--seller", seller.String(), "--asset", asset)
	var online rpc.DeriveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &online))
	require.Equal(t, online, offline)

	out = h.mustRun("browse", "--status", "active")
	require.Contains(t, out, listing)
	require.Contains(t, out, "Showing 1 of 1")

	_, stderr, code := h.run("buy", "--key", "buyer.json", "--listing", listing, "--max-price", "1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "exceeds --max-price")

	h.mustRun("holding", "--key", "buyer.json", "--asset", asset)
	out = h.mustRun("buy", "--key", "buyer.json", "--listing", listing, "--max-price", "2")
	require.Contains(t, out, "Bought "+asset)

	out = h.mustRun("show", listing)
	var view rpc.ListingView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.False(t, view.Active)
	require.Equal(t, h.program.String(), view.Program)

	_, stderr, code = h.run("buy", "--key", "buyer.json", "--listing", listing)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "is closed")

	out = h.mustRun("state")
	require.NotEqual(t, "0", outputField(t, out, "Accounts"))

	out = h.mustRun("balance", seller.String())
	require.Contains(t, out, "6.5 ")
	out = h.mustRun("balance", "--key", "buyer.json")
	require.Contains(t, out, buyer.String()+": 3.5 ")
}

func TestCancelRequiresSeller(t *testing.T) {
	h := newCLIHarness(t)
	h.wallet("seller.json")
	h.wallet("other.json")
	h.mustRun("faucet", "--key", "seller.json")

	asset := outputField(t, h.mustRun("mint", "--key", "seller.json", "--uri", "ipfs://dog"), "Asset")
	listing := outputField(t, h.mustRun("list", "--key", "seller.json", "--asset", asset, "--price", "0.25"), "Listing")

	_, stderr, code := h.run("cancel", "--key", "other.json", "--listing", listing)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "only the seller")

	out := h.mustRun("cancel", "--key", "seller.json", "--listing", listing)
	require.Contains(t, out, "Cancelled "+listing)

	_, stderr, code = h.run("cancel", "--key", "seller.json", "--listing", listing)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, runtime.CodeListingNotActive)
}

func TestZeroPriceListingWarns(t *testing.T) {
	h := newCLIHarness(t)
	h.wallet("seller.json")
	h.mustRun("faucet", "--key", "seller.json")
	asset := outputField(t, h.mustRun("mint", "--key", "seller.json", "--uri", "ipfs://free"), "Asset")

	_, stderr, code := h.run("list", "--key", "seller.json", "--asset", asset, "--price", "0")
	require.Equal(t, 0, code)
	require.Contains(t, stderr, "Warning: listing at a price of zero")
}

func TestCommandArgValidation(t *testing.T) {
	originalCall := apiCall
	apiCall = func(method, path string, body any) (json.RawMessage, *apiError, error) {
		t.Fatalf("unexpected API call %s %s", method, path)
		return nil, nil, nil
	}
	defer func() { apiCall = originalCall }()

	addr := crypto.Address{1}.String()
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no command", nil, "Usage:"},
		{"unknown command", []string{"bogus"}, "Unknown command: bogus"},
		{"rpc flag without value", []string{"--rpc"}, "missing value for --rpc"},
		{"mint without uri", []string{"mint"}, "--uri is required"},
		{"mint oversized salt", []string{"mint", "--uri", "x", "--salt", strings.Repeat("ab", crypto.MaxSeedLength+1)}, "--salt must be"},
		{"list bad asset", []string{"list", "--asset", "nope", "--price", "1"}, "--asset"},
		{"list missing price", []string{"list", "--asset", addr}, "--price is required"},
		{"list bad price", []string{"list", "--asset", addr, "--price", "1.0000000001"}, "--price"},
		{"buy bad listing", []string{"buy", "--listing", "zzz"}, "--listing"},
		{"transfer zero", []string{"transfer", "--to", addr, "--amount", "0"}, "--amount must be positive"},
		{"show arity", []string{"show"}, "usage: market-cli show"},
		{"derive missing seller", []string{"derive", "--asset", addr}, "--seller"},
		{"browse negative limit", []string{"browse", "--limit", "-1"}, "must be non-negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tc.args, &stdout, &stderr)
			require.Equal(t, 1, code)
			require.Contains(t, stderr.String(), tc.wantErr)
		})
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:9000", "show", "x"})
	require.NoError(t, err)
	require.Equal(t, []string{"show", "x"}, rest)
	require.Equal(t, "http://node:9000", rpcEndpoint)

	rest, err = applyGlobalFlags([]string{"browse", "--rpc=http://other:1"})
	require.NoError(t, err)
	require.Equal(t, []string{"browse"}, rest)
	require.Equal(t, "http://other:1", rpcEndpoint)
}

func TestAPIErrorsSurfaceCode(t *testing.T) {
	h := newCLIHarness(t)
	missing, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	_, stderr, code := h.run("show", missing.Address().String())
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "(404)")

	out := h.mustRun("balance", missing.Address().String())
	require.Contains(t, out, "account not found")
}
