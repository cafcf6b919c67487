package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"nftmarket/core/events"
	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/indexer"
	"nftmarket/ledger"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/marketplace"
	"nftmarket/runtime"
	"nftmarket/storage"
)

type apiHarness struct {
	t       *testing.T
	server  *Server
	proc    *runtime.Processor
	pauses  *nativecommon.PauseSet
	program crypto.Address
	nonce   uint64
}

func newAPIHarness(t *testing.T, mutate func(*Config)) *apiHarness {
	t.Helper()
	l := ledger.New(storage.NewMemDB())
	programKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	program := programKey.Address()
	pauses := nativecommon.NewPauseSet()
	engine := marketplace.NewEngine(program)
	engine.SetPauses(pauses)
	proc := runtime.NewProcessor(l, engine)
	bus := new(events.Bus)
	proc.SetBus(bus)

	db, err := indexer.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	idx := indexer.New(db)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go idx.Run(ctx, bus.Subscribe(64))

	cfg := Config{
		Processor: proc,
		Indexer:   idx,
		Bus:       bus,
		Pauses:    pauses,
		Faucet: FaucetConfig{
			Enabled: true,
			Amount:  5_000,
			Quota:   nativecommon.Quota{MaxRequestsPerEpoch: 3, EpochSeconds: 60},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &apiHarness{t: t, server: New(cfg), proc: proc, pauses: pauses, program: program}
}

func (h *apiHarness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) key() *crypto.PrivateKey {
	h.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(h.t, err)
	return key
}

func (h *apiHarness) submit(tx *types.Transaction, signer *crypto.PrivateKey) *httptest.ResponseRecorder {
	h.t.Helper()
	require.NoError(h.t, tx.Sign(signer))
	return h.do(http.MethodPost, "/v1/transactions", tx)
}

func (h *apiHarness) nextNonce() uint64 {
	h.nonce++
	return h.nonce
}

// browse is safe to call from Eventually conditions.
func (h *apiHarness) browse(path string) (browseResponse, bool) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	var body browseResponse
	if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &body) != nil {
		return body, false
	}
	return body, true
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthzAndRequestID(t *testing.T) {
	h := newAPIHarness(t, nil)
	rec := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	fixed := uuid.NewString()
	req.Header.Set(requestIDHeader, fixed)
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, fixed, rec.Header().Get(requestIDHeader))
}

func TestMarketplaceFlowOverHTTP(t *testing.T) {
	h := newAPIHarness(t, nil)
	seller := h.key()
	buyer := h.key()
	latecomer := h.key()

	for _, who := range []*crypto.PrivateKey{buyer, latecomer} {
		rec := h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: who.Address().String()})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	mintTx, err := runtime.NewMintAssetTx(seller.Address(), []byte("http"), "ipfs://http", h.nextNonce())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, h.submit(mintTx, seller).Code)
	mint := mintTx.Accounts[1].Address

	for _, who := range []*crypto.PrivateKey{buyer, latecomer} {
		tx, err := runtime.NewCreateHoldingTx(who.Address(), mint, h.nextNonce())
		require.NoError(t, err)
		rec := h.submit(tx, who)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := h.do(http.MethodGet, fmt.Sprintf("/v1/derive?seller=%s&asset=%s", seller.Address(), mint), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	derived := decodeBody[DeriveResponse](t, rec)

	listTx, err := runtime.NewListTx(h.program, seller.Address(), mint, 1_000, h.nextNonce())
	require.NoError(t, err)
	rec = h.submit(listTx, seller)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decodeBody[runtime.Receipt](t, rec)
	require.Equal(t, "list", receipt.Instruction)
	require.Equal(t, derived.Listing, listTx.Accounts[3].Address.String())

	rec = h.do(http.MethodGet, "/v1/transactions/"+receipt.Hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/v1/listings/"+derived.Listing, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[ListingView](t, rec)
	require.True(t, view.Active)
	require.Equal(t, derived.Escrow, view.Escrow)
	require.Equal(t, "0.000001", view.PriceDisplay)

	require.Eventually(t, func() bool {
		body, ok := h.browse("/v1/listings?status=active&seller=" + seller.Address().String())
		return ok && body.Total == 1
	}, 2*time.Second, 10*time.Millisecond)

	listing, err := marketplace.Lookup(h.proc.Ledger(), h.program, listTx.Accounts[3].Address)
	require.NoError(t, err)
	buyTx, err := runtime.NewBuyTx(h.program, buyer.Address(), listing, h.nextNonce())
	require.NoError(t, err)
	rec = h.submit(buyTx, buyer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	lateTx, err := runtime.NewBuyTx(h.program, latecomer.Address(), listing, h.nextNonce())
	require.NoError(t, err)
	rec = h.submit(lateTx, latecomer)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, runtime.CodeListingNotActive, decodeBody[errorResponse](t, rec).Error.Code)

	rec = h.do(http.MethodGet, "/v1/accounts/"+seller.Address().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", decodeBody[AccountView](t, rec).Balance)

	rec = h.do(http.MethodGet, "/v1/accounts/"+derived.Listing, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decodeBody[AccountView](t, rec)
	require.NotNil(t, acct.Listing)
	require.False(t, acct.Listing.Active)

	require.Eventually(t, func() bool {
		body, ok := h.browse("/v1/listings?status=sold")
		return ok && body.Total == 1 && body.Listings[0].Buyer == buyer.Address().String()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitRejectsMalformedPayload(t *testing.T) {
	h := newAPIHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(`{"program": 12}`))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotEmpty(t, decodeBody[errorResponse](t, rec).Error.RequestID)
}

func TestUnknownAccountAndListing(t *testing.T) {
	h := newAPIHarness(t, nil)
	addr := h.key().Address().String()
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/accounts/"+addr, nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/listings/"+addr, nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/transactions/abcd", nil).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/accounts/garbage", nil).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/listings?limit=-1", nil).Code)
}

func TestFaucetQuotaAndPause(t *testing.T) {
	h := newAPIHarness(t, nil)
	addr := h.key().Address().String()
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: addr}).Code)
	}
	rec := h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: addr})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	h.pauses.Set(nativecommon.ModuleFaucet, true)
	rec = h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: h.key().Address().String()})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, runtime.CodeModulePaused, decodeBody[errorResponse](t, rec).Error.Code)
}

func TestStateRootFollowsCommits(t *testing.T) {
	h := newAPIHarness(t, nil)
	empty := decodeBody[StateResponse](t, h.do(http.MethodGet, "/v1/state", nil))
	require.Zero(t, empty.Accounts)

	addr := h.key().Address().String()
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: addr}).Code)
	first := decodeBody[StateResponse](t, h.do(http.MethodGet, "/v1/state", nil))
	require.Equal(t, 1, first.Accounts)
	require.NotEqual(t, empty.Root, first.Root)

	again := decodeBody[StateResponse](t, h.do(http.MethodGet, "/v1/state", nil))
	require.Equal(t, first, again)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: addr}).Code)
	second := decodeBody[StateResponse](t, h.do(http.MethodGet, "/v1/state", nil))
	require.Equal(t, 1, second.Accounts)
	require.NotEqual(t, first.Root, second.Root)
}

func TestFaucetDisabledIsNotRouted(t *testing.T) {
	h := newAPIHarness(t, func(cfg *Config) { cfg.Faucet.Enabled = false })
	rec := h.do(http.MethodPost, "/v1/faucet", faucetRequest{Address: h.key().Address().String()})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	h := newAPIHarness(t, func(cfg *Config) {
		cfg.RateLimit = RateLimit{RequestsPerSecond: 0.001, Burst: 2}
	})
	path := "/v1/listings"
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, path, nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, path, nil).Code)
	require.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, path, nil).Code)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "198.51.100.7:1234"
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "other clients keep their own bucket")
}

func TestEventStream(t *testing.T) {
	h := newAPIHarness(t, nil)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/v1/events?type=system.", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	creator := h.key()
	// The subscription is registered after the handshake completes, so keep
	// minting until the stream delivers something.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			tx, err := runtime.NewMintAssetTx(creator.Address(), []byte(fmt.Sprintf("ws-%d", i)), "ipfs://ws", uint64(i))
			if err != nil || tx.Sign(creator) != nil {
				return
			}
			_, _ = h.proc.Submit(ctx, tx)
		}
	}()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "system.asset.minted", evt.Type)
	require.Equal(t, creator.Address().String(), evt.Attributes["creator"])
}

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusForbidden, statusForCode(runtime.CodeUnauthorizedCancel))
	require.Equal(t, http.StatusBadRequest, statusForCode(runtime.CodeInvalidNFT))
	require.Equal(t, http.StatusNotFound, statusForCode(runtime.CodeAccountNotFound))
	require.Equal(t, http.StatusInternalServerError, statusForCode(runtime.CodeInternal))
}
