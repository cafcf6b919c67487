package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/indexer"
	"nftmarket/ledger"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/marketplace"
	"nftmarket/observability"
)

// ListingView is the JSON rendering of a listing record.
type ListingView struct {
	Program      string `json:"program,omitempty"`
	Address      string `json:"address"`
	Seller       string `json:"seller"`
	Asset        string `json:"asset"`
	Escrow       string `json:"escrow"`
	Price        uint64 `json:"price"`
	PriceDisplay string `json:"priceDisplay"`
	CreatedAt    int64  `json:"createdAt"`
	Active       bool   `json:"active"`
	Status       string `json:"status"`
	Buyer        string `json:"buyer,omitempty"`
	Nonce        *uint8 `json:"nonce,omitempty"`
	EscrowNonce  *uint8 `json:"escrowNonce,omitempty"`
}

func listingViewFrom(program crypto.Address, l *marketplace.Listing) ListingView {
	nonce, escrowNonce := l.Nonce, l.EscrowNonce
	return ListingView{
		Program:      program.String(),
		Address:      l.ListingID.String(),
		Seller:       l.Seller.String(),
		Asset:        l.AssetID.String(),
		Escrow:       l.Escrow.String(),
		Price:        l.Price,
		PriceDisplay: marketplace.FormatPrice(l.Price),
		CreatedAt:    l.CreatedAt,
		Active:       l.Active,
		Status:       l.Status(),
		Nonce:        &nonce,
		EscrowNonce:  &escrowNonce,
	}
}

func listingViewFromRow(row indexer.ListingRow) ListingView {
	return ListingView{
		Address:      row.Address,
		Seller:       row.Seller,
		Asset:        row.Asset,
		Escrow:       row.Escrow,
		Price:        row.Price,
		PriceDisplay: marketplace.FormatPrice(row.Price),
		CreatedAt:    row.ListedAt,
		Active:       row.Status == marketplace.StatusActive,
		Status:       row.Status,
		Buyer:        row.Buyer,
	}
}

// AccountView is the JSON rendering of a ledger account.
type AccountView struct {
	Address        string       `json:"address"`
	Kind           string       `json:"kind"`
	Balance        string       `json:"balance"`
	BalanceDisplay string       `json:"balanceDisplay,omitempty"`
	Owner          string       `json:"owner,omitempty"`
	Mint           string       `json:"mint,omitempty"`
	Amount         uint64       `json:"amount"`
	Space          uint64       `json:"space,omitempty"`
	URI            string       `json:"uri,omitempty"`
	Listing        *ListingView `json:"listing,omitempty"`
}

func (s *Server) accountViewFrom(addr crypto.Address, acc *types.Account) AccountView {
	view := AccountView{
		Address: addr.String(),
		Kind:    acc.Kind.String(),
		Balance: acc.Balance.Dec(),
		Amount:  acc.Amount,
		Space:   acc.Space,
	}
	if acc.Balance.IsUint64() {
		view.BalanceDisplay = marketplace.FormatPrice(acc.Balance.Uint64())
	}
	if !acc.Owner.IsZero() {
		view.Owner = acc.Owner.String()
	}
	if !acc.Mint.IsZero() {
		view.Mint = acc.Mint.String()
	}
	switch acc.Kind {
	case types.AccountMint:
		view.URI = string(acc.Data)
	case types.AccountData:
		if listing, err := marketplace.ListingFromAccount(s.proc.Program(), acc); err == nil {
			lv := listingViewFrom(s.proc.Program(), listing)
			view.Listing = &lv
		}
	}
	return view
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(raw))
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var tx types.Transaction
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tx); err != nil {
		writeError(w, r, http.StatusBadRequest, "MalformedTransaction", "invalid transaction payload: "+err.Error())
		return
	}
	receipt, err := s.proc.Submit(r.Context(), &tx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "hash")))
	receipt, ok, err := s.proc.Receipt(hash)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "NotFound", "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidAddress", err.Error())
		return
	}
	acc, err := s.proc.Ledger().Account(addr)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.accountViewFrom(addr, acc))
}

// StateResponse reports the commitment over all ledger accounts.
type StateResponse struct {
	Root     string `json:"root"`
	Accounts int    `json:"accounts"`
}

func (s *Server) handleStateRoot(w http.ResponseWriter, r *http.Request) {
	commitment, err := s.proc.Ledger().StateRoot()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Root: commitment.Root.Hex(), Accounts: commitment.Entries})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidAddress", err.Error())
		return
	}
	listing, err := marketplace.Lookup(s.proc.Ledger(), s.proc.Program(), addr)
	if err != nil {
		if errors.Is(err, marketplace.ErrAccountDiscriminator) || errors.Is(err, marketplace.ErrSeedsMismatch) {
			writeError(w, r, http.StatusNotFound, "NotFound", "no listing at "+addr.String())
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingViewFrom(s.proc.Program(), listing))
}

type browseResponse struct {
	Listings []ListingView `json:"listings"`
	Total    int64         `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

func (s *Server) handleBrowseListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indexer.Filter{
		Seller: strings.TrimSpace(q.Get("seller")),
		Asset:  strings.TrimSpace(q.Get("asset")),
		Status: strings.ToLower(strings.TrimSpace(q.Get("status"))),
	}
	for _, raw := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if v := strings.TrimSpace(q.Get(raw.name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, http.StatusBadRequest, "InvalidQuery", raw.name+" must be a non-negative integer")
				return
			}
			*raw.dst = n
		}
	}
	if filter.Limit == 0 || filter.Limit > indexer.MaxPageSize {
		filter.Limit = indexer.MaxPageSize
	}

	if s.index != nil {
		rows, total, err := s.index.Browse(r.Context(), filter)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		views := make([]ListingView, 0, len(rows))
		for _, row := range rows {
			views = append(views, listingViewFromRow(row))
		}
		writeJSON(w, http.StatusOK, browseResponse{Listings: views, Total: total, Limit: filter.Limit, Offset: filter.Offset})
		return
	}

	// Without an index, scan the ledger. Sold and cancelled are not
	// distinguishable there, so both read as closed.
	listings, err := marketplace.Scan(s.proc.Ledger(), s.proc.Program(), filter.Status == marketplace.StatusActive)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	views := make([]ListingView, 0, len(listings))
	for _, l := range listings {
		if filter.Seller != "" && l.Seller.String() != filter.Seller {
			continue
		}
		if filter.Asset != "" && l.AssetID.String() != filter.Asset {
			continue
		}
		if filter.Status != "" && filter.Status != l.Status() {
			continue
		}
		views = append(views, listingViewFrom(s.proc.Program(), l))
	}
	total := int64(len(views))
	start := min(filter.Offset, len(views))
	end := min(start+filter.Limit, len(views))
	writeJSON(w, http.StatusOK, browseResponse{Listings: views[start:end], Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// DeriveResponse lists the addresses a client needs to build List, Buy and
// Cancel transactions.
type DeriveResponse struct {
	Program       string `json:"program"`
	Listing       string `json:"listing"`
	ListingNonce  uint8  `json:"listingNonce"`
	Escrow        string `json:"escrow"`
	EscrowNonce   uint8  `json:"escrowNonce"`
	SellerHolding string `json:"sellerHolding"`
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress(r.URL.Query().Get("seller"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidAddress", "seller: "+err.Error())
		return
	}
	asset, err := parseAddress(r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidAddress", "asset: "+err.Error())
		return
	}
	program := s.proc.Program()
	listing, listingNonce, err := marketplace.DeriveListing(program, seller, asset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	escrow, escrowNonce, err := marketplace.DeriveEscrow(program, listing)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	holding, _, err := ledger.HoldingAddress(seller, asset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeriveResponse{
		Program:       program.String(),
		Listing:       listing.String(),
		ListingNonce:  listingNonce,
		Escrow:        escrow.String(),
		EscrowNonce:   escrowNonce,
		SellerHolding: holding.String(),
	})
}

type faucetRequest struct {
	Address string `json:"address"`
}

// FaucetResponse reports an applied airdrop.
type FaucetResponse struct {
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
	Balance       string `json:"balance"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if err := nativecommon.Guard(s.pauses, nativecommon.ModuleFaucet); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req faucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidPayload", "invalid payload")
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidAddress", err.Error())
		return
	}
	if err := s.quota.Consume(addr, s.nowFn().Unix(), s.faucet.Amount); err != nil {
		observability.ModuleMetrics().RecordThrottle(nativecommon.ModuleFaucet, "quota")
		writeError(w, r, http.StatusTooManyRequests, "QuotaExceeded", err.Error())
		return
	}
	if err := s.proc.Ledger().Airdrop(r.Context(), addr, s.faucet.Amount); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	balance, err := s.proc.Ledger().Balance(addr)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FaucetResponse{
		Address:       addr.String(),
		Amount:        s.faucet.Amount,
		AmountDisplay: marketplace.FormatPrice(s.faucet.Amount),
		Balance:       balance.Dec(),
	})
}
