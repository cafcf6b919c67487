package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
	"nftmarket/native/marketplace"
	"nftmarket/rpc"
	"nftmarket/runtime"
)

const defaultSaltLength = 16

func signAndSubmit(tx *types.Transaction, key *crypto.PrivateKey) (*receiptResponse, error) {
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return submitTransaction(tx)
}

func fetchListing(addr crypto.Address) (*rpc.ListingView, error) {
	var view rpc.ListingView
	if err := fetch(http.MethodGet, "/v1/listings/"+url.PathEscape(addr.String()), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// listingFromView rebuilds the record needed to assemble Buy and Cancel
// transactions from its API rendering.
func listingFromView(view *rpc.ListingView) (crypto.Address, *marketplace.Listing, error) {
	program, err := crypto.DecodeAddress(view.Program)
	if err != nil {
		return crypto.Address{}, nil, fmt.Errorf("listing program: %w", err)
	}
	l := &marketplace.Listing{Price: view.Price, CreatedAt: view.CreatedAt, Active: view.Active}
	for _, f := range []struct {
		name string
		raw  string
		dst  *crypto.Address
	}{
		{"address", view.Address, &l.ListingID},
		{"seller", view.Seller, &l.Seller},
		{"asset", view.Asset, &l.AssetID},
		{"escrow", view.Escrow, &l.Escrow},
	} {
		addr, err := crypto.DecodeAddress(f.raw)
		if err != nil {
			return crypto.Address{}, nil, fmt.Errorf("listing %s: %w", f.name, err)
		}
		*f.dst = addr
	}
	if view.Nonce != nil {
		l.Nonce = *view.Nonce
	}
	if view.EscrowNonce != nil {
		l.EscrowNonce = *view.EscrowNonce
	}
	return program, l, nil
}

func runMintCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore of the creator")
	uri := fs.String("uri", "", "metadata URI recorded on the asset")
	saltHex := fs.String("salt", "", "hex salt distinguishing the asset (random when empty)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *uri == "" {
		return printError(stderr, "--uri is required")
	}
	var salt []byte
	if *saltHex != "" {
		decoded, err := hex.DecodeString(*saltHex)
		if err != nil {
			return printError(stderr, "--salt: "+err.Error())
		}
		salt = decoded
	} else {
		salt = make([]byte, defaultSaltLength)
		if _, err := rand.Read(salt); err != nil {
			return printError(stderr, err.Error())
		}
	}
	if len(salt) == 0 || len(salt) > crypto.MaxSeedLength {
		return printError(stderr, fmt.Sprintf("--salt must be 1-%d bytes", crypto.MaxSeedLength))
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	tx, err := runtime.NewMintAssetTx(key.Address(), salt, *uri, nextNonce())
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSubmit(tx, key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	mint, _, _ := ledger.AssetAddress(key.Address(), salt)
	fmt.Fprintf(stdout, "Asset: %s\nSalt: %s\nTransaction: %s\n", mint, hex.EncodeToString(salt), receipt.Hash)
	return 0
}

func runHoldingCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("holding", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore of the holder")
	assetFlag := fs.String("asset", "", "asset address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	asset, err := crypto.DecodeAddress(*assetFlag)
	if err != nil {
		return printError(stderr, "--asset: "+err.Error())
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	tx, err := runtime.NewCreateHoldingTx(key.Address(), asset, nextNonce())
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSubmit(tx, key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	holding, _, _ := ledger.HoldingAddress(key.Address(), asset)
	fmt.Fprintf(stdout, "Holding: %s\nTransaction: %s\n", holding, receipt.Hash)
	return 0
}

func runListCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore of the seller")
	assetFlag := fs.String("asset", "", "asset address")
	priceFlag := fs.String("price", "", "asking price in display units, e.g. 2.5")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	asset, err := crypto.DecodeAddress(*assetFlag)
	if err != nil {
		return printError(stderr, "--asset: "+err.Error())
	}
	if *priceFlag == "" {
		return printError(stderr, "--price is required")
	}
	price, err := marketplace.ParsePrice(*priceFlag)
	if err != nil {
		return printError(stderr, "--price: "+err.Error())
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var derived rpc.DeriveResponse
	query := url.Values{"seller": {key.Address().String()}, "asset": {asset.String()}}
	if err := fetch(http.MethodGet, "/v1/derive?"+query.Encode(), nil, &derived); err != nil {
		return printError(stderr, err.Error())
	}
	program, err := crypto.DecodeAddress(derived.Program)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if price == 0 {
		fmt.Fprintln(stderr, "Warning: listing at a price of zero; anyone can take the asset for free")
	}
	tx, err := runtime.NewListTx(program, key.Address(), asset, price, nextNonce())
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSubmit(tx, key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Listing: %s\nEscrow: %s\nPrice: %s\nTransaction: %s\n",
		derived.Listing, derived.Escrow, marketplace.FormatPrice(price), receipt.Hash)
	return 0
}

func runBuyCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("buy", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore of the buyer")
	listingFlag := fs.String("listing", "", "listing address")
	maxPrice := fs.String("max-price", "", "refuse to buy above this price (display units)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := crypto.DecodeAddress(*listingFlag)
	if err != nil {
		return printError(stderr, "--listing: "+err.Error())
	}
	view, err := fetchListing(addr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if !view.Active {
		return printError(stderr, fmt.Sprintf("listing %s is %s", view.Address, view.Status))
	}
	if *maxPrice != "" {
		limit, err := marketplace.ParsePrice(*maxPrice)
		if err != nil {
			return printError(stderr, "--max-price: "+err.Error())
		}
		if view.Price > limit {
			return printError(stderr, fmt.Sprintf("price %s exceeds --max-price %s", view.PriceDisplay, marketplace.FormatPrice(limit)))
		}
	}
	program, listing, err := listingFromView(view)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	tx, err := runtime.NewBuyTx(program, key.Address(), listing, nextNonce())
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSubmit(tx, key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Bought %s for %s\nTransaction: %s\n", view.Asset, view.PriceDisplay, receipt.Hash)
	return 0
}

func runCancelCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("cancel", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore of the seller")
	listingFlag := fs.String("listing", "", "listing address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := crypto.DecodeAddress(*listingFlag)
	if err != nil {
		return printError(stderr, "--listing: "+err.Error())
	}
	view, err := fetchListing(addr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	program, listing, err := listingFromView(view)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if key.Address() != listing.Seller {
		return printError(stderr, fmt.Sprintf("only the seller %s can cancel this listing", listing.Seller))
	}
	tx, err := runtime.NewCancelTx(program, listing, nextNonce())
	if err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := signAndSubmit(tx, key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Cancelled %s; asset returned to %s\nTransaction: %s\n", view.Address, view.Seller, receipt.Hash)
	return 0
}

func runShowCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("show", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(stderr, "usage: market-cli show <listing>")
	}
	addr, err := crypto.DecodeAddress(fs.Arg(0))
	if err != nil {
		return printError(stderr, err.Error())
	}
	view, err := fetchListing(addr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return printJSON(stdout, view)
}

type browsePage struct {
	Listings []rpc.ListingView `json:"listings"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

func runBrowseCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("browse", stderr)
	seller := fs.String("seller", "", "only listings by this seller")
	asset := fs.String("asset", "", "only listings of this asset")
	status := fs.String("status", "active", "active, sold, cancelled or empty for all")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	asJSON := fs.Bool("json", false, "print the raw page as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *limit < 0 || *offset < 0 {
		return printError(stderr, "--limit and --offset must be non-negative")
	}
	query := url.Values{}
	for key, value := range map[string]string{"seller": *seller, "asset": *asset, "status": *status} {
		if value != "" {
			query.Set(key, value)
		}
	}
	query.Set("limit", strconv.Itoa(*limit))
	query.Set("offset", strconv.Itoa(*offset))

	var page browsePage
	if err := fetch(http.MethodGet, "/v1/listings?"+query.Encode(), nil, &page); err != nil {
		return printError(stderr, err.Error())
	}
	if *asJSON {
		return printJSON(stdout, page)
	}
	if len(page.Listings) == 0 {
		fmt.Fprintln(stdout, "No listings found.")
		return 0
	}
	for _, l := range page.Listings {
		fmt.Fprintf(stdout, "%s  %-9s  %12s  asset=%s seller=%s\n", l.Address, l.Status, l.PriceDisplay, l.Asset, l.Seller)
	}
	fmt.Fprintf(stdout, "Showing %d of %d\n", len(page.Listings), page.Total)
	return 0
}

func runDeriveCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("derive", stderr)
	sellerFlag := fs.String("seller", "", "seller address")
	assetFlag := fs.String("asset", "", "asset address")
	programFlag := fs.String("program", "", "derive offline against this program instead of asking the node")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	seller, err := crypto.DecodeAddress(*sellerFlag)
	if err != nil {
		return printError(stderr, "--seller: "+err.Error())
	}
	asset, err := crypto.DecodeAddress(*assetFlag)
	if err != nil {
		return printError(stderr, "--asset: "+err.Error())
	}
	if *programFlag == "" {
		var derived rpc.DeriveResponse
		query := url.Values{"seller": {seller.String()}, "asset": {asset.String()}}
		if err := fetch(http.MethodGet, "/v1/derive?"+query.Encode(), nil, &derived); err != nil {
			return printError(stderr, err.Error())
		}
		return printJSON(stdout, derived)
	}
	program, err := crypto.DecodeAddress(*programFlag)
	if err != nil {
		return printError(stderr, "--program: "+err.Error())
	}
	derived, err := deriveOffline(program, seller, asset)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return printJSON(stdout, derived)
}

func deriveOffline(program, seller, asset crypto.Address) (*rpc.DeriveResponse, error) {
	listing, listingNonce, err := marketplace.DeriveListing(program, seller, asset)
	if err != nil {
		return nil, err
	}
	escrow, escrowNonce, err := marketplace.DeriveEscrow(program, listing)
	if err != nil {
		return nil, err
	}
	holding, _, err := ledger.HoldingAddress(seller, asset)
	if err != nil {
		return nil, err
	}
	return &rpc.DeriveResponse{
		Program:       program.String(),
		Listing:       listing.String(),
		ListingNonce:  listingNonce,
		Escrow:        escrow.String(),
		EscrowNonce:   escrowNonce,
		SellerHolding: holding.String(),
	}, nil
}
