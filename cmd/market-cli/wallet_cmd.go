package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"nftmarket/crypto"
	"nftmarket/native/marketplace"
	"nftmarket/rpc"
	"nftmarket/runtime"
)

var cliNow = time.Now

// nextNonce derives a transaction nonce from the wall clock; replays are
// rejected by hash on the node.
func nextNonce() uint64 {
	return uint64(cliNow().UnixNano())
}

func resolveAddress(raw, keyPath string) (crypto.Address, error) {
	if raw != "" {
		return crypto.DecodeAddress(raw)
	}
	key, err := loadKeyFn(keyPath)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.Address(), nil
}

func runBalanceCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	addrFlag := fs.String("address", "", "address to query (defaults to the keystore address)")
	keyPath := fs.String("key", defaultKeystore, "keystore path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addrFlag == "" && fs.NArg() > 0 {
		*addrFlag = fs.Arg(0)
	}
	addr, err := resolveAddress(*addrFlag, *keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var view rpc.AccountView
	if err := fetch(http.MethodGet, "/v1/accounts/"+url.PathEscape(addr.String()), nil, &view); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == runtime.CodeAccountNotFound {
			fmt.Fprintf(stdout, "%s: 0 (account not found)\n", addr)
			return 0
		}
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "%s: %s (%s units)\n", addr, view.BalanceDisplay, view.Balance)
	return 0
}

func runAccountCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("account", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(stderr, "usage: market-cli account <address>")
	}
	addr, err := crypto.DecodeAddress(fs.Arg(0))
	if err != nil {
		return printError(stderr, err.Error())
	}
	var view rpc.AccountView
	if err := fetch(http.MethodGet, "/v1/accounts/"+url.PathEscape(addr.String()), nil, &view); err != nil {
		return printError(stderr, err.Error())
	}
	return printJSON(stdout, view)
}

func runTransferCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore of the sender")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount in display units, e.g. 1.5")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *to == "" {
		return printError(stderr, "--to is required")
	}
	recipient, err := crypto.DecodeAddress(*to)
	if err != nil {
		return printError(stderr, "--to: "+err.Error())
	}
	units, err := marketplace.ParsePrice(*amount)
	if err != nil {
		return printError(stderr, "--amount: "+err.Error())
	}
	if units == 0 {
		return printError(stderr, "--amount must be positive")
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	tx := runtime.NewTransferTx(key.Address(), recipient, units, nextNonce())
	if err := tx.Sign(key); err != nil {
		return printError(stderr, err.Error())
	}
	receipt, err := submitTransaction(tx)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Sent %s to %s\nTransaction: %s\n", marketplace.FormatPrice(units), recipient, receipt.Hash)
	return 0
}

func runFaucetCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("faucet", stderr)
	addrFlag := fs.String("address", "", "address to fund (defaults to the keystore address)")
	keyPath := fs.String("key", defaultKeystore, "keystore path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := resolveAddress(*addrFlag, *keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var resp rpc.FaucetResponse
	if err := fetch(http.MethodPost, "/v1/faucet", map[string]string{"address": addr.String()}, &resp); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Funded %s with %s; balance now %s units\n", resp.Address, resp.AmountDisplay, resp.Balance)
	return 0
}

func runReceiptCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("receipt", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(stderr, "usage: market-cli receipt <hash>")
	}
	var receipt receiptResponse
	if err := fetch(http.MethodGet, "/v1/transactions/"+url.PathEscape(fs.Arg(0)), nil, &receipt); err != nil {
		return printError(stderr, err.Error())
	}
	return printJSON(stdout, receipt)
}

func runStateCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("state", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var state rpc.StateResponse
	if err := fetch(http.MethodGet, "/v1/state", nil, &state); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Root: %s\nAccounts: %d\n", state.Root, state.Accounts)
	return 0
}
