package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// rpcEndpoint defaults to localhost and can be overridden via RPC_URL or --rpc.
var rpcEndpoint = defaultRPCEndpoint()

type command struct {
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

var commands = map[string]command{
	"keygen":   {"Generate an encrypted keystore", runKeygenCommand},
	"address":  {"Print the address held in a keystore", runAddressCommand},
	"balance":  {"Show the native balance of an address", runBalanceCommand},
	"account":  {"Show any account as stored on the ledger", runAccountCommand},
	"transfer": {"Send native units to another address", runTransferCommand},
	"faucet":   {"Request development funds", runFaucetCommand},
	"mint":     {"Mint a unique asset to the signer", runMintCommand},
	"holding":  {"Create the signer's holding account for an asset", runHoldingCommand},
	"list":     {"Escrow an asset and list it for sale", runListCommand},
	"buy":      {"Buy a listed asset", runBuyCommand},
	"cancel":   {"Cancel one of your listings", runCancelCommand},
	"show":     {"Show a listing", runShowCommand},
	"browse":   {"Browse listings", runBrowseCommand},
	"derive":   {"Derive the listing and escrow addresses for seller and asset", runDeriveCommand},
	"receipt":  {"Fetch the receipt of a committed transaction", runReceiptCommand},
	"state":    {"Show the ledger state root", runStateCommand},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(stdout, usage())
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return cmd.run(args[1:], stdout, stderr)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

var commandOrder = []string{
	"keygen", "address", "balance", "account", "transfer", "faucet",
	"mint", "holding", "list", "buy", "cancel", "show", "browse", "derive", "receipt", "state",
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage:\n  market-cli [--rpc URL] <command> [flags]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(&b, "  %-9s %s\n", name, commands[name].summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
