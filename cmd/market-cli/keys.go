package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"nftmarket/cmd/internal/passphrase"
	"nftmarket/crypto"
)

const defaultKeystore = "wallet.json"

var (
	loadKeyFn        = loadKeystore
	passphraseSource = passphrase.NewSource(passphrase.DefaultEnv)

	newPassphraseSource = passphrase.NewSource
)

func loadKeystore(path string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore %s not found. run market-cli keygen first", path)
		}
		return nil, err
	}
	pass, err := passphraseSource.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore %s: %w", path, err)
	}
	return key, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", defaultKeystore, "path of the keystore to create")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", *out))
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	pass, err := newPassphraseSource(passphrase.DefaultEnv, passphrase.WithConfirmation()).Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Keystore written to %s\nAddress: %s\n", *out, key.Address())
	return 0
}

func runAddressCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKeyFn(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.Address())
	return 0
}
