package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// AddressLength is the size in bytes of every ledger address. External
// accounts use their ed25519 public key as address; derived addresses are
// 32-byte hashes that are guaranteed not to be valid public keys.
const AddressLength = 32

// AddressPrefix is the bech32 human-readable part used for textual addresses.
const AddressPrefix = "nft"

var (
	ErrInvalidAddress    = errors.New("crypto: invalid address")
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")
)

// Address identifies an account on the ledger.
type Address [AddressLength]byte

// BytesToAddress copies b into an Address. The input must be exactly
// AddressLength bytes.
func BytesToAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// MustDecodeAddress is DecodeAddress for constants and tests.
func MustDecodeAddress(s string) Address {
	addr, err := DecodeAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// DecodeAddress parses a bech32 encoded address.
func DecodeAddress(s string) (Address, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return BytesToAddress(conv)
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

func (a Address) IsZero() bool { return a == Address{} }

// Less orders addresses bytewise. Lock acquisition relies on this ordering.
func (a Address) Less(other Address) bool { return bytes.Compare(a[:], other[:]) < 0 }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// --- Key Management ---

// PrivateKey is an ed25519 signing key controlling the address derived from
// its public half.
type PrivateKey struct {
	key ed25519.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// PrivateKeyFromSeed rebuilds a key from its 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidPrivateKey, ed25519.SeedSize)
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed the key was generated from.
func (k *PrivateKey) Seed() []byte {
	return append([]byte(nil), k.key.Seed()...)
}

// Address returns the account address controlled by this key.
func (k *PrivateKey) Address() Address {
	var addr Address
	copy(addr[:], k.key[ed25519.SeedSize:])
	return addr
}

func (k *PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.key, message)
}

// Verify reports whether sig is a valid signature of message by the key
// whose public half is addr.
func Verify(addr Address, message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), message, sig)
}
