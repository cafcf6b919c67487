package crypto

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/oasisprotocol/curve25519-voi/curve"
)

const (
	// MaxSeeds bounds the number of seeds, nonce included, that may be fed
	// into a derivation.
	MaxSeeds = 16
	// MaxSeedLength bounds the size of a single seed.
	MaxSeedLength = 32
)

var derivedAddressMarker = []byte("DerivedAddressMarker")

var (
	ErrTooManySeeds       = errors.New("crypto: too many derivation seeds")
	ErrSeedTooLong        = errors.New("crypto: derivation seed exceeds max length")
	ErrOnCurve            = errors.New("crypto: derived address lies on the ed25519 curve")
	ErrNoViableNonce      = errors.New("crypto: unable to find a viable derivation nonce")
	ErrAuthorityMismatch  = errors.New("crypto: derived authority does not match expected address")
	ErrAuthorityNoProgram = errors.New("crypto: derived authority missing program")
)

// IsOnCurve reports whether b decodes to a valid compressed ed25519 point,
// i.e. whether some private key could sign for it.
func IsOnCurve(b []byte) bool {
	var compressed curve.CompressedEdwardsY
	if _, err := compressed.SetBytes(b); err != nil {
		return false
	}
	var point curve.EdwardsPoint
	if _, err := point.SetCompressedY(&compressed); err != nil {
		return false
	}
	return true
}

// CreateDerivedAddress hashes the seeds together with the program address.
// The result is rejected when it falls on the curve so that the address can
// only ever be exercised by the program re-deriving it.
func CreateDerivedAddress(program Address, seeds ...[]byte) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	parts := make([][]byte, 0, len(seeds)+2)
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, fmt.Errorf("%w: seed %d has %d bytes", ErrSeedTooLong, i, len(seed))
		}
		parts = append(parts, seed)
	}
	parts = append(parts, program[:], derivedAddressMarker)
	hash := ethcrypto.Keccak256(parts...)
	if IsOnCurve(hash) {
		return Address{}, ErrOnCurve
	}
	var addr Address
	copy(addr[:], hash)
	return addr, nil
}

// FindDerivedAddress searches nonces from 255 downward and returns the first
// address that lies off the curve, together with the nonce that produced it.
func FindDerivedAddress(program Address, seeds ...[]byte) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, ErrTooManySeeds
	}
	withNonce := make([][]byte, len(seeds)+1)
	copy(withNonce, seeds)
	for nonce := 255; nonce >= 0; nonce-- {
		withNonce[len(seeds)] = []byte{byte(nonce)}
		addr, err := CreateDerivedAddress(program, withNonce...)
		if err == nil {
			return addr, uint8(nonce), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableNonce
}

// DerivedAuthority is the capability a program presents in place of a
// private-key signature: the seeds and nonce that re-derive the authority
// address under the program's identity.
type DerivedAuthority struct {
	Program Address
	Seeds   [][]byte
	Nonce   uint8
}

// NewDerivedAuthority copies the seeds so the capability cannot be mutated
// after construction.
func NewDerivedAuthority(program Address, nonce uint8, seeds ...[]byte) DerivedAuthority {
	cloned := make([][]byte, len(seeds))
	for i, seed := range seeds {
		cloned[i] = append([]byte(nil), seed...)
	}
	return DerivedAuthority{Program: program, Seeds: cloned, Nonce: nonce}
}

// Address recomputes the authority address from the stored seeds and nonce.
func (a DerivedAuthority) Address() (Address, error) {
	if a.Program.IsZero() {
		return Address{}, ErrAuthorityNoProgram
	}
	seeds := make([][]byte, len(a.Seeds)+1)
	copy(seeds, a.Seeds)
	seeds[len(a.Seeds)] = []byte{a.Nonce}
	return CreateDerivedAddress(a.Program, seeds...)
}

// Verify recomputes the authority and checks it against expected.
func (a DerivedAuthority) Verify(expected Address) error {
	addr, err := a.Address()
	if err != nil {
		return err
	}
	if addr != expected {
		return fmt.Errorf("%w: derived %s, expected %s", ErrAuthorityMismatch, addr, expected)
	}
	return nil
}
