package marketplace

import (
	"bytes"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/core/types"
	"nftmarket/crypto"
)

const (
	listingVersion = 1
	// ListingSpace is the number of bytes reserved for a listing record.
	ListingSpace = 256
)

var listingDiscriminator = ethcrypto.Keccak256([]byte("nftmarket:listing"))[:8]

type listingRecord struct {
	ListingID   crypto.Address
	Seller      crypto.Address
	AssetID     crypto.Address
	Escrow      crypto.Address
	Price       uint64
	CreatedAt   uint64
	Active      bool
	Nonce       uint8
	EscrowNonce uint8
}

// EncodeListing serialises a listing behind its discriminator and version.
func EncodeListing(l *Listing) ([]byte, error) {
	if l == nil {
		return nil, fmt.Errorf("marketplace: nil listing")
	}
	if l.CreatedAt < 0 {
		return nil, fmt.Errorf("marketplace: negative creation time %d", l.CreatedAt)
	}
	body, err := rlp.EncodeToBytes(&listingRecord{
		ListingID:   l.ListingID,
		Seller:      l.Seller,
		AssetID:     l.AssetID,
		Escrow:      l.Escrow,
		Price:       l.Price,
		CreatedAt:   uint64(l.CreatedAt),
		Active:      l.Active,
		Nonce:       l.Nonce,
		EscrowNonce: l.EscrowNonce,
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(listingDiscriminator)+1+len(body))
	out = append(out, listingDiscriminator...)
	out = append(out, listingVersion)
	return append(out, body...), nil
}

// DecodeListing parses a tagged listing record.
func DecodeListing(data []byte) (*Listing, error) {
	if !IsListingRecord(data) {
		return nil, ErrAccountDiscriminator
	}
	if version := data[len(listingDiscriminator)]; version != listingVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	var rec listingRecord
	if err := rlp.DecodeBytes(data[len(listingDiscriminator)+1:], &rec); err != nil {
		return nil, fmt.Errorf("marketplace: decode listing: %w", err)
	}
	return &Listing{
		ListingID:   rec.ListingID,
		Seller:      rec.Seller,
		AssetID:     rec.AssetID,
		Escrow:      rec.Escrow,
		Price:       rec.Price,
		CreatedAt:   int64(rec.CreatedAt),
		Active:      rec.Active,
		Nonce:       rec.Nonce,
		EscrowNonce: rec.EscrowNonce,
	}, nil
}

// IsListingRecord reports whether data carries the listing discriminator.
func IsListingRecord(data []byte) bool {
	return len(data) > len(listingDiscriminator) && bytes.Equal(data[:len(listingDiscriminator)], listingDiscriminator)
}

// ListingFromAccount decodes the record held by acc, which must be a data
// account owned by program.
func ListingFromAccount(program crypto.Address, acc *types.Account) (*Listing, error) {
	if acc == nil {
		return nil, ErrAccountDiscriminator
	}
	if acc.Kind != types.AccountData || acc.Owner != program {
		return nil, fmt.Errorf("%w: owned by %s", ErrAccountDiscriminator, acc.Owner)
	}
	return DecodeListing(acc.Data)
}
