package marketplace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/core/types"
	"nftmarket/crypto"
)

func sampleListing(t *testing.T) (crypto.Address, *Listing) {
	t.Helper()
	program := crypto.Address{0x01}
	seller := crypto.Address{0x02}
	asset := crypto.Address{0x03}
	listingAddr, nonce, err := DeriveListing(program, seller, asset)
	require.NoError(t, err)
	escrowAddr, escrowNonce, err := DeriveEscrow(program, listingAddr)
	require.NoError(t, err)
	return program, &Listing{
		ListingID:   listingAddr,
		Seller:      seller,
		AssetID:     asset,
		Escrow:      escrowAddr,
		Price:       1_000,
		CreatedAt:   1_700_000_000,
		Active:      true,
		Nonce:       nonce,
		EscrowNonce: escrowNonce,
	}
}

func TestEncodeListingIsTagged(t *testing.T) {
	_, listing := sampleListing(t)
	encoded, err := EncodeListing(listing)
	require.NoError(t, err)
	require.True(t, IsListingRecord(encoded))
	require.LessOrEqual(t, len(encoded), ListingSpace)

	decoded, err := DecodeListing(encoded)
	require.NoError(t, err)
	require.Equal(t, listing, decoded)
}

func TestDecodeListingRejectsForeignData(t *testing.T) {
	_, err := DecodeListing([]byte("not a listing at all"))
	require.ErrorIs(t, err, ErrAccountDiscriminator)

	_, err = DecodeListing(nil)
	require.ErrorIs(t, err, ErrAccountDiscriminator)

	_, listing := sampleListing(t)
	encoded, err := EncodeListing(listing)
	require.NoError(t, err)
	encoded[len(listingDiscriminator)] = 9
	_, err = DecodeListing(encoded)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestListingFromAccountChecksOwner(t *testing.T) {
	program, listing := sampleListing(t)
	encoded, err := EncodeListing(listing)
	require.NoError(t, err)

	acc := &types.Account{Kind: types.AccountData, Owner: program, Space: ListingSpace, Data: encoded}
	got, err := ListingFromAccount(program, acc)
	require.NoError(t, err)
	require.Equal(t, listing.Price, got.Price)

	acc.Owner = crypto.Address{0xFF}
	_, err = ListingFromAccount(program, acc)
	require.ErrorIs(t, err, ErrAccountDiscriminator)
}

func TestVerifyListingAddress(t *testing.T) {
	program, listing := sampleListing(t)
	require.NoError(t, verifyListingAddress(program, listing, listing.ListingID))
	require.NoError(t, verifyEscrowAddress(program, listing, listing.Escrow))

	tampered := listing.Clone()
	tampered.Nonce--
	require.ErrorIs(t, verifyListingAddress(program, tampered, listing.ListingID), ErrSeedsMismatch)

	require.ErrorIs(t, verifyListingAddress(crypto.Address{0x09}, listing, listing.ListingID), ErrSeedsMismatch)
	require.ErrorIs(t, verifyEscrowAddress(program, listing, listing.ListingID), ErrSeedsMismatch)
}

func TestDeriveListingIsDeterministic(t *testing.T) {
	program := crypto.Address{0x10}
	seller := crypto.Address{0x20}
	asset := crypto.Address{0x30}

	a, nonceA, err := DeriveListing(program, seller, asset)
	require.NoError(t, err)
	b, nonceB, err := DeriveListing(program, seller, asset)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, nonceA, nonceB)
	require.False(t, crypto.IsOnCurve(a[:]))

	other, _, err := DeriveListing(program, asset, seller)
	require.NoError(t, err)
	require.NotEqual(t, a, other)

	escrow, _, err := DeriveEscrow(program, a)
	require.NoError(t, err)
	require.NotEqual(t, a, escrow)
}

func TestListingEvents(t *testing.T) {
	_, listing := sampleListing(t)
	buyer := crypto.Address{0x44}
	evt := NewListingSoldEvent(listing, buyer)
	require.Equal(t, EventTypeListingSold, evt.Type)
	require.Equal(t, buyer.String(), evt.Attributes["buyer"])
	require.Equal(t, listing.ListingID.String(), evt.Attributes["listing"])
	require.Equal(t, "1000", evt.Attributes["price"])
}
