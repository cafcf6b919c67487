package marketplace

import (
	"fmt"

	"nftmarket/crypto"
	"nftmarket/ledger"
)

var (
	listingSeed = []byte("listing")
	escrowSeed  = []byte("escrow")
)

// DeriveListing returns the listing address and nonce for a seller and asset.
func DeriveListing(program, seller, asset crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(program, listingSeed, seller[:], asset[:])
}

// DeriveEscrow returns the escrow address and nonce for a listing address.
func DeriveEscrow(program, listing crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(program, escrowSeed, listing[:])
}

// listingAuthority is the capability the program presents to move units out
// of the escrow, which records the listing address as its owner.
func listingAuthority(program crypto.Address, l *Listing) crypto.DerivedAuthority {
	return crypto.NewDerivedAuthority(program, l.Nonce, listingSeed, l.Seller[:], l.AssetID[:])
}

func escrowAuthority(program crypto.Address, l *Listing) crypto.DerivedAuthority {
	return crypto.NewDerivedAuthority(program, l.EscrowNonce, escrowSeed, l.ListingID[:])
}

// verifyListingAddress re-derives the listing address from the stored seeds
// and nonce.
func verifyListingAddress(program crypto.Address, l *Listing, addr crypto.Address) error {
	if l.ListingID != addr {
		return fmt.Errorf("%w: record claims %s, stored at %s", ErrSeedsMismatch, l.ListingID, addr)
	}
	if err := listingAuthority(program, l).Verify(addr); err != nil {
		return fmt.Errorf("%w: listing: %v", ErrSeedsMismatch, err)
	}
	return nil
}

func verifyEscrowAddress(program crypto.Address, l *Listing, addr crypto.Address) error {
	if l.Escrow != addr {
		return fmt.Errorf("%w: escrow %s, expected %s", ErrSeedsMismatch, addr, l.Escrow)
	}
	if err := escrowAuthority(program, l).Verify(addr); err != nil {
		return fmt.Errorf("%w: escrow: %v", ErrSeedsMismatch, err)
	}
	return nil
}

// openEscrow allocates the escrow holding account for l. The escrow's
// transfer authority is the listing address, never an external key.
func openEscrow(txn Ledger, program crypto.Address, l *Listing) error {
	return txn.CreateTokenAccount(l.Escrow, l.Seller, l.AssetID, l.ListingID, ledger.Derived(escrowAuthority(program, l)))
}

// depositEscrow moves the seller's unit into custody under the seller's own
// signature.
func depositEscrow(txn Ledger, l *Listing, from crypto.Address) error {
	return txn.TokenTransfer(from, l.Escrow, 1, ledger.Signer(l.Seller))
}

// releaseEscrow moves the escrowed unit to to under the listing's derived
// authority.
func releaseEscrow(txn Ledger, program crypto.Address, l *Listing, to crypto.Address) error {
	return txn.TokenTransfer(l.Escrow, to, 1, ledger.Derived(listingAuthority(program, l)))
}

// EscrowBalance returns the number of asset units held by the escrow.
func EscrowBalance(txn Ledger, escrow crypto.Address) (uint64, error) {
	acc, err := txn.Account(escrow)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}
