package marketplace

import (
	"errors"
	"sort"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
)

// Store is the read side of the ledger used for listing lookups outside a
// transaction.
type Store interface {
	Account(addr crypto.Address) (*types.Account, error)
	ProgramAccounts(program crypto.Address) ([]ledger.KeyedAccount, error)
}

// Lookup reads the committed listing at addr.
func Lookup(store Store, program, addr crypto.Address) (*Listing, error) {
	acc, err := store.Account(addr)
	if err != nil {
		return nil, err
	}
	listing, err := ListingFromAccount(program, acc)
	if err != nil {
		return nil, err
	}
	if err := verifyListingAddress(program, listing, addr); err != nil {
		return nil, err
	}
	return listing, nil
}

// Scan returns every listing owned by program, newest first. Records that do
// not carry the listing discriminator are skipped.
func Scan(store Store, program crypto.Address, activeOnly bool) ([]*Listing, error) {
	accounts, err := store.ProgramAccounts(program)
	if err != nil {
		return nil, err
	}
	out := make([]*Listing, 0, len(accounts))
	for _, keyed := range accounts {
		listing, err := ListingFromAccount(program, keyed.Account)
		if errors.Is(err, ErrAccountDiscriminator) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if verifyListingAddress(program, listing, keyed.Address) != nil {
			continue
		}
		if activeOnly && !listing.Active {
			continue
		}
		out = append(out, listing)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ListingID.Less(out[j].ListingID)
	})
	return out, nil
}
