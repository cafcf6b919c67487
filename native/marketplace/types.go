package marketplace

import "nftmarket/crypto"

// Listing is the offer record stored at the derived listing address. Seller
// never changes after creation and Active only ever moves from true to false.
type Listing struct {
	ListingID   crypto.Address
	Seller      crypto.Address
	AssetID     crypto.Address
	Escrow      crypto.Address
	Price       uint64
	CreatedAt   int64
	Active      bool
	Nonce       uint8
	EscrowNonce uint8
}

// Clone returns a copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// Status renders the lifecycle state for APIs and indexes.
func (l *Listing) Status() string {
	if l == nil {
		return ""
	}
	if l.Active {
		return StatusActive
	}
	return StatusClosed
}

const (
	StatusActive = "active"
	// StatusClosed marks a listing retired by a buy or a cancel. Indexers that
	// observe events refine it into StatusSold or StatusCancelled.
	StatusClosed    = "closed"
	StatusSold      = "sold"
	StatusCancelled = "cancelled"
)

// ListAccounts is the account bundle for List.
type ListAccounts struct {
	Seller        crypto.Address
	Asset         crypto.Address
	SellerHolding crypto.Address
	Listing       crypto.Address
	Escrow        crypto.Address
}

// BuyAccounts is the account bundle for Buy. Seller is a claim checked
// against the stored record.
type BuyAccounts struct {
	Buyer        crypto.Address
	Seller       crypto.Address
	Listing      crypto.Address
	Escrow       crypto.Address
	BuyerHolding crypto.Address
}

// CancelAccounts is the account bundle for Cancel.
type CancelAccounts struct {
	Seller        crypto.Address
	Listing       crypto.Address
	Escrow        crypto.Address
	SellerHolding crypto.Address
}
