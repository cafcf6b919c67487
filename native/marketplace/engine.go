package marketplace

import (
	"errors"
	"fmt"
	"log/slog"

	"nftmarket/core/events"
	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
	nativecommon "nftmarket/native/common"
)

// Ledger is the contract the marketplace needs from its host. *ledger.Txn
// satisfies it; every call made through it lands in the same atomic unit.
type Ledger interface {
	Now() int64
	Program() crypto.Address
	IsSigner(addr crypto.Address) bool
	Account(addr crypto.Address) (*types.Account, error)
	CreateAccount(addr, payer, owner crypto.Address, space uint64, proof ledger.Authority) error
	CreateTokenAccount(addr, payer, mint, owner crypto.Address, proof ledger.Authority) error
	SetData(addr crypto.Address, data []byte) error
	Transfer(from, to crypto.Address, amount uint64) error
	TokenTransfer(from, to crypto.Address, amount uint64, auth ledger.Authority) error
	events.Emitter
}

var _ Ledger = (*ledger.Txn)(nil)

// Engine implements the List, Buy and Cancel transitions for one program
// identity. It holds no state of its own; everything it reads or writes goes
// through the Ledger handed to each call.
type Engine struct {
	program crypto.Address
	pauses  nativecommon.PauseView
	logger  *slog.Logger
}

// NewEngine creates an engine answering for program.
func NewEngine(program crypto.Address) *Engine {
	return &Engine{program: program, logger: slog.Default()}
}

// Program returns the identity the engine answers for.
func (e *Engine) Program() crypto.Address { return e.program }

// SetPauses wires the pause switch consulted before every transition.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetLogger configures the engine logger. Passing nil restores slog.Default().
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) begin(txn Ledger) error {
	if txn == nil {
		return errors.New("marketplace: ledger not configured")
	}
	if txn.Program() != e.program {
		return fmt.Errorf("%w: %s", ErrProgramMismatch, txn.Program())
	}
	return nativecommon.Guard(e.pauses, nativecommon.ModuleMarketplace)
}

// List places the seller's single unit of the asset into a fresh escrow and
// records the offer.
func (e *Engine) List(txn Ledger, accts ListAccounts, price uint64) (*Listing, error) {
	if err := e.begin(txn); err != nil {
		return nil, err
	}
	if !txn.IsSigner(accts.Seller) {
		return nil, fmt.Errorf("%w: seller %s", ErrMissingSigner, accts.Seller)
	}
	listingAddr, nonce, err := DeriveListing(e.program, accts.Seller, accts.Asset)
	if err != nil {
		return nil, err
	}
	if listingAddr != accts.Listing {
		return nil, fmt.Errorf("%w: listing %s, expected %s", ErrSeedsMismatch, accts.Listing, listingAddr)
	}
	escrowAddr, escrowNonce, err := DeriveEscrow(e.program, listingAddr)
	if err != nil {
		return nil, err
	}
	if escrowAddr != accts.Escrow {
		return nil, fmt.Errorf("%w: escrow %s, expected %s", ErrSeedsMismatch, accts.Escrow, escrowAddr)
	}

	holding, err := txn.Account(accts.SellerHolding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNFT, err)
	}
	if holding.Kind != types.AccountToken || holding.Mint != accts.Asset || holding.Amount != 1 {
		return nil, fmt.Errorf("%w: %s holds %d of %s", ErrInvalidNFT, accts.SellerHolding, holding.Amount, holding.Mint)
	}
	if holding.Owner != accts.Seller {
		return nil, fmt.Errorf("%w: holding owned by %s", ErrInvalidOwner, holding.Owner)
	}
	if existing, err := txn.Account(listingAddr); err == nil {
		if _, decodeErr := ListingFromAccount(e.program, existing); decodeErr == nil {
			return nil, fmt.Errorf("%w: %s", ErrListingExists, listingAddr)
		}
	} else if !errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, err
	}

	if price == 0 {
		e.logger.Warn("listing created with zero price",
			slog.String("seller", accts.Seller.String()),
			slog.String("asset", accts.Asset.String()))
	}

	listing := &Listing{
		ListingID:   listingAddr,
		Seller:      accts.Seller,
		AssetID:     accts.Asset,
		Escrow:      escrowAddr,
		Price:       price,
		CreatedAt:   txn.Now(),
		Active:      true,
		Nonce:       nonce,
		EscrowNonce: escrowNonce,
	}
	proof := ledger.Derived(listingAuthority(e.program, listing))
	if err := txn.CreateAccount(listingAddr, accts.Seller, e.program, ListingSpace, proof); err != nil {
		return nil, err
	}
	if err := e.store(txn, listing); err != nil {
		return nil, err
	}
	if err := openEscrow(txn, e.program, listing); err != nil {
		return nil, err
	}
	if err := depositEscrow(txn, listing, accts.SellerHolding); err != nil {
		return nil, err
	}
	txn.Emit(NewListingCreatedEvent(listing))
	return listing, nil
}

// Buy pays the seller and hands the escrowed unit to the buyer.
func (e *Engine) Buy(txn Ledger, accts BuyAccounts) (*Listing, error) {
	if err := e.begin(txn); err != nil {
		return nil, err
	}
	if !txn.IsSigner(accts.Buyer) {
		return nil, fmt.Errorf("%w: buyer %s", ErrMissingSigner, accts.Buyer)
	}
	listing, err := e.load(txn, accts.Listing)
	if err != nil {
		return nil, err
	}
	if !listing.Active {
		return nil, ErrListingNotActive
	}
	if accts.Seller != listing.Seller {
		return nil, fmt.Errorf("%w: claimed seller %s, listed by %s", ErrInvalidOwner, accts.Seller, listing.Seller)
	}
	if err := verifyEscrowAddress(e.program, listing, accts.Escrow); err != nil {
		return nil, err
	}
	if err := e.checkHolding(txn, accts.BuyerHolding, listing.AssetID, accts.Buyer); err != nil {
		return nil, err
	}

	if err := txn.Transfer(accts.Buyer, listing.Seller, listing.Price); err != nil {
		return nil, err
	}
	if err := releaseEscrow(txn, e.program, listing, accts.BuyerHolding); err != nil {
		return nil, err
	}
	listing.Active = false
	if err := e.store(txn, listing); err != nil {
		return nil, err
	}
	txn.Emit(NewListingSoldEvent(listing, accts.Buyer))
	return listing, nil
}

// Cancel returns the escrowed unit to the seller and retires the listing.
func (e *Engine) Cancel(txn Ledger, accts CancelAccounts) (*Listing, error) {
	if err := e.begin(txn); err != nil {
		return nil, err
	}
	listing, err := e.load(txn, accts.Listing)
	if err != nil {
		return nil, err
	}
	if accts.Seller != listing.Seller || !txn.IsSigner(accts.Seller) {
		return nil, fmt.Errorf("%w: requested by %s", ErrUnauthorizedCancel, accts.Seller)
	}
	if !listing.Active {
		return nil, ErrListingNotActive
	}
	if err := verifyEscrowAddress(e.program, listing, accts.Escrow); err != nil {
		return nil, err
	}
	if err := e.checkHolding(txn, accts.SellerHolding, listing.AssetID, listing.Seller); err != nil {
		return nil, err
	}

	if err := releaseEscrow(txn, e.program, listing, accts.SellerHolding); err != nil {
		return nil, err
	}
	listing.Active = false
	if err := e.store(txn, listing); err != nil {
		return nil, err
	}
	txn.Emit(NewListingCancelledEvent(listing))
	return listing, nil
}

// Get loads and validates the listing at addr.
func (e *Engine) Get(txn Ledger, addr crypto.Address) (*Listing, error) {
	return e.load(txn, addr)
}

func (e *Engine) load(txn Ledger, addr crypto.Address) (*Listing, error) {
	acc, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	listing, err := ListingFromAccount(e.program, acc)
	if err != nil {
		return nil, err
	}
	if err := verifyListingAddress(e.program, listing, addr); err != nil {
		return nil, err
	}
	return listing, nil
}

func (e *Engine) store(txn Ledger, listing *Listing) error {
	encoded, err := EncodeListing(listing)
	if err != nil {
		return err
	}
	return txn.SetData(listing.ListingID, encoded)
}

func (e *Engine) checkHolding(txn Ledger, addr, asset, owner crypto.Address) error {
	holding, err := txn.Account(addr)
	if err != nil {
		return err
	}
	if holding.Kind != types.AccountToken || holding.Mint != asset {
		return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, addr, holding.Mint)
	}
	if holding.Owner != owner {
		return fmt.Errorf("%w: holding owned by %s", ErrInvalidOwner, holding.Owner)
	}
	return nil
}
