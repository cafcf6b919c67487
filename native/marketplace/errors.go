package marketplace

import "errors"

// Validation failures surfaced to callers. Every one aborts the enclosing
// transaction.
var (
	ErrInvalidNFT         = errors.New("marketplace: holding account must contain exactly one unit of the asset")
	ErrInvalidOwner       = errors.New("marketplace: account owner does not match expected party")
	ErrListingNotActive   = errors.New("marketplace: listing is not active")
	ErrUnauthorizedCancel = errors.New("marketplace: only the seller can cancel the listing")
)

// Account constraint failures.
var (
	ErrSeedsMismatch        = errors.New("marketplace: account does not match its derivation")
	ErrMintMismatch         = errors.New("marketplace: holding account is for a different asset")
	ErrAccountDiscriminator = errors.New("marketplace: account is not a listing record")
	ErrUnsupportedVersion   = errors.New("marketplace: unsupported listing record version")
	ErrListingExists        = errors.New("marketplace: listing record already exists for seller and asset")
	ErrMissingSigner        = errors.New("marketplace: required signature missing")
	ErrProgramMismatch      = errors.New("marketplace: transaction is not addressed to this program")
)
