package runtime

import (
	"context"
	"errors"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/marketplace"
)

// Stable error codes returned to API clients.
const (
	CodeInvalidNFT           = "InvalidNFT"
	CodeInvalidOwner         = "InvalidOwner"
	CodeListingNotActive     = "ListingNotActive"
	CodeUnauthorizedCancel   = "UnauthorizedCancel"
	CodeSeedsMismatch        = "SeedsMismatch"
	CodeMintMismatch         = "MintMismatch"
	CodeAccountDiscriminator = "AccountDiscriminator"
	CodeUnsupportedVersion   = "UnsupportedVersion"
	CodeListingExists        = "ListingExists"
	CodeMissingSigner        = "MissingSigner"
	CodeModulePaused         = "ModulePaused"
	CodeInsufficientFunds    = "InsufficientFunds"
	CodeInsufficientTokens   = "InsufficientTokens"
	CodeAccountInUse         = "AccountInUse"
	CodeAccountNotFound      = "AccountNotFound"
	CodeUndeclaredAccount    = "UndeclaredAccount"
	CodeReadOnlyAccount      = "ReadOnlyAccount"
	CodeUnauthorized         = "Unauthorized"
	CodeInvalidSignature     = "InvalidSignature"
	CodeDuplicateTransaction = "DuplicateTransaction"
	CodeUnknownProgram       = "UnknownProgram"
	CodeUnknownInstruction   = "UnknownInstruction"
	CodeMalformedTransaction = "MalformedTransaction"
	CodeCancelled            = "Cancelled"
	CodeInternal             = "Internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{marketplace.ErrInvalidNFT, CodeInvalidNFT},
	{marketplace.ErrInvalidOwner, CodeInvalidOwner},
	{marketplace.ErrListingNotActive, CodeListingNotActive},
	{marketplace.ErrUnauthorizedCancel, CodeUnauthorizedCancel},
	{marketplace.ErrSeedsMismatch, CodeSeedsMismatch},
	{marketplace.ErrMintMismatch, CodeMintMismatch},
	{marketplace.ErrAccountDiscriminator, CodeAccountDiscriminator},
	{marketplace.ErrUnsupportedVersion, CodeUnsupportedVersion},
	{marketplace.ErrListingExists, CodeListingExists},
	{marketplace.ErrMissingSigner, CodeMissingSigner},
	{marketplace.ErrProgramMismatch, CodeUnknownProgram},
	{nativecommon.ErrModulePaused, CodeModulePaused},
	{ledger.ErrInsufficientFunds, CodeInsufficientFunds},
	{ledger.ErrInsufficientTokens, CodeInsufficientTokens},
	{ledger.ErrAccountInUse, CodeAccountInUse},
	{ledger.ErrAccountNotFound, CodeAccountNotFound},
	{ledger.ErrUndeclaredAccount, CodeUndeclaredAccount},
	{ledger.ErrReadOnlyAccount, CodeReadOnlyAccount},
	{ledger.ErrUnauthorized, CodeUnauthorized},
	{ledger.ErrInvalidURI, CodeMalformedTransaction},
	{ledger.ErrInvalidSalt, CodeMalformedTransaction},
	{types.ErrMissingSignature, CodeInvalidSignature},
	{types.ErrInvalidSignature, CodeInvalidSignature},
	{types.ErrUnexpectedSignature, CodeInvalidSignature},
	{crypto.ErrInvalidAddress, CodeMalformedTransaction},
	{ErrDuplicateTransaction, CodeDuplicateTransaction},
	{ErrUnknownProgram, CodeUnknownProgram},
	{ErrUnknownInstruction, CodeUnknownInstruction},
	{ErrMalformedTransaction, CodeMalformedTransaction},
	{context.Canceled, CodeCancelled},
	{context.DeadlineExceeded, CodeCancelled},
}

// Code maps err onto its stable code. Unknown errors map to CodeInternal and
// nil maps to the empty string.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// IsClientError reports whether err was caused by the submitted transaction
// rather than by the node.
func IsClientError(err error) bool {
	code := Code(err)
	return code != "" && code != CodeInternal && code != CodeCancelled
}
