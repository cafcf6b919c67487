package ledger

import (
	"fmt"

	"nftmarket/crypto"
)

// Authority proves the right to act for an account. The two forms are a
// transaction signature and a program-derived capability; the ledger checks
// both the same way before moving value or allocating an address.
type Authority interface {
	authorize(txn *Txn, subject crypto.Address) error
}

type signerAuthority crypto.Address

// Signer is the authority of an externally owned key that signed the
// transaction.
func Signer(addr crypto.Address) Authority { return signerAuthority(addr) }

func (s signerAuthority) authorize(txn *Txn, subject crypto.Address) error {
	addr := crypto.Address(s)
	if addr != subject {
		return fmt.Errorf("%w: signer %s cannot act for %s", ErrUnauthorized, addr, subject)
	}
	if !txn.IsSigner(addr) {
		return fmt.Errorf("%w: %s did not sign", ErrUnauthorized, addr)
	}
	return nil
}

type derivedAuthority struct {
	capability crypto.DerivedAuthority
}

// Derived wraps a derived-address capability. Only the program named in the
// capability may present it, and only while that program is executing.
func Derived(capability crypto.DerivedAuthority) Authority {
	return derivedAuthority{capability: capability}
}

func (d derivedAuthority) authorize(txn *Txn, subject crypto.Address) error {
	if d.capability.Program != txn.env.Program {
		return fmt.Errorf("%w: capability issued for program %s", ErrUnauthorized, d.capability.Program)
	}
	if err := d.capability.Verify(subject); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
