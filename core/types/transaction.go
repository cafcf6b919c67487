package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"nftmarket/crypto"
)

// Instruction selects the handler a transaction invokes on its program.
type Instruction uint8

const (
	InstructionTransfer      Instruction = 0x01 // Native currency transfer
	InstructionCreateHolding Instruction = 0x02 // Allocate a token holding account
	InstructionMintAsset     Instruction = 0x03 // Create a unique asset
	InstructionList          Instruction = 0x10 // Place an asset into escrow for sale
	InstructionBuy           Instruction = 0x11 // Settle an active listing
	InstructionCancel        Instruction = 0x12 // Withdraw an active listing
)

func (i Instruction) String() string {
	switch i {
	case InstructionTransfer:
		return "transfer"
	case InstructionCreateHolding:
		return "create_holding"
	case InstructionMintAsset:
		return "mint_asset"
	case InstructionList:
		return "list"
	case InstructionBuy:
		return "buy"
	case InstructionCancel:
		return "cancel"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(i))
	}
}

var (
	ErrMissingSignature    = errors.New("transaction: missing signature for signer account")
	ErrInvalidSignature    = errors.New("transaction: invalid signature")
	ErrUnexpectedSignature = errors.New("transaction: signature from non-signer account")
)

// AccountRef declares one account the transaction touches.
type AccountRef struct {
	Address  crypto.Address `json:"address"`
	Signer   bool           `json:"signer,omitempty"`
	Writable bool           `json:"writable,omitempty"`
}

// Signature is an ed25519 signature over the transaction hash.
type Signature struct {
	Signer crypto.Address `json:"signer"`
	Sig    []byte         `json:"sig"`
}

// Transaction is the signed envelope submitted by clients.
type Transaction struct {
	Program     crypto.Address `json:"program"`
	Instruction Instruction    `json:"instruction"`
	Accounts    []AccountRef   `json:"accounts"`
	Data        []byte         `json:"data,omitempty"`
	Nonce       uint64         `json:"nonce"`
	Signatures  []Signature    `json:"signatures,omitempty"`
}

type unsignedTransaction struct {
	Program     crypto.Address
	Instruction uint8
	Accounts    []AccountRef
	Data        []byte
	Nonce       uint64
}

// Message returns the canonical encoding covered by signatures.
func (tx *Transaction) Message() ([]byte, error) {
	if tx == nil {
		return nil, errors.New("transaction: nil")
	}
	return rlp.EncodeToBytes(&unsignedTransaction{
		Program:     tx.Program,
		Instruction: uint8(tx.Instruction),
		Accounts:    tx.Accounts,
		Data:        tx.Data,
		Nonce:       tx.Nonce,
	})
}

// Hash is the BLAKE3 digest of the message.
func (tx *Transaction) Hash() ([32]byte, error) {
	msg, err := tx.Message()
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(msg), nil
}

// HashHex returns the hash as a hex string.
func (tx *Transaction) HashHex() (string, error) {
	hash, err := tx.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash[:]), nil
}

// Sign adds or replaces the signature for key.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("transaction: nil signing key")
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig := Signature{Signer: key.Address(), Sig: key.Sign(hash[:])}
	for i := range tx.Signatures {
		if tx.Signatures[i].Signer == sig.Signer {
			tx.Signatures[i] = sig
			return nil
		}
	}
	tx.Signatures = append(tx.Signatures, sig)
	return nil
}

// VerifySignatures checks that every signer account carries a valid signature
// and that no other signatures are attached.
func (tx *Transaction) VerifySignatures() error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sigs := make(map[crypto.Address][]byte, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		sigs[sig.Signer] = sig.Sig
	}
	signers := make(map[crypto.Address]struct{})
	for _, ref := range tx.Accounts {
		if !ref.Signer {
			continue
		}
		signers[ref.Address] = struct{}{}
		sig, ok := sigs[ref.Address]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSignature, ref.Address)
		}
		if !crypto.Verify(ref.Address, hash[:], sig) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, ref.Address)
		}
	}
	for addr := range sigs {
		if _, ok := signers[addr]; !ok {
			return fmt.Errorf("%w: %s", ErrUnexpectedSignature, addr)
		}
	}
	return nil
}
