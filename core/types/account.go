package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"nftmarket/crypto"
)

// AccountKind distinguishes the layouts an account can take.
type AccountKind uint8

const (
	AccountWallet AccountKind = iota // Plain native-currency account
	AccountToken                     // Holds units of a single mint
	AccountMint                      // Describes a unique asset
	AccountData                      // Program-owned record storage
)

func (k AccountKind) String() string {
	switch k {
	case AccountWallet:
		return "wallet"
	case AccountToken:
		return "token"
	case AccountMint:
		return "mint"
	case AccountData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Account is the single record kept per ledger address. The meaning of Owner
// depends on Kind: the program that may write Data for data accounts, the
// party authorised to move units for token accounts, and the creator for mint
// accounts.
type Account struct {
	Kind    AccountKind
	Balance *uint256.Int // native currency
	Owner   crypto.Address
	Mint    crypto.Address
	Amount  uint64 // token units held, or total supply for a mint
	Space   uint64 // bytes reserved for Data
	Data    []byte
}

// NewWallet returns an empty native-currency account.
func NewWallet() *Account {
	return &Account{Kind: AccountWallet, Balance: new(uint256.Int)}
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(uint256.Int).Set(a.Balance)
	} else {
		clone.Balance = new(uint256.Int)
	}
	clone.Data = append([]byte(nil), a.Data...)
	return &clone
}

// EncodeAccount serialises an account for storage.
func EncodeAccount(a *Account) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("nil account")
	}
	clone := a.Clone()
	return rlp.EncodeToBytes(clone)
}

// DecodeAccount parses a stored account.
func DecodeAccount(data []byte) (*Account, error) {
	acc := new(Account)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	return acc, nil
}
