package ledger

import (
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"

	"nftmarket/core/types"
	"nftmarket/crypto"
)

// SystemProgram is the built-in program that owns wallets, mints and holding
// accounts.
var SystemProgram = func() crypto.Address {
	var addr crypto.Address
	copy(addr[:], ethcrypto.Keccak256([]byte("nftmarket:system-program")))
	return addr
}()

var (
	holdingSeed = []byte("holding")
	assetSeed   = []byte("asset")
)

// MaxURILength bounds the metadata URI stored on a mint.
const MaxURILength = 200

var (
	ErrInvalidURI  = errors.New("ledger: invalid asset uri")
	ErrInvalidSalt = errors.New("ledger: asset salt must be 1-32 bytes")
)

// HoldingAddress returns the canonical holding account owner keeps for mint.
func HoldingAddress(owner, mint crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindDerivedAddress(SystemProgram, holdingSeed, owner[:], mint[:])
}

// AssetAddress returns the mint address a creator obtains for salt.
func AssetAddress(creator crypto.Address, salt []byte) (crypto.Address, uint8, error) {
	if len(salt) == 0 || len(salt) > crypto.MaxSeedLength {
		return crypto.Address{}, 0, ErrInvalidSalt
	}
	return crypto.FindDerivedAddress(SystemProgram, assetSeed, creator[:], salt)
}

// CreateHolding allocates the canonical holding account for owner and mint,
// paid for by payer. It must run under SystemProgram.
func (t *Txn) CreateHolding(payer, owner, mint crypto.Address) (crypto.Address, error) {
	addr, nonce, err := HoldingAddress(owner, mint)
	if err != nil {
		return crypto.Address{}, err
	}
	proof := Derived(crypto.NewDerivedAuthority(SystemProgram, nonce, holdingSeed, owner[:], mint[:]))
	if err := t.CreateTokenAccount(addr, payer, mint, owner, proof); err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// MintAsset creates a supply-one mint for creator and deposits the single
// unit into the creator's holding account. It must run under SystemProgram.
func (t *Txn) MintAsset(creator crypto.Address, salt []byte, uri string) (crypto.Address, crypto.Address, error) {
	if err := Signer(creator).authorize(t, creator); err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	uri = norm.NFC.String(strings.TrimSpace(uri))
	if uri == "" || len(uri) > MaxURILength {
		return crypto.Address{}, crypto.Address{}, fmt.Errorf("%w: length %d", ErrInvalidURI, len(uri))
	}
	mint, nonce, err := AssetAddress(creator, salt)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	proof := Derived(crypto.NewDerivedAuthority(SystemProgram, nonce, assetSeed, creator[:], salt))
	acc := &types.Account{
		Kind:   types.AccountMint,
		Owner:  creator,
		Amount: 1,
		Space:  MintAccountSpace + uint64(len(uri)),
		Data:   []byte(uri),
	}
	if err := t.allocate(mint, creator, acc, proof); err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	holding, err := t.CreateHolding(creator, creator, mint)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	held, err := t.load(holding)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	held.Amount = 1
	t.store(holding, held)
	t.Emit(types.Event{
		Type: "system.asset.minted",
		Attributes: map[string]string{
			"mint":    mint.String(),
			"creator": creator.String(),
			"holding": holding.String(),
			"uri":     uri,
		},
	})
	return mint, holding, nil
}
