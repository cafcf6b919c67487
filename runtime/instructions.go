package runtime

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
	"nftmarket/native/marketplace"
)

// ListArgs is the payload of a List instruction.
type ListArgs struct {
	Price uint64
}

// TransferArgs is the payload of a system Transfer instruction.
type TransferArgs struct {
	Amount uint64
}

// MintArgs is the payload of a system MintAsset instruction.
type MintArgs struct {
	URI  string
	Salt []byte
}

func encodeArgs(v any) []byte {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: encode instruction args: %v", err))
	}
	return encoded
}

func decodeArgs(data []byte, v any) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	return nil
}

func signerRef(addr crypto.Address) types.AccountRef {
	return types.AccountRef{Address: addr, Signer: true, Writable: true}
}

func writableRef(addr crypto.Address) types.AccountRef {
	return types.AccountRef{Address: addr, Writable: true}
}

func readonlyRef(addr crypto.Address) types.AccountRef {
	return types.AccountRef{Address: addr}
}

// NewTransferTx builds an unsigned native transfer.
func NewTransferTx(from, to crypto.Address, amount, nonce uint64) *types.Transaction {
	return &types.Transaction{
		Program:     ledger.SystemProgram,
		Instruction: types.InstructionTransfer,
		Accounts:    []types.AccountRef{signerRef(from), writableRef(to)},
		Data:        encodeArgs(&TransferArgs{Amount: amount}),
		Nonce:       nonce,
	}
}

// NewCreateHoldingTx builds an unsigned transaction allocating the canonical
// holding account of owner for mint.
func NewCreateHoldingTx(owner, mint crypto.Address, nonce uint64) (*types.Transaction, error) {
	holding, _, err := ledger.HoldingAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	return &types.Transaction{
		Program:     ledger.SystemProgram,
		Instruction: types.InstructionCreateHolding,
		Accounts:    []types.AccountRef{signerRef(owner), readonlyRef(mint), writableRef(holding)},
		Nonce:       nonce,
	}, nil
}

// NewMintAssetTx builds an unsigned transaction creating a unique asset.
func NewMintAssetTx(creator crypto.Address, salt []byte, uri string, nonce uint64) (*types.Transaction, error) {
	mint, _, err := ledger.AssetAddress(creator, salt)
	if err != nil {
		return nil, err
	}
	holding, _, err := ledger.HoldingAddress(creator, mint)
	if err != nil {
		return nil, err
	}
	return &types.Transaction{
		Program:     ledger.SystemProgram,
		Instruction: types.InstructionMintAsset,
		Accounts:    []types.AccountRef{signerRef(creator), writableRef(mint), writableRef(holding)},
		Data:        encodeArgs(&MintArgs{URI: uri, Salt: salt}),
		Nonce:       nonce,
	}, nil
}

// NewListTx builds an unsigned List transaction for the seller's canonical
// holding account.
func NewListTx(program, seller, asset crypto.Address, price, nonce uint64) (*types.Transaction, error) {
	holding, _, err := ledger.HoldingAddress(seller, asset)
	if err != nil {
		return nil, err
	}
	listing, _, err := marketplace.DeriveListing(program, seller, asset)
	if err != nil {
		return nil, err
	}
	escrow, _, err := marketplace.DeriveEscrow(program, listing)
	if err != nil {
		return nil, err
	}
	return &types.Transaction{
		Program:     program,
		Instruction: types.InstructionList,
		Accounts: []types.AccountRef{
			signerRef(seller),
			readonlyRef(asset),
			writableRef(holding),
			writableRef(listing),
			writableRef(escrow),
		},
		Data:  encodeArgs(&ListArgs{Price: price}),
		Nonce: nonce,
	}, nil
}

// NewBuyTx builds an unsigned Buy transaction against l.
func NewBuyTx(program, buyer crypto.Address, l *marketplace.Listing, nonce uint64) (*types.Transaction, error) {
	holding, _, err := ledger.HoldingAddress(buyer, l.AssetID)
	if err != nil {
		return nil, err
	}
	return &types.Transaction{
		Program:     program,
		Instruction: types.InstructionBuy,
		Accounts: []types.AccountRef{
			signerRef(buyer),
			writableRef(l.Seller),
			writableRef(l.ListingID),
			writableRef(l.Escrow),
			writableRef(holding),
		},
		Nonce: nonce,
	}, nil
}

// NewCancelTx builds an unsigned Cancel transaction against l.
func NewCancelTx(program crypto.Address, l *marketplace.Listing, nonce uint64) (*types.Transaction, error) {
	holding, _, err := ledger.HoldingAddress(l.Seller, l.AssetID)
	if err != nil {
		return nil, err
	}
	return &types.Transaction{
		Program:     program,
		Instruction: types.InstructionCancel,
		Accounts: []types.AccountRef{
			signerRef(l.Seller),
			writableRef(l.ListingID),
			writableRef(l.Escrow),
			writableRef(holding),
		},
		Nonce: nonce,
	}, nil
}
