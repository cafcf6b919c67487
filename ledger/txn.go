package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/storage"
)

// Txn is the view a single transaction has of the ledger. Reads fall through
// to committed state; writes stay in the overlay until Execute commits them.
type Txn struct {
	ledger   *Ledger
	env      Env
	now      int64
	declared map[crypto.Address]AccountMeta
	overlay  map[crypto.Address]*types.Account
	dirty    map[crypto.Address]struct{}
	meta     map[string][]byte
	events   []types.Event
}

func newTxn(l *Ledger, env Env, now int64) *Txn {
	declared := make(map[crypto.Address]AccountMeta, len(env.Accounts))
	for _, meta := range env.Accounts {
		existing, ok := declared[meta.Address]
		if ok {
			meta.Signer = meta.Signer || existing.Signer
			meta.Writable = meta.Writable || existing.Writable
		}
		declared[meta.Address] = meta
	}
	return &Txn{
		ledger:   l,
		env:      env,
		now:      now,
		declared: declared,
		overlay:  make(map[crypto.Address]*types.Account),
		dirty:    make(map[crypto.Address]struct{}),
		meta:     make(map[string][]byte),
	}
}

// Now returns the ledger timestamp assigned to the transaction.
func (t *Txn) Now() int64 { return t.now }

// Program returns the identity of the executing program.
func (t *Txn) Program() crypto.Address { return t.env.Program }

// IsSigner reports whether addr signed the transaction.
func (t *Txn) IsSigner(addr crypto.Address) bool {
	meta, ok := t.declared[addr]
	return ok && meta.Signer
}

func (t *Txn) declaration(addr crypto.Address) (AccountMeta, error) {
	meta, ok := t.declared[addr]
	if !ok {
		return AccountMeta{}, fmt.Errorf("%w: %s", ErrUndeclaredAccount, addr)
	}
	return meta, nil
}

func (t *Txn) requireWritable(addr crypto.Address) error {
	meta, err := t.declaration(addr)
	if err != nil {
		return err
	}
	if !meta.Writable {
		return fmt.Errorf("%w: %s", ErrReadOnlyAccount, addr)
	}
	return nil
}

// load returns the overlay copy of addr, pulling it from storage on first
// access. A nil account with a nil error means the address is unallocated.
func (t *Txn) load(addr crypto.Address) (*types.Account, error) {
	if _, err := t.declaration(addr); err != nil {
		return nil, err
	}
	if acc, ok := t.overlay[addr]; ok {
		return acc, nil
	}
	acc, err := t.ledger.readAccount(addr)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.overlay[addr] = acc
	return acc, nil
}

func (t *Txn) store(addr crypto.Address, acc *types.Account) {
	t.overlay[addr] = acc
	t.dirty[addr] = struct{}{}
}

// Account returns a copy of the account at addr.
func (t *Txn) Account(addr crypto.Address) (*types.Account, error) {
	acc, err := t.load(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acc.Clone(), nil
}

// Exists reports whether addr has been allocated.
func (t *Txn) Exists(addr crypto.Address) (bool, error) {
	acc, err := t.load(addr)
	if err != nil {
		return false, err
	}
	return acc != nil, nil
}

func (t *Txn) credit(addr crypto.Address, amount uint64) error {
	if err := t.requireWritable(addr); err != nil {
		return err
	}
	acc, err := t.load(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = types.NewWallet()
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc.Balance, uint256.NewInt(amount))
	if overflow {
		return ErrBalanceOverflow
	}
	acc.Balance = sum
	t.store(addr, acc)
	return nil
}

// Fund mints native currency into addr. Only host paths such as genesis and
// the faucet call it; no client instruction reaches it.
func (t *Txn) Fund(addr crypto.Address, amount uint64) error {
	return t.credit(addr, amount)
}

func (t *Txn) debit(addr crypto.Address, amount uint64) error {
	if err := t.requireWritable(addr); err != nil {
		return err
	}
	acc, err := t.load(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acc.Kind != types.AccountWallet {
		return fmt.Errorf("%w: %s is a %s account", ErrNotWallet, addr, acc.Kind)
	}
	due := uint256.NewInt(amount)
	if acc.Balance.Lt(due) {
		return fmt.Errorf("%w: %s holds %s, needs %d", ErrInsufficientFunds, addr, acc.Balance.Dec(), amount)
	}
	acc.Balance = new(uint256.Int).Sub(acc.Balance, due)
	t.store(addr, acc)
	return nil
}

// Transfer moves native currency from a signing wallet to another account.
// The recipient is allocated as a wallet when it does not exist yet.
func (t *Txn) Transfer(from, to crypto.Address, amount uint64) error {
	if err := Signer(from).authorize(t, from); err != nil {
		return err
	}
	if err := t.requireWritable(to); err != nil {
		return err
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	return t.credit(to, amount)
}

// TokenTransfer moves token units between two holding accounts of the same
// mint. auth must prove authority over the source holding's owner.
func (t *Txn) TokenTransfer(from, to crypto.Address, amount uint64, auth Authority) error {
	if err := t.requireWritable(from); err != nil {
		return err
	}
	if err := t.requireWritable(to); err != nil {
		return err
	}
	src, err := t.tokenAccount(from)
	if err != nil {
		return err
	}
	dst, err := t.tokenAccount(to)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s vs %s", ErrTokenMintMismatch, src.Mint, dst.Mint)
	}
	if auth == nil {
		return ErrUnauthorized
	}
	if err := auth.authorize(t, src.Owner); err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientTokens, from, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	src.Amount -= amount
	dst.Amount += amount
	t.store(from, src)
	t.store(to, dst)
	return nil
}

func (t *Txn) tokenAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := t.load(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acc.Kind != types.AccountToken {
		return nil, fmt.Errorf("%w: %s is a %s account", ErrNotTokenAccount, addr, acc.Kind)
	}
	return acc, nil
}

// allocate charges the deposit for space to payer and installs acc at addr.
// proof must authorise addr itself, which for derived addresses means only
// the deriving program can ever allocate them.
func (t *Txn) allocate(addr, payer crypto.Address, acc *types.Account, proof Authority) error {
	if err := t.requireWritable(addr); err != nil {
		return err
	}
	if proof == nil {
		return ErrUnauthorized
	}
	if err := proof.authorize(t, addr); err != nil {
		return err
	}
	existing, err := t.load(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	rent := t.ledger.RentFor(acc.Space)
	if rent > 0 {
		if err := Signer(payer).authorize(t, payer); err != nil {
			return err
		}
		if err := t.debit(payer, rent); err != nil {
			return err
		}
	}
	acc.Balance = uint256.NewInt(rent)
	t.store(addr, acc)
	return nil
}

// CreateAccount allocates a data account of the given size owned by owner.
func (t *Txn) CreateAccount(addr, payer, owner crypto.Address, space uint64, proof Authority) error {
	return t.allocate(addr, payer, &types.Account{Kind: types.AccountData, Owner: owner, Space: space}, proof)
}

// CreateTokenAccount allocates an empty holding account for mint whose units
// may be moved by owner.
func (t *Txn) CreateTokenAccount(addr, payer, mint, owner crypto.Address, proof Authority) error {
	mintAcc, err := t.load(mint)
	if err != nil {
		return err
	}
	if mintAcc == nil || mintAcc.Kind != types.AccountMint {
		return fmt.Errorf("%w: mint %s", ErrAccountNotFound, mint)
	}
	acc := &types.Account{Kind: types.AccountToken, Owner: owner, Mint: mint, Space: TokenAccountSpace}
	return t.allocate(addr, payer, acc, proof)
}

// SetData replaces the payload of a data account owned by the executing
// program.
func (t *Txn) SetData(addr crypto.Address, data []byte) error {
	if err := t.requireWritable(addr); err != nil {
		return err
	}
	acc, err := t.load(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if acc.Kind != types.AccountData || acc.Owner != t.env.Program {
		return fmt.Errorf("%w: %s", ErrNotProgramOwned, addr)
	}
	if uint64(len(data)) > acc.Space {
		return fmt.Errorf("%w: %d > %d", ErrDataTooLarge, len(data), acc.Space)
	}
	acc.Data = append([]byte(nil), data...)
	t.store(addr, acc)
	return nil
}

// PutMeta records a host metadata value alongside the account changes.
func (t *Txn) PutMeta(key string, value []byte) {
	t.meta[key] = append([]byte(nil), value...)
}

// HasMeta reports whether key was written by this or an earlier transaction.
func (t *Txn) HasMeta(key string) (bool, error) {
	if _, ok := t.meta[key]; ok {
		return true, nil
	}
	return t.ledger.db.Has(metaKey(key))
}

// Emit queues an event for publication once the transaction commits.
func (t *Txn) Emit(evt types.Event) {
	t.events = append(t.events, evt.Clone())
}

func (t *Txn) batch() (*storage.Batch, error) {
	batch := storage.NewBatch()
	addrs := make([]crypto.Address, 0, len(t.dirty))
	for addr := range t.dirty {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	for _, addr := range addrs {
		encoded, err := types.EncodeAccount(t.overlay[addr])
		if err != nil {
			return nil, err
		}
		batch.Put(accountKey(addr), encoded)
	}
	keys := make([]string, 0, len(t.meta))
	for key := range t.meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		batch.Put(metaKey(key), t.meta[key])
	}
	return batch, nil
}
