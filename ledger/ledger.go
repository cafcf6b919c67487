package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/storage"
	"nftmarket/storage/trie"
)

var (
	ErrAccountNotFound    = errors.New("ledger: account not found")
	ErrAccountInUse       = errors.New("ledger: account already in use")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrInsufficientTokens = errors.New("ledger: insufficient token units")
	ErrBalanceOverflow    = errors.New("ledger: balance overflow")
	ErrUndeclaredAccount  = errors.New("ledger: account not declared by transaction")
	ErrReadOnlyAccount    = errors.New("ledger: account declared read-only")
	ErrUnauthorized       = errors.New("ledger: missing required authority")
	ErrNotTokenAccount    = errors.New("ledger: not a token holding account")
	ErrTokenMintMismatch  = errors.New("ledger: token accounts hold different mints")
	ErrNotProgramOwned    = errors.New("ledger: account not owned by executing program")
	ErrDataTooLarge       = errors.New("ledger: data exceeds reserved space")
	ErrNotWallet          = errors.New("ledger: source is not a wallet account")
)

const (
	// accountOverhead is the per-account byte cost added to reserved space when
	// computing the allocation deposit.
	accountOverhead = 128
	// TokenAccountSpace is the notional size of a token holding account.
	TokenAccountSpace = 72
	// MintAccountSpace is the notional size of a mint account, excluding its URI.
	MintAccountSpace = 82
)

var (
	accountPrefix = []byte("acct/")
	metaPrefix    = []byte("meta/")
)

func accountKey(addr crypto.Address) []byte {
	buf := make([]byte, len(accountPrefix)+crypto.AddressLength)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

func metaKey(key string) []byte {
	buf := make([]byte, len(metaPrefix)+len(key))
	copy(buf, metaPrefix)
	copy(buf[len(metaPrefix):], key)
	return buf
}

// AccountMeta declares an account a transaction touches. Signer marks
// accounts whose signature the host has already verified.
type AccountMeta struct {
	Address  crypto.Address
	Signer   bool
	Writable bool
}

// Env describes the execution context of a single transaction.
type Env struct {
	Program  crypto.Address
	Accounts []AccountMeta
}

// Commit summarises a successfully applied transaction.
type Commit struct {
	At     int64
	Events []types.Event
}

// Ledger is the account store. Every mutation happens inside Execute, which
// serialises transactions touching the same accounts and commits each one as
// a single storage batch.
type Ledger struct {
	db          storage.Database
	locks       *lockTable
	nowFn       func() int64
	rentPerByte uint64
	logger      *slog.Logger
}

// New creates a ledger over the given storage backend.
func New(db storage.Database) *Ledger {
	return &Ledger{
		db:     db,
		locks:  newLockTable(),
		nowFn:  func() int64 { return time.Now().Unix() },
		logger: slog.Default(),
	}
}

// SetNowFunc overrides the clock used for transaction timestamps. Primarily
// intended for tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetRentPerByte configures the deposit charged per reserved byte when an
// account is allocated.
func (l *Ledger) SetRentPerByte(v uint64) { l.rentPerByte = v }

// SetLogger configures the logger. Passing nil restores slog.Default().
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.logger = logger
}

// RentFor returns the allocation deposit for an account reserving space bytes.
func (l *Ledger) RentFor(space uint64) uint64 {
	return (space + accountOverhead) * l.rentPerByte
}

// Execute runs fn against a private overlay of the declared accounts. When fn
// succeeds every change is committed atomically; when it fails nothing is
// written.
func (l *Ledger) Execute(ctx context.Context, env Env, fn func(*Txn) error) (*Commit, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("ledger: storage not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release := l.locks.acquire(env.Accounts)
	defer release()

	txn := newTxn(l, env, l.nowFn())
	if err := fn(txn); err != nil {
		return nil, err
	}
	batch, err := txn.batch()
	if err != nil {
		return nil, err
	}
	if err := l.db.Write(batch); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}
	return &Commit{At: txn.now, Events: txn.events}, nil
}

// Account returns the committed state of addr.
func (l *Ledger) Account(addr crypto.Address) (*types.Account, error) {
	release := l.locks.acquire([]AccountMeta{{Address: addr}})
	defer release()
	return l.readAccount(addr)
}

func (l *Ledger) readAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeAccount(raw)
}

// Balance returns the native balance of addr, zero when the account is absent.
func (l *Ledger) Balance(addr crypto.Address) (*uint256.Int, error) {
	acc, err := l.Account(addr)
	if errors.Is(err, ErrAccountNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Address crypto.Address
	Account *types.Account
}

// ProgramAccounts returns every data account owned by program in address
// order.
func (l *Ledger) ProgramAccounts(program crypto.Address) ([]KeyedAccount, error) {
	var (
		out     []KeyedAccount
		iterErr error
	)
	err := l.db.Iterate(accountPrefix, func(key, value []byte) bool {
		acc, err := types.DecodeAccount(value)
		if err != nil {
			iterErr = err
			return false
		}
		if acc.Kind != types.AccountData || acc.Owner != program {
			return true
		}
		addr, err := crypto.BytesToAddress(key[len(accountPrefix):])
		if err != nil {
			iterErr = err
			return false
		}
		out = append(out, KeyedAccount{Address: addr, Account: acc})
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// StateRoot commits to every stored account record.
func (l *Ledger) StateRoot() (trie.Commitment, error) {
	return trie.Root(l.db, accountPrefix)
}

// Meta reads a host metadata value written through Txn.PutMeta.
func (l *Ledger) Meta(key string) ([]byte, bool, error) {
	raw, err := l.db.Get(metaKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Airdrop mints native currency into addr. It is reserved for genesis and
// development faucets.
func (l *Ledger) Airdrop(ctx context.Context, addr crypto.Address, amount uint64) error {
	env := Env{Program: SystemProgram, Accounts: []AccountMeta{{Address: addr, Writable: true}}}
	_, err := l.Execute(ctx, env, func(txn *Txn) error {
		return txn.Fund(addr, amount)
	})
	if err == nil {
		l.logger.Info("airdrop applied", slog.String("address", addr.String()), slog.Uint64("amount", amount))
	}
	return err
}
