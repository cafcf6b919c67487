package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(storage.NewMemDB())
	l.SetNowFunc(func() int64 { return 1_700_000_000 })
	return l
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func mintFor(t *testing.T, l *Ledger, creator crypto.Address, salt string) (crypto.Address, crypto.Address) {
	t.Helper()
	mint, _, err := AssetAddress(creator, []byte(salt))
	require.NoError(t, err)
	holding, _, err := HoldingAddress(creator, mint)
	require.NoError(t, err)
	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: creator, Signer: true, Writable: true},
		{Address: mint, Writable: true},
		{Address: holding, Writable: true},
	}}
	var gotMint, gotHolding crypto.Address
	_, err = l.Execute(context.Background(), env, func(txn *Txn) error {
		var err error
		gotMint, gotHolding, err = txn.MintAsset(creator, []byte(salt), "ipfs://asset/"+salt)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, mint, gotMint)
	require.Equal(t, holding, gotHolding)
	return mint, holding
}

func TestAirdropAndTransfer(t *testing.T) {
	l := newTestLedger(t)
	alice := newKey(t).Address()
	bob := newKey(t).Address()
	require.NoError(t, l.Airdrop(context.Background(), alice, 1_000))

	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: alice, Signer: true, Writable: true},
		{Address: bob, Writable: true},
	}}
	commit, err := l.Execute(context.Background(), env, func(txn *Txn) error {
		return txn.Transfer(alice, bob, 400)
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000), commit.At)

	aliceBal, err := l.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(600), aliceBal.Uint64())
	bobBal, err := l.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(400), bobBal.Uint64())
}

func TestTransferRequiresSignature(t *testing.T) {
	l := newTestLedger(t)
	alice := newKey(t).Address()
	bob := newKey(t).Address()
	require.NoError(t, l.Airdrop(context.Background(), alice, 1_000))

	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: alice, Writable: true},
		{Address: bob, Signer: true, Writable: true},
	}}
	_, err := l.Execute(context.Background(), env, func(txn *Txn) error {
		return txn.Transfer(alice, bob, 1)
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestFailedExecuteLeavesStateUntouched(t *testing.T) {
	l := newTestLedger(t)
	alice := newKey(t).Address()
	bob := newKey(t).Address()
	require.NoError(t, l.Airdrop(context.Background(), alice, 100))

	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: alice, Signer: true, Writable: true},
		{Address: bob, Writable: true},
	}}
	_, err := l.Execute(context.Background(), env, func(txn *Txn) error {
		if err := txn.Transfer(alice, bob, 60); err != nil {
			return err
		}
		return txn.Transfer(alice, bob, 60)
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	aliceBal, err := l.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(100), aliceBal.Uint64())
	_, err = l.Account(bob)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUndeclaredAndReadOnlyAccounts(t *testing.T) {
	l := newTestLedger(t)
	alice := newKey(t).Address()
	bob := newKey(t).Address()
	require.NoError(t, l.Airdrop(context.Background(), alice, 100))

	_, err := l.Execute(context.Background(), Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: alice, Signer: true, Writable: true},
	}}, func(txn *Txn) error {
		return txn.Transfer(alice, bob, 1)
	})
	require.ErrorIs(t, err, ErrUndeclaredAccount)

	_, err = l.Execute(context.Background(), Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: alice, Signer: true, Writable: true},
		{Address: bob},
	}}, func(txn *Txn) error {
		return txn.Transfer(alice, bob, 1)
	})
	require.ErrorIs(t, err, ErrReadOnlyAccount)
}

func TestMintAssetCreatesSingleUnit(t *testing.T) {
	l := newTestLedger(t)
	creator := newKey(t).Address()
	mint, holding := mintFor(t, l, creator, "alpha")

	mintAcc, err := l.Account(mint)
	require.NoError(t, err)
	require.Equal(t, types.AccountMint, mintAcc.Kind)
	require.Equal(t, uint64(1), mintAcc.Amount)
	require.Equal(t, "ipfs://asset/alpha", string(mintAcc.Data))

	held, err := l.Account(holding)
	require.NoError(t, err)
	require.Equal(t, types.AccountToken, held.Kind)
	require.Equal(t, creator, held.Owner)
	require.Equal(t, mint, held.Mint)
	require.Equal(t, uint64(1), held.Amount)
}

func TestMintAssetTwiceFails(t *testing.T) {
	l := newTestLedger(t)
	creator := newKey(t).Address()
	mint, holding := mintFor(t, l, creator, "alpha")

	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: creator, Signer: true, Writable: true},
		{Address: mint, Writable: true},
		{Address: holding, Writable: true},
	}}
	_, err := l.Execute(context.Background(), env, func(txn *Txn) error {
		_, _, err := txn.MintAsset(creator, []byte("alpha"), "ipfs://again")
		return err
	})
	require.ErrorIs(t, err, ErrAccountInUse)
}

func TestRentChargedToPayer(t *testing.T) {
	l := newTestLedger(t)
	l.SetRentPerByte(2)
	creator := newKey(t).Address()
	require.NoError(t, l.Airdrop(context.Background(), creator, 10_000))
	mint, holding := mintFor(t, l, creator, "rent")

	uri := "ipfs://asset/rent"
	expected := l.RentFor(MintAccountSpace+uint64(len(uri))) + l.RentFor(TokenAccountSpace)
	bal, err := l.Balance(creator)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000)-expected, bal.Uint64())

	mintAcc, err := l.Account(mint)
	require.NoError(t, err)
	require.Equal(t, l.RentFor(mintAcc.Space), mintAcc.Balance.Uint64())
	held, err := l.Account(holding)
	require.NoError(t, err)
	require.Equal(t, l.RentFor(TokenAccountSpace), held.Balance.Uint64())
}

func TestTokenTransferAuthorities(t *testing.T) {
	l := newTestLedger(t)
	creator := newKey(t).Address()
	other := newKey(t).Address()
	mint, holding := mintFor(t, l, creator, "beta")

	otherHolding, _, err := HoldingAddress(other, mint)
	require.NoError(t, err)
	_, err = l.Execute(context.Background(), Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: other, Signer: true, Writable: true},
		{Address: mint},
		{Address: otherHolding, Writable: true},
	}}, func(txn *Txn) error {
		_, err := txn.CreateHolding(other, other, mint)
		return err
	})
	require.NoError(t, err)

	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: creator, Signer: false},
		{Address: other, Signer: true},
		{Address: holding, Writable: true},
		{Address: otherHolding, Writable: true},
	}}
	_, err = l.Execute(context.Background(), env, func(txn *Txn) error {
		return txn.TokenTransfer(holding, otherHolding, 1, Signer(other))
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	env.Accounts[0].Signer = true
	_, err = l.Execute(context.Background(), env, func(txn *Txn) error {
		return txn.TokenTransfer(holding, otherHolding, 1, Signer(creator))
	})
	require.NoError(t, err)

	held, err := l.Account(otherHolding)
	require.NoError(t, err)
	require.Equal(t, uint64(1), held.Amount)
}

func TestDerivedAuthorityBoundToProgram(t *testing.T) {
	l := newTestLedger(t)
	program := newKey(t).Address()
	payer := newKey(t).Address()
	addr, nonce, err := crypto.FindDerivedAddress(program, []byte("record"))
	require.NoError(t, err)
	capability := crypto.NewDerivedAuthority(program, nonce, []byte("record"))

	accounts := []AccountMeta{{Address: payer, Signer: true, Writable: true}, {Address: addr, Writable: true}}

	_, err = l.Execute(context.Background(), Env{Program: SystemProgram, Accounts: accounts}, func(txn *Txn) error {
		return txn.CreateAccount(addr, payer, program, 16, Derived(capability))
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	wrong := crypto.NewDerivedAuthority(program, nonce, []byte("other"))
	_, err = l.Execute(context.Background(), Env{Program: program, Accounts: accounts}, func(txn *Txn) error {
		return txn.CreateAccount(addr, payer, program, 16, Derived(wrong))
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.Execute(context.Background(), Env{Program: program, Accounts: accounts}, func(txn *Txn) error {
		if err := txn.CreateAccount(addr, payer, program, 16, Derived(capability)); err != nil {
			return err
		}
		return txn.SetData(addr, []byte("payload"))
	})
	require.NoError(t, err)

	owned, err := l.ProgramAccounts(program)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, addr, owned[0].Address)
	require.Equal(t, []byte("payload"), owned[0].Account.Data)
}

func TestSetDataRespectsSpaceAndOwner(t *testing.T) {
	l := newTestLedger(t)
	program := newKey(t).Address()
	payer := newKey(t).Address()
	addr, nonce, err := crypto.FindDerivedAddress(program, []byte("small"))
	require.NoError(t, err)
	capability := crypto.NewDerivedAuthority(program, nonce, []byte("small"))
	accounts := []AccountMeta{{Address: payer, Signer: true, Writable: true}, {Address: addr, Writable: true}}

	_, err = l.Execute(context.Background(), Env{Program: program, Accounts: accounts}, func(txn *Txn) error {
		return txn.CreateAccount(addr, payer, program, 4, Derived(capability))
	})
	require.NoError(t, err)

	_, err = l.Execute(context.Background(), Env{Program: program, Accounts: accounts}, func(txn *Txn) error {
		return txn.SetData(addr, []byte("too large"))
	})
	require.ErrorIs(t, err, ErrDataTooLarge)

	_, err = l.Execute(context.Background(), Env{Program: SystemProgram, Accounts: accounts}, func(txn *Txn) error {
		return txn.SetData(addr, []byte("ok"))
	})
	require.ErrorIs(t, err, ErrNotProgramOwned)
}

func TestEventsReturnedOnlyOnCommit(t *testing.T) {
	l := newTestLedger(t)
	alice := newKey(t).Address()
	env := Env{Program: SystemProgram, Accounts: []AccountMeta{{Address: alice, Signer: true, Writable: true}}}

	_, err := l.Execute(context.Background(), env, func(txn *Txn) error {
		txn.Emit(types.Event{Type: "test.event"})
		return errors.New("abort")
	})
	require.Error(t, err)

	commit, err := l.Execute(context.Background(), env, func(txn *Txn) error {
		txn.Emit(types.Event{Type: "test.event", Attributes: map[string]string{"k": "v"}})
		txn.PutMeta("marker", []byte{1})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, commit.Events, 1)
	require.Equal(t, "v", commit.Events[0].Attributes["k"])

	value, ok, err := l.Meta("marker")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{1}, value)
}

func TestConcurrentTransfersSerialise(t *testing.T) {
	l := newTestLedger(t)
	alice := newKey(t).Address()
	bob := newKey(t).Address()
	require.NoError(t, l.Airdrop(context.Background(), alice, 50))

	env := Env{Program: SystemProgram, Accounts: []AccountMeta{
		{Address: alice, Signer: true, Writable: true},
		{Address: bob, Writable: true},
	}}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Execute(context.Background(), env, func(txn *Txn) error {
				return txn.Transfer(alice, bob, 1)
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, successes)
	bobBal, err := l.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(50), bobBal.Uint64())
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	l := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Execute(ctx, Env{Program: SystemProgram}, func(*Txn) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
