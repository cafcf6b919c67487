package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testProgram(t *testing.T) Address {
	t.Helper()
	key, err := PrivateKeyFromSeed(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return key.Address()
}

func TestFindDerivedAddressDeterministic(t *testing.T) {
	program := testProgram(t)
	seller := bytes.Repeat([]byte{0x01}, 32)
	asset := bytes.Repeat([]byte{0x02}, 32)

	first, firstNonce, err := FindDerivedAddress(program, []byte("listing"), seller, asset)
	require.NoError(t, err)
	second, secondNonce, err := FindDerivedAddress(program, []byte("listing"), seller, asset)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, firstNonce, secondNonce)
	require.False(t, IsOnCurve(first[:]), "derived address must not be a signing key")

	other, _, err := FindDerivedAddress(program, []byte("listing"), seller, bytes.Repeat([]byte{0x03}, 32))
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestFindDerivedAddressDependsOnProgram(t *testing.T) {
	programA := testProgram(t)
	keyB, err := GeneratePrivateKey()
	require.NoError(t, err)

	a, _, err := FindDerivedAddress(programA, []byte("escrow"), []byte("x"))
	require.NoError(t, err)
	b, _, err := FindDerivedAddress(keyB.Address(), []byte("escrow"), []byte("x"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestFindDerivedAddressReturnsHighestViableNonce(t *testing.T) {
	program := testProgram(t)
	addr, nonce, err := FindDerivedAddress(program, []byte("escrow"), []byte("listing"))
	require.NoError(t, err)

	for candidate := 255; candidate > int(nonce); candidate-- {
		_, err := CreateDerivedAddress(program, []byte("escrow"), []byte("listing"), []byte{byte(candidate)})
		require.ErrorIs(t, err, ErrOnCurve, "nonce %d should have been rejected", candidate)
	}
	recomputed, err := CreateDerivedAddress(program, []byte("escrow"), []byte("listing"), []byte{nonce})
	require.NoError(t, err)
	require.Equal(t, addr, recomputed)
}

func TestCreateDerivedAddressSeedLimits(t *testing.T) {
	program := testProgram(t)

	_, err := CreateDerivedAddress(program, bytes.Repeat([]byte{0x01}, MaxSeedLength+1))
	require.ErrorIs(t, err, ErrSeedTooLong)

	seeds := make([][]byte, MaxSeeds+1)
	for i := range seeds {
		seeds[i] = []byte{byte(i)}
	}
	_, err = CreateDerivedAddress(program, seeds...)
	require.ErrorIs(t, err, ErrTooManySeeds)

	_, _, err = FindDerivedAddress(program, seeds[:MaxSeeds]...)
	require.ErrorIs(t, err, ErrTooManySeeds)
}

func TestDerivedAuthorityVerify(t *testing.T) {
	program := testProgram(t)
	seller := bytes.Repeat([]byte{0x0A}, 32)
	addr, nonce, err := FindDerivedAddress(program, []byte("listing"), seller)
	require.NoError(t, err)

	auth := NewDerivedAuthority(program, nonce, []byte("listing"), seller)
	require.NoError(t, auth.Verify(addr))

	seller[0] = 0xFF
	require.NoError(t, auth.Verify(addr), "authority must not alias caller seeds")

	wrongNonce := NewDerivedAuthority(program, nonce-1, []byte("listing"), bytes.Repeat([]byte{0x0A}, 32))
	err = wrongNonce.Verify(addr)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAuthorityMismatch) || errors.Is(err, ErrOnCurve))

	var noProgram DerivedAuthority
	require.ErrorIs(t, noProgram.Verify(addr), ErrAuthorityNoProgram)
}

func TestSigningKeysLieOnCurve(t *testing.T) {
	for i := 0; i < 8; i++ {
		key, err := GeneratePrivateKey()
		require.NoError(t, err)
		addr := key.Address()
		require.True(t, IsOnCurve(addr[:]))
	}
}
