package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const keystoreVersion = 1

// Scrypt parameters for keystore encryption. Tests lower scryptN to keep
// runtimes short.
var (
	scryptN = 1 << 18
	scryptR = 8
	scryptP = 1
)

var ErrKeystorePassphrase = errors.New("crypto: could not decrypt keystore with given passphrase")

type keystoreFile struct {
	Version int            `json:"version"`
	Address string         `json:"address"`
	Crypto  keystoreCrypto `json:"crypto"`
}

type keystoreCrypto struct {
	KDF        string `json:"kdf"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SaveToKeystore encrypts the key seed with a passphrase-derived key and writes
// it to path. The parent directory is created with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	secret, err := deriveKeystoreKey(passphrase, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return err
	}
	sealed := secretbox.Seal(nil, key.Seed(), &nonce, secret)

	file := keystoreFile{
		Version: keystoreVersion,
		Address: key.Address().String(),
		Crypto: keystoreCrypto{
			KDF:        "scrypt",
			N:          scryptN,
			R:          scryptR,
			P:          scryptP,
			Salt:       hex.EncodeToString(salt),
			Nonce:      hex.EncodeToString(nonce[:]),
			Ciphertext: hex.EncodeToString(sealed),
		},
	}
	encoded, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromKeystore decrypts the keystore at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file keystoreFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	if file.Version != keystoreVersion {
		return nil, fmt.Errorf("crypto: unsupported keystore version %d", file.Version)
	}
	if file.Crypto.KDF != "scrypt" {
		return nil, fmt.Errorf("crypto: unsupported kdf %q", file.Crypto.KDF)
	}
	salt, err := hex.DecodeString(file.Crypto.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonceBytes, err := hex.DecodeString(file.Crypto.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, errors.New("crypto: malformed keystore nonce")
	}
	sealed, err := hex.DecodeString(file.Crypto.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	secret, err := deriveKeystoreKey(passphrase, salt, file.Crypto.N, file.Crypto.R, file.Crypto.P)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	seed, ok := secretbox.Open(nil, sealed, &nonce, secret)
	if !ok {
		return nil, ErrKeystorePassphrase
	}
	key, err := PrivateKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if file.Address != "" && key.Address().String() != file.Address {
		return nil, fmt.Errorf("crypto: keystore address mismatch")
	}
	return key, nil
}

func deriveKeystoreKey(passphrase string, salt []byte, n, r, p int) (*[32]byte, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, n, r, p, 32)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive keystore key: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)
	return &key, nil
}
