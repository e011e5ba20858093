// Package crypt implements the two encryption schemes the node offers:
// symmetric AES keyed off the node's private key, and ECIES against the
// node's public key. Both are consumed as opaque encrypt/decrypt steps by
// the command handlers.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// Method selects the encryption scheme.
type Method string

const (
	AES   Method = "aes"
	ECIES Method = "ecies"
)

// MethodFromString maps a request parameter onto a Method, defaulting to
// AES for anything unrecognized or empty.
func MethodFromString(s string) Method {
	if strings.EqualFold(s, string(ECIES)) {
		return ECIES
	}
	return AES
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == AES || m == ECIES
}

// Crypter performs encryption and decryption with the node key.
type Crypter struct {
	key    *ecdsa.PrivateKey
	aesKey [32]byte
}

// New returns a Crypter bound to the node's private key. The AES key is
// derived once, from the raw key bytes.
func New(key *ecdsa.PrivateKey) *Crypter {
	return &Crypter{
		key:    key,
		aesKey: sha256.Sum256(crypto.FromECDSA(key)),
	}
}

// Encrypt encrypts data with the selected method.
func (c *Crypter) Encrypt(data []byte, m Method) ([]byte, error) {
	switch m {
	case AES:
		return c.encryptAES(data)
	case ECIES:
		pub := ecies.ImportECDSAPublic(&c.key.PublicKey)
		return ecies.Encrypt(rand.Reader, pub, data, nil, nil)
	default:
		return nil, fmt.Errorf("unknown encrypt method %q", m)
	}
}

// Decrypt reverses Encrypt for the given method.
func (c *Crypter) Decrypt(data []byte, m Method) ([]byte, error) {
	switch m {
	case AES:
		return c.decryptAES(data)
	case ECIES:
		return ecies.ImportECDSA(c.key).Decrypt(data, nil, nil)
	default:
		return nil, fmt.Errorf("unknown encrypt method %q", m)
	}
}

// encryptAES seals data with AES-256-GCM, prepending the random nonce.
func (c *Crypter) encryptAES(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.aesKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (c *Crypter) decryptAES(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.aesKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
