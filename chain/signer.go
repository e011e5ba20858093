package chain

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the node's key-bound identity on one chain. It is created
// together with the provider it is bound to and replaced with it during
// failover.
type Signer struct {
	key      *ecdsa.PrivateKey
	chainID  uint64
	provider Provider
}

// NewSigner binds the node key to a provider. Exposed for one-off
// providers; long-lived signers come from a Connection.
func NewSigner(key *ecdsa.PrivateKey, chainID uint64, provider Provider) *Signer {
	return &Signer{key: key, chainID: chainID, provider: provider}
}

// Address returns the signer's chain address.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// ChainID returns the chain the signer is bound to.
func (s *Signer) ChainID() uint64 {
	return s.chainID
}

// Provider returns the provider this signer is bound to.
func (s *Signer) Provider() Provider {
	return s.provider
}

// SignMessage signs an EIP-191 personal message.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	return crypto.Sign(accounts.TextHash(msg), s.key)
}

// SignHash signs a prepared 32-byte digest.
func (s *Signer) SignHash(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.key)
}

// VerifyMessage checks that signature over message was produced by
// address. Errors and malformed inputs report false, never panic.
func VerifyMessage(message []byte, address string, signature []byte) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	if len(signature) != crypto.SignatureLength {
		return false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	// Accept both raw (0/1) and Ethereum (27/28) recovery ids.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(address)
}
