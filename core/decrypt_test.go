package core

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanprotocol/ocean-node/crypt"
)

// signText is the consumer side of the signature checks: a personal-sign
// over the concatenated request fields.
func signText(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	return hex.EncodeToString(sig)
}

// sealedDecryptCommand builds a complete, correctly signed decryptDDO
// command over doc, encrypted by the node with the given method.
func sealedDecryptCommand(t *testing.T, env *Env, decrypter *ecdsa.PrivateKey, doc []byte, method crypt.Method, nonce string) *DecryptDDOCommand {
	t.Helper()
	sealed, err := env.Crypter.Encrypt(doc, method)
	require.NoError(t, err)

	var flags uint8
	if method == crypt.ECIES {
		flags = flagECIES
	}
	c := &DecryptDDOCommand{
		Command:           Command{Command: CmdDecryptDDO},
		DecrypterAddress:  crypto.PubkeyToAddress(decrypter.PublicKey).Hex(),
		ChainID:           8996,
		TransactionID:     "0xabc",
		DataNFTAddress:    "0x0000000000000000000000000000000000000001",
		EncryptedDocument: hex.EncodeToString(sealed),
		Flags:             flags,
		DocumentHash:      hex.EncodeToString(crypto.Keccak256(doc)),
		Nonce:             nonce,
	}
	message := c.TransactionID + c.DataNFTAddress + c.DecrypterAddress + fmt.Sprintf("%d", c.ChainID) + c.Nonce
	c.Signature = signText(t, decrypter, message)
	return c
}

func TestDecryptDDO(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)
	doc := []byte(`{"id":"did:op:abc","chainId":8996}`)

	resp := r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.AES, "1"))
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus, resp.Status.Error)
	assert.Equal(t, doc, readBody(t, resp))
	assert.Equal(t, "text/plain", resp.Status.Headers["Content-Type"])
}

func TestDecryptDDOECIESFlag(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)
	doc := []byte(`{"id":"did:op:ecies"}`)

	resp := r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.ECIES, "1"))
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus, resp.Status.Error)
	assert.Equal(t, doc, readBody(t, resp))
}

func TestDecryptDDOUnsupportedChain(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)

	cmd := sealedDecryptCommand(t, env, decrypter, []byte("doc"), crypt.AES, "1")
	cmd.ChainID = 1337
	resp := r.Dispatch(context.Background(), cmd)
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)
	assert.Contains(t, resp.Status.Error, "not supported")
}

func TestDecryptDDOUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.Config.AuthorizedDecrypters = []string{"0x000000000000000000000000000000000000dEaD"}
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, []byte("doc"), crypt.AES, "1"))
	assert.Equal(t, http.StatusForbidden, resp.Status.HTTPStatus)
}

// The decrypter allow-list is case-insensitive; checksummed and
// lowercased forms of the same address both pass.
func TestDecryptDDOAllowListCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(decrypter.PublicKey).Hex()
	env.Config.AuthorizedDecrypters = []string{"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", strings.ToLower(addr)}

	doc := []byte("doc")
	resp := r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.AES, "1"))
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus, resp.Status.Error)
	assert.Equal(t, doc, readBody(t, resp))
}

func TestDecryptDDONonceReplay(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)
	doc := []byte("doc")

	resp := r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.AES, "5"))
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus, resp.Status.Error)

	// Replaying the same nonce, and anything below it, must be rejected.
	resp = r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.AES, "5"))
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)
	assert.Contains(t, resp.Status.Error, "does not advance")

	resp = r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.AES, "3"))
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)

	resp = r.Dispatch(context.Background(), sealedDecryptCommand(t, env, decrypter, doc, crypt.AES, "6"))
	assert.Equal(t, http.StatusOK, resp.Status.HTTPStatus, resp.Status.Error)
}

func TestDecryptDDOBadSignature(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)

	cmd := sealedDecryptCommand(t, env, decrypter, []byte("doc"), crypt.AES, "1")
	message := cmd.TransactionID + cmd.DataNFTAddress + cmd.DecrypterAddress + "8996" + cmd.Nonce
	cmd.Signature = signText(t, stranger, message)
	resp := r.Dispatch(context.Background(), cmd)
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)
	assert.Contains(t, resp.Status.Error, "signature check failed")
}

func TestDecryptDDOHashMismatch(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	decrypter, err := crypto.GenerateKey()
	require.NoError(t, err)

	cmd := sealedDecryptCommand(t, env, decrypter, []byte("doc"), crypt.AES, "1")
	cmd.DocumentHash = hex.EncodeToString(crypto.Keccak256([]byte("other")))
	resp := r.Dispatch(context.Background(), cmd)
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)
	assert.Contains(t, resp.Status.Error, "hash mismatch")
}
