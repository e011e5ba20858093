package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oceanprotocol/ocean-node/chain"
	"github.com/oceanprotocol/ocean-node/crypt"
)

// flagECIES selects asymmetric decryption for the document; documents
// without it were AES-encrypted by this node.
const flagECIES = 0x02

// decryptDDOHandler decrypts a previously encrypted DDO for an
// authorized decrypter.
//
// Unlike download, the response is fully materialized before returning:
// decrypted DDOs are small JSON documents and the transports render them
// as one text body. This asymmetry with download's pass-through piping is
// deliberate.
type decryptDDOHandler struct {
	env *Env
}

func (h *decryptDDOHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*DecryptDDOCommand)
	if !ok {
		return errWrongType(CmdDecryptDDO, cmd)
	}
	if !common.IsHexAddress(c.DecrypterAddress) {
		return fmt.Errorf("invalid decrypter address %q", c.DecrypterAddress)
	}
	if c.EncryptedDocument == "" {
		return errors.New("missing encrypted document")
	}
	if c.Nonce == "" {
		return errors.New("missing nonce")
	}
	if c.Signature == "" {
		return errors.New("missing signature")
	}
	return nil
}

func (h *decryptDDOHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*DecryptDDOCommand)

	if ok, _ := chain.ResolveChainRPC(h.env.Config.SupportedNetworks, c.ChainID); !ok {
		return ErrorResponse(http.StatusBadRequest, "chain %d is not supported", c.ChainID), nil
	}
	if !h.authorized(c.DecrypterAddress) {
		return ErrorResponse(http.StatusForbidden, "decrypter %s is not authorized", c.DecrypterAddress), nil
	}

	// Replay protection: the signed nonce must advance the stored one.
	advanced, err := h.env.DB.UpdateNonce(c.DecrypterAddress, c.Nonce)
	if err != nil {
		return ErrorResponse(http.StatusBadRequest, "invalid nonce: %v", err), nil
	}
	if !advanced {
		return ErrorResponse(http.StatusBadRequest, "nonce %s does not advance the stored value", c.Nonce), nil
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(c.Signature, "0x"))
	if err != nil {
		return ErrorResponse(http.StatusBadRequest, "malformed signature"), nil
	}
	message := []byte(c.TransactionID + c.DataNFTAddress + c.DecrypterAddress + fmt.Sprintf("%d", c.ChainID) + c.Nonce)
	if !chain.VerifyMessage(message, c.DecrypterAddress, sig) {
		return ErrorResponse(http.StatusBadRequest, "signature check failed"), nil
	}

	document, err := hex.DecodeString(strings.TrimPrefix(c.EncryptedDocument, "0x"))
	if err != nil {
		return ErrorResponse(http.StatusBadRequest, "malformed encrypted document"), nil
	}
	method := crypt.AES
	if c.Flags&flagECIES != 0 {
		method = crypt.ECIES
	}
	decrypted, err := h.env.Crypter.Decrypt(document, method)
	if err != nil {
		return nil, fmt.Errorf("decrypting document: %w", err)
	}

	wantHash := strings.TrimPrefix(c.DocumentHash, "0x")
	if gotHash := hex.EncodeToString(crypto.Keccak256(decrypted)); wantHash != gotHash {
		return ErrorResponse(http.StatusBadRequest, "document hash mismatch"), nil
	}
	return BytesResponse(decrypted, map[string]string{"Content-Type": "text/plain"}), nil
}

func (h *decryptDDOHandler) authorized(decrypter string) bool {
	allowed := h.env.Config.AuthorizedDecrypters
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, decrypter) {
			return true
		}
	}
	return false
}
