package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oceanprotocol/ocean-node/chain"
	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/crypt"
	"github.com/oceanprotocol/ocean-node/db"
)

// downloadHandler serves one file of a resolved document's service.
//
// The success response pipes the source stream straight through with the
// upstream headers; it is never buffered, so arbitrarily large assets
// cost constant memory.
type downloadHandler struct {
	env *Env
}

func (h *downloadHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*DownloadCommand)
	if !ok {
		return errWrongType(CmdDownload, cmd)
	}
	switch {
	case c.DocumentID == "":
		return errors.New("missing required parameter: documentId")
	case c.ServiceID == "":
		return errors.New("missing required parameter: serviceId")
	case c.Nonce == "":
		return errors.New("missing required parameter: nonce")
	case c.Signature == "":
		return errors.New("missing required parameter: signature")
	case c.FileIndex < 0:
		return errors.New("fileIndex must not be negative")
	case !common.IsHexAddress(c.ConsumerAddress):
		return fmt.Errorf("invalid consumer address %q", c.ConsumerAddress)
	}
	return nil
}

func (h *downloadHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*DownloadCommand)

	ddo, err := h.env.DB.RetrieveDDO(c.DocumentID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrorResponse(http.StatusBadRequest, "cannot resolve DID %s", c.DocumentID), nil
	}
	if err != nil {
		return nil, err
	}
	service := ddo.Service(c.ServiceID)
	if service == nil {
		return ErrorResponse(http.StatusBadRequest, "invalid serviceId %s", c.ServiceID), nil
	}
	if service.Type == types.ServiceTypeCompute {
		return ErrorResponse(http.StatusBadRequest,
			"service %s is of type compute; use the initializeCompute endpoint instead of download", c.ServiceID), nil
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(c.Signature, "0x"))
	if err != nil {
		return ErrorResponse(http.StatusBadRequest, "malformed signature"), nil
	}
	if !chain.VerifyMessage([]byte(c.DocumentID+c.Nonce), c.ConsumerAddress, sig) {
		return ErrorResponse(http.StatusBadRequest, "signature check failed"), nil
	}
	advanced, err := h.env.DB.UpdateNonce(c.ConsumerAddress, c.Nonce)
	if err != nil {
		return ErrorResponse(http.StatusBadRequest, "invalid nonce: %v", err), nil
	}
	if !advanced {
		return ErrorResponse(http.StatusBadRequest, "nonce %s does not advance the stored value", c.Nonce), nil
	}

	files, err := h.serviceFiles(service.Files)
	if err != nil {
		return nil, fmt.Errorf("unsealing service files for %s: %w", ddo.ID, err)
	}
	if c.FileIndex >= len(files.Files) {
		return ErrorResponse(http.StatusBadRequest, "fileIndex %d out of range (%d files)", c.FileIndex, len(files.Files)), nil
	}

	stream, headers, err := h.env.openFile(ctx, &files.Files[c.FileIndex])
	if err != nil {
		return nil, err
	}
	return StreamResponse(stream, headers), nil
}

// serviceFiles unseals a service's files blob: hex-encoded, ECIES
// encrypted against this node's key at publish time.
func (h *downloadHandler) serviceFiles(sealed string) (*types.FileList, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sealed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("files blob is not hex: %w", err)
	}
	plain, err := h.env.Crypter.Decrypt(raw, crypt.ECIES)
	if err != nil {
		return nil, err
	}
	payload := new(types.FileList)
	if err := json.Unmarshal(plain, payload); err != nil {
		return nil, fmt.Errorf("files blob is not valid JSON: %w", err)
	}
	if len(payload.Files) == 0 {
		return nil, errors.New("service has no files")
	}
	return payload, nil
}

// downloadURLHandler streams a raw file descriptor without document
// resolution. It rides only on the overlay, where the caller is another
// node that already performed the checks.
type downloadURLHandler struct {
	env *Env
}

func (h *downloadURLHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*DownloadURLCommand)
	if !ok {
		return errWrongType(CmdDownloadURL, cmd)
	}
	if c.File == nil {
		return errors.New("missing file descriptor")
	}
	return nil
}

func (h *downloadURLHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*DownloadURLCommand)
	stream, headers, err := h.env.openFile(ctx, c.File)
	if err != nil {
		return nil, err
	}
	return StreamResponse(stream, headers), nil
}
