package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oceanprotocol/ocean-node/chain"
	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/db"
)

// defaultFeeValidity bounds a provider fee quote when the service does
// not define its own timeout.
const defaultFeeValidity = time.Hour

// initializePlan is the response body of the initialize flow.
type initializePlan struct {
	Datatoken   string             `json:"datatoken"`
	Nonce       string             `json:"nonce"`
	ProviderFee *types.ProviderFee `json:"providerFee"`
}

// initializeHandler prepares a data-access session. It only plans: the
// consumer later submits the on-chain order transaction with the signed
// fee, so nothing here mutates chain state.
type initializeHandler struct {
	env *Env
}

func (h *initializeHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*InitializeCommand)
	if !ok {
		return errWrongType(CmdInitialize, cmd)
	}
	switch {
	case c.DocumentID == "":
		return errors.New("missing required parameter: documentId")
	case c.ServiceID == "":
		return errors.New("missing required parameter: serviceId")
	case !common.IsHexAddress(c.ConsumerAddress):
		return fmt.Errorf("invalid consumer address %q", c.ConsumerAddress)
	}
	return nil
}

func (h *initializeHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*InitializeCommand)

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
			"use the initializeCompute endpoint to initialize compute jobs"), nil
	}

	nonce, err := h.env.DB.Nonce(c.ConsumerAddress)
	if err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}

	validity := defaultFeeValidity
	if service.Timeout > 0 {
		validity = time.Duration(service.Timeout) * time.Second
	}
	fee, err := chain.CalculateProviderFee(ctx, h.signerFor(ddo.ChainID), h.env.Config, ddo, c.ServiceID,
		uint64(time.Now().Add(validity).Unix()))
	if err != nil {
		return nil, fmt.Errorf("computing provider fee: %w", err)
	}

	return JSONResponse(initializePlan{
		Datatoken:   service.DatatokenAddress,
		Nonce:       nonce,
		ProviderFee: fee,
	}), nil
}

// signerFor prefers the long-lived connection's signer; chains the node
// knows but has no connection for get an offline signer (fee decimals
// then fall back to the default).
func (h *initializeHandler) signerFor(chainID uint64) *chain.Signer {
	if conn, ok := h.env.Chains.Get(chainID); ok {
		if s := conn.Signer(); s != nil {
			return s
		}
	}
	return chain.NewSigner(h.env.Config.Keys.PrivateKey, chainID, nil)
}
