package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/db"
)

// errWrongType is the programming-error case of a transport routing a
// payload to the wrong handler.
func errWrongType(want string, got Commander) error {
	return fmt.Errorf("%s handler received %T", want, got)
}

// statusHandler surfaces the status aggregator through the command
// vocabulary, which is how the overlay network asks "are you healthy".
type statusHandler struct {
	env *Env
}

func (h *statusHandler) Validate(cmd Commander) error {
	if _, ok := cmd.(*StatusCommand); !ok {
		return errWrongType(CmdStatus, cmd)
	}
	if h.env.Status == nil {
		return errors.New("status is not available on this node")
	}
	return nil
}

func (h *statusHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*StatusCommand)
	snapshot, err := h.env.Status.Status(ctx, c.Node, c.Detailed)
	if err != nil {
		return nil, err
	}
	return JSONResponse(snapshot), nil
}

// echoHandler answers overlay liveness probes.
type echoHandler struct{}

func (h *echoHandler) Validate(cmd Commander) error {
	if _, ok := cmd.(*EchoCommand); !ok {
		return errWrongType(CmdEcho, cmd)
	}
	return nil
}

func (h *echoHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*EchoCommand)
	msg := c.Message
	if msg == "" {
		msg = CmdEcho
	}
	return BytesResponse([]byte(msg), nil), nil
}

// nonceHandler reads the stored per-address nonce. It never advances the
// value; advancement happens when a signed request consumes it.
type nonceHandler struct {
	env *Env
}

func (h *nonceHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*NonceCommand)
	if !ok {
		return errWrongType(CmdNonce, cmd)
	}
	if !common.IsHexAddress(c.Address) {
		return fmt.Errorf("invalid address %q", c.Address)
	}
	return nil
}

func (h *nonceHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*NonceCommand)
	nonce, err := h.env.DB.Nonce(c.Address)
	if err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	return BytesResponse([]byte(nonce), nil), nil
}

// getDDOHandler returns the full stored document for a DID.
type getDDOHandler struct {
	env *Env
}

func (h *getDDOHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*GetDDOCommand)
	if !ok {
		return errWrongType(CmdGetDDO, cmd)
	}
	if c.ID == "" {
		return errors.New("missing required parameter: id")
	}
	return nil
}

func (h *getDDOHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*GetDDOCommand)
	ddo, err := h.env.DB.RetrieveDDO(c.ID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrorResponse(http.StatusBadRequest, "cannot resolve DID %s", c.ID), nil
	}
	if err != nil {
		return nil, err
	}
	return JSONResponse(ddo), nil
}

// findDDOHandler resolves a DID to its serving node and last-update info.
type findDDOHandler struct {
	env *Env
}

func (h *findDDOHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*FindDDOCommand)
	if !ok {
		return errWrongType(CmdFindDDO, cmd)
	}
	if c.ID == "" {
		return errors.New("missing required parameter: id")
	}
	return nil
}

func (h *findDDOHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*FindDDOCommand)
	ddo, err := h.env.DB.RetrieveDDO(c.ID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrorResponse(http.StatusBadRequest, "cannot resolve DID %s", c.ID), nil
	}
	if err != nil {
		return nil, err
	}
	found := types.FindDDOResponse{
		ID:       ddo.ID,
		Provider: h.env.Config.Keys.PeerID.String(),
	}
	if ddo.Event != nil {
		found.LastUpdateTx = ddo.Event.TxID
		found.LastUpdateTime = ddo.Event.Datetime
	}
	return JSONResponse(found), nil
}

// queryHandler exposes the store's prefix query to the overlay.
type queryHandler struct {
	env *Env
}

func (h *queryHandler) Validate(cmd Commander) error {
	c, ok := cmd.(*QueryCommand)
	if !ok {
		return errWrongType(CmdQuery, cmd)
	}
	if c.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func (h *queryHandler) Execute(ctx context.Context, cmd Commander) (*Response, error) {
	c := cmd.(*QueryCommand)
	ddos, err := h.env.DB.QueryDDOs(strings.TrimSpace(c.Prefix), c.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying store: %w", err)
	}
	if ddos == nil {
		ddos = []*types.DDO{}
	}
	return JSONResponse(ddos), nil
}
