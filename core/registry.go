package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oceanprotocol/ocean-node/chain"
	"github.com/oceanprotocol/ocean-node/config"
	"github.com/oceanprotocol/ocean-node/crypt"
	"github.com/oceanprotocol/ocean-node/db"
)

// StatusProvider is the status aggregator as seen from the command layer.
// Implemented by node.StatusCache.
type StatusProvider interface {
	Status(ctx context.Context, nodeID string, detailed bool) (any, error)
}

// Env bundles the collaborators handlers execute against.
type Env struct {
	Config  *config.Config
	DB      *db.Database
	Chains  chain.Connections
	Crypter *crypt.Crypter
	Status  StatusProvider
}

// Handler is the capability set every command implements. Validate is
// pure: it inspects the command and performs no I/O. Execute may read the
// store, call the chain connection manager, invoke crypto or open a byte
// stream; it honors the deadline on ctx.
type Handler interface {
	Validate(cmd Commander) error
	Execute(ctx context.Context, cmd Commander) (*Response, error)
}

// Registry maps command names to handlers, resolved once at startup.
type Registry struct {
	env      *Env
	handlers map[string]Handler
	logger   log.Logger
}

// NewRegistry builds the registry with every built-in handler bound.
func NewRegistry(env *Env) *Registry {
	r := &Registry{
		env:      env,
		handlers: make(map[string]Handler),
		logger:   log.New("service", "core"),
	}
	r.Register(CmdStatus, &statusHandler{env})
	r.Register(CmdEcho, &echoHandler{})
	r.Register(CmdNonce, &nonceHandler{env})
	r.Register(CmdDownload, &downloadHandler{env})
	r.Register(CmdDownloadURL, &downloadURLHandler{env})
	r.Register(CmdEncrypt, &encryptHandler{env})
	r.Register(CmdEncryptFile, &encryptFileHandler{env})
	r.Register(CmdDecryptDDO, &decryptDDOHandler{env})
	r.Register(CmdGetDDO, &getDDOHandler{env})
	r.Register(CmdFindDDO, &findDDOHandler{env})
	r.Register(CmdQuery, &queryHandler{env})
	r.Register(CmdInitialize, &initializeHandler{env})
	return r
}

// Register binds a handler to a command name. Double registration and
// names outside the vocabulary are programming errors caught at startup,
// not at request time.
func (r *Registry) Register(name string, h Handler) {
	if !SupportedCommands.Contains(name) {
		panic(fmt.Sprintf("core: command %q is not in the vocabulary", name))
	}
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("core: duplicate handler registration for %q", name))
	}
	r.handlers[name] = h
}

// Handler returns the handler bound to a command name.
func (r *Registry) Handler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Dispatch routes a command to its handler: lookup, validate, then
// execute inside a fault boundary. It never panics and never returns nil;
// every failure reduces to a status-only response.
func (r *Registry) Dispatch(ctx context.Context, cmd Commander) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Command handler panicked", "command", cmd.Name(), "panic", rec)
			resp = ErrorResponse(http.StatusInternalServerError, "internal error while handling %s", cmd.Name())
		}
	}()

	h, ok := r.handlers[cmd.Name()]
	if !ok {
		return ErrorResponse(http.StatusBadRequest, "unsupported command %q", cmd.Name())
	}
	if err := h.Validate(cmd); err != nil {
		return ErrorResponse(http.StatusBadRequest, "%v", err)
	}
	resp, err := h.Execute(ctx, cmd)
	if err != nil {
		r.logger.Warn("Command failed", "command", cmd.Name(), "err", err)
		return ErrorResponse(http.StatusInternalServerError, "%v", err)
	}
	if resp == nil {
		return ErrorResponse(http.StatusInternalServerError, "handler for %s returned no response", cmd.Name())
	}
	return resp
}

// ParseCommand decodes a wire payload into the typed command for name.
// Used by the overlay adapter, where the command name arrives inside the
// JSON envelope.
func ParseCommand(name string, raw []byte) (Commander, error) {
	var (
		cmd Commander
		err error
	)
	switch name {
	case CmdStatus:
		cmd, err = decode[StatusCommand](raw)
	case CmdEcho:
		cmd, err = decode[EchoCommand](raw)
	case CmdNonce:
		cmd, err = decode[NonceCommand](raw)
	case CmdDownload:
		cmd, err = decode[DownloadCommand](raw)
	case CmdDownloadURL:
		cmd, err = decode[DownloadURLCommand](raw)
	case CmdEncrypt:
		cmd, err = decode[EncryptCommand](raw)
	case CmdEncryptFile:
		cmd, err = decode[EncryptFileCommand](raw)
	case CmdDecryptDDO:
		cmd, err = decode[DecryptDDOCommand](raw)
	case CmdGetDDO:
		cmd, err = decode[GetDDOCommand](raw)
	case CmdFindDDO:
		cmd, err = decode[FindDDOCommand](raw)
	case CmdQuery:
		cmd, err = decode[QueryCommand](raw)
	case CmdInitialize:
		cmd, err = decode[InitializeCommand](raw)
	default:
		return nil, fmt.Errorf("unsupported command %q", name)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func decode[T any](raw []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("malformed command payload: %w", err)
	}
	return v, nil
}
