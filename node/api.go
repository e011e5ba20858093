package node

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/oceanprotocol/ocean-node/core"
	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/crypt"
)

// maxBodyBytes caps buffered request bodies. Download responses stream
// and are unaffected.
const maxBodyBytes = 64 << 20

// api is the HTTP adapter: it turns requests into typed commands,
// dispatches them and renders the command response. All semantics live
// in the handlers; the adapter only translates.
type api struct {
	registry *core.Registry
	logger   log.Logger
}

// newAPIHandler builds the route table.
func newAPIHandler(registry *core.Registry) http.Handler {
	a := &api{registry: registry, logger: log.New("service", "http")}

	router := httprouter.New()
	router.GET("/", a.status)
	router.GET("/api/services/nonce", a.nonce)
	router.POST("/api/services/decrypt", a.decrypt)
	router.POST("/api/services/encrypt", a.encrypt)
	router.POST("/api/services/encryptFile", a.encryptFile)
	router.GET("/api/services/initialize", a.initialize)
	router.GET("/api/services/download", a.download)
	router.GET("/api/services/findDDO/:did", a.findDDO)
	router.GET("/api/aquarius/assets/ddo/:did", a.getDDO)
	return router
}

// dispatch runs a command and renders its response: error responses
// reduce to the {httpStatus, error} JSON shape, success responses pipe
// the handler's stream with its headers.
func (a *api) dispatch(w http.ResponseWriter, r *http.Request, cmd core.Commander) {
	requestID := uuid.NewString()
	a.logger.Debug("Serving request", "id", requestID, "command", cmd.Name(), "remote", r.RemoteAddr)

	resp := a.registry.Dispatch(r.Context(), cmd)
	if resp.Status.Error != "" {
		a.logger.Debug("Request failed", "id", requestID, "command", cmd.Name(),
			"status", resp.Status.HTTPStatus, "err", resp.Status.Error)
		writeStatusError(w, resp.Status.HTTPStatus, resp.Status.Error)
		return
	}
	for k, v := range resp.Status.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status.HTTPStatus)
	if resp.Stream != nil {
		if _, err := io.Copy(w, resp.Stream); err != nil {
			// Too late for a status change; the copy error only gets logged.
			a.logger.Warn("Response stream interrupted", "id", requestID, "command", cmd.Name(), "err", err)
		}
	}
}

func writeStatusError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(core.ResponseStatus{HTTPStatus: status, Error: message})
}

func (a *api) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed"))
	a.dispatch(w, r, &core.StatusCommand{
		Command:  core.Command{Command: core.CmdStatus},
		Detailed: detailed,
	})
}

func (a *api) nonce(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cmd := &core.NonceCommand{
		Command: core.Command{Command: core.CmdNonce},
		Address: r.URL.Query().Get("userAddress"),
	}
	resp := a.registry.Dispatch(r.Context(), cmd)
	if resp.Status.Error != "" {
		writeStatusError(w, resp.Status.HTTPStatus, resp.Status.Error)
		return
	}
	nonce, err := io.ReadAll(resp.Stream)
	if err != nil {
		writeStatusError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"nonce": string(nonce)})
}

func (a *api) decrypt(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd core.DecryptDDOCommand
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&cmd); err != nil {
		writeStatusError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	cmd.Command = core.Command{Command: core.CmdDecryptDDO}
	a.dispatch(w, r, &cmd)
}

func (a *api) encrypt(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeStatusError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	a.dispatch(w, r, &core.EncryptCommand{
		Command:        core.Command{Command: core.CmdEncrypt},
		Blob:           string(body),
		EncryptionType: crypt.MethodFromString(r.URL.Query().Get("encryptMethod")),
	})
}

// encryptFile accepts three physical encodings of the same operation: a
// JSON file descriptor, a raw octet-stream body, or a multipart upload.
// All three are folded into one command here so the handler sees a
// single shape regardless of how the bytes arrived.
func (a *api) encryptFile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cmd := &core.EncryptFileCommand{
		Command:        core.Command{Command: core.CmdEncryptFile},
		EncryptionType: crypt.MethodFromString(r.URL.Query().Get("encryptMethod")),
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/json":
		var file types.FileObject
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&file); err != nil {
			writeStatusError(w, http.StatusBadRequest, fmt.Sprintf("malformed file descriptor: %v", err))
			return
		}
		cmd.Files = &file
	case "multipart/form-data":
		file, _, err := r.FormFile("files")
		if err != nil {
			writeStatusError(w, http.StatusBadRequest, "multipart request has no files field")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxBodyBytes))
		if err != nil {
			writeStatusError(w, http.StatusBadRequest, "cannot read multipart file")
			return
		}
		cmd.RawData = data
	default:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeStatusError(w, http.StatusBadRequest, "cannot read request body")
			return
		}
		cmd.RawData = data
	}
	a.dispatch(w, r, cmd)
}

func (a *api) initialize(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	a.dispatch(w, r, &core.InitializeCommand{
		Command:         core.Command{Command: core.CmdInitialize},
		DocumentID:      q.Get("documentId"),
		ServiceID:       q.Get("serviceId"),
		ConsumerAddress: q.Get("consumerAddress"),
	})
}

func (a *api) download(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	fileIndex, err := strconv.Atoi(q.Get("fileIndex"))
	if err != nil {
		writeStatusError(w, http.StatusBadRequest, "fileIndex must be a number")
		return
	}
	a.dispatch(w, r, &core.DownloadCommand{
		Command:         core.Command{Command: core.CmdDownload},
		FileIndex:       fileIndex,
		DocumentID:      q.Get("documentId"),
		ServiceID:       q.Get("serviceId"),
		TransferTxID:    q.Get("transferTxId"),
		Nonce:           q.Get("nonce"),
		ConsumerAddress: q.Get("consumerAddress"),
		Signature:       q.Get("signature"),
	})
}

func (a *api) findDDO(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.dispatch(w, r, &core.FindDDOCommand{
		Command: core.Command{Command: core.CmdFindDDO},
		ID:      params.ByName("did"),
	})
}

func (a *api) getDDO(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.dispatch(w, r, &core.GetDDOCommand{
		Command: core.Command{Command: core.CmdGetDDO},
		ID:      params.ByName("did"),
	})
}
