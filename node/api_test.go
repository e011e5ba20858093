package node

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanprotocol/ocean-node/core"
	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/crypt"
	"github.com/oceanprotocol/ocean-node/db"
)

type apiFixture struct {
	server  *httptest.Server
	env     *core.Env
	crypter *crypt.Crypter
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := testConfig(t)
	database := db.NewInMemory()
	crypter := crypt.New(cfg.Keys.PrivateKey)
	env := &core.Env{
		Config:  cfg,
		DB:      database,
		Crypter: crypter,
		Status:  NewStatusCache(cfg, database),
	}
	server := httptest.NewServer(newHTTPHandlerStack(newAPIHandler(core.NewRegistry(env)), nil))
	t.Cleanup(server.Close)
	return &apiFixture{server: server, env: env, crypter: crypter}
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r).Decode(v))
}

func TestAPIStatusRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status Status
	decodeJSON(t, resp.Body, &status)
	assert.Equal(t, f.env.Config.Keys.PeerID.String(), status.ID)
	assert.Empty(t, status.SupportedSchemas)

	resp, err = http.Get(f.server.URL + "/?detailed=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	decodeJSON(t, resp.Body, &status)
	assert.Equal(t, db.DDOSchemas, status.SupportedSchemas)
}

func TestAPINonceRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/api/services/nonce?userAddress=0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp.Body, &body)
	assert.Equal(t, "0", body["nonce"])

	resp, err = http.Get(f.server.URL + "/api/services/nonce?userAddress=banana")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var status core.ResponseStatus
	decodeJSON(t, resp.Body, &status)
	assert.Equal(t, http.StatusBadRequest, status.HTTPStatus)
	assert.Contains(t, status.Error, "invalid address")
}

func TestAPIEncryptRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.server.URL+"/api/services/encrypt?encryptMethod=ecies",
		"application/octet-stream", strings.NewReader("api secret"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.env.Config.Keys.PeerID.String(), resp.Header.Get("X-Encrypted-By"))
	assert.Equal(t, "ecies", resp.Header.Get("X-Encrypted-Method"))

	sealed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	plain, err := f.crypter.Decrypt(sealed, crypt.ECIES)
	require.NoError(t, err)
	assert.Equal(t, "api secret", string(plain))
}

// The three physical encodings of encryptFile carry the same bytes and
// must produce equivalent ciphertext: each decrypts to the same content.
func TestAPIEncryptFileEncodings(t *testing.T) {
	f := newAPIFixture(t)
	payload := []byte("identical file bytes")

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer remote.Close()

	var sealed [][]byte

	// JSON file descriptor
	descriptor, err := json.Marshal(types.FileObject{Type: types.FileTypeURL, URL: remote.URL})
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+"/api/services/encryptFile", "application/json", bytes.NewReader(descriptor))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	sealed = append(sealed, body)

	// raw octet-stream
	resp, err = http.Post(f.server.URL+"/api/services/encryptFile", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	sealed = append(sealed, body)

	// multipart upload
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, err := mw.CreateFormFile("files", "payload.bin")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, err = http.Post(f.server.URL+"/api/services/encryptFile", mw.FormDataContentType(), &form)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	sealed = append(sealed, body)

	for _, ciphertext := range sealed {
		plain, err := f.crypter.Decrypt(ciphertext, crypt.AES)
		require.NoError(t, err)
		assert.Equal(t, payload, plain)
	}
}

func TestAPIDownloadRoute(t *testing.T) {
	f := newAPIFixture(t)
	consumer, err := crypto.GenerateKey()
	require.NoError(t, err)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer remote.Close()

	fileList, err := json.Marshal(types.FileList{Files: []types.FileObject{{Type: types.FileTypeURL, URL: remote.URL}}})
	require.NoError(t, err)
	sealedFiles, err := f.crypter.Encrypt(fileList, crypt.ECIES)
	require.NoError(t, err)
	require.NoError(t, f.env.DB.StoreDDO(&types.DDO{
		ID:      "did:op:csv",
		ChainID: 8996,
		Services: []types.Service{{
			ID:               "svc-1",
			Type:             types.ServiceTypeAccess,
			DatatokenAddress: "0x0000000000000000000000000000000000000010",
			Files:            hex.EncodeToString(sealedFiles),
		}},
	}))

	sig, err := crypto.Sign(accounts.TextHash([]byte("did:op:csv"+"1")), consumer)
	require.NoError(t, err)
	q := url.Values{}
	q.Set("fileIndex", "0")
	q.Set("documentId", "did:op:csv")
	q.Set("serviceId", "svc-1")
	q.Set("nonce", "1")
	q.Set("consumerAddress", crypto.PubkeyToAddress(consumer.PublicKey).Hex())
	q.Set("signature", hex.EncodeToString(sig))

	resp, err := http.Get(f.server.URL + "/api/services/download?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, "a,b\n1,2\n", string(body))
}

func TestAPIInitializeRoute(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.env.DB.StoreDDO(&types.DDO{
		ID:      "did:op:plan",
		ChainID: 8996,
		Services: []types.Service{{
			ID:               "svc-1",
			Type:             types.ServiceTypeAccess,
			DatatokenAddress: "0x0000000000000000000000000000000000000010",
		}},
	}))

	resp, err := http.Get(f.server.URL + "/api/services/initialize?documentId=did:op:plan&serviceId=svc-1&consumerAddress=0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var plan map[string]any
	decodeJSON(t, resp.Body, &plan)
	assert.Equal(t, "0x0000000000000000000000000000000000000010", plan["datatoken"])
	assert.Equal(t, "0", plan["nonce"])
	assert.NotNil(t, plan["providerFee"])
}

func TestAPIFindDDORoute(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.env.DB.StoreDDO(&types.DDO{ID: "did:op:found", ChainID: 8996}))

	resp, err := http.Get(f.server.URL + "/api/services/findDDO/did:op:found")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found types.FindDDOResponse
	decodeJSON(t, resp.Body, &found)
	assert.Equal(t, "did:op:found", found.ID)
	assert.Equal(t, f.env.Config.Keys.PeerID.String(), found.Provider)

	resp, err = http.Get(f.server.URL + "/api/services/findDDO/did:op:none")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
