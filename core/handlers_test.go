package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanprotocol/ocean-node/core/types"
)

// readBody drains a response stream.
func readBody(t *testing.T, resp *Response) []byte {
	t.Helper()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Stream)
	data, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	return data
}

func storeTestDDO(t *testing.T, env *Env, ddo *types.DDO) {
	t.Helper()
	require.NoError(t, env.DB.StoreDDO(ddo))
}

func TestEchoBouncesMessage(t *testing.T) {
	r := NewRegistry(newTestEnv(t))
	resp := r.Dispatch(context.Background(), &EchoCommand{
		Command: Command{Command: CmdEcho},
		Message: "ping",
	})
	assert.Equal(t, http.StatusOK, resp.Status.HTTPStatus)
	assert.Equal(t, "ping", string(readBody(t, resp)))

	resp = r.Dispatch(context.Background(), &EchoCommand{Command: Command{Command: CmdEcho}})
	assert.Equal(t, CmdEcho, string(readBody(t, resp)))
}

func TestNonceReadDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)
	addr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	cmd := &NonceCommand{Command: Command{Command: CmdNonce}, Address: addr}
	resp := r.Dispatch(context.Background(), cmd)
	assert.Equal(t, "0", string(readBody(t, resp)))

	// Reading repeatedly must not change the stored value.
	resp = r.Dispatch(context.Background(), cmd)
	assert.Equal(t, "0", string(readBody(t, resp)))

	advanced, err := env.DB.UpdateNonce(addr, "7")
	require.NoError(t, err)
	require.True(t, advanced)
	resp = r.Dispatch(context.Background(), cmd)
	assert.Equal(t, "7", string(readBody(t, resp)))
}

func TestGetDDO(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)

	resp := r.Dispatch(context.Background(), &GetDDOCommand{
		Command: Command{Command: CmdGetDDO},
		ID:      "did:op:missing",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)
	assert.Contains(t, resp.Status.Error, "cannot resolve DID")

	storeTestDDO(t, env, &types.DDO{ID: "did:op:abc", ChainID: 8996})
	resp = r.Dispatch(context.Background(), &GetDDOCommand{
		Command: Command{Command: CmdGetDDO},
		ID:      "did:op:abc",
	})
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus)
	var got types.DDO
	require.NoError(t, json.Unmarshal(readBody(t, resp), &got))
	assert.Equal(t, "did:op:abc", got.ID)
	assert.Equal(t, uint64(8996), got.ChainID)
}

func TestFindDDOReportsProviderAndEvent(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)

	storeTestDDO(t, env, &types.DDO{
		ID:      "did:op:abc",
		ChainID: 8996,
		Event: &types.Event{
			TxID:     "0xdeadbeef",
			Block:    42,
			Datetime: "2026-08-30T12:00:00Z",
		},
	})
	resp := r.Dispatch(context.Background(), &FindDDOCommand{
		Command: Command{Command: CmdFindDDO},
		ID:      "did:op:abc",
	})
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus)
	var found types.FindDDOResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &found))
	assert.Equal(t, "did:op:abc", found.ID)
	assert.Equal(t, env.Config.Keys.PeerID.String(), found.Provider)
	assert.Equal(t, "0xdeadbeef", found.LastUpdateTx)
	assert.Equal(t, "2026-08-30T12:00:00Z", found.LastUpdateTime)
}

func TestQueryPrefixAndLimit(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env)

	for _, id := range []string{"did:op:aa", "did:op:ab", "did:op:zz"} {
		storeTestDDO(t, env, &types.DDO{ID: id, ChainID: 8996})
	}

	resp := r.Dispatch(context.Background(), &QueryCommand{
		Command: Command{Command: CmdQuery},
		Prefix:  "did:op:a",
	})
	require.Equal(t, http.StatusOK, resp.Status.HTTPStatus)
	var ddos []*types.DDO
	require.NoError(t, json.Unmarshal(readBody(t, resp), &ddos))
	assert.Len(t, ddos, 2)

	resp = r.Dispatch(context.Background(), &QueryCommand{
		Command: Command{Command: CmdQuery},
		Prefix:  "did:op:a",
		Limit:   1,
	})
	require.NoError(t, json.Unmarshal(readBody(t, resp), &ddos))
	assert.Len(t, ddos, 1)

	// No matches still yields an empty array, not null.
	resp = r.Dispatch(context.Background(), &QueryCommand{
		Command: Command{Command: CmdQuery},
		Prefix:  "did:op:x",
	})
	assert.Equal(t, "[]", string(readBody(t, resp)))

	resp = r.Dispatch(context.Background(), &QueryCommand{
		Command: Command{Command: CmdQuery},
		Limit:   -1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status.HTTPStatus)
}
