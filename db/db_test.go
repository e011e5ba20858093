package db

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanprotocol/ocean-node/core/types"
)

func testDDO(id string) *types.DDO {
	return &types.DDO{
		ID:      id,
		ChainID: 8996,
		Services: []types.Service{
			{ID: "svc-1", Type: types.ServiceTypeAccess, DatatokenAddress: "0x0000000000000000000000000000000000000001"},
		},
	}
}

func TestDDORoundtrip(t *testing.T) {
	d := NewInMemory()
	defer d.Close()

	require.NoError(t, d.StoreDDO(testDDO("did:op:123")))

	got, err := d.RetrieveDDO("did:op:123")
	require.NoError(t, err)
	assert.Equal(t, "did:op:123", got.ID)
	require.NotNil(t, got.Service("svc-1"))
	assert.Nil(t, got.Service("svc-2"))

	_, err = d.RetrieveDDO("did:op:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.DeleteDDO("did:op:123"))
	_, err = d.RetrieveDDO("did:op:123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryDDOs(t *testing.T) {
	d := NewInMemory()
	defer d.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.StoreDDO(testDDO(fmt.Sprintf("did:op:a%d", i))))
	}
	require.NoError(t, d.StoreDDO(testDDO("did:op:b0")))

	all, err := d.QueryDDOs("did:op:a", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	limited, err := d.QueryDDOs("", 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestNonceDefaultsToZero(t *testing.T) {
	d := NewInMemory()
	defer d.Close()

	n, err := d.Nonce("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, err)
	assert.Equal(t, "0", n)
}

func TestNonceCaseInsensitiveAddress(t *testing.T) {
	d := NewInMemory()
	defer d.Close()

	_, err := d.NextNonce("0xABCDEF0000000000000000000000000000000001")
	require.NoError(t, err)

	n, err := d.Nonce("0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "1", n)
}

// Concurrent issuance for the same address must never hand out the same
// value twice.
func TestNextNonceConcurrent(t *testing.T) {
	d := NewInMemory()
	defer d.Close()

	const workers = 32
	addr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := d.NextNonce(addr)
			assert.NoError(t, err)
			mu.Lock()
			assert.False(t, seen[n], "nonce %s issued twice", n)
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	final, err := d.Nonce(addr)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", workers), final)
}

func TestUpdateNonceRejectsReplay(t *testing.T) {
	d := NewInMemory()
	defer d.Close()
	addr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	ok, err := d.UpdateNonce(addr, "5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.UpdateNonce(addr, "5")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.UpdateNonce(addr, "4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.UpdateNonce(addr, "6")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = d.UpdateNonce(addr, "not-a-number")
	assert.Error(t, err)
}

func TestIndexState(t *testing.T) {
	d := NewInMemory()
	defer d.Close()

	_, err := d.LastIndexedBlock(137)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.SetLastIndexedBlock(137, 52_000_000))
	block, err := d.LastIndexedBlock(137)
	require.NoError(t, err)
	assert.Equal(t, uint64(52_000_000), block)

	// Other chains unaffected.
	_, err = d.LastIndexedBlock(1)
	assert.ErrorIs(t, err, ErrNotFound)
}
