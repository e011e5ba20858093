// Package db implements the node's persistent stores on top of leveldb:
// DDO documents, per-address nonces and per-chain indexing state, all in
// one keyspace separated by short prefixes.
package db

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/oceanprotocol/ocean-node/core/types"
)

// ErrNotFound is returned when a key has no value in the store.
var ErrNotFound = errors.New("not found")

var (
	ddoPrefix   = []byte("ddo:")
	noncePrefix = []byte("nonce:")
	indexPrefix = []byte("indexer:")
)

// Database wraps the leveldb instance backing all node stores.
type Database struct {
	ldb *leveldb.DB
	log log.Logger

	// nonceMu serializes the read-then-increment nonce sequence. Nonce
	// issuance is single-writer per database, which is stricter than the
	// per-address requirement but contention here is negligible.
	nonceMu sync.Mutex
}

// New opens (or creates) the database at path.
func New(path string) (*Database, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return &Database{ldb: ldb, log: log.New("service", "db")}, nil
}

// NewInMemory returns a memory-backed database, used by tests.
func NewInMemory() *Database {
	ldb, _ := leveldb.Open(storage.NewMemStorage(), nil)
	return &Database{ldb: ldb, log: log.New("service", "db")}
}

// Close flushes and closes the underlying store.
func (d *Database) Close() error {
	return d.ldb.Close()
}

// StoreDDO persists a DDO document, keyed by its id.
func (d *Database) StoreDDO(ddo *types.DDO) error {
	if err := ddo.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(ddo)
	if err != nil {
		return err
	}
	return d.ldb.Put(append(ddoPrefix, ddo.ID...), blob, nil)
}

// RetrieveDDO loads a DDO by id. Returns ErrNotFound for unknown ids.
func (d *Database) RetrieveDDO(id string) (*types.DDO, error) {
	blob, err := d.ldb.Get(append(ddoPrefix, id...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("ddo %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ddo := new(types.DDO)
	if err := json.Unmarshal(blob, ddo); err != nil {
		return nil, fmt.Errorf("corrupt ddo %s: %w", id, err)
	}
	return ddo, nil
}

// DeleteDDO removes a DDO from the store.
func (d *Database) DeleteDDO(id string) error {
	return d.ldb.Delete(append(ddoPrefix, id...), nil)
}

// QueryDDOs returns up to limit stored DDOs whose id starts with prefix.
// An empty prefix walks the whole DDO keyspace.
func (d *Database) QueryDDOs(prefix string, limit int) ([]*types.DDO, error) {
	rng := util.BytesPrefix(append(ddoPrefix, prefix...))
	iter := d.ldb.NewIterator(rng, nil)
	defer iter.Release()

	var out []*types.DDO
	for iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		ddo := new(types.DDO)
		if err := json.Unmarshal(iter.Value(), ddo); err != nil {
			d.log.Warn("Skipping corrupt DDO during query", "key", string(iter.Key()), "err", err)
			continue
		}
		out = append(out, ddo)
	}
	return out, iter.Error()
}

func nonceKey(address string) []byte {
	return append(noncePrefix, strings.ToLower(address)...)
}

// Nonce returns the stored nonce for an address, "0" if none was issued.
func (d *Database) Nonce(address string) (string, error) {
	val, err := d.ldb.Get(nonceKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// NextNonce advances and returns the nonce for an address. The whole
// read-then-increment sequence runs under one lock so concurrent callers
// never observe or issue the same value twice.
func (d *Database) NextNonce(address string) (string, error) {
	d.nonceMu.Lock()
	defer d.nonceMu.Unlock()

	current, err := d.Nonce(address)
	if err != nil {
		return "", err
	}
	n, ok := new(big.Int).SetString(current, 10)
	if !ok {
		return "", fmt.Errorf("corrupt nonce %q for %s", current, address)
	}
	next := n.Add(n, big.NewInt(1)).String()
	if err := d.ldb.Put(nonceKey(address), []byte(next), nil); err != nil {
		return "", err
	}
	return next, nil
}

// UpdateNonce stores a client-provided nonce if it advances the current
// one. Returns false when the value does not advance (replay).
func (d *Database) UpdateNonce(address, nonce string) (bool, error) {
	d.nonceMu.Lock()
	defer d.nonceMu.Unlock()

	provided, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return false, fmt.Errorf("invalid nonce %q", nonce)
	}
	current, err := d.Nonce(address)
	if err != nil {
		return false, err
	}
	cur, ok := new(big.Int).SetString(current, 10)
	if !ok {
		return false, fmt.Errorf("corrupt nonce %q for %s", current, address)
	}
	if provided.Cmp(cur) <= 0 {
		return false, nil
	}
	return true, d.ldb.Put(nonceKey(address), []byte(provided.String()), nil)
}

func indexKey(chainID uint64) []byte {
	return append(indexPrefix, fmt.Sprintf("%d", chainID)...)
}

// LastIndexedBlock returns the highest block the indexer has processed
// for a chain. Unknown chains return ErrNotFound; the status aggregator
// degrades that to its sentinel.
func (d *Database) LastIndexedBlock(chainID uint64) (uint64, error) {
	val, err := d.ldb.Get(indexKey(chainID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, fmt.Errorf("chain %d: %w", chainID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt index state for chain %d", chainID)
	}
	return binary.BigEndian.Uint64(val), nil
}

// SetLastIndexedBlock records indexing progress for a chain.
func (d *Database) SetLastIndexedBlock(chainID, block uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	return d.ldb.Put(indexKey(chainID), buf[:], nil)
}
