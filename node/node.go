package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oceanprotocol/ocean-node/chain"
	"github.com/oceanprotocol/ocean-node/config"
	"github.com/oceanprotocol/ocean-node/core"
	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/crypt"
	"github.com/oceanprotocol/ocean-node/db"
)

var (
	// ErrNodeRunning is returned by Start on a node that already runs.
	ErrNodeRunning = errors.New("node already running")
	// ErrNodeStopped is returned by Stop on a node that was not started.
	ErrNodeStopped = errors.New("node not started")
)

// Node is the daemon container. It owns the store, the chain
// connections, the command registry, the status aggregator and the HTTP
// front end, and runs them as one lifecycle: New, Start, Stop, Wait.
type Node struct {
	cfg *config.Config

	db       *db.Database
	chains   chain.Connections
	registry *core.Registry
	status   *StatusCache

	lock sync.Mutex
	http *httpServer   // nil unless started with HTTP enabled
	stop chan struct{} // nil until started

	logger log.Logger
}

// New assembles a node from its configuration. Nothing is listening yet;
// Start opens the endpoints.
func New(cfg *config.Config) (*Node, error) {
	logger := log.New("service", "node")

	var (
		database *db.Database
		err      error
	)
	if cfg.DBPath != "" {
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening store at %s: %w", cfg.DBPath, err)
		}
	} else {
		logger.Warn("No DB_PATH configured, using a memory-backed store")
		database = db.NewInMemory()
	}

	chains := make(chain.Connections, len(cfg.SupportedNetworks))
	for _, nw := range cfg.SupportedNetworks {
		chains[nw.ChainID] = chain.NewConnection(cfg.Keys.PrivateKey, nw.RPC, nw.ChainID, nw.FallbackRPCs)
	}

	n := &Node{
		cfg:    cfg,
		db:     database,
		chains: chains,
		status: NewStatusCache(cfg, database),
		logger: logger,
	}
	n.registry = core.NewRegistry(&core.Env{
		Config:  cfg,
		DB:      database,
		Chains:  chains,
		Crypter: crypt.New(cfg.Keys.PrivateKey),
		Status:  n.status,
	})
	return n, nil
}

// Start opens the node's endpoints and runs the bootstrap steps.
func (n *Node) Start() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.stop != nil {
		return ErrNodeRunning
	}

	if n.cfg.LoadInitialDDOs {
		n.loadInitialDDOs()
	}

	if n.cfg.HasHTTP {
		endpoint := fmt.Sprintf(":%d", n.cfg.HTTPPort)
		server, err := newHTTPServer(endpoint, newAPIHandler(n.registry), n.cfg.AllowedOrigins)
		if err != nil {
			return fmt.Errorf("opening HTTP endpoint %s: %w", endpoint, err)
		}
		n.http = server
		n.http.start()
	}

	n.stop = make(chan struct{})
	n.logger.Info("Node started", "peer", n.cfg.Keys.PeerID, "address", n.cfg.Keys.EthAddress,
		"chains", len(n.chains), "http", n.cfg.HasHTTP)
	return nil
}

// Stop terminates a running node: endpoints first, then the chain
// connections, then the store.
func (n *Node) Stop() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.stop == nil {
		return ErrNodeStopped
	}

	if n.http != nil {
		n.http.stop()
		n.http = nil
	}
	n.chains.Close()
	err := n.db.Close()

	close(n.stop)
	n.stop = nil
	n.logger.Info("Node stopped")
	return err
}

// Wait blocks until the node is stopped. Returns immediately if it is
// not running.
func (n *Node) Wait() {
	n.lock.Lock()
	stop := n.stop
	n.lock.Unlock()
	if stop == nil {
		return
	}
	<-stop
}

// HTTPAddr returns the bound HTTP address, nil when HTTP is disabled or
// the node is not started.
func (n *Node) HTTPAddr() net.Addr {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.http == nil {
		return nil
	}
	return n.http.addr()
}

// Registry exposes the command registry to other transports (the
// overlay adapter dispatches through it).
func (n *Node) Registry() *core.Registry {
	return n.registry
}

// loadInitialDDOs seeds the store with the sample documents shipped in
// the configured directory. Individual bad files are skipped, not fatal.
func (n *Node) loadInitialDDOs() {
	dir := n.cfg.InitialDDODir
	if dir == "" {
		n.logger.Warn("LOAD_INITIAL_DDOS set but no INITIAL_DDO_DIR configured")
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		n.logger.Warn("Cannot read initial DDO directory", "dir", dir, "err", err)
		return
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			n.logger.Warn("Cannot read initial DDO", "file", path, "err", err)
			continue
		}
		ddo := new(types.DDO)
		if err := json.Unmarshal(raw, ddo); err != nil {
			n.logger.Warn("Skipping malformed initial DDO", "file", path, "err", err)
			continue
		}
		if err := ddo.Validate(); err != nil {
			n.logger.Warn("Skipping invalid initial DDO", "file", path, "err", err)
			continue
		}
		if err := n.db.StoreDDO(ddo); err != nil {
			n.logger.Warn("Cannot store initial DDO", "file", path, "err", err)
			continue
		}
		loaded++
	}
	n.logger.Info("Loaded initial DDOs", "dir", dir, "count", loaded)
}
