// Package chain owns the node's blockchain connectivity: one Connection
// per supported chain, each holding a provider/signer pair bound to the
// currently active RPC endpoint, with ordered fallback and asynchronous
// network-availability detection.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// DefaultGraceWindow is how long TryFallbacks waits after binding a
	// candidate endpoint before checking readiness, giving the network
	// detector time to report.
	DefaultGraceWindow = 2 * time.Second

	// networkPollInterval paces the background network detector.
	networkPollInterval = 500 * time.Millisecond

	// networkProbeTimeout bounds each individual detector probe.
	networkProbeTimeout = time.Second
)

// Provider is the subset of the RPC client surface the node needs. It is
// satisfied by *ethclient.Client; tests substitute stubs.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a Provider for an RPC URL.
type Dialer func(rawurl string) (Provider, error)

// DialEthclient is the production Dialer.
func DialEthclient(rawurl string) (Provider, error) {
	return ethclient.Dial(rawurl)
}

// endpoint is the provider/signer pair bound to one RPC URL. It is
// replaced as a whole by a single atomic store during failover, so
// readers never observe a half-swapped pair.
type endpoint struct {
	rpcURL   string
	provider Provider // nil if the dial failed outright
	signer   *Signer

	// ready flips once any call through this endpoint has succeeded.
	// This is the connection's self-reported readiness, independent of
	// the asynchronous network detector.
	ready atomic.Bool
}

// Connection keeps a chain's provider/signer pair alive against an
// ordered list of RPC endpoints. Construction never fails: connections
// are lazy and liveness is discovered asynchronously, so callers must
// consult IsReady or TryFallbacks before relying on chain data.
type Connection struct {
	chainID     uint64
	knownRPCs   []string // primary first, immutable after construction
	key         *ecdsa.PrivateKey
	dial        Dialer
	graceWindow time.Duration
	logger      log.Logger

	active atomic.Pointer[endpoint]

	// networkAvailable is set only when the detector observes a genuine
	// connected-network report (a recognized, non-zero chain id). Dial
	// noise and probe errors leave it untouched.
	networkAvailable atomic.Bool

	listenerMu   sync.Mutex
	listenerStop chan struct{}
}

// Option tweaks a Connection at construction time.
type Option func(*Connection)

// WithDialer substitutes the function used to open providers.
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dial = d }
}

// WithGraceWindow overrides the fallback grace window.
func WithGraceWindow(d time.Duration) Option {
	return func(c *Connection) { c.graceWindow = d }
}

// NewConnection builds the ordered RPC list [primary, fallbacks...],
// binds the primary endpoint and starts the network detector. An
// unreachable primary is not an error.
func NewConnection(key *ecdsa.PrivateKey, rpcURL string, chainID uint64, fallbackRPCs []string, opts ...Option) *Connection {
	c := &Connection{
		chainID:     chainID,
		knownRPCs:   append([]string{rpcURL}, fallbackRPCs...),
		key:         key,
		dial:        DialEthclient,
		graceWindow: DefaultGraceWindow,
		logger:      log.New("service", "chain", "chain", chainID),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("Connecting chain", "rpc", rpcURL, "fallbacks", len(fallbackRPCs))
	c.bind(rpcURL)
	c.startListener()
	return c
}

// bind opens a fresh provider/signer pair on rpcURL and swaps it in with
// one atomic store.
func (c *Connection) bind(rpcURL string) {
	ep := &endpoint{rpcURL: rpcURL}
	provider, err := c.dial(rpcURL)
	if err != nil {
		c.logger.Warn("Cannot dial RPC endpoint", "rpc", rpcURL, "err", err)
	} else {
		ep.provider = provider
		ep.signer = &Signer{key: c.key, chainID: c.chainID, provider: provider}
	}
	if old := c.active.Swap(ep); old != nil && old.provider != nil {
		old.provider.Close()
	}
}

// startListener launches the asynchronous network detector for the
// currently active endpoint. The detector probes the endpoint until it
// reports a recognized chain id; only that genuine signal sets the
// network-available flag.
func (c *Connection) startListener() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	stop := make(chan struct{})
	c.listenerStop = stop
	go c.listenNetwork(stop)
}

// stopListener detaches the current network detector, if any.
func (c *Connection) stopListener() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	if c.listenerStop != nil {
		close(c.listenerStop)
		c.listenerStop = nil
	}
}

func (c *Connection) listenNetwork(stop chan struct{}) {
	ticker := time.NewTicker(networkPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ep := c.active.Load()
			if ep == nil || ep.provider == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), networkProbeTimeout)
			id, err := ep.provider.ChainID(ctx)
			cancel()
			if err != nil || id == nil || id.Sign() <= 0 {
				// Initial-connection noise or a dead endpoint, not a
				// connected-network report.
				continue
			}
			if id.Uint64() != c.chainID {
				c.logger.Warn("RPC endpoint reports unexpected network", "rpc", ep.rpcURL, "got", id, "want", c.chainID)
				continue
			}
			ep.ready.Store(true)
			c.networkAvailable.Store(true)
			c.logger.Debug("Network detected", "rpc", ep.rpcURL, "chain", id)
			return
		}
	}
}

// IsReady reports whether the chain can be used. Two independent signals
// suffice on their own: the network detector's flag, which can lag
// behind actual usability, or the endpoint's self-reported readiness.
func (c *Connection) IsReady() bool {
	if c.networkAvailable.Load() {
		return true
	}
	ep := c.active.Load()
	return ep != nil && ep.ready.Load()
}

// TryFallbacks probes the known RPC list in reverse order, ending with
// the original primary, and rebinds the connection to the first candidate
// that becomes ready. Probing is sequential: one open connection at a
// time and a deterministic selection order. Returns false only after the
// whole list is exhausted or ctx is done.
func (c *Connection) TryFallbacks(ctx context.Context) bool {
	for i := len(c.knownRPCs) - 1; i >= 0; i-- {
		candidate := c.knownRPCs[i]
		c.stopListener()
		c.logger.Info("Retrying with RPC endpoint", "rpc", candidate)
		c.bind(candidate)
		c.startListener()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.graceWindow):
		}
		if c.IsReady() {
			c.logger.Info("RPC endpoint ready", "rpc", candidate)
			return true
		}
	}
	c.logger.Error("All RPC endpoints exhausted", "rpcs", len(c.knownRPCs))
	return false
}

// Provider returns the currently bound provider. May be nil if the last
// bind failed to dial.
func (c *Connection) Provider() Provider {
	if ep := c.active.Load(); ep != nil {
		return ep.provider
	}
	return nil
}

// Signer returns the signer bound to the current provider.
func (c *Connection) Signer() *Signer {
	if ep := c.active.Load(); ep != nil {
		return ep.signer
	}
	return nil
}

// ChainID returns the chain this connection serves.
func (c *Connection) ChainID() uint64 {
	return c.chainID
}

// KnownRPCs returns a copy of the ordered RPC list.
func (c *Connection) KnownRPCs() []string {
	out := make([]string, len(c.knownRPCs))
	copy(out, c.knownRPCs)
	return out
}

// ActiveRPC returns the URL the connection is currently bound to.
func (c *Connection) ActiveRPC() string {
	if ep := c.active.Load(); ep != nil {
		return ep.rpcURL
	}
	return ""
}

// BlockNumber fetches the chain head through the active endpoint,
// marking the endpoint ready on success.
func (c *Connection) BlockNumber(ctx context.Context) (uint64, error) {
	ep := c.active.Load()
	if ep == nil || ep.provider == nil {
		return 0, ethereum.NotFound
	}
	n, err := ep.provider.BlockNumber(ctx)
	if err == nil {
		ep.ready.Store(true)
	}
	return n, err
}

// Close detaches the network detector and closes the active provider.
func (c *Connection) Close() {
	c.stopListener()
	if ep := c.active.Load(); ep != nil && ep.provider != nil {
		ep.provider.Close()
	}
}

// Connections indexes the long-lived connections by chain id.
type Connections map[uint64]*Connection

// Get returns the connection for a chain, if the node serves it.
func (cs Connections) Get(chainID uint64) (*Connection, bool) {
	c, ok := cs[chainID]
	return c, ok
}

// Close closes every connection.
func (cs Connections) Close() {
	for _, c := range cs {
		c.Close()
	}
}
