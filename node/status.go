// Package node assembles the daemon: configuration, stores, chain
// connections, the command registry, the status aggregator and the HTTP
// front end, wired together under one lifecycle.
package node

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"golang.org/x/sync/singleflight"

	"github.com/oceanprotocol/ocean-node/config"
	"github.com/oceanprotocol/ocean-node/db"
)

// Version is the advertised node version, set at build time via
// -ldflags "-X github.com/oceanprotocol/ocean-node/node.Version=...".
var Version = "0.0.1-dev"

// ChainStatus is one chain's entry in the status snapshot. Provider
// entries omit the block; indexer entries carry the last indexed height,
// degraded to the "0" sentinel when the index store cannot answer.
type ChainStatus struct {
	ChainID uint64 `json:"chainId"`
	Network string `json:"network"`
	Block   string `json:"block,omitempty"`
}

// StorageStatus advertises which storage backends this node can fetch
// from.
type StorageStatus struct {
	IPFS    bool `json:"ipfs"`
	Arweave bool `json:"arwave"`
	URL     bool `json:"url"`
}

// PlatformStatus is the host snapshot embedded in the node status.
type PlatformStatus struct {
	CPUs     int       `json:"cpus"`
	FreeMem  uint64    `json:"freemem"`
	TotalMem uint64    `json:"totalmem"`
	LoadAvg  []float64 `json:"loadavg"`
	Arch     string    `json:"arch"`
	Platform string    `json:"platform"`
	OSType   string    `json:"osType"`
}

// Status is the aggregated node snapshot. The identity fields are
// computed once and reused; everything else is re-read on every call, so
// two fields of one snapshot may stem from slightly different moments.
// That is fine for a diagnostic surface and callers must not assume
// cross-field atomicity.
type Status struct {
	ID               string         `json:"id"`
	PublicKey        string         `json:"publicKey"`
	Address          string         `json:"address"`
	Version          string         `json:"version"`
	HTTP             bool           `json:"http"`
	P2P              bool           `json:"p2p"`
	Provider         []ChainStatus  `json:"provider"`
	Indexer          []ChainStatus  `json:"indexer"`
	SupportedStorage StorageStatus  `json:"supportedStorage"`
	Platform         PlatformStatus `json:"platform"`
	Uptime           float64        `json:"uptime"`
	CodeHash         string         `json:"codeHash,omitempty"`
	AllowedAdmins    []string       `json:"allowedAdmins"`

	// Detailed-only extensions.
	C2DClusters      []config.C2DClusterInfo `json:"c2dClusters,omitempty"`
	SupportedSchemas []db.Schema             `json:"supportedSchemas,omitempty"`
}

// StatusCache builds status snapshots. The static identity half is
// resolved exactly once, on the first call; per-chain index lookups are
// deduplicated across concurrent callers.
type StatusCache struct {
	cfg     *config.Config
	db      *db.Database
	started time.Time

	once   sync.Once
	static Status

	group singleflight.Group
}

// NewStatusCache wires a status aggregator over the node's config and
// store.
func NewStatusCache(cfg *config.Config, database *db.Database) *StatusCache {
	return &StatusCache{cfg: cfg, db: database, started: time.Now()}
}

// Status assembles a snapshot. nodeID overrides the advertised id on the
// first call only; once resolved, the identity half never changes.
func (s *StatusCache) Status(ctx context.Context, nodeID string, detailed bool) (any, error) {
	s.once.Do(func() { s.static = s.buildStatic(nodeID) })

	snapshot := s.static
	snapshot.Uptime = time.Since(s.started).Seconds()
	snapshot.Platform = readPlatform()
	snapshot.Provider = s.providerStatus()
	snapshot.Indexer = s.indexerStatus()

	if detailed {
		snapshot.C2DClusters = s.cfg.C2DClusters
		snapshot.SupportedSchemas = db.DDOSchemas
	}
	return &snapshot, nil
}

func (s *StatusCache) buildStatic(nodeID string) Status {
	if nodeID == "" {
		nodeID = s.cfg.Keys.PeerID.String()
	}
	return Status{
		ID:        nodeID,
		PublicKey: s.cfg.Keys.PublicKeyHex,
		Address:   s.cfg.Keys.EthAddress.Hex(),
		Version:   Version,
		HTTP:      s.cfg.HasHTTP,
		P2P:       s.cfg.HasP2P,
		SupportedStorage: StorageStatus{
			IPFS:    s.cfg.IPFSGateway != "",
			Arweave: s.cfg.ArweaveGateway != "",
			URL:     true,
		},
		CodeHash:      s.cfg.CodeHash,
		AllowedAdmins: validAdmins(s.cfg.AllowedAdmins),
	}
}

// validAdmins keeps the syntactically valid chain addresses of the
// configured admin list, preserving order.
func validAdmins(configured []string) []string {
	valid := make([]string, 0, len(configured))
	for _, admin := range configured {
		if common.IsHexAddress(admin) {
			valid = append(valid, admin)
		} else {
			log.Warn("Ignoring invalid admin address", "address", admin)
		}
	}
	if len(configured) > 0 && len(valid) == 0 {
		log.Error("No valid admin address in ALLOWED_ADMINS, node has no admins")
	}
	return valid
}

// providerStatus lists the chains this node serves, ordered by chain id.
func (s *StatusCache) providerStatus() []ChainStatus {
	if !s.cfg.HasProvider {
		return []ChainStatus{}
	}
	chains := make([]ChainStatus, 0, len(s.cfg.SupportedNetworks))
	for _, net := range s.cfg.SupportedNetworks {
		chains = append(chains, ChainStatus{ChainID: net.ChainID, Network: net.Network})
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
	return chains
}

// indexerStatus reads the last indexed block per chain. A failed lookup
// degrades that chain's entry to the "0" sentinel without touching the
// others. Concurrent callers share one scan.
func (s *StatusCache) indexerStatus() []ChainStatus {
	if !s.cfg.HasIndexer {
		return []ChainStatus{}
	}
	result, _, _ := s.group.Do("indexer", func() (any, error) {
		chains := make([]ChainStatus, 0, len(s.cfg.SupportedNetworks))
		for _, net := range s.cfg.SupportedNetworks {
			entry := ChainStatus{ChainID: net.ChainID, Network: net.Network, Block: "0"}
			if block, err := s.db.LastIndexedBlock(net.ChainID); err == nil {
				entry.Block = fmt.Sprintf("%d", block)
			} else {
				log.Warn("Cannot read last indexed block", "chain", net.ChainID, "err", err)
			}
			chains = append(chains, entry)
		}
		sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
		return chains, nil
	})
	return result.([]ChainStatus)
}

func readPlatform() PlatformStatus {
	p := PlatformStatus{
		CPUs:     runtime.NumCPU(),
		LoadAvg:  []float64{0, 0, 0},
		Arch:     runtime.GOARCH,
		Platform: runtime.GOOS,
		OSType:   runtime.GOOS,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		p.FreeMem = vm.Available
		p.TotalMem = vm.Total
	}
	if avg, err := load.Avg(); err == nil {
		p.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	return p
}
