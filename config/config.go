// Package config assembles the node configuration from the process
// environment. Every knob is an environment variable, read through a
// single viper instance so tests can override the source.
package config

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/viper"
)

// DefaultHTTPPort is used when HTTP_API_PORT is not set.
const DefaultHTTPPort = 8000

// SupportedNetwork describes one chain the node serves, with its ordered
// RPC endpoints. The first RPC is the primary, the rest are fallbacks.
type SupportedNetwork struct {
	ChainID      uint64   `json:"chainId"`
	Network      string   `json:"network"`
	RPC          string   `json:"rpc"`
	FallbackRPCs []string `json:"fallbackRPCs"`
	ChunkSize    uint64   `json:"chunkSize"`
}

// RPCS maps a decimal chain id string to its network description, mirroring
// the shape of the RPCS environment variable.
type RPCS map[string]SupportedNetwork

// FeeAmount is the configured provider fee, expressed in a token unit.
type FeeAmount struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// FeeStrategy couples the per-chain fee token with the fee amount.
type FeeStrategy struct {
	FeeTokens map[string]string `json:"feeTokens"` // chain id -> token address
	FeeAmount FeeAmount         `json:"feeAmount"`
}

// C2DClusterInfo identifies a compute-to-data cluster the node can delegate
// compute jobs to. Only surfaced through the detailed status.
type C2DClusterInfo struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Keys holds the node identity derived from the configured private key.
// The same secp256k1 key backs the chain signer, the overlay peer id and
// the advertised public key.
type Keys struct {
	PrivateKey   *ecdsa.PrivateKey
	PublicKeyHex string
	EthAddress   common.Address
	PeerID       peer.ID
}

// Config is the fully resolved node configuration.
type Config struct {
	Keys Keys

	HasHTTP     bool
	HasP2P      bool
	HasProvider bool
	HasIndexer  bool

	HTTPPort       int
	AllowedOrigins []string
	DBPath         string
	LogFile        string

	SupportedNetworks    RPCS
	AllowedAdmins        []string
	AuthorizedDecrypters []string
	FeeStrategy          FeeStrategy
	C2DClusters          []C2DClusterInfo

	IPFSGateway    string
	ArweaveGateway string

	LoadInitialDDOs bool
	InitialDDODir   string

	CodeHash string
}

// Load reads the configuration from the environment. The only hard
// requirement is PRIVATE_KEY; everything else has a default or is optional.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("HTTP_API_PORT", DefaultHTTPPort)
	v.SetDefault("DB_PATH", "ocean-node-db")
	v.SetDefault("HTTP_ENABLED", true)
	v.SetDefault("P2P_ENABLED", true)
	v.SetDefault("PROVIDER_ENABLED", true)
	v.SetDefault("INDEXER_ENABLED", true)
	v.SetDefault("INITIAL_DDO_DIR", "data")
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	keys, err := loadKeys(v.GetString("PRIVATE_KEY"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Keys:            keys,
		HasHTTP:         v.GetBool("HTTP_ENABLED"),
		HasP2P:          v.GetBool("P2P_ENABLED"),
		HasProvider:     v.GetBool("PROVIDER_ENABLED"),
		HasIndexer:      v.GetBool("INDEXER_ENABLED"),
		HTTPPort:        v.GetInt("HTTP_API_PORT"),
		DBPath:          v.GetString("DB_PATH"),
		LogFile:         v.GetString("LOG_FILE"),
		IPFSGateway:     v.GetString("IPFS_GATEWAY"),
		ArweaveGateway:  v.GetString("ARWEAVE_GATEWAY"),
		LoadInitialDDOs: v.GetBool("LOAD_INITIAL_DDOS"),
		InitialDDODir:   v.GetString("INITIAL_DDO_DIR"),
		CodeHash:        computeCodeHash(),
	}
	if raw := v.GetString("RPCS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.SupportedNetworks); err != nil {
			return nil, fmt.Errorf("invalid RPCS: %w", err)
		}
	}
	if raw := v.GetString("ALLOWED_ORIGINS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.AllowedOrigins); err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_ORIGINS: %w", err)
		}
	}
	if raw := v.GetString("ALLOWED_ADMINS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.AllowedAdmins); err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_ADMINS: %w", err)
		}
	}
	if raw := v.GetString("AUTHORIZED_DECRYPTERS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.AuthorizedDecrypters); err != nil {
			return nil, fmt.Errorf("invalid AUTHORIZED_DECRYPTERS: %w", err)
		}
	}
	if raw := v.GetString("FEE_TOKENS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.FeeStrategy.FeeTokens); err != nil {
			return nil, fmt.Errorf("invalid FEE_TOKENS: %w", err)
		}
	}
	if raw := v.GetString("FEE_AMOUNT"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.FeeStrategy.FeeAmount); err != nil {
			return nil, fmt.Errorf("invalid FEE_AMOUNT: %w", err)
		}
	}
	if raw := v.GetString("C2D_CLUSTERS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.C2DClusters); err != nil {
			return nil, fmt.Errorf("invalid C2D_CLUSTERS: %w", err)
		}
	}
	return cfg, nil
}

// KeysFromPrivateKey derives a node identity from a raw private key hex.
// Used by tests and tooling; Load goes through the same path.
func KeysFromPrivateKey(hexkey string) (Keys, error) {
	return loadKeys(hexkey)
}

// loadKeys derives the node identity from the private key hex. The libp2p
// peer id is derived from the same secp256k1 key, so the overlay identity
// and the chain signer always agree.
func loadKeys(hexkey string) (Keys, error) {
	if hexkey == "" {
		return Keys{}, fmt.Errorf("PRIVATE_KEY is not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexkey, "0x"))
	if err != nil {
		return Keys{}, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}
	p2pKey, err := libp2pcrypto.UnmarshalSecp256k1PrivateKey(crypto.FromECDSA(key))
	if err != nil {
		return Keys{}, fmt.Errorf("deriving p2p key: %w", err)
	}
	peerID, err := peer.IDFromPrivateKey(p2pKey)
	if err != nil {
		return Keys{}, fmt.Errorf("deriving peer id: %w", err)
	}
	return Keys{
		PrivateKey:   key,
		PublicKeyHex: hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)),
		EthAddress:   crypto.PubkeyToAddress(key.PublicKey),
		PeerID:       peerID,
	}, nil
}

// computeCodeHash hashes the running binary. Best effort: an unreadable
// executable yields an empty hash, never an error.
func computeCodeHash() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	code, err := os.ReadFile(path)
	if err != nil {
		log.Debug("Cannot read executable for code hash", "path", path, "err", err)
		return ""
	}
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// FeeToken returns the configured fee token for a chain, if any.
func (c *Config) FeeToken(chainID uint64) (string, bool) {
	token, ok := c.FeeStrategy.FeeTokens[fmt.Sprintf("%d", chainID)]
	return token, ok
}
