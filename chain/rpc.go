package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/oceanprotocol/ocean-node/config"
)

// defaultDecimals is assumed when a datatoken does not answer decimals().
const defaultDecimals = 18

// erc20DecimalsSelector is the 4-byte selector of decimals().
var erc20DecimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67}

// decimalsCache remembers datatoken decimals across requests; token
// decimals never change after deployment.
var decimalsCache, _ = lru.New(512)

// ResolveChainRPC checks chain id membership in the supported-networks
// mapping. Unsupported ids fail softly with ok=false; this is the lookup
// for one-off queries that should not share a long-lived Connection.
func ResolveChainRPC(networks config.RPCS, chainID uint64) (bool, string) {
	net, ok := networks[fmt.Sprintf("%d", chainID)]
	if !ok {
		log.Error("Chain id is not supported", "chain", chainID)
		return false, ""
	}
	return true, net.RPC
}

// DialSupported opens a throwaway provider for a supported chain.
// Returns ok=false, without error, for unsupported ids.
func DialSupported(dial Dialer, networks config.RPCS, chainID uint64) (Provider, bool) {
	ok, rpcURL := ResolveChainRPC(networks, chainID)
	if !ok {
		return nil, false
	}
	provider, err := dial(rpcURL)
	if err != nil {
		log.Warn("Cannot dial one-off provider", "chain", chainID, "rpc", rpcURL, "err", err)
		return nil, false
	}
	return provider, true
}

// DatatokenDecimals reads an ERC20 token's decimals through the given
// provider. Lookup failures fall back to 18 decimals rather than failing
// the caller.
func DatatokenDecimals(ctx context.Context, chainID uint64, provider Provider, token common.Address) uint8 {
	cacheKey := fmt.Sprintf("%d:%s", chainID, token.Hex())
	if cached, ok := decimalsCache.Get(cacheKey); ok {
		return cached.(uint8)
	}
	if provider == nil {
		return defaultDecimals
	}
	res, err := provider.CallContract(ctx, ethereum.CallMsg{To: &token, Data: erc20DecimalsSelector}, nil)
	if err != nil || len(res) < 32 {
		log.Error("Cannot read datatoken decimals, assuming default", "chain", chainID, "token", token, "err", err)
		return defaultDecimals
	}
	decimals := uint8(new(big.Int).SetBytes(res[:32]).Uint64())
	decimalsCache.Add(cacheKey, decimals)
	return decimals
}
