package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oceanprotocol/ocean-node/config"
	"github.com/oceanprotocol/ocean-node/core/types"
)

// CalculateProviderFee produces the signed fee quote for one service of a
// DDO. The quote never mutates chain state; it is redeemed by the
// consumer's later order transaction. A chain without a configured fee
// token yields a zero fee, still signed so the envelope shape is uniform.
func CalculateProviderFee(ctx context.Context, signer *Signer, cfg *config.Config, ddo *types.DDO, serviceID string, validUntil uint64) (*types.ProviderFee, error) {
	if signer == nil {
		return nil, fmt.Errorf("no signer for chain %d", ddo.ChainID)
	}
	service := ddo.Service(serviceID)
	if service == nil {
		return nil, fmt.Errorf("service %s not found in %s", serviceID, ddo.ID)
	}

	feeToken := common.Address{}
	amount := new(big.Int)
	if token, ok := cfg.FeeToken(ddo.ChainID); ok {
		feeToken = common.HexToAddress(token)
		decimals := DatatokenDecimals(ctx, ddo.ChainID, signer.Provider(), feeToken)
		amount = feeUnits(cfg.FeeStrategy.FeeAmount.Amount, decimals)
	}

	providerData, err := json.Marshal(map[string]string{
		"dt": service.DatatokenAddress,
		"id": serviceID,
	})
	if err != nil {
		return nil, err
	}

	var until [8]byte
	binary.BigEndian.PutUint64(until[:], validUntil)
	digest := crypto.Keccak256(
		providerData,
		signer.Address().Bytes(),
		feeToken.Bytes(),
		amount.Bytes(),
		until[:],
	)
	sig, err := signer.SignHash(digest)
	if err != nil {
		return nil, fmt.Errorf("signing provider fee: %w", err)
	}

	return &types.ProviderFee{
		ProviderFeeAddress: signer.Address().Hex(),
		ProviderFeeToken:   feeToken.Hex(),
		ProviderFeeAmount:  amount.String(),
		ValidUntil:         validUntil,
		V:                  sig[64] + 27,
		R:                  hex.EncodeToString(sig[:32]),
		S:                  hex.EncodeToString(sig[32:64]),
		ProviderData:       hex.EncodeToString(providerData),
	}, nil
}

// feeUnits converts a human fee amount into token base units.
func feeUnits(amount float64, decimals uint8) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	scaled, _ := new(big.Float).Mul(big.NewFloat(amount), scale).Int(nil)
	return scaled
}
