// Package settlement is the boundary with the on-chain settlement contract.
// The relayer talks to it exclusively through the Client interface; the
// production implementation wraps a JSON-RPC endpoint, tests substitute a
// fake. Failures carry a structured code where the collaborator can supply
// one, with the raw RPC message preserved for substring classification of
// free-text errors.
package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/pkg/engine"
)

// Client is the settlement collaborator surface the relayer depends on.
type Client interface {
	// SuggestGasPrice returns the current network gas price in wei.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas for submitting the batch.
	EstimateGas(ctx context.Context, fills []FillArg) (uint64, error)

	// SubmitBatch signs and sends the batchFill transaction.
	SubmitBatch(ctx context.Context, fills []FillArg, gasLimit uint64, gasPrice *big.Int) (common.Hash, error)

	// AwaitConfirmation blocks until the transaction has one confirmation
	// and returns the gas it consumed.
	AwaitConfirmation(ctx context.Context, txHash common.Hash) (gasUsed uint64, err error)
}

// OrderArg mirrors the contract's Order struct for ABI encoding.
type OrderArg struct {
	Maker        common.Address
	MarketId     *big.Int
	ConditionId  [32]byte
	Outcome      uint8
	Collateral   common.Address
	PricePips    *big.Int
	Amount       *big.Int
	MakerFeeBps  uint16
	TakerFeeBps  uint16
	Expiry       *big.Int
	Salt         *big.Int
	Nonce        *big.Int
	MintOnFill   bool
	AllowedTaker common.Address
}

// FillArg mirrors the contract's Fill struct for ABI encoding.
type FillArg struct {
	Order      OrderArg
	Signature  []byte
	FillAmount *big.Int
	Taker      common.Address
}

// FillArgOf maps an engine fill to the contract call shape.
func FillArgOf(f engine.Fill) FillArg {
	o := f.Order
	return FillArg{
		Order: OrderArg{
			Maker:        o.Maker,
			MarketId:     zeroIfNil(o.MarketID),
			ConditionId:  o.ConditionID,
			Outcome:      o.Outcome,
			Collateral:   o.Collateral,
			PricePips:    big.NewInt(o.PricePips),
			Amount:       zeroIfNil(o.Amount),
			MakerFeeBps:  o.MakerFeeBps,
			TakerFeeBps:  o.TakerFeeBps,
			Expiry:       big.NewInt(o.Expiry),
			Salt:         zeroIfNil(o.Salt),
			Nonce:        zeroIfNil(o.Nonce),
			MintOnFill:   o.MintOnFill,
			AllowedTaker: o.AllowedTaker,
		},
		Signature:  walletSignature(f.Signature),
		FillAmount: zeroIfNil(f.FillAmount),
		Taker:      f.Taker,
	}
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// walletSignature converts a raw secp256k1 signature (V in {0, 1}) to the
// wallet form (V in {27, 28}) the contract's ecrecover expects.
func walletSignature(sig []byte) []byte {
	out := append([]byte(nil), sig...)
	if len(out) == 65 && out[64] < 27 {
		out[64] += 27
	}
	return out
}
