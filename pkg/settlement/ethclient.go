package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/predictx/predictx/pkg/crypto"
)

// batchFillABI is the only contract surface the relayer uses.
const batchFillABI = `[{
	"name": "batchFill",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [{
		"name": "fills",
		"type": "tuple[]",
		"components": [
			{"name": "order", "type": "tuple", "components": [
				{"name": "maker", "type": "address"},
				{"name": "marketId", "type": "uint256"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "outcome", "type": "uint8"},
				{"name": "collateral", "type": "address"},
				{"name": "pricePips", "type": "uint128"},
				{"name": "amount", "type": "uint128"},
				{"name": "makerFeeBps", "type": "uint16"},
				{"name": "takerFeeBps", "type": "uint16"},
				{"name": "expiry", "type": "uint256"},
				{"name": "salt", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "mintOnFill", "type": "bool"},
				{"name": "allowedTaker", "type": "address"}
			]},
			{"name": "signature", "type": "bytes"},
			{"name": "fillAmount", "type": "uint128"},
			{"name": "taker", "type": "address"}
		]
	}],
	"outputs": []
}]`

// EthClient implements Client against a JSON-RPC endpoint. Transactions are
// signed locally with the relayer key; confirmation is one mined receipt.
type EthClient struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	signer   *crypto.Signer
	chainID  *big.Int

	pollInterval time.Duration
	log          *zap.SugaredLogger
}

func NewEthClient(ctx context.Context, rpcURL string, contract common.Address, signer *crypto.Signer, chainID int64, log *zap.SugaredLogger) (*EthClient, error) {
	parsed, err := abi.JSON(strings.NewReader(batchFillABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", rpcURL, err)
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &EthClient{
		eth:          eth,
		contract:     contract,
		abi:          parsed,
		signer:       signer,
		chainID:      big.NewInt(chainID),
		pollInterval: time.Second,
		log:          log,
	}, nil
}

func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price query failed: %w", err)
	}
	return price, nil
}

func (c *EthClient) EstimateGas(ctx context.Context, fills []FillArg) (uint64, error) {
	data, err := c.abi.Pack("batchFill", fills)
	if err != nil {
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}

	to := c.contract
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &to,
		Data: data,
	})
	if err != nil {
		// Keep the node's message intact: an estimation revert often
		// carries the settlement reason ("insufficient collateral")
		// that drives permanent-rejection classification.
		return 0, fmt.Errorf("gas estimation failed: %w", err)
	}
	return gas, nil
}

func (c *EthClient) SubmitBatch(ctx context.Context, fills []FillArg, gasLimit uint64, gasPrice *big.Int) (common.Hash, error) {
	data, err := c.abi.Pack("batchFill", fills)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode batch: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce query failed: %w", err)
	}

	tx := types.NewTransaction(nonce, c.contract, new(big.Int), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signer.PrivateKey())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.log.Infow("batch_submitted", "tx", signed.Hash().Hex(), "fills", len(fills), "gas_limit", gasLimit)
	return signed.Hash(), nil
}

// AwaitConfirmation polls for the receipt until the context expires.
// A mined-but-reverted transaction surfaces as an unknown (permanent)
// settlement error: the revert reason is already gone by this point, and
// resubmitting a reverted batch blindly would just burn gas again.
func (c *EthClient) AwaitConfirmation(ctx context.Context, txHash common.Hash) (uint64, error) {
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return 0, NewError(CodeUnknown, fmt.Sprintf("transaction %s reverted", txHash.Hex()))
			}
			return receipt.GasUsed, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return 0, fmt.Errorf("receipt query failed: %w", err)
		}

		select {
		case <-ctx.Done():
			return 0, NewError(CodeTimeout, fmt.Sprintf("timeout waiting for confirmation of %s", txHash.Hex()))
		case <-time.After(c.pollInterval):
		}
	}
}
