package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/predictx/predictx/pkg/crypto"
)

// EIP-712 domain for the settlement contract. The chain id and verifying
// contract come from the order itself so one engine can gate orders for the
// deployment it was configured with while the digest stays portable.
const (
	domainName    = "PredictXSettlementV2"
	domainVersion = "1"
)

var orderType = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "marketId", Type: "uint256"},
	{Name: "conditionId", Type: "bytes32"},
	{Name: "outcome", Type: "uint8"},
	{Name: "collateral", Type: "address"},
	{Name: "pricePips", Type: "uint128"},
	{Name: "amount", Type: "uint128"},
	{Name: "makerFeeBps", Type: "uint16"},
	{Name: "takerFeeBps", Type: "uint16"},
	{Name: "expiry", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "mintOnFill", Type: "bool"},
	{Name: "allowedTaker", Type: "address"},
}

func typedData(o *Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": orderType,
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(o.ChainID)),
			VerifyingContract: o.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":        o.Maker.Hex(),
			"marketId":     bigOrZero(o.MarketID).String(),
			"conditionId":  o.ConditionID.Hex(),
			"outcome":      fmt.Sprintf("%d", o.Outcome),
			"collateral":   o.Collateral.Hex(),
			"pricePips":    fmt.Sprintf("%d", o.PricePips),
			"amount":       bigOrZero(o.Amount).String(),
			"makerFeeBps":  fmt.Sprintf("%d", o.MakerFeeBps),
			"takerFeeBps":  fmt.Sprintf("%d", o.TakerFeeBps),
			"expiry":       fmt.Sprintf("%d", o.Expiry),
			"salt":         bigOrZero(o.Salt).String(),
			"nonce":        bigOrZero(o.Nonce).String(),
			"mintOnFill":   o.MintOnFill,
			"allowedTaker": o.AllowedTaker.Hex(),
		},
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// HashOrder computes the EIP-712 digest of an order. The digest doubles as
// the order id: it is deterministic for identical payloads and changes when
// any signed field changes.
func HashOrder(o *Order) (common.Hash, error) {
	td := typedData(o)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}

	// digest = keccak256("\x19\x01" || domainSeparator || structHash)
	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return gethcrypto.Keccak256Hash(raw), nil
}

// SignOrder signs the order digest with the given key. Returns a 65-byte
// [R || S || V] signature with V in {0, 1}.
func SignOrder(signer *crypto.Signer, o *Order) ([]byte, error) {
	digest, err := HashOrder(o)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest.Bytes())
}

// RecoverMaker recovers the address that signed the order.
func RecoverMaker(o *Order, signature []byte) (common.Address, error) {
	digest, err := HashOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverSigner(digest, signature)
}

// RecoverSigner recovers the signer of a precomputed order digest. Wallet
// signatures carry V in {27, 28}; those are normalized before recovery so
// both wallet and raw secp256k1 signatures verify.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	return crypto.RecoverAddress(digest.Bytes(), sig)
}
