package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/pkg/api"
	"github.com/predictx/predictx/pkg/crypto"
	"github.com/predictx/predictx/pkg/engine"
)

// Developer tool: generate a key, sign a sample order and print the payload
// ready to POST to the matcher API.
func main() {
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	oracle := common.HexToAddress("0x0000000000000000000000000000000000000001")
	conditionID := crypto.ConditionID(oracle, crypto.QuestionID("Will it rain tomorrow?"), 2)

	order := &engine.Order{
		Maker:             signer.Address(),
		MarketID:          big.NewInt(1),
		ConditionID:       conditionID,
		Outcome:           1,
		Collateral:        common.HexToAddress("0x0000000000000000000000000000000000000002"),
		PricePips:         5500, // 55%
		Amount:            big.NewInt(1_000_000),
		MakerFeeBps:       10,
		TakerFeeBps:       20,
		Expiry:            time.Now().Add(24 * time.Hour).Unix(),
		Salt:              big.NewInt(time.Now().UnixNano()),
		Nonce:             big.NewInt(1),
		MintOnFill:        true,
		AllowedTaker:      common.Address{}, // anyone
		ChainID:           1111111,
		VerifyingContract: common.HexToAddress("0x0000000000000000000000000000000000000003"),
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Market: %s, Outcome: %d\n", order.MarketID, order.Outcome)
	fmt.Printf("  Price: %d pips, Amount: %s\n", order.PricePips, order.Amount)
	fmt.Printf("  Condition: %s\n\n", order.ConditionID.Hex())

	signature, err := engine.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	id, err := engine.HashOrder(order)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Order ID: %s\n\n", id.Hex())

	fmt.Println("Verifying signature...")
	recovered, err := engine.RecoverMaker(order, signature)
	if err != nil || recovered != order.Maker {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	payload := api.SubmitOrderRequest{
		Order: api.OrderPayload{
			Maker:             order.Maker.Hex(),
			MarketID:          order.MarketID.String(),
			ConditionID:       order.ConditionID.Hex(),
			Outcome:           order.Outcome,
			Collateral:        order.Collateral.Hex(),
			PricePips:         order.PricePips,
			Amount:            order.Amount.String(),
			MakerFeeBps:       order.MakerFeeBps,
			TakerFeeBps:       order.TakerFeeBps,
			Expiry:            order.Expiry,
			Salt:              order.Salt.String(),
			Nonce:             order.Nonce.String(),
			MintOnFill:        order.MintOnFill,
			AllowedTaker:      order.AllowedTaker.Hex(),
			ChainID:           order.ChainID,
			VerifyingContract: order.VerifyingContract.Hex(),
		},
		Signature: fmt.Sprintf("0x%x", signature),
		Side:      string(engine.Buy),
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("To submit this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}
