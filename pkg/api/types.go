package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/pkg/engine"
)

// ==============================
// REST Request/Response Types
// ==============================

// OrderPayload is the wire form of an order. Big integers travel as decimal
// strings, addresses and hashes as 0x-hex.
type OrderPayload struct {
	Maker             string `json:"maker"`
	MarketID          string `json:"marketId"`
	ConditionID       string `json:"conditionId"`
	Outcome           uint8  `json:"outcome"`
	Collateral        string `json:"collateral"`
	PricePips         int64  `json:"pricePips"`
	Amount            string `json:"amount"`
	MakerFeeBps       uint16 `json:"makerFeeBps"`
	TakerFeeBps       uint16 `json:"takerFeeBps"`
	Expiry            int64  `json:"expiry"`
	Salt              string `json:"salt"`
	Nonce             string `json:"nonce"`
	MintOnFill        bool   `json:"mintOnFill"`
	AllowedTaker      string `json:"allowedTaker"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type SubmitOrderRequest struct {
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature"` // 0x-hex, 65 bytes
	Side      string       `json:"side"`      // BUY or SELL
}

type SubmitOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CancelOrderRequest struct {
	OrderID  string `json:"orderId"`
	MarketID string `json:"marketId"`
	Outcome  uint8  `json:"outcome"`
}

type CancelOrderResponse struct {
	Success bool `json:"success"`
}

type LevelInfo struct {
	Price      int64  `json:"price"`
	Amount     string `json:"amount"`
	OrderCount int    `json:"orderCount"`
}

type BookResponse struct {
	MarketID string      `json:"marketId"`
	Outcome  uint8       `json:"outcome"`
	Bids     []LevelInfo `json:"bids"`
	Asks     []LevelInfo `json:"asks"`
}

type StatusResponse struct {
	OrderID         string `json:"orderId"`
	Status          string `json:"status"`
	FilledAmount    string `json:"filledAmount,omitempty"`
	RemainingAmount string `json:"remainingAmount,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

type TradeUpdate struct {
	Book      string `json:"book"`
	Price     int64  `json:"price"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// ==============================
// Conversions
// ==============================

func (p *OrderPayload) ToOrder() (*engine.Order, error) {
	marketID, err := parseBig(p.MarketID, "marketId")
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	salt, err := parseBig(p.Salt, "salt")
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig(p.Nonce, "nonce")
	if err != nil {
		return nil, err
	}
	for _, addr := range []struct{ name, v string }{
		{"maker", p.Maker},
		{"collateral", p.Collateral},
		{"allowedTaker", p.AllowedTaker},
		{"verifyingContract", p.VerifyingContract},
	} {
		if !common.IsHexAddress(addr.v) {
			return nil, fmt.Errorf("invalid %s address", addr.name)
		}
	}

	return &engine.Order{
		Maker:             common.HexToAddress(p.Maker),
		MarketID:          marketID,
		ConditionID:       common.HexToHash(p.ConditionID),
		Outcome:           p.Outcome,
		Collateral:        common.HexToAddress(p.Collateral),
		PricePips:         p.PricePips,
		Amount:            amount,
		MakerFeeBps:       p.MakerFeeBps,
		TakerFeeBps:       p.TakerFeeBps,
		Expiry:            p.Expiry,
		Salt:              salt,
		Nonce:             nonce,
		MintOnFill:        p.MintOnFill,
		AllowedTaker:      common.HexToAddress(p.AllowedTaker),
		ChainID:           p.ChainID,
		VerifyingContract: common.HexToAddress(p.VerifyingContract),
	}, nil
}

func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func parseSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	return sig, nil
}

func bookResponse(marketID string, outcome uint8, snap engine.BookSnapshot) BookResponse {
	resp := BookResponse{
		MarketID: marketID,
		Outcome:  outcome,
		Bids:     make([]LevelInfo, 0, len(snap.Bids)),
		Asks:     make([]LevelInfo, 0, len(snap.Asks)),
	}
	for _, l := range snap.Bids {
		resp.Bids = append(resp.Bids, LevelInfo{Price: l.Price, Amount: l.Total.String(), OrderCount: l.OrderCount})
	}
	for _, l := range snap.Asks {
		resp.Asks = append(resp.Asks, LevelInfo{Price: l.Price, Amount: l.Total.String(), OrderCount: l.OrderCount})
	}
	return resp
}

func statusResponse(st engine.OrderStatus) StatusResponse {
	resp := StatusResponse{
		OrderID: st.OrderID.Hex(),
		Status:  string(st.State),
	}
	if st.Filled != nil {
		resp.FilledAmount = st.Filled.String()
	}
	if st.Remaining != nil {
		resp.RemainingAmount = st.Remaining.String()
	}
	return resp
}
