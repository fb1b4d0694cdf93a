package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side of an order relative to the outcome token.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Order is the maker's signed trade intent. It is immutable once signed:
// every field below is covered by the EIP-712 digest, so mutating any of
// them invalidates the signature and changes the order id.
type Order struct {
	Maker       common.Address `json:"maker"`
	MarketID    *big.Int       `json:"marketId"`
	ConditionID common.Hash    `json:"conditionId"`
	Outcome     uint8          `json:"outcome"` // 0 or 1, binary markets only
	Collateral  common.Address `json:"collateral"`
	PricePips   int64          `json:"pricePips"` // [0, 10000], 10000 = 100%
	Amount      *big.Int       `json:"amount"`    // collateral smallest unit
	MakerFeeBps uint16         `json:"makerFeeBps"`
	TakerFeeBps uint16         `json:"takerFeeBps"`
	Expiry      int64          `json:"expiry"` // unix seconds
	Salt        *big.Int       `json:"salt"`
	Nonce       *big.Int       `json:"nonce"`
	MintOnFill  bool           `json:"mintOnFill"`
	// AllowedTaker restricts the fill to one counterparty; zero address
	// means anyone may take.
	AllowedTaker common.Address `json:"allowedTaker"`

	// Signing domain binding. Not part of the Order struct on-chain but
	// part of the EIP-712 domain separator.
	ChainID           int64          `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// SignedOrder is the engine's bookkeeping wrapper around an admitted order.
// Remaining is the only mutable field and is owned by the order book that
// holds the order: 0 <= Remaining <= Order.Amount, and an order with
// Remaining == 0 is never resident in a book.
type SignedOrder struct {
	Order     Order     `json:"order"`
	Signature []byte    `json:"signature"`
	Side      Side      `json:"side"`
	ID        common.Hash `json:"id"` // EIP-712 order digest, stable for life
	AdmittedAt time.Time `json:"admittedAt"`
	Remaining *big.Int   `json:"remainingAmount"`
}

// Match pairs one resting buy with one resting sell.
type Match struct {
	Buy    *SignedOrder
	Sell   *SignedOrder
	Amount *big.Int // min(buy.Remaining, sell.Remaining) at match time
	Price  int64    // the resting sell price
}

// Fill is one settlement instruction derived from a Match. The sell-side
// resting order is always the settlement maker and the buy order's maker
// acts as taker; the contract mints the outcome pair against the seller's
// collateral, so the sell order is the one whose signature goes on-chain.
type Fill struct {
	OrderID    common.Hash    `json:"orderId"` // id of the maker (sell) order
	Order      Order          `json:"order"`
	Signature  []byte         `json:"signature"`
	FillAmount *big.Int       `json:"fillAmount"`
	Taker      common.Address `json:"taker"`
}

// OrderState is the lifecycle bucket reported by status queries.
type OrderState string

const (
	StateActive    OrderState = "active"
	StateFilled    OrderState = "filled"
	StateCancelled OrderState = "cancelled"
	StateNotFound  OrderState = "not_found"
)

// OrderStatus is the answer to a status query. Filled and Remaining are nil
// for not_found.
type OrderStatus struct {
	OrderID   common.Hash `json:"orderId"`
	State     OrderState  `json:"status"`
	Filled    *big.Int    `json:"filledAmount,omitempty"`
	Remaining *big.Int    `json:"remainingAmount,omitempty"`
}

// BookLevel is one aggregated price level in a snapshot.
type BookLevel struct {
	Price      int64    `json:"price"`
	Total      *big.Int `json:"amount"` // sum of Remaining across the level
	OrderCount int      `json:"orderCount"`
}

// BookSnapshot is a read-only view of one (market, outcome) book.
// Bids are sorted by descending price, asks ascending.
type BookSnapshot struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}
