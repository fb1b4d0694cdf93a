package engine

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/predictx/predictx/pkg/util"
)

// Admission rejections. These are caller errors reported synchronously;
// the engine never retries them.
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrOrderExpired     = errors.New("order expired")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAlreadyFilled    = errors.New("order already filled")
)

// Engine gates order admission, owns the order books keyed by
// (market, outcome), runs matching passes and translates matches into
// settlement fills.
//
// Admission is an optimistic pre-filter: it checks amount, expiry, outcome
// and the maker's EIP-712 signature, but not on-chain nonce cancellation or
// collateral sufficiency. Those are authoritative only at settlement; orders
// that turn out to be unsettleable are purged through RejectFill when the
// relayer classifies the failure as permanent.
type Engine struct {
	chainID           int64
	verifyingContract common.Address

	mu        sync.RWMutex
	books     map[string]*OrderBook
	records   map[common.Hash]orderRecord // every order ever admitted
	filled    map[common.Hash]*big.Int    // cumulative filled ledger
	cancelled map[common.Hash]bool

	clock util.Clock
	log   *zap.SugaredLogger
}

type orderRecord struct {
	amount  *big.Int
	bookKey string
}

func New(chainID int64, verifyingContract common.Address, clock util.Clock, log *zap.SugaredLogger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		chainID:           chainID,
		verifyingContract: verifyingContract,
		books:             make(map[string]*OrderBook),
		records:           make(map[common.Hash]orderRecord),
		filled:            make(map[common.Hash]*big.Int),
		cancelled:         make(map[common.Hash]bool),
		clock:             clock,
		log:               log,
	}
}

// BookKey names one (market, outcome) book.
func BookKey(marketID *big.Int, outcome uint8) string {
	return fmt.Sprintf("%s-%d", bigOrZero(marketID).String(), outcome)
}

func (e *Engine) book(marketID *big.Int, outcome uint8) *OrderBook {
	key := BookKey(marketID, outcome)
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[key]; ok {
		return b
	}
	b := NewOrderBook()
	e.books[key] = b
	return b
}

// Admit validates an incoming order and, on success, rests it in its book
// and returns the order id. Validation order is fixed; the first failure
// wins: amount, expiry, outcome, signature, then the already-filled check
// against the cumulative fill ledger. Re-admitting a partially filled order
// rests only the unfilled remainder.
func (e *Engine) Admit(order *Order, signature []byte, side Side) (common.Hash, error) {
	if order.Amount == nil || order.Amount.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	if order.Expiry <= e.clock.Now().Unix() {
		return common.Hash{}, ErrOrderExpired
	}
	if order.Outcome > 1 {
		return common.Hash{}, ErrInvalidOutcome
	}

	id, err := HashOrder(order)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}
	maker, err := RecoverSigner(id, signature)
	if err != nil || maker != order.Maker {
		return common.Hash{}, ErrInvalidSignature
	}

	book := e.book(order.MarketID, order.Outcome)
	if book.FindOrder(id) != nil {
		return common.Hash{}, ErrAlreadyFilled
	}

	e.mu.Lock()
	remaining := new(big.Int).Set(order.Amount)
	if prior, ok := e.filled[id]; ok {
		remaining.Sub(remaining, prior)
	}
	if remaining.Sign() <= 0 {
		e.mu.Unlock()
		return common.Hash{}, ErrAlreadyFilled
	}
	e.records[id] = orderRecord{
		amount:  new(big.Int).Set(order.Amount),
		bookKey: BookKey(order.MarketID, order.Outcome),
	}
	delete(e.cancelled, id)
	e.mu.Unlock()

	book.AddOrder(&SignedOrder{
		Order:      *order,
		Signature:  append([]byte(nil), signature...),
		Side:       side,
		ID:         id,
		AdmittedAt: e.clock.Now(),
		Remaining:  remaining,
	})

	e.log.Infow("order_admitted",
		"id", id.Hex(),
		"side", side,
		"market", bigOrZero(order.MarketID).String(),
		"outcome", order.Outcome,
		"price_pips", order.PricePips,
		"amount", order.Amount.String(),
	)
	return id, nil
}

// Cancel removes a resting order from its book. Used both for user
// cancellation and for relayer-driven purges. Returns false if the order is
// not resident.
func (e *Engine) Cancel(id common.Hash, marketID *big.Int, outcome uint8) bool {
	removed := e.book(marketID, outcome).RemoveOrder(id)
	if removed {
		e.mu.Lock()
		e.cancelled[id] = true
		e.mu.Unlock()
		e.log.Infow("order_cancelled", "id", id.Hex())
	}
	return removed
}

// MatchOne runs one matching pass for a single book and folds the matched
// amounts into the cumulative fill ledger, which outlives book residency so
// status queries keep working after an order is fully consumed.
func (e *Engine) MatchOne(marketID *big.Int, outcome uint8) []Match {
	matches := e.book(marketID, outcome).Match()
	if len(matches) == 0 {
		return nil
	}

	e.mu.Lock()
	for _, m := range matches {
		e.addFilledLocked(m.Buy.ID, m.Amount)
		e.addFilledLocked(m.Sell.ID, m.Amount)
	}
	e.mu.Unlock()

	e.log.Infow("matched",
		"book", BookKey(marketID, outcome),
		"matches", len(matches),
	)
	return matches
}

func (e *Engine) addFilledLocked(id common.Hash, amount *big.Int) {
	total, ok := e.filled[id]
	if !ok {
		total = new(big.Int)
		e.filled[id] = total
	}
	total.Add(total, amount)
}

// MatchAll runs a matching pass over every known book and returns the
// matches keyed by book. Books that produced no matches are omitted.
func (e *Engine) MatchAll() map[string][]Match {
	e.mu.RLock()
	keys := make([]string, 0, len(e.books))
	for key := range e.books {
		keys = append(keys, key)
	}
	e.mu.RUnlock()

	all := make(map[string][]Match)
	for _, key := range keys {
		marketID, outcome, err := splitBookKey(key)
		if err != nil {
			continue
		}
		if matches := e.MatchOne(marketID, outcome); len(matches) > 0 {
			all[key] = matches
		}
	}
	return all
}

func splitBookKey(key string) (*big.Int, uint8, error) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 {
		return nil, 0, fmt.Errorf("malformed book key %q", key)
	}
	marketID, ok := new(big.Int).SetString(key[:i], 10)
	if !ok {
		return nil, 0, fmt.Errorf("malformed book key %q", key)
	}
	outcome, err := strconv.ParseUint(key[i+1:], 10, 8)
	if err != nil {
		return nil, 0, fmt.Errorf("malformed book key %q: %w", key, err)
	}
	return marketID, uint8(outcome), nil
}

// Fills converts matches to settlement fills. The sell-side resting order is
// always the settlement maker and the buy order's maker acts as taker; the
// contract treats the side paying collateral for outcome tokens as taker, so
// arrival order plays no part here.
func (e *Engine) Fills(matches []Match) []Fill {
	fills := make([]Fill, 0, len(matches))
	for _, m := range matches {
		fills = append(fills, Fill{
			OrderID:    m.Sell.ID,
			Order:      m.Sell.Order,
			Signature:  append([]byte(nil), m.Sell.Signature...),
			FillAmount: new(big.Int).Set(m.Amount),
			Taker:      m.Buy.Order.Maker,
		})
	}
	return fills
}

// RejectFill is the relayer's permanent-rejection callback target. The fill
// could never settle, so its resting order is purged from the book to stop
// it being offered to new takers as a zombie.
func (e *Engine) RejectFill(fill Fill, reason error) {
	removed := e.Cancel(fill.OrderID, fill.Order.MarketID, fill.Order.Outcome)
	e.log.Warnw("fill_rejected",
		"id", fill.OrderID.Hex(),
		"reason", reason,
		"purged", removed,
	)
}

// Status reports the lifecycle state of an order by id. The fill ledger is
// consulted independently of book residency, so a fully consumed order still
// reports filled after removal.
func (e *Engine) Status(id common.Hash) OrderStatus {
	e.mu.RLock()
	record, known := e.records[id]
	filled := new(big.Int)
	if f, ok := e.filled[id]; ok {
		filled.Set(f)
	}
	wasCancelled := e.cancelled[id]
	var book *OrderBook
	if known {
		book = e.books[record.bookKey]
	}
	e.mu.RUnlock()

	if !known {
		return OrderStatus{OrderID: id, State: StateNotFound}
	}

	remaining := new(big.Int).Sub(record.amount, filled)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	status := OrderStatus{OrderID: id, Filled: filled, Remaining: remaining}
	switch {
	case book != nil && book.FindOrder(id) != nil:
		status.State = StateActive
	case remaining.Sign() == 0:
		status.State = StateFilled
	case wasCancelled:
		status.State = StateCancelled
	default:
		status.State = StateNotFound
	}
	return status
}

// BookSnapshot returns the aggregated view of one book for read-only
// callers. An unknown (market, outcome) yields an empty snapshot.
func (e *Engine) BookSnapshot(marketID *big.Int, outcome uint8) BookSnapshot {
	return e.book(marketID, outcome).Snapshot()
}

// SweepExpired removes resting orders whose expiry has passed. Matching
// itself never re-checks expiry, so without the sweep an expired order
// could still match until settlement rejected it; the sweep purges it the
// way a cancel does. Returns the number of orders removed.
func (e *Engine) SweepExpired(now int64) int {
	e.mu.RLock()
	books := make([]*OrderBook, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	removed := 0
	for _, b := range books {
		expired := b.RemoveExpired(now)
		if len(expired) == 0 {
			continue
		}
		e.mu.Lock()
		for _, o := range expired {
			e.cancelled[o.ID] = true
		}
		e.mu.Unlock()
		for _, o := range expired {
			e.log.Infow("order_expired", "id", o.ID.Hex())
		}
		removed += len(expired)
	}
	return removed
}

// BookStats is the per-book line in engine statistics.
type BookStats struct {
	Book   string `json:"market"`
	Orders int    `json:"orders"`
}

// Stats aggregates resting-order counts across books.
type Stats struct {
	TotalOrders int         `json:"totalOrders"`
	TotalBooks  int         `json:"totalBooks"`
	ActiveBooks int         `json:"activeBooks"`
	Books       []BookStats `json:"books"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{TotalBooks: len(e.books)}
	for key, b := range e.books {
		count := b.Count()
		stats.TotalOrders += count
		if count > 0 {
			stats.ActiveBooks++
			stats.Books = append(stats.Books, BookStats{Book: key, Orders: count})
		}
	}
	return stats
}
