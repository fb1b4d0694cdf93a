package engine

import (
	"container/heap"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OrderBook holds the resting orders for one (market, outcome) pair and owns
// price-time-priority matching for it. Price levels are FIFO slices keyed by
// price, with heaps tracking the best price on each side and an id index for
// O(1) lookup and cancellation.
//
// None of the methods fail: unknown ids are no-ops reported through boolean
// returns. All state is guarded by one mutex; callers never touch the maps
// directly.
type OrderBook struct {
	mu sync.RWMutex

	bidPrices *bidHeap
	askPrices *askHeap

	bids map[int64][]*SignedOrder // price -> FIFO queue
	asks map[int64][]*SignedOrder

	index map[common.Hash]bookRef // order id -> location
}

type bookRef struct {
	price int64
	side  Side
}

func NewOrderBook() *OrderBook {
	bids := &bidHeap{}
	asks := &askHeap{}
	heap.Init(bids)
	heap.Init(asks)

	return &OrderBook{
		bidPrices: bids,
		askPrices: asks,
		bids:      make(map[int64][]*SignedOrder),
		asks:      make(map[int64][]*SignedOrder),
		index:     make(map[common.Hash]bookRef),
	}
}

// AddOrder inserts at the tail of the FIFO queue for the order's price.
// Arrival order within a price level is exactly insertion order.
func (b *OrderBook) AddOrder(o *SignedOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price := o.Order.PricePips
	if o.Side == Buy {
		if len(b.bids[price]) == 0 {
			heap.Push(b.bidPrices, price)
		}
		b.bids[price] = append(b.bids[price], o)
	} else {
		if len(b.asks[price]) == 0 {
			heap.Push(b.askPrices, price)
		}
		b.asks[price] = append(b.asks[price], o)
	}
	b.index[o.ID] = bookRef{price: price, side: o.Side}
}

// RemoveOrder removes one order and deletes its price level if it empties.
// Returns false if the id is not resident.
func (b *OrderBook) RemoveOrder(id common.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *OrderBook) removeLocked(id common.Hash) bool {
	ref, ok := b.index[id]
	if !ok {
		return false
	}

	queue := b.sideQueue(ref)
	for i, o := range queue {
		if o.ID == id {
			b.setSideQueue(ref, append(queue[:i], queue[i+1:]...))
			delete(b.index, id)
			return true
		}
	}
	return false
}

func (b *OrderBook) sideQueue(ref bookRef) []*SignedOrder {
	if ref.side == Buy {
		return b.bids[ref.price]
	}
	return b.asks[ref.price]
}

func (b *OrderBook) setSideQueue(ref bookRef, queue []*SignedOrder) {
	if ref.side == Buy {
		if len(queue) == 0 {
			delete(b.bids, ref.price)
			removeBidPrice(b.bidPrices, ref.price)
			return
		}
		b.bids[ref.price] = queue
		return
	}
	if len(queue) == 0 {
		delete(b.asks, ref.price)
		removeAskPrice(b.askPrices, ref.price)
		return
	}
	b.asks[ref.price] = queue
}

// Removing an arbitrary price level from a heap is a scan, but levels only
// empty on full consumption or cancel so it stays off the hot path.
func removeBidPrice(h *bidHeap, price int64) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i] == price {
			heap.Remove(h, i)
			return
		}
	}
}

func removeAskPrice(h *askHeap, price int64) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i] == price {
			heap.Remove(h, i)
			return
		}
	}
}

// UpdateRemaining sets the order's remaining amount, removing the order from
// the book when it reaches zero. Returns false for unknown ids.
func (b *OrderBook) UpdateRemaining(id common.Hash, remaining *big.Int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateRemainingLocked(id, remaining)
}

func (b *OrderBook) updateRemainingLocked(id common.Hash, remaining *big.Int) bool {
	ref, ok := b.index[id]
	if !ok {
		return false
	}
	for _, o := range b.sideQueue(ref) {
		if o.ID == id {
			o.Remaining = new(big.Int).Set(remaining)
			if o.Remaining.Sign() <= 0 {
				b.removeLocked(id)
			}
			return true
		}
	}
	return false
}

// BestBid returns the highest bid price, if any.
func (b *OrderBook) BestBid() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

// BestAsk returns the lowest ask price, if any.
func (b *OrderBook) BestAsk() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *OrderBook) bestBidLocked() (int64, bool) {
	if b.bidPrices.Len() == 0 {
		return 0, false
	}
	return b.bidPrices.Peek(), true
}

func (b *OrderBook) bestAskLocked() (int64, bool) {
	if b.askPrices.Len() == 0 {
		return 0, false
	}
	return b.askPrices.Peek(), true
}

// Match runs the greedy crossing loop: while the best bid is at or above the
// best ask, the oldest order on each side trades min(remaining) at the
// resting sell price, and fully consumed orders leave the book. Price
// priority first, arrival order second; deterministic for a fixed insertion
// order. Returns no matches and changes nothing when the book does not cross.
func (b *OrderBook) Match() []Match {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matches []Match
	for {
		bid, okBid := b.bestBidLocked()
		ask, okAsk := b.bestAskLocked()
		if !okBid || !okAsk || bid < ask {
			break
		}

		buyQueue := b.bids[bid]
		sellQueue := b.asks[ask]
		if len(buyQueue) == 0 || len(sellQueue) == 0 {
			break
		}

		buy := buyQueue[0]
		sell := sellQueue[0]

		amount := new(big.Int).Set(buy.Remaining)
		if sell.Remaining.Cmp(amount) < 0 {
			amount.Set(sell.Remaining)
		}

		// Taker (buyer) is filled at the maker's ask price.
		matches = append(matches, Match{
			Buy:    buy,
			Sell:   sell,
			Amount: amount,
			Price:  ask,
		})

		b.updateRemainingLocked(buy.ID, new(big.Int).Sub(buy.Remaining, amount))
		b.updateRemainingLocked(sell.ID, new(big.Int).Sub(sell.Remaining, amount))
	}

	return matches
}

// Snapshot aggregates each price level's remaining amount and order count,
// bids sorted best (highest) first, asks best (lowest) first.
func (b *OrderBook) Snapshot() BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BookSnapshot{
		Bids: make([]BookLevel, 0, len(b.bids)),
		Asks: make([]BookLevel, 0, len(b.asks)),
	}

	for _, price := range sortedPricesDesc(b.bids) {
		snap.Bids = append(snap.Bids, levelFor(price, b.bids[price]))
	}
	for _, price := range sortedPricesAsc(b.asks) {
		snap.Asks = append(snap.Asks, levelFor(price, b.asks[price]))
	}
	return snap
}

func levelFor(price int64, queue []*SignedOrder) BookLevel {
	total := new(big.Int)
	for _, o := range queue {
		total.Add(total, o.Remaining)
	}
	return BookLevel{Price: price, Total: total, OrderCount: len(queue)}
}

func sortedPricesDesc(m map[int64][]*SignedOrder) []int64 {
	prices := pricesOf(m)
	sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	return prices
}

func sortedPricesAsc(m map[int64][]*SignedOrder) []int64 {
	prices := pricesOf(m)
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	return prices
}

func pricesOf(m map[int64][]*SignedOrder) []int64 {
	prices := make([]int64, 0, len(m))
	for p := range m {
		prices = append(prices, p)
	}
	return prices
}

// FindOrder returns the resident order for id, or nil.
func (b *OrderBook) FindOrder(id common.Hash) *SignedOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ref, ok := b.index[id]
	if !ok {
		return nil
	}
	for _, o := range b.sideQueue(ref) {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Count returns the number of resting orders on both sides.
func (b *OrderBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// RemoveExpired purges resting orders whose expiry is at or before now and
// returns them, oldest first within a level.
func (b *OrderBook) RemoveExpired(now int64) []*SignedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []*SignedOrder
	for id, ref := range b.index {
		for _, o := range b.sideQueue(ref) {
			if o.ID == id && o.Order.Expiry <= now {
				expired = append(expired, o)
				break
			}
		}
	}
	for _, o := range expired {
		b.removeLocked(o.ID)
	}
	return expired
}
