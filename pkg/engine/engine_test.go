package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/pkg/crypto"
)

const testChainID = 1337

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000c2")

// fakeClock lets tests control admission time and expiry sweeps.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }
func (c *fakeClock) Now() time.Time                       { return c.now }

type fixture struct {
	t      *testing.T
	eng    *Engine
	signer *crypto.Signer
	clock  *fakeClock
	salt   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return &fixture{
		t:      t,
		eng:    New(testChainID, testContract, clock, nil),
		signer: signer,
		clock:  clock,
	}
}

func (f *fixture) order(outcome uint8, price, amount int64) *Order {
	f.salt++
	return &Order{
		Maker:             f.signer.Address(),
		MarketID:          big.NewInt(1),
		ConditionID:       common.BytesToHash([]byte("condition")),
		Outcome:           outcome,
		Collateral:        common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		PricePips:         price,
		Amount:            big.NewInt(amount),
		Expiry:            f.clock.now.Add(time.Hour).Unix(),
		Salt:              big.NewInt(f.salt),
		Nonce:             big.NewInt(0),
		ChainID:           testChainID,
		VerifyingContract: testContract,
	}
}

func (f *fixture) admit(side Side, outcome uint8, price, amount int64) common.Hash {
	f.t.Helper()
	o := f.order(outcome, price, amount)
	id, err := f.admitOrder(o, side)
	if err != nil {
		f.t.Fatalf("admit %s %d@%d: %v", side, amount, price, err)
	}
	return id
}

func (f *fixture) admitOrder(o *Order, side Side) (common.Hash, error) {
	f.t.Helper()
	sig, err := SignOrder(f.signer, o)
	if err != nil {
		f.t.Fatalf("sign order: %v", err)
	}
	return f.eng.Admit(o, sig, side)
}

func TestAdmitValidationOrder(t *testing.T) {
	f := newFixture(t)

	// Every defect below is present at once; the first check wins.
	bad := f.order(7, 5000, 10)
	bad.Amount = big.NewInt(0)
	bad.Expiry = f.clock.now.Add(-time.Minute).Unix()
	if _, err := f.admitOrder(bad, Buy); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}

	bad.Amount = big.NewInt(10)
	if _, err := f.admitOrder(bad, Buy); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("err = %v, want ErrOrderExpired", err)
	}

	bad.Expiry = f.clock.now.Add(time.Hour).Unix()
	if _, err := f.admitOrder(bad, Buy); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("err = %v, want ErrInvalidOutcome", err)
	}
}

func TestAdmitRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	o := f.order(0, 5000, 10)
	sig, err := SignOrder(f.signer, o)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}

	// Flip a signature byte: recovery yields some other address.
	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xff
	if _, err := f.eng.Admit(o, tampered, Buy); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}

	// Tamper with a signed field after signing: digest changes, maker
	// no longer matches.
	o.PricePips = 6000
	if _, err := f.eng.Admit(o, sig, Buy); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestAdmitDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	o := f.order(0, 5000, 10)
	if _, err := f.admitOrder(o, Buy); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := f.admitOrder(o, Buy); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("err = %v, want ErrAlreadyFilled for resident duplicate", err)
	}
}

func TestAdmitAcceptsWalletVSignature(t *testing.T) {
	f := newFixture(t)
	o := f.order(0, 5000, 10)
	sig, err := SignOrder(f.signer, o)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	// Wallets emit V in {27, 28}; admission must normalize.
	sig[64] += 27
	if _, err := f.eng.Admit(o, sig, Buy); err != nil {
		t.Fatalf("admit with wallet-style V: %v", err)
	}
}

func TestFullMatchLifecycle(t *testing.T) {
	f := newFixture(t)
	buyID := f.admit(Buy, 0, 5500, 100)
	sellID := f.admit(Sell, 0, 5000, 100)

	matches := f.eng.MatchOne(big.NewInt(1), 0)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Price != 5000 {
		t.Fatalf("match price = %d, want resting sell price 5000", matches[0].Price)
	}

	for _, id := range []common.Hash{buyID, sellID} {
		st := f.eng.Status(id)
		if st.State != StateFilled {
			t.Fatalf("status(%s) = %s, want filled", id.Hex(), st.State)
		}
		if st.Remaining.Sign() != 0 || st.Filled.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("status(%s) filled/remaining = %s/%s", id.Hex(), st.Filled, st.Remaining)
		}
	}
	if f.eng.Stats().TotalOrders != 0 {
		t.Fatal("fully matched orders must leave the books")
	}
}

func TestPartialFillStatus(t *testing.T) {
	f := newFixture(t)
	buyID := f.admit(Buy, 0, 5500, 100)
	f.admit(Sell, 0, 5000, 30)

	if n := len(f.eng.MatchOne(big.NewInt(1), 0)); n != 1 {
		t.Fatalf("got %d matches, want 1", n)
	}

	st := f.eng.Status(buyID)
	if st.State != StateActive {
		t.Fatalf("status = %s, want active", st.State)
	}
	if st.Filled.Cmp(big.NewInt(30)) != 0 || st.Remaining.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("filled/remaining = %s/%s, want 30/70", st.Filled, st.Remaining)
	}
}

func TestSequentialPartialFills(t *testing.T) {
	f := newFixture(t)
	buyID := f.admit(Buy, 0, 5500, 100)

	f.admit(Sell, 0, 5000, 30)
	f.eng.MatchOne(big.NewInt(1), 0)
	f.admit(Sell, 0, 5000, 70)
	f.eng.MatchOne(big.NewInt(1), 0)

	st := f.eng.Status(buyID)
	if st.State != StateFilled {
		t.Fatalf("status = %s, want filled after 30+70", st.State)
	}
	if st.Filled.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("filled = %s, want 100", st.Filled)
	}
}

func TestOutcomesMatchIndependently(t *testing.T) {
	f := newFixture(t)
	f.admit(Buy, 0, 5500, 100)
	f.admit(Sell, 1, 5000, 100)

	if all := f.eng.MatchAll(); len(all) != 0 {
		t.Fatal("orders on different outcomes must never cross")
	}

	f.admit(Sell, 0, 5000, 100)
	all := f.eng.MatchAll()
	if len(all) != 1 {
		t.Fatalf("got matches in %d books, want 1", len(all))
	}
	if _, ok := all[BookKey(big.NewInt(1), 0)]; !ok {
		t.Fatal("match must land in the outcome-0 book")
	}
}

func TestFillsSellIsMaker(t *testing.T) {
	f := newFixture(t)

	taker, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	buy := f.order(0, 5500, 40)
	buy.Maker = taker.Address()
	buySig, err := SignOrder(taker, buy)
	if err != nil {
		t.Fatalf("sign buy: %v", err)
	}
	if _, err := f.eng.Admit(buy, buySig, Buy); err != nil {
		t.Fatalf("admit buy: %v", err)
	}
	sellID := f.admit(Sell, 0, 5000, 40)

	fills := f.eng.Fills(f.eng.MatchOne(big.NewInt(1), 0))
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}
	fill := fills[0]
	if fill.OrderID != sellID {
		t.Fatal("the sell order is the settlement maker")
	}
	if fill.Taker != taker.Address() {
		t.Fatalf("taker = %s, want the buy maker %s", fill.Taker.Hex(), taker.Address().Hex())
	}
	if fill.FillAmount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("fill amount = %s, want 40", fill.FillAmount)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	id := f.admit(Buy, 0, 5500, 100)

	if !f.eng.Cancel(id, big.NewInt(1), 0) {
		t.Fatal("cancel of resident order must succeed")
	}
	if f.eng.Cancel(id, big.NewInt(1), 0) {
		t.Fatal("second cancel must report false")
	}
	if st := f.eng.Status(id); st.State != StateCancelled {
		t.Fatalf("status = %s, want cancelled", st.State)
	}

	// Cancelled orders no longer match.
	f.admit(Sell, 0, 5000, 100)
	if n := len(f.eng.MatchOne(big.NewInt(1), 0)); n != 0 {
		t.Fatalf("got %d matches against a cancelled order", n)
	}
}

func TestRejectFillPurgesRestingOrder(t *testing.T) {
	f := newFixture(t)
	f.admit(Buy, 0, 5500, 50)
	sellID := f.admit(Sell, 0, 5000, 100)

	fills := f.eng.Fills(f.eng.MatchOne(big.NewInt(1), 0))
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}

	// Settlement says the maker can never pay; the resting remainder is a
	// zombie and must be purged.
	f.eng.RejectFill(fills[0], errors.New("insufficient balance"))

	if st := f.eng.Status(sellID); st.State != StateCancelled {
		t.Fatalf("status = %s, want cancelled after rejection", st.State)
	}
	if f.eng.Stats().TotalOrders != 0 {
		t.Fatal("rejected maker order must leave the book")
	}
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t)
	st := f.eng.Status(common.BytesToHash([]byte("nope")))
	if st.State != StateNotFound {
		t.Fatalf("status = %s, want not_found", st.State)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	short := f.order(0, 5500, 10)
	short.Expiry = f.clock.now.Add(time.Minute).Unix()
	shortID, err := f.admitOrder(short, Buy)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	longID := f.admit(Buy, 0, 5400, 10)

	f.clock.now = f.clock.now.Add(2 * time.Minute)
	if n := f.eng.SweepExpired(f.clock.now.Unix()); n != 1 {
		t.Fatalf("swept %d orders, want 1", n)
	}
	if st := f.eng.Status(shortID); st.State != StateCancelled {
		t.Fatalf("expired order status = %s, want cancelled", st.State)
	}
	if st := f.eng.Status(longID); st.State != StateActive {
		t.Fatalf("live order status = %s, want active", st.State)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.admit(Buy, 0, 5500, 10)
	f.admit(Buy, 0, 5400, 10)
	f.admit(Sell, 1, 6000, 10)

	stats := f.eng.Stats()
	if stats.TotalOrders != 3 {
		t.Fatalf("total orders = %d, want 3", stats.TotalOrders)
	}
	if stats.TotalBooks != 2 || stats.ActiveBooks != 2 {
		t.Fatalf("books = %d/%d, want 2/2", stats.TotalBooks, stats.ActiveBooks)
	}
}

func TestLoopTickForwardsFills(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	loop := NewLoop(f.eng, sink, time.Second, 1, f.clock, nil)

	var gotKey string
	loop.OnMatches = func(key string, matches []Match) { gotKey = key }

	f.admit(Buy, 0, 5500, 25)
	f.admit(Sell, 0, 5000, 25)
	loop.Tick()

	if len(sink.fills) != 1 {
		t.Fatalf("sink received %d fills, want 1", len(sink.fills))
	}
	if gotKey != BookKey(big.NewInt(1), 0) {
		t.Fatalf("OnMatches key = %q", gotKey)
	}

	// sweepEvery = 1: the same tick also sweeps expiry.
	expiring := f.order(0, 5000, 10)
	expiring.Expiry = f.clock.now.Add(time.Minute).Unix()
	id, err := f.admitOrder(expiring, Buy)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	f.clock.now = f.clock.now.Add(time.Hour)
	loop.Tick()
	if st := f.eng.Status(id); st.State != StateCancelled {
		t.Fatalf("status = %s, want cancelled after sweep tick", st.State)
	}
}

type recordingSink struct {
	fills []Fill
}

func (s *recordingSink) Enqueue(fills []Fill) {
	s.fills = append(s.fills, fills...)
}
