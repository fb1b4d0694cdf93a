// Package relayer pushes matched fills to the on-chain settlement contract.
// Fills are batched for gas efficiency, submissions retry transient
// failures with exponential backoff, and permanently failed fills are
// dropped with a per-fill rejection callback so the matching engine can
// purge resting orders that can never settle.
package relayer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/predictx/predictx/pkg/engine"
	"github.com/predictx/predictx/pkg/settlement"
	"github.com/predictx/predictx/pkg/util"
)

type Config struct {
	BatchSize       int
	BatchDelay      time.Duration
	MaxGasPriceGwei int64
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 2 * time.Second
	}
	if c.MaxGasPriceGwei <= 0 {
		c.MaxGasPriceGwei = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	return c
}

// RejectFunc is invoked once per fill when its batch fails permanently.
type RejectFunc func(fill engine.Fill, reason error)

// Stats is the relayer's counter snapshot.
type Stats struct {
	SubmittedBatches  uint64 `json:"submittedBatches"`
	SubmittedFills    uint64 `json:"submittedFills"`
	RejectedFills     uint64 `json:"permanentlyRejectedFills"`
	FailedSubmissions uint64 `json:"failedSubmissions"`
	PendingFills      int    `json:"pendingFills"`
	AvgGasPerBatch    uint64 `json:"averageGasPerSubmission"`
}

// Relayer owns the pending-fill queue. The queue is mutated only under one
// mutex; the network submission runs outside it so Enqueue never blocks on
// blockchain I/O, and at most one submission is in flight at a time.
type Relayer struct {
	client   settlement.Client
	cfg      Config
	clock    util.Clock
	log      *zap.SugaredLogger
	onReject RejectFunc

	mu          sync.Mutex
	pending     []engine.Fill
	timerCancel chan struct{}
	inFlight    bool

	submittedBatches  uint64
	submittedFills    uint64
	rejectedFills     uint64
	failedSubmissions uint64
	totalGasUsed      uint64
}

func New(client settlement.Client, cfg Config, clock util.Clock, log *zap.SugaredLogger, onReject RejectFunc) *Relayer {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Relayer{
		client:   client,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		log:      log,
		onReject: onReject,
	}
}

// Enqueue appends fills to the pending queue. A batch timer starts if none
// is running; once the queue reaches the batch size the timer is cancelled
// and submission starts immediately.
func (r *Relayer) Enqueue(fills []engine.Fill) {
	if len(fills) == 0 {
		return
	}

	r.mu.Lock()
	r.pending = append(r.pending, fills...)
	depth := len(r.pending)
	if depth >= r.cfg.BatchSize {
		r.cancelTimerLocked()
		r.mu.Unlock()
		r.log.Infow("batch_threshold_reached", "pending", depth)
		go r.Process(context.Background())
		return
	}
	if r.timerCancel == nil {
		r.startTimerLocked()
	}
	r.mu.Unlock()
	r.log.Infow("fills_queued", "added", len(fills), "pending", depth)
}

func (r *Relayer) startTimerLocked() {
	cancel := make(chan struct{})
	r.timerCancel = cancel
	go func() {
		select {
		case <-r.clock.After(r.cfg.BatchDelay):
			r.mu.Lock()
			if r.timerCancel == cancel {
				r.timerCancel = nil
			}
			r.mu.Unlock()
			r.Process(context.Background())
		case <-cancel:
		}
	}()
}

func (r *Relayer) cancelTimerLocked() {
	if r.timerCancel != nil {
		close(r.timerCancel)
		r.timerCancel = nil
	}
}

// Process takes one batch from the head of the queue (FIFO, no reordering)
// and submits it. On a permanent failure every fill in the batch is dropped
// and the rejection callback fires per fill; on an exhausted transient
// failure the batch is re-queued at the head for the next cycle.
func (r *Relayer) Process(ctx context.Context) {
	r.mu.Lock()
	if r.inFlight || len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	n := len(r.pending)
	if n > r.cfg.BatchSize {
		n = r.cfg.BatchSize
	}
	batch := make([]engine.Fill, n)
	copy(batch, r.pending[:n])
	r.pending = r.pending[n:]
	r.mu.Unlock()

	args := make([]settlement.FillArg, len(batch))
	for i, f := range batch {
		args[i] = settlement.FillArgOf(f)
	}

	gasUsed, err := r.submitWithRetry(ctx, args)
	permanent := err != nil && Classify(err) == NonRetryable

	r.mu.Lock()
	r.inFlight = false
	switch {
	case err == nil:
		r.submittedBatches++
		r.submittedFills += uint64(len(batch))
		r.totalGasUsed += gasUsed
	case permanent:
		r.failedSubmissions++
		r.rejectedFills += uint64(len(batch))
	default:
		// Transient conditions eventually clear; keep order by putting
		// the batch back at the head.
		r.failedSubmissions++
		r.pending = append(append([]engine.Fill(nil), batch...), r.pending...)
	}
	if len(r.pending) > 0 && r.timerCancel == nil {
		r.startTimerLocked()
	}
	r.mu.Unlock()

	switch {
	case err == nil:
		r.log.Infow("batch_confirmed", "fills", len(batch), "gas_used", gasUsed)
	case permanent:
		r.log.Warnw("batch_rejected", "fills", len(batch), "err", err)
		if r.onReject != nil {
			for _, f := range batch {
				r.onReject(f, err)
			}
		}
	default:
		r.log.Warnw("batch_requeued", "fills", len(batch), "err", err)
	}
}

func (r *Relayer) submitWithRetry(ctx context.Context, args []settlement.FillArg) (uint64, error) {
	for attempt := 1; ; attempt++ {
		gasUsed, err := r.attempt(ctx, args)
		if err == nil {
			return gasUsed, nil
		}
		r.log.Warnw("submission_failed", "attempt", attempt, "err", err)

		if Classify(err) != Retryable || attempt >= r.cfg.MaxRetries {
			return 0, err
		}

		delay := r.cfg.RetryBaseDelay << uint(attempt-1)
		if delay > r.cfg.RetryMaxDelay {
			delay = r.cfg.RetryMaxDelay
		}
		select {
		case <-ctx.Done():
			// Classified retryable so the batch is preserved.
			return 0, settlement.NewError(settlement.CodeTimeout,
				fmt.Sprintf("submission abandoned: %v", ctx.Err()))
		case <-r.clock.After(delay):
		}
	}
}

// attempt is one full submission: gas-price gate, estimation, send, one
// confirmation. These are the relayer's only I/O suspension points.
func (r *Relayer) attempt(ctx context.Context, args []settlement.FillArg) (uint64, error) {
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}

	maxWei := new(big.Int).Mul(big.NewInt(r.cfg.MaxGasPriceGwei), big.NewInt(params.GWei))
	if gasPrice.Cmp(maxWei) > 0 {
		// Price may drop; treated as transient without sending.
		return 0, settlement.NewError(settlement.CodeGasPriceTooHigh,
			fmt.Sprintf("gas price too high: %s wei > %d gwei", gasPrice.String(), r.cfg.MaxGasPriceGwei))
	}

	gasLimit, err := r.client.EstimateGas(ctx, args)
	if err != nil {
		return 0, err
	}

	txHash, err := r.client.SubmitBatch(ctx, args, gasLimit*120/100, gasPrice)
	if err != nil {
		return 0, err
	}

	return r.client.AwaitConfirmation(ctx, txHash)
}

// Flush cancels any pending timer and synchronously drains the queue. Used
// on graceful shutdown so no fills are silently lost from memory. Stops
// early if a cycle makes no progress (a re-queued transient failure would
// otherwise spin forever).
func (r *Relayer) Flush(ctx context.Context) {
	for {
		r.mu.Lock()
		r.cancelTimerLocked()
		before := len(r.pending)
		r.mu.Unlock()
		if before == 0 {
			return
		}

		r.Process(ctx)

		r.mu.Lock()
		after := len(r.pending)
		r.mu.Unlock()
		if after >= before {
			r.log.Warnw("flush_stalled", "pending", after)
			return
		}
	}
}

func (r *Relayer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		SubmittedBatches:  r.submittedBatches,
		SubmittedFills:    r.submittedFills,
		RejectedFills:     r.rejectedFills,
		FailedSubmissions: r.failedSubmissions,
		PendingFills:      len(r.pending),
	}
	if r.submittedBatches > 0 {
		s.AvgGasPerBatch = r.totalGasUsed / r.submittedBatches
	}
	return s
}
