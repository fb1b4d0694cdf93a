package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/predictx/predictx/pkg/util"
)

// FillSink receives the fills produced by a matching pass. The relayer
// implements it; tests substitute a recorder.
type FillSink interface {
	Enqueue(fills []Fill)
}

// Loop drives periodic matching passes. It owns no engine state: every tick
// is one call to Tick, which tests can invoke directly without wall-clock
// waits. Stop shuts the loop down deterministically.
type Loop struct {
	engine *Engine
	sink   FillSink

	interval   time.Duration
	sweepEvery int // expiry sweep runs every Nth tick; 0 disables

	// OnMatches, when set, observes each book's matches after a tick.
	// The API layer uses it to broadcast book updates.
	OnMatches func(bookKey string, matches []Match)

	clock util.Clock
	log   *zap.SugaredLogger

	ticks int
	stop  chan struct{}
	done  chan struct{}
}

func NewLoop(e *Engine, sink FillSink, interval time.Duration, sweepEvery int, clock util.Clock, log *zap.SugaredLogger) *Loop {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loop{
		engine:     e,
		sink:       sink,
		interval:   interval,
		sweepEvery: sweepEvery,
		clock:      clock,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the loop until Stop is called.
func (l *Loop) Start() {
	go func() {
		defer close(l.done)
		for {
			select {
			case <-l.stop:
				return
			case <-l.clock.After(l.interval):
				l.Tick()
			}
		}
	}()
	l.log.Infow("matching_loop_started", "interval_ms", l.interval.Milliseconds())
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
	l.log.Infow("matching_loop_stopped", "ticks", l.ticks)
}

// Tick runs one synchronous matching pass across all books, forwards the
// resulting fills to the sink, and periodically sweeps expired orders.
func (l *Loop) Tick() {
	l.ticks++

	for key, matches := range l.engine.MatchAll() {
		fills := l.engine.Fills(matches)
		if len(fills) > 0 {
			l.sink.Enqueue(fills)
		}
		if l.OnMatches != nil {
			l.OnMatches(key, matches)
		}
	}

	if l.sweepEvery > 0 && l.ticks%l.sweepEvery == 0 {
		if n := l.engine.SweepExpired(l.clock.Now().Unix()); n > 0 {
			l.log.Infow("expiry_sweep", "removed", n)
		}
	}
}
