package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Abulk79/Virt/backend/internal/metrics"
	"github.com/Abulk79/Virt/backend/internal/orderbook"
	"github.com/Abulk79/Virt/backend/internal/store"
)

// SweepInstrument rebuilds one instrument's book and crosses any resting orders that
// overlap. With nothing crossable it commits no change.
func (e *Engine) SweepInstrument(ctx context.Context, instrumentID uuid.UUID) (*Result, error) {
	var res *Result
	err := e.locks.With(instrumentID, func() error {
		return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.LockInstrument(ctx, instrumentID); err != nil {
				return fmt.Errorf("lock instrument: %w", err)
			}
			inst, err := tx.InstrumentByID(ctx, instrumentID)
			if err != nil {
				return fmt.Errorf("instrument %s: %w", instrumentID, err)
			}
			quote, err := e.quote(ctx, tx)
			if err != nil {
				return err
			}
			m := newMatcher(tx, inst, quote.ID, e.clock.Now())
			if inst.Delisted {
				res = m.result(nil)
				return nil
			}
			open, err := tx.OpenOrders(ctx, instrumentID)
			if err != nil {
				return fmt.Errorf("open orders: %w", err)
			}
			book, err := orderbook.Build(instrumentID, open)
			if err != nil {
				return err
			}
			if err := m.matchResting(ctx, book); err != nil {
				return err
			}
			res = m.result(nil)
			return nil
		})
	})
	return res, err
}

// Sweep visits every instrument with resting limit orders. A failing instrument is
// logged and skipped; the returned results only cover instruments that traded.
func (e *Engine) Sweep(ctx context.Context) ([]*Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveMatchingLatency("sweep", time.Since(start)) }()

	var ids []uuid.UUID
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = tx.InstrumentsWithOpenLimitOrders(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	var out []*Result
	for _, id := range ids {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := e.SweepInstrument(ctx, id)
		if err != nil {
			metrics.IncSweep("error")
			e.log.Warn().Err(err).Str("instrument_id", id.String()).Msg("sweep failed for instrument")
			continue
		}
		metrics.IncSweep("ok")
		if len(res.Trades) > 0 {
			e.log.Info().Str("ticker", res.Ticker).Int("trades", len(res.Trades)).Msg("sweep matched resting orders")
			out = append(out, res)
		}
	}
	return out, nil
}

// Sweeper runs Engine.Sweep on a fixed interval. A pass that is still running when the
// next one is due causes that tick to be skipped.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      zerolog.Logger

	// OnResult, if set, receives every committed sweep result.
	OnResult func(ctx context.Context, res *Result)

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewSweeper creates a stopped sweeper.
func NewSweeper(e *Engine, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		engine:   e,
		interval: interval,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// RunOnce performs a single pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	results, err := s.engine.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("sweep pass failed")
	}
	if s.OnResult == nil {
		return
	}
	for _, res := range results {
		s.OnResult(ctx, res)
	}
}

// Start schedules passes until Stop is called or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	logger := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx)
	}))
	c.Start()
	s.cron = c
	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
}

// Stop cancels the schedule and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.log.Info().Msg("sweeper stopped")
}

// cronLogger sends cron's own messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
