// Package bot wires the pipeline: feed → market engines → risk gate →
// execution → position tracker, with the journal and notifier on the side.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/application/engine"
	"github.com/alejandrodnm/oddsbot/internal/application/execution"
	"github.com/alejandrodnm/oddsbot/internal/application/position"
	"github.com/alejandrodnm/oddsbot/internal/application/risk"
	"github.com/alejandrodnm/oddsbot/internal/breaker"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/ports"
)

// Bot owns the run loop that moves signals through the pipeline.
type Bot struct {
	manager   *engine.Manager
	gate      *risk.Gate
	executor  *execution.Engine
	positions *position.Tracker
	breaker   *breaker.Breaker
	ledger    *risk.Ledger
	feed      ports.FeedSource
	journal   ports.Journal
	notifier  ports.Notifier

	subMu   sync.Mutex
	results []chan domain.ExecutionResult
}

// New creates the bot from already-constructed components.
func New(
	manager *engine.Manager,
	gate *risk.Gate,
	executor *execution.Engine,
	positions *position.Tracker,
	brk *breaker.Breaker,
	ledger *risk.Ledger,
	feed ports.FeedSource,
	journal ports.Journal,
	notifier ports.Notifier,
) *Bot {
	b := &Bot{
		manager:   manager,
		gate:      gate,
		executor:  executor,
		positions: positions,
		breaker:   brk,
		ledger:    ledger,
		feed:      feed,
		journal:   journal,
		notifier:  notifier,
	}

	// Market settlement resolves every position in that market at 1/0.
	manager.OnSettled = func(marketID string, final domain.EventState) {
		go b.positions.SettleMarket(context.Background(), marketID, winnerSide(final))
	}
	return b
}

// SubscribeResults returns a channel of execution results for downstream
// reporting. At-most-once: slow consumers lose events.
func (b *Bot) SubscribeResults() <-chan domain.ExecutionResult {
	ch := make(chan domain.ExecutionResult, 64)
	b.subMu.Lock()
	b.results = append(b.results, ch)
	b.subMu.Unlock()
	return ch
}

// Run starts the feed consumers, the position evaluation loop and the
// signal loop, and blocks until shutdown.
func (b *Bot) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.manager.Run(ctx, b.feed)
	}()
	go b.positions.Run(ctx)

	rollover := time.NewTicker(time.Minute)
	defer rollover.Stop()
	day := time.Now().UTC().Day()

	signals := b.manager.Signals()
	for {
		select {
		case <-ctx.Done():
			return <-errCh
		case err := <-errCh:
			return err
		case <-rollover.C:
			if d := time.Now().UTC().Day(); d != day {
				day = d
				b.breaker.ResetDaily()
				b.ledger.ResetDaily()
				slog.Info("daily rollover: pnl counters reset")
			}
			if b.notifier != nil {
				b.notifier.Heartbeat("bot", time.Now())
				if err := b.notifier.Positions(ctx, b.positions.Open()); err != nil {
					slog.Warn("notifier error", "err", err)
				}
			}
		case sig := <-signals:
			b.handleSignal(ctx, sig)
		}
	}
}

// RunOnce procesa exactamente una señal a través del pipeline, corre una
// pasada de evaluación de posiciones y termina. Sirve como smoke test del
// cableado completo sin dejar el bot corriendo.
func (b *Bot) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.manager.Run(ctx, b.feed)
	}()

	select {
	case <-ctx.Done():
		return <-errCh
	case err := <-errCh:
		return err
	case sig := <-b.manager.Signals():
		b.handleSignal(ctx, sig)
	}

	b.positions.EvaluateAll(ctx)
	if b.notifier != nil {
		if err := b.notifier.Positions(ctx, b.positions.Open()); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	cancel()
	return <-errCh
}

// handleSignal moves one signal through risk → execution → positions.
// The reservation made by the gate is always finalized or released from the
// execution result, whatever the outcome.
func (b *Bot) handleSignal(ctx context.Context, sig domain.Signal) {
	b.append(func() error { return b.journal.AppendSignal(ctx, sig) })

	decision := b.gate.Decide(sig)
	if !decision.Approved() {
		if b.notifier != nil {
			b.notifier.Rejection(ctx, sig.MarketID, sig.Side, decision.Reason)
		}
		return
	}

	req := decision.Request
	b.append(func() error { return b.journal.AppendRequest(ctx, req) })

	res := b.executor.Execute(ctx, req)
	b.append(func() error { return b.journal.AppendResult(ctx, res) })

	b.gate.Finalize(req, decision.Reserved, res)

	switch {
	case res.Opened():
		b.positions.OnResult(ctx, req, res)
	case res.Status == domain.ExecStatusRejected && b.notifier != nil:
		b.notifier.Rejection(ctx, req.MarketID, req.Side, res.Reason)
	}

	b.subMu.Lock()
	for _, ch := range b.results {
		select {
		case ch <- res:
		default:
		}
	}
	b.subMu.Unlock()
}

// append runs a journal write, logging instead of propagating: the journal
// is append-only observability, never authoritative state.
func (b *Bot) append(fn func() error) {
	if b.journal == nil {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("journal write failed", "err", err)
	}
}

// winnerSide derives the winning label from the final event state.
func winnerSide(final domain.EventState) domain.Side {
	if final.HomeScore >= final.AwayScore {
		return "Home"
	}
	return "Away"
}
