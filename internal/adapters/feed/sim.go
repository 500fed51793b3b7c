// Package feed contains tick sources. The simulated source drives paper
// mode end to end without a venue connection: prices random-walk around a
// scripted event while the clock runs down.
package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// SimMarket describes one simulated market.
type SimMarket struct {
	MarketID  string
	HomeLabel string
	AwayLabel string
	StartProb float64 // initial home win probability
	GameSecs  int     // simulated game length
}

// Sim implements ports.FeedSource and ports.PriceSource.
type Sim struct {
	markets  []SimMarket
	interval time.Duration
	rng      *rand.Rand

	mu    sync.Mutex
	state map[string]*simState
}

type simState struct {
	m        SimMarket
	yesPrice float64
	ev       domain.EventState
}

// NewSim creates a simulator emitting one tick per market per interval.
func NewSim(markets []SimMarket, interval time.Duration, seed int64) *Sim {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s := &Sim{
		markets:  markets,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		state:    make(map[string]*simState),
	}
	for _, m := range markets {
		start := m.StartProb
		if start <= 0 || start >= 1 {
			start = 0.5
		}
		s.state[m.MarketID] = &simState{
			m:        m,
			yesPrice: start,
			ev: domain.EventState{
				MarketID:  m.MarketID,
				ClockSecs: m.GameSecs,
				Period:    1,
				Timestamp: time.Now(),
			},
		}
	}
	return s
}

// Subscribe starts the tick generator. Channels close on context cancel.
func (s *Sim) Subscribe(ctx context.Context) (<-chan domain.PriceTick, <-chan domain.EventUpdate, error) {
	ticks := make(chan domain.PriceTick, 256)
	events := make(chan domain.EventUpdate, 64)

	go func() {
		defer close(ticks)
		defer close(events)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.step(ticks, events)
			}
		}
	}()

	slog.Info("sim feed started", "markets", len(s.markets), "interval", s.interval)
	return ticks, events, nil
}

// step advances every market one tick.
func (s *Sim) step(ticks chan<- domain.PriceTick, events chan<- domain.EventUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, st := range s.state {
		if st.ev.Finished {
			continue
		}

		// Random walk, clamped away from the boundaries.
		st.yesPrice += (s.rng.Float64() - 0.5) * 0.02
		if st.yesPrice < 0.02 {
			st.yesPrice = 0.02
		}
		if st.yesPrice > 0.98 {
			st.yesPrice = 0.98
		}

		// Clock runs down; scores land roughly every ~40 intervals.
		st.ev.ClockSecs -= int(s.interval.Seconds())
		if s.rng.Intn(40) == 0 {
			if s.rng.Intn(2) == 0 {
				st.ev.HomeScore++
			} else {
				st.ev.AwayScore++
			}
		}
		if st.ev.ClockSecs <= 0 {
			st.ev.ClockSecs = 0
			st.ev.Finished = true
		}
		st.ev.Timestamp = now

		tick := domain.PriceTick{
			TickID:    uuid.NewString(),
			MarketID:  st.m.MarketID,
			Side:      domain.Side(st.m.HomeLabel),
			YesPrice:  st.yesPrice,
			NoPrice:   1 - st.yesPrice,
			Liquidity: 200 + s.rng.Float64()*300,
			Timestamp: now,
		}
		select {
		case ticks <- tick:
		default:
		}

		select {
		case events <- domain.EventUpdate{MarketID: st.m.MarketID, State: st.ev, Timestamp: now}:
		default:
		}
	}
}

// FetchPriceRows returns the current simulated rows for the market, one per
// side label, so the exit path exercises the matcher exactly like live.
func (s *Sim) FetchPriceRows(_ context.Context, marketID string) ([]domain.PriceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[marketID]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	return []domain.PriceRow{
		{MarketID: marketID, Label: st.m.HomeLabel, Price: st.yesPrice, Liquidity: 250, Timestamp: now},
		{MarketID: marketID, Label: st.m.AwayLabel, Price: 1 - st.yesPrice, Liquidity: 250, Timestamp: now},
	}, nil
}
