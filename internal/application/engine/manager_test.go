package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/orderbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed implementa ports.FeedSource sobre canales preparados por el test.
type fakeFeed struct {
	ticks  chan domain.PriceTick
	events chan domain.EventUpdate
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		ticks:  make(chan domain.PriceTick, 16),
		events: make(chan domain.EventUpdate, 16),
	}
}

func (f *fakeFeed) Subscribe(context.Context) (<-chan domain.PriceTick, <-chan domain.EventUpdate, error) {
	return f.ticks, f.events, nil
}

func TestManager_SpawnsWorkerPerMarket(t *testing.T) {
	m := NewManager(DefaultConfig(), fairAt(0.5), orderbook.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.dispatchTick(ctx, tickAt(time.Now().UTC(), "Home", 0.50))
	assert.Equal(t, 1, m.ActiveMarkets())

	other := tickAt(time.Now().UTC(), "Home", 0.50)
	other.MarketID = "nba-gsw-mia"
	m.dispatchTick(ctx, other)
	assert.Equal(t, 2, m.ActiveMarkets())

	// El mismo mercado reutiliza su worker
	m.dispatchTick(ctx, tickAt(time.Now().UTC(), "Home", 0.51))
	assert.Equal(t, 2, m.ActiveMarkets())

	m.stopAll()
	assert.Equal(t, 0, m.ActiveMarkets())
}

func TestManager_FinishedEventSettlesAndReaps(t *testing.T) {
	m := NewManager(DefaultConfig(), fairAt(0.5), orderbook.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settled := make(chan string, 1)
	m.OnSettled = func(marketID string, final domain.EventState) {
		settled <- marketID
	}

	m.dispatchEvent(ctx, domain.EventUpdate{
		MarketID: "nba-lal-bos",
		State: domain.EventState{
			MarketID:  "nba-lal-bos",
			HomeScore: 102,
			AwayScore: 99,
			Finished:  true,
			Timestamp: time.Now().UTC(),
		},
	})

	select {
	case id := <-settled:
		assert.Equal(t, "nba-lal-bos", id)
	case <-time.After(time.Second):
		t.Fatal("OnSettled no se invocó")
	}

	// El reaper limpia el registro tras dejar procesar el evento final
	require.Eventually(t, func() bool {
		return m.ActiveMarkets() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestManager_RunEndToEnd(t *testing.T) {
	m := NewManager(DefaultConfig(), fairAt(0.70), orderbook.New())
	feed := newFakeFeed()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, feed) }()

	now := time.Now().UTC()
	feed.events <- domain.EventUpdate{
		MarketID: "nba-lal-bos",
		State:    domain.EventState{MarketID: "nba-lal-bos", Timestamp: now},
	}
	feed.ticks <- tickAt(now, "Home", 0.50)

	// edge de 20 puntos → señal
	select {
	case sig := <-m.Signals():
		assert.Equal(t, "nba-lal-bos", sig.MarketID)
		assert.Equal(t, domain.DirectionBuy, sig.Direction)
	case <-time.After(2 * time.Second):
		t.Fatal("ninguna señal emitida")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run no terminó tras cancelar")
	}
}
