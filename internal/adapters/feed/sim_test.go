package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/adapters/feed"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simMarket() feed.SimMarket {
	return feed.SimMarket{
		MarketID:  "nba-lal-bos",
		HomeLabel: "Home",
		AwayLabel: "Away",
		StartProb: 0.55,
		GameSecs:  60,
	}
}

func TestSim_EmitsValidTicks(t *testing.T) {
	s := feed.NewSim([]feed.SimMarket{simMarket()}, 5*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		select {
		case tick := <-ticks:
			assert.True(t, tick.Valid(), "tick %d: %+v", i, tick)
			assert.Equal(t, "nba-lal-bos", tick.MarketID)
			assert.InDelta(t, 1.0, tick.YesPrice+tick.NoPrice, 1e-9)
		case <-time.After(time.Second):
			t.Fatal("el feed no emitió ticks")
		}
	}

	select {
	case ev := <-events:
		assert.Equal(t, "nba-lal-bos", ev.MarketID)
		assert.False(t, ev.State.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("el feed no emitió eventos")
	}
}

func TestSim_GameFinishes(t *testing.T) {
	// Juego de 1s con ticks de >1s: el primer tick agota el reloj
	m := simMarket()
	m.GameSecs = 1
	s := feed.NewSim([]feed.SimMarket{m}, 1100*time.Millisecond, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	for {
		select {
		case ev := <-events:
			if ev.State.Finished {
				assert.Equal(t, 0, ev.State.ClockSecs)
				return
			}
		case <-ctx.Done():
			t.Fatal("el juego nunca terminó")
		}
	}
}

func TestSim_FetchPriceRows_BothSides(t *testing.T) {
	s := feed.NewSim([]feed.SimMarket{simMarket()}, time.Second, 1)

	rows, err := s.FetchPriceRows(context.Background(), "nba-lal-bos")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byLabel := map[string]domain.PriceRow{}
	for _, r := range rows {
		byLabel[r.Label] = r
	}
	require.Contains(t, byLabel, "Home")
	require.Contains(t, byLabel, "Away")
	assert.InDelta(t, 1.0, byLabel["Home"].Price+byLabel["Away"].Price, 1e-9)
}

func TestSim_FetchPriceRows_UnknownMarket(t *testing.T) {
	s := feed.NewSim([]feed.SimMarket{simMarket()}, time.Second, 1)

	rows, err := s.FetchPriceRows(context.Background(), "desconocido")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSim_ChannelsCloseOnCancel(t *testing.T) {
	s := feed.NewSim([]feed.SimMarket{simMarket()}, 5*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	ticks, _, err := s.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ticks:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}
