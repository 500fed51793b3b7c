package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/adapters/notify"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPosition() domain.Position {
	return domain.Position{
		TradeID:    "abcdef1234567890",
		MarketID:   "nba-lal-bos",
		Side:       "Home",
		Direction:  domain.DirectionBuy,
		EntryPrice: 0.52,
		Size:       50,
		Status:     domain.PositionOpen,
		OpenedAt:   time.Now().Add(-time.Minute),
	}
}

func TestConsole_Rejection(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.Rejection(context.Background(), "nba-lal-bos", "Home", domain.RejectMaxMarketExposure)

	out := buf.String()
	assert.Contains(t, out, "REJECT nba-lal-bos/Home")
	assert.Contains(t, out, "max_market_exposure")
}

func TestConsole_Failure(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.Failure(context.Background(), "position_tracker", assert.AnError)
	assert.Contains(t, buf.String(), "FAIL position_tracker")
}

func TestConsole_Positions_CompactLine(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	err := c.Positions(context.Background(), []domain.Position{openPosition()})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1 open")
	assert.Contains(t, buf.String(), "$50.00 deployed")
}

func TestConsole_Positions_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	err := c.Positions(context.Background(), []domain.Position{openPosition()})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "nba-lal-bos")
	assert.Contains(t, out, "abcdef12") // trade id recortado
	assert.Contains(t, out, "OPEN")
}

func TestConsole_Positions_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	err := c.Positions(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no open positions")
}

func TestConsole_Heartbeat(t *testing.T) {
	c := notify.NewConsoleWriter(&bytes.Buffer{}, false)

	_, ok := c.LastHeartbeat("engine")
	assert.False(t, ok)

	at := time.Now()
	c.Heartbeat("engine", at)

	got, ok := c.LastHeartbeat("engine")
	require.True(t, ok)
	assert.Equal(t, at, got)
}
