package orderbook

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack_Roundtrip(t *testing.T) {
	q := Quote{BestBid: 0.4821, BestAsk: 0.4907, BidSize: 1200, AskSize: 850}
	got := unpack(pack(q))

	// Los precios se cuantizan a basis points
	assert.InDelta(t, q.BestBid, got.BestBid, 0.0001)
	assert.InDelta(t, q.BestAsk, got.BestAsk, 0.0001)
	assert.Equal(t, q.BidSize, got.BidSize)
	assert.Equal(t, q.AskSize, got.AskSize)
}

func TestPack_ClampsOutOfRange(t *testing.T) {
	q := unpack(pack(Quote{BestBid: -0.5, BestAsk: 2.0, BidSize: 1e9}))
	assert.Equal(t, 0.0, q.BestBid)
	assert.InDelta(t, 6.5535, q.BestAsk, 0.0001) // techo de 16 bits en bps
	assert.Equal(t, 65535.0, q.BidSize)
}

func TestBook_UpdateGet(t *testing.T) {
	b := New()
	now := time.Now().UTC()
	b.Update("m1", Quote{BestBid: 0.48, BestAsk: 0.52, BidSize: 100, AskSize: 200, Updated: now})

	q, ok := b.Get("m1")
	require.True(t, ok)
	assert.InDelta(t, 0.48, q.BestBid, 0.0001)
	assert.InDelta(t, 0.52, q.BestAsk, 0.0001)
	assert.InDelta(t, 0.50, q.Mid(), 0.0001)
	assert.WithinDuration(t, now, q.Updated, time.Millisecond)
}

func TestBook_GetUnknownMarket(t *testing.T) {
	b := New()
	_, ok := b.Get("nope")
	assert.False(t, ok)
}

func TestBook_Drop(t *testing.T) {
	b := New()
	b.Update("m1", Quote{BestBid: 0.5, BestAsk: 0.51, Updated: time.Now()})
	require.Equal(t, 1, b.Len())

	b.Drop("m1")
	_, ok := b.Get("m1")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

// Con escritores concurrentes sobre el mismo mercado, cada lectura debe ver
// una quote completa de ALGÚN escritor, nunca una mezcla de dos. El par
// bid/ask de cada escritor es consistente (ask = bid + 0.01), así que una
// lectura mezclada se detecta por la relación rota.
func TestBook_ConcurrentWritersConsistentReads(t *testing.T) {
	b := New()
	const writers = 8
	const rounds = 500

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				bid := 0.10 + float64(w)*0.05
				b.Update("m1", Quote{
					BestBid: bid,
					BestAsk: bid + 0.01,
					Updated: time.Now(),
				})
			}
		}(w)
	}

	var readerWg sync.WaitGroup
	readerWg.Add(1)
	go func() {
		defer readerWg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			q, ok := b.Get("m1")
			if !ok {
				continue
			}
			assert.InDelta(t, q.BestBid+0.01, q.BestAsk, 0.0002,
				"lectura rasgada: bid=%v ask=%v", q.BestBid, q.BestAsk)
		}
	}()

	wg.Wait()
	close(stop)
	readerWg.Wait()
}
