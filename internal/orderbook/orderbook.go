// Package orderbook keeps a lock-free best-bid/ask cache per market.
//
// Each market's top of book is packed into a single uint64 updated with
// compare-and-swap, so feed goroutines never block the risk or position
// paths reading quotes, and readers never block the feed.
package orderbook

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Quote is the unpacked top of book for one market side pair.
type Quote struct {
	BestBid float64 // in (0,1), 0 = empty side
	BestAsk float64
	BidSize float64 // USDC at best bid
	AskSize float64
	Updated time.Time
}

// Mid returns the midpoint, or 0 when either side is empty.
func (q Quote) Mid() float64 {
	if q.BestBid <= 0 || q.BestAsk <= 0 {
		return 0
	}
	return (q.BestBid + q.BestAsk) / 2
}

// Empty reports whether no quote has been stored yet.
func (q Quote) Empty() bool {
	return q.BestBid == 0 && q.BestAsk == 0
}

// entry holds the packed quote word plus the update timestamp in a second
// atomic. The two words are not updated atomically together; staleness
// checks tolerate a tick of skew.
type entry struct {
	packed  atomic.Uint64
	updated atomic.Int64 // unix nanos
}

// Book is the process-wide atomic quote cache, keyed by market id.
type Book struct {
	entries sync.Map // market id → *entry
}

// New creates an empty Book.
func New() *Book {
	return &Book{}
}

// Prices quantized to basis points (14 bits would do, 16 keeps it simple),
// sizes in whole USDC capped at 65535. Layout, high to low:
// bid(16) | ask(16) | bidSize(16) | askSize(16).
const (
	priceScale = 10000
	maxSize    = math.MaxUint16
)

func pack(q Quote) uint64 {
	bid := clamp16(q.BestBid * priceScale)
	ask := clamp16(q.BestAsk * priceScale)
	bs := clamp16(q.BidSize)
	as := clamp16(q.AskSize)
	return bid<<48 | ask<<32 | bs<<16 | as
}

func unpack(w uint64) Quote {
	return Quote{
		BestBid: float64(w>>48&0xffff) / priceScale,
		BestAsk: float64(w>>32&0xffff) / priceScale,
		BidSize: float64(w >> 16 & 0xffff),
		AskSize: float64(w & 0xffff),
	}
}

func clamp16(v float64) uint64 {
	if v <= 0 {
		return 0
	}
	if v >= maxSize {
		return maxSize
	}
	return uint64(math.Round(v))
}

func (b *Book) entryFor(marketID string) *entry {
	if e, ok := b.entries.Load(marketID); ok {
		return e.(*entry)
	}
	e, _ := b.entries.LoadOrStore(marketID, &entry{})
	return e.(*entry)
}

// Update stores a fresh quote for the market via CAS. The loop only retries
// when another producer raced the same market, which is rare: feed ticks for
// one market arrive on one goroutine.
func (b *Book) Update(marketID string, q Quote) {
	e := b.entryFor(marketID)
	next := pack(q)
	for {
		prev := e.packed.Load()
		if e.packed.CompareAndSwap(prev, next) {
			break
		}
	}
	e.updated.Store(q.Updated.UnixNano())
}

// Get returns the current quote for the market. Never blocks.
func (b *Book) Get(marketID string) (Quote, bool) {
	v, ok := b.entries.Load(marketID)
	if !ok {
		return Quote{}, false
	}
	e := v.(*entry)
	q := unpack(e.packed.Load())
	if ns := e.updated.Load(); ns > 0 {
		q.Updated = time.Unix(0, ns)
	}
	return q, !q.Empty()
}

// Drop removes the market from the cache (market closed or settled).
func (b *Book) Drop(marketID string) {
	b.entries.Delete(marketID)
}

// Len returns the number of cached markets. For diagnostics only.
func (b *Book) Len() int {
	n := 0
	b.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
