package venue

import (
	"context"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/orderbook"
)

// Paper simulates IOC execution against the in-process orderbook cache.
// It reproduces the exact fee and partial-fill shape of the live path so
// downstream components cannot tell paper from live structurally.
type Paper struct {
	book    *orderbook.Book
	feeRate float64
	latency time.Duration
}

// NewPaper creates the simulated executor. feeRate is applied to the filled
// notional, exactly like the live venue does.
func NewPaper(book *orderbook.Book, feeRate float64) *Paper {
	if feeRate <= 0 {
		feeRate = 0.02
	}
	return &Paper{book: book, feeRate: feeRate, latency: 5 * time.Millisecond}
}

// PlaceIOC fills against the cached top of book: whatever is available
// at-or-better-than the limit fills instantly, the remainder is cancelled.
func (p *Paper) PlaceIOC(_ context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{
		RequestID:   req.RequestID,
		Status:      domain.ExecStatusCancelled,
		Latency:     p.latency,
		CompletedAt: time.Now().UTC(),
	}

	q, ok := p.book.Get(req.MarketID)
	if !ok {
		return res, nil // sin book no hay liquidez: IOC cancela entera
	}

	var price, avail float64
	if req.Direction == domain.DirectionBuy {
		price, avail = q.BestAsk, q.AskSize
		if price <= 0 || price > req.LimitPrice {
			return res, nil
		}
	} else {
		price, avail = q.BestBid, q.BidSize
		if price <= 0 || price < req.LimitPrice {
			return res, nil
		}
	}

	filled := req.Size
	if avail > 0 && avail < filled {
		filled = avail
	}
	if filled <= 0 {
		return res, nil
	}

	res.FilledQty = filled
	res.AvgPrice = price
	res.Fees = filled * p.feeRate
	if filled < req.Size {
		res.Status = domain.ExecStatusPartial
	} else {
		res.Status = domain.ExecStatusFilled
	}
	return res, nil
}
