package venue

// client.go — cliente HTTP del venue con rate limiting y retries.
//
// Las órdenes salen con type=ioc: el venue llena lo que pueda al limit o
// mejor y cancela el resto. El rate limiter (token bucket) en doWithRetry
// controla el ritmo; el backoff exponencial con jitter cubre los 5xx y los
// timeouts transitorios.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

const (
	ordersPath = "/v1/orders"
	pricesPath = "/v1/markets/%s/prices"

	// Límites al 60% de los documentados por el venue.
	ordersRatePerSec = 10
	pricesRatePerSec = 30

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el adapter live del venue: implementa ports.OrderPlacer y
// ports.PriceSource contra la API REST.
type Client struct {
	http          *http.Client
	base          string
	apiKey        string
	ordersLimiter *rate.Limiter
	pricesLimiter *rate.Limiter
}

// NewClient crea un Client contra el base URL dado.
func NewClient(base, apiKey string) *Client {
	return &Client{
		http:          &http.Client{Timeout: 10 * time.Second},
		base:          base,
		apiKey:        apiKey,
		ordersLimiter: rate.NewLimiter(ordersRatePerSec, 5),
		pricesLimiter: rate.NewLimiter(pricesRatePerSec, 10),
	}
}

type orderPayload struct {
	MarketID   string  `json:"market_id"`
	Side       string  `json:"side"`
	Direction  string  `json:"direction"`
	Type       string  `json:"type"` // siempre "ioc"
	LimitPrice float64 `json:"limit_price"`
	Size       float64 `json:"size"`
	ClientKey  string  `json:"client_key"` // idempotency key, también en el venue
}

type orderResponse struct {
	Status    string  `json:"status"` // filled | partial | cancelled | rejected
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
	Fees      float64 `json:"fees"`
}

// PlaceIOC firma y envía una orden immediate-or-cancel.
// El error solo se devuelve en fallos de transporte; un rechazo del venue
// es un ExecutionResult con status REJECTED.
func (c *Client) PlaceIOC(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	payload := orderPayload{
		MarketID:   req.MarketID,
		Side:       string(req.Side),
		Direction:  string(req.Direction),
		Type:       "ioc",
		LimitPrice: req.LimitPrice,
		Size:       req.Size,
		ClientKey:  req.IdempotencyKey,
	}

	var resp orderResponse
	if err := c.post(ctx, c.ordersLimiter, c.base+ordersPath, payload, &resp); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("venue.PlaceIOC: %w", err)
	}

	res := domain.ExecutionResult{
		RequestID:   req.RequestID,
		FilledQty:   resp.FilledQty,
		AvgPrice:    resp.AvgPrice,
		Fees:        resp.Fees,
		CompletedAt: time.Now().UTC(),
	}
	switch resp.Status {
	case "filled":
		res.Status = domain.ExecStatusFilled
	case "partial":
		res.Status = domain.ExecStatusPartial
	case "cancelled":
		res.Status = domain.ExecStatusCancelled
	case "rejected":
		res.Status = domain.ExecStatusRejected
	default:
		res.Status = domain.ExecStatusFailed
	}
	return res, nil
}

type priceRowsResponse struct {
	Rows []struct {
		Label     string  `json:"label"`
		Price     float64 `json:"price"`
		Liquidity float64 `json:"liquidity"`
		Timestamp int64   `json:"ts"`
	} `json:"rows"`
}

// FetchPriceRows devuelve las filas de precio actuales del mercado.
func (c *Client) FetchPriceRows(ctx context.Context, marketID string) ([]domain.PriceRow, error) {
	url := c.base + fmt.Sprintf(pricesPath, marketID)

	var resp priceRowsResponse
	if err := c.get(ctx, c.pricesLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("venue.FetchPriceRows: %w", err)
	}

	rows := make([]domain.PriceRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		rows = append(rows, domain.PriceRow{
			MarketID:  marketID,
			Label:     r.Label,
			Price:     r.Price,
			Liquidity: r.Liquidity,
			Timestamp: time.Unix(r.Timestamp, 0),
		})
	}
	return rows, nil
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req)
		return c.http.Do(req)
	}, out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by venue", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
