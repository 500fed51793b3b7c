package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// Console implementa ports.Notifier escribiendo a stdout. La entrega es
// fire-and-forget: todo se escribe en local, nada bloquea el pipeline.
type Console struct {
	out   io.Writer
	table bool

	mu         sync.Mutex
	heartbeats map[string]time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, heartbeats: make(map[string]time.Time)}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, heartbeats: make(map[string]time.Time)}
}

// Rejection imprime un rechazo terminal en una línea.
func (c *Console) Rejection(_ context.Context, marketID string, side domain.Side, reason domain.RejectReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] REJECT %s/%s: %s\n",
		time.Now().Format("15:04:05"), marketID, side, reason)
}

// Failure imprime un fallo transitorio de componente.
func (c *Console) Failure(_ context.Context, component string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] FAIL %s: %v\n",
		time.Now().Format("15:04:05"), component, err)
}

// Positions muestra las posiciones abiertas: tabla completa o línea compacta.
func (c *Console) Positions(_ context.Context, positions []domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(positions) == 0 {
		fmt.Fprintf(c.out, "[%s] no open positions\n", time.Now().Format("15:04:05"))
		return nil
	}

	if !c.table {
		var total float64
		for _, p := range positions {
			total += p.Size
		}
		fmt.Fprintf(c.out, "[%s] %d open | $%.2f deployed\n",
			time.Now().Format("15:04:05"), len(positions), total)
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Trade", "Market", "Side", "Dir", "Entry", "Size", "Status", "Age")

	for _, p := range positions {
		table.Append(
			shortID(p.TradeID),
			p.MarketID,
			string(p.Side),
			string(p.Direction),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("$%.2f", p.Size),
			string(p.Status),
			time.Since(p.OpenedAt).Round(time.Second).String(),
		)
	}
	table.Render()
	return nil
}

// Heartbeat registra la última señal de vida de cada componente.
func (c *Console) Heartbeat(component string, at time.Time) {
	c.mu.Lock()
	c.heartbeats[component] = at
	c.mu.Unlock()
	slog.Debug("heartbeat", "component", component)
}

// LastHeartbeat devuelve cuándo reportó el componente por última vez.
func (c *Console) LastHeartbeat(component string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.heartbeats[component]
	return at, ok
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
