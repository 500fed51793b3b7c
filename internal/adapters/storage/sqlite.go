package storage

// sqlite.go — journal append-only del pipeline.
//
// Estrategia:
//   - Cuatro tablas de solo inserción: signals, requests, results y
//     position_transitions. Nunca se actualizan filas — el estado
//     autoritativo vive en proceso, esto es observabilidad.
//   - Prune automático al arrancar: registros de más de 30 días fuera.
//   - Pure Go (modernc.org/sqlite), sin CGo, single-writer.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    signal_id   TEXT PRIMARY KEY,
    market_id   TEXT NOT NULL,
    side        TEXT NOT NULL,
    direction   TEXT NOT NULL,
    model_prob  REAL NOT NULL,
    market_prob REAL NOT NULL,
    edge_pct    REAL NOT NULL,
    confidence  REAL NOT NULL,
    emitted_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS requests (
    request_id      TEXT PRIMARY KEY,
    idempotency_key TEXT NOT NULL,
    market_id       TEXT NOT NULL,
    side            TEXT NOT NULL,
    direction       TEXT NOT NULL,
    category        TEXT NOT NULL,
    limit_price     REAL NOT NULL,
    size            REAL NOT NULL,
    signal_ref      TEXT NOT NULL,
    created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id  TEXT NOT NULL,
    status      TEXT NOT NULL,
    reason      TEXT,
    filled_qty  REAL NOT NULL DEFAULT 0,
    avg_price   REAL NOT NULL DEFAULT 0,
    fees        REAL NOT NULL DEFAULT 0,
    latency_ms  REAL NOT NULL DEFAULT 0,
    completed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS position_transitions (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id  TEXT NOT NULL,
    from_st   TEXT NOT NULL,
    to_st     TEXT NOT NULL,
    price     REAL NOT NULL DEFAULT 0,
    pnl       REAL NOT NULL DEFAULT 0,
    reason    TEXT,
    at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_market ON signals(market_id, emitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_requests_key   ON requests(idempotency_key);
CREATE INDEX IF NOT EXISTS idx_results_req    ON results(request_id);
CREATE INDEX IF NOT EXISTS idx_trans_trade    ON position_transitions(trade_id, at);
`

const retention = 30 * 24 * time.Hour

// SQLiteJournal implementa ports.Journal sobre SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia registros antiguos.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}
	j.pruneOld(context.Background())
	return j, nil
}

// AppendSignal persiste una señal emitida.
func (j *SQLiteJournal) AppendSignal(ctx context.Context, s domain.Signal) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO signals (signal_id, market_id, side, direction, model_prob, market_prob, edge_pct, confidence, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SignalID, s.MarketID, string(s.Side), string(s.Direction),
		s.ModelProbability, s.MarketProbability, s.EdgePct, s.Confidence, s.EmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendSignal: %w", err)
	}
	return nil
}

// AppendRequest persiste una execution request aprobada.
func (j *SQLiteJournal) AppendRequest(ctx context.Context, r domain.ExecutionRequest) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO requests (request_id, idempotency_key, market_id, side, direction, category, limit_price, size, signal_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.IdempotencyKey, r.MarketID, string(r.Side), string(r.Direction),
		r.Category, r.LimitPrice, r.Size, r.SignalRef, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendRequest: %w", err)
	}
	return nil
}

// AppendResult persiste el desenlace de una request.
func (j *SQLiteJournal) AppendResult(ctx context.Context, r domain.ExecutionResult) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO results (request_id, status, reason, filled_qty, avg_price, fees, latency_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, string(r.Status), string(r.Reason), r.FilledQty, r.AvgPrice, r.Fees,
		float64(r.Latency)/float64(time.Millisecond), r.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendResult: %w", err)
	}
	return nil
}

// AppendTransition persiste un cambio de estado de posición.
func (j *SQLiteJournal) AppendTransition(ctx context.Context, t domain.PositionTransition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO position_transitions (trade_id, from_st, to_st, price, pnl, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, string(t.From), string(t.To), t.Price, t.PnL, t.Reason, t.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendTransition: %w", err)
	}
	return nil
}

// Close cierra la conexión.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// pruneOld borra registros fuera de la ventana de retención.
func (j *SQLiteJournal) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retention)
	for _, q := range []string{
		`DELETE FROM signals WHERE emitted_at < ?`,
		`DELETE FROM requests WHERE created_at < ?`,
		`DELETE FROM results WHERE completed_at < ?`,
		`DELETE FROM position_transitions WHERE at < ?`,
	} {
		_, _ = j.db.ExecContext(ctx, q, cutoff)
	}
}
