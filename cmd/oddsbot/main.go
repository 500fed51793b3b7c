package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alejandrodnm/oddsbot/config"
	"github.com/alejandrodnm/oddsbot/internal/adapters/feed"
	"github.com/alejandrodnm/oddsbot/internal/adapters/matcher"
	"github.com/alejandrodnm/oddsbot/internal/adapters/notify"
	"github.com/alejandrodnm/oddsbot/internal/adapters/storage"
	"github.com/alejandrodnm/oddsbot/internal/adapters/venue"
	"github.com/alejandrodnm/oddsbot/internal/application/bot"
	"github.com/alejandrodnm/oddsbot/internal/application/engine"
	"github.com/alejandrodnm/oddsbot/internal/application/execution"
	"github.com/alejandrodnm/oddsbot/internal/application/position"
	"github.com/alejandrodnm/oddsbot/internal/application/risk"
	"github.com/alejandrodnm/oddsbot/internal/breaker"
	"github.com/alejandrodnm/oddsbot/internal/model"
	"github.com/alejandrodnm/oddsbot/internal/orderbook"
	"github.com/alejandrodnm/oddsbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty = defaults)")
	paper := flag.Bool("paper", true, "simulated execution against the sim feed")
	once := flag.Bool("once", false, "process one signal through the pipeline and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full position table instead of 1-line summary")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("oddsbot starting",
		"config", *configPath,
		"paper", *paper,
		"once", *once,
		"edge_threshold_pct", cfg.Engine.EdgeThresholdPct,
		"debounce", cfg.Debounce(),
		"kelly_fraction", cfg.Risk.KellyFraction,
	)

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer journal.Close()

	book := orderbook.New()
	brk := breaker.New(breaker.Config{
		MaxDailyLoss:   cfg.Breaker.MaxDailyLoss,
		ErrorThreshold: cfg.Breaker.ErrorThreshold,
		Cooldown:       cfg.Cooldown(),
	})
	ledger := risk.NewLedger(cfg.Risk.InitialBalance)
	notifier := notify.NewConsole(*table)

	gate := risk.NewGate(risk.Config{
		KellyFraction:       cfg.Risk.KellyFraction,
		MinSize:             cfg.Risk.MinSize,
		MaxPositionPct:      cfg.Risk.MaxPositionPct,
		MaxMarketExposure:   cfg.Risk.MaxMarketExposure,
		MaxCategoryExposure: cfg.Risk.MaxCategoryExposure,
		MaxDailyLoss:        cfg.Risk.MaxDailyLoss,
		Bucket:              cfg.Bucket(),
	}, ledger, brk, book, marketCategory)

	// El feed de ticks siempre es el simulador; lo que cambia entre paper y
	// live es contra quién se ejecutan y se valoran las órdenes.
	sim := feed.NewSim(simMarkets(), 500*time.Millisecond, time.Now().UnixNano())

	var (
		placer ports.OrderPlacer
		prices ports.PriceSource
		source ports.FeedSource = sim
	)
	if *paper {
		placer = venue.NewPaper(book, cfg.Execution.FeeRate)
		prices = sim
	} else {
		client := venue.NewClient(cfg.Execution.VenueBase, os.Getenv("VENUE_API_KEY"))
		placer = client
		prices = client
	}

	tracker := execution.NewTracker(cfg.Execution.TrackerSlots)
	executor := execution.NewEngine(placer, tracker, brk)

	positions := position.NewTracker(position.Config{
		TakeProfitPct:  cfg.Exit.TakeProfitPct,
		StopLossPct:    cfg.Exit.StopLossPct,
		StopLossByCat:  cfg.Exit.StopLossByCat,
		MinHold:        cfg.MinHold(),
		MatchFloor:     cfg.Exit.MatchFloor,
		SettleBandLow:  cfg.Exit.SettleBandLow,
		SettleBandHigh: cfg.Exit.SettleBandHigh,
		SweepFraction:  cfg.Exit.SweepFraction,
		ExitFeeRate:    cfg.Execution.FeeRate,
		EvalInterval:   cfg.EvalInterval(),
	}, prices, matcher.NewLabel(), ledger, brk, journal, notifier)

	manager := engine.NewManager(engine.Config{
		EdgeThresholdPct: cfg.Engine.EdgeThresholdPct,
		Debounce:         cfg.Debounce(),
		MaxTickAge:       cfg.MaxTickAge(),
		Confidence:       cfg.Engine.Confidence,
	}, model.WinProbability, book)

	b := bot.New(manager, gate, executor, positions, brk, ledger, source, journal, notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	run := b.Run
	if *once {
		run = b.RunOnce
	}
	if err := run(ctx); err != nil {
		slog.Error("bot exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("oddsbot stopped cleanly",
		"daily_pnl", ledger.DailyRealized(),
		"reserve", ledger.ReserveBalance(),
	)
}

// marketCategory extrae la categoría de exposición del market id
// ("nba-lal-bos-20260901" → "nba").
func marketCategory(marketID string) string {
	if i := strings.IndexByte(marketID, '-'); i > 0 {
		return marketID[:i]
	}
	return "default"
}

// simMarkets devuelve los mercados del modo paper.
func simMarkets() []feed.SimMarket {
	return []feed.SimMarket{
		{MarketID: "nba-lal-bos", HomeLabel: "Home", AwayLabel: "Away", StartProb: 0.55, GameSecs: 2880},
		{MarketID: "nba-gsw-mia", HomeLabel: "Home", AwayLabel: "Away", StartProb: 0.48, GameSecs: 2880},
		{MarketID: "nfl-kc-buf", HomeLabel: "Home", AwayLabel: "Away", StartProb: 0.60, GameSecs: 3600},
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
