package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Risk      RiskConfig      `yaml:"risk"`
	Exit      ExitConfig      `yaml:"exit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Execution ExecutionConfig `yaml:"execution"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig controla la detección de señales por mercado.
type EngineConfig struct {
	EdgeThresholdPct float64 `yaml:"edge_threshold_pct"` // |edge| mínimo para emitir
	DebounceMillis   int     `yaml:"debounce_ms"`        // ventana por (market, side)
	MaxTickAgeSecs   int     `yaml:"max_tick_age_secs"`  // ticks más viejos congelan el mercado
	Confidence       float64 `yaml:"confidence"`
}

// RiskConfig controla el sizing y los límites de exposición.
type RiskConfig struct {
	InitialBalance      float64 `yaml:"initial_balance"`
	KellyFraction       float64 `yaml:"kelly_fraction"`
	MinSize             float64 `yaml:"min_size"`
	MaxPositionPct      float64 `yaml:"max_position_pct"`
	MaxMarketExposure   float64 `yaml:"max_market_exposure"`
	MaxCategoryExposure float64 `yaml:"max_category_exposure"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	BucketMinutes       int     `yaml:"bucket_minutes"` // bucket temporal de la idempotency key
}

// ExitConfig controla la política de salida de posiciones.
type ExitConfig struct {
	TakeProfitPct  float64            `yaml:"take_profit_pct"`
	StopLossPct    float64            `yaml:"stop_loss_pct"`
	StopLossByCat  map[string]float64 `yaml:"stop_loss_by_category"`
	MinHoldSecs    int                `yaml:"min_hold_secs"`
	MatchFloor     float64            `yaml:"match_floor"`
	SettleBandLow  float64            `yaml:"settle_band_low"`
	SettleBandHigh float64            `yaml:"settle_band_high"`
	SweepFraction  float64            `yaml:"sweep_fraction"`
	EvalSecs       int                `yaml:"eval_secs"`
}

// BreakerConfig controla el circuit breaker global.
type BreakerConfig struct {
	MaxDailyLoss   float64 `yaml:"max_daily_loss"`
	ErrorThreshold int64   `yaml:"error_threshold"`
	CooldownSecs   int     `yaml:"cooldown_secs"`
}

// ExecutionConfig controla el venue y el modo paper.
type ExecutionConfig struct {
	VenueBase    string  `yaml:"venue_base"`
	FeeRate      float64 `yaml:"fee_rate"`
	TrackerSlots int     `yaml:"tracker_slots"`
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Con path vacío usa solo defaults y variables de entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Debounce devuelve la ventana de debounce como time.Duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Engine.DebounceMillis) * time.Millisecond
}

// MaxTickAge devuelve la antigüedad máxima de tick como time.Duration.
func (c *Config) MaxTickAge() time.Duration {
	return time.Duration(c.Engine.MaxTickAgeSecs) * time.Second
}

// Bucket devuelve el bucket de idempotencia como time.Duration.
func (c *Config) Bucket() time.Duration {
	return time.Duration(c.Risk.BucketMinutes) * time.Minute
}

// MinHold devuelve el holding mínimo como time.Duration.
func (c *Config) MinHold() time.Duration {
	return time.Duration(c.Exit.MinHoldSecs) * time.Second
}

// EvalInterval devuelve el intervalo de evaluación de salidas.
func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.Exit.EvalSecs) * time.Second
}

// Cooldown devuelve el cooldown del breaker como time.Duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("VENUE_BASE"); v != "" {
		cfg.Execution.VenueBase = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.EdgeThresholdPct <= 0 {
		cfg.Engine.EdgeThresholdPct = 5.0
	}
	if cfg.Engine.DebounceMillis <= 0 {
		cfg.Engine.DebounceMillis = 2000
	}
	if cfg.Engine.MaxTickAgeSecs <= 0 {
		cfg.Engine.MaxTickAgeSecs = 10
	}
	if cfg.Engine.Confidence <= 0 {
		cfg.Engine.Confidence = 1.0
	}
	if cfg.Risk.InitialBalance <= 0 {
		cfg.Risk.InitialBalance = 1000
	}
	if cfg.Risk.KellyFraction <= 0 {
		cfg.Risk.KellyFraction = 0.25
	}
	if cfg.Risk.MinSize <= 0 {
		cfg.Risk.MinSize = 1
	}
	if cfg.Risk.MaxPositionPct <= 0 {
		cfg.Risk.MaxPositionPct = 0.10
	}
	if cfg.Risk.MaxMarketExposure <= 0 {
		cfg.Risk.MaxMarketExposure = 100
	}
	if cfg.Risk.MaxCategoryExposure <= 0 {
		cfg.Risk.MaxCategoryExposure = 500
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		cfg.Risk.MaxDailyLoss = 200
	}
	if cfg.Risk.BucketMinutes <= 0 {
		cfg.Risk.BucketMinutes = 5
	}
	if cfg.Exit.TakeProfitPct <= 0 {
		cfg.Exit.TakeProfitPct = 0.05
	}
	if cfg.Exit.StopLossPct <= 0 {
		cfg.Exit.StopLossPct = 0.10
	}
	if cfg.Exit.MinHoldSecs <= 0 {
		cfg.Exit.MinHoldSecs = 10
	}
	if cfg.Exit.MatchFloor <= 0 {
		cfg.Exit.MatchFloor = 0.7
	}
	if cfg.Exit.SettleBandLow <= 0 {
		cfg.Exit.SettleBandLow = 0.02
	}
	if cfg.Exit.SettleBandHigh <= 0 {
		cfg.Exit.SettleBandHigh = 0.98
	}
	if cfg.Exit.SweepFraction <= 0 {
		cfg.Exit.SweepFraction = 0.30
	}
	if cfg.Exit.EvalSecs <= 0 {
		cfg.Exit.EvalSecs = 5
	}
	if cfg.Breaker.MaxDailyLoss <= 0 {
		cfg.Breaker.MaxDailyLoss = cfg.Risk.MaxDailyLoss
	}
	if cfg.Breaker.ErrorThreshold <= 0 {
		cfg.Breaker.ErrorThreshold = 5
	}
	if cfg.Breaker.CooldownSecs <= 0 {
		cfg.Breaker.CooldownSecs = 300
	}
	if cfg.Execution.FeeRate <= 0 {
		cfg.Execution.FeeRate = 0.02
	}
	if cfg.Execution.TrackerSlots <= 0 {
		cfg.Execution.TrackerSlots = 4096
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "oddsbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
