// Package config provides application configuration loaded from environment
// variables, optionally layered over a YAML file named by LOTMARKET_CONFIG.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s

	AllowedOrigins []string // CORS origins honoured in production

	BackofficePort       string   // e.g. "8081"
	BackofficeAllowedIPs []string // empty = allow all
}

// DBConfig holds journal database settings.
type DBConfig struct {
	Driver          string        // "postgres" (default) | "sqlite"
	DSN             string        // full DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds access-token settings.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // default 15m
	ChallengeTTL time.Duration // default 5m; lifetime of a login nonce
}

// PriceConfig selects and configures the spot price source.
type PriceConfig struct {
	Source      string          // "static" | "exchange" | "pool"
	StaticPrice decimal.Decimal // initial rate for the static source
	Base        string          // e.g. "ETH"
	Quote       string          // e.g. "USDT"

	BinanceURL    string
	BybitURL      string
	OKXURL        string
	FetchTimeout  time.Duration // default 2s
	CacheTTL      time.Duration // default 1s
	BinanceWeight int           // default 50
	BybitWeight   int           // default 30
	OKXWeight     int           // default 20

	RPCURL    string          // JSON-RPC endpoint for the pool source
	PoolScale decimal.Decimal // multiplier applied to the pool's raw ratio
}

// MarketConfig holds the engine parameters. PriceStep and Period are fixed
// for the lifetime of a deployment.
type MarketConfig struct {
	PriceStep          decimal.Decimal // bucket width in quote units
	Period             time.Duration   // frame length, default 24h
	SettlementWindow   time.Duration   // rate may be fixed this long before frame end
	TaxAnchor          time.Duration   // tax horizon normaliser, default 24h
	BaseTaxRatePct     decimal.Decimal // default 25
	ProtocolFeePct     decimal.Decimal // default 10
	ReferralSkimPct    decimal.Decimal // default 0.5
	OwnerAddress       common.Address  // administrative account, fallback payee
	EngineAddress      common.Address  // account holding pooled funds
	AssetAddress       common.Address  // accounting asset
	AssetDecimals      uint8           // default 18
	PriceSourceAddress common.Address  // pool contract for the pool source
}

// KeeperConfig holds the settlement keeper schedule.
type KeeperConfig struct {
	Enabled           bool
	Schedule          string        // cron spec, default "@every 30s"
	BroadcastInterval time.Duration // live rate push, default 1s
}

// TokenConfig configures the in-process asset ledger used outside production.
type TokenConfig struct {
	FaucetAmount decimal.Decimal // tokens minted per faucet call; 0 disables
	EngineFloat  decimal.Decimal // tokens minted to the engine at boot
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	JWT    JWTConfig
	Price  PriceConfig
	Market MarketConfig
	Keeper KeeperConfig
	Token  TokenConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and
// valid. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	switch c.Price.Source {
	case "static":
		if !c.Price.StaticPrice.IsPositive() {
			errs = append(errs, errors.New("PRICE_STATIC must be positive for the static source"))
		}
	case "exchange":
		total := c.Price.BinanceWeight + c.Price.BybitWeight + c.Price.OKXWeight
		if total != 100 {
			errs = append(errs, fmt.Errorf(
				"price weights must sum to 100, got %d (Binance=%d Bybit=%d OKX=%d)",
				total, c.Price.BinanceWeight, c.Price.BybitWeight, c.Price.OKXWeight,
			))
		}
	case "pool":
		if c.Price.RPCURL == "" {
			errs = append(errs, errors.New("PRICE_RPC_URL must be set for the pool source"))
		}
		if c.Market.PriceSourceAddress == (common.Address{}) {
			errs = append(errs, errors.New("MARKET_PRICE_SOURCE_ADDRESS must be set for the pool source"))
		}
	default:
		errs = append(errs, fmt.Errorf("PRICE_SOURCE must be static, exchange or pool, got %q", c.Price.Source))
	}

	m := c.Market
	if !m.PriceStep.IsPositive() {
		errs = append(errs, errors.New("MARKET_PRICE_STEP must be positive"))
	}
	if m.Period < time.Second || m.Period%time.Second != 0 {
		errs = append(errs, fmt.Errorf("MARKET_PERIOD must be a whole number of seconds, got %s", m.Period))
	}
	if m.SettlementWindow < 0 || m.SettlementWindow > m.Period {
		errs = append(errs, fmt.Errorf("MARKET_SETTLEMENT_WINDOW must be within [0, period], got %s", m.SettlementWindow))
	}
	if m.TaxAnchor < time.Second {
		errs = append(errs, fmt.Errorf("MARKET_TAX_ANCHOR must be at least 1s, got %s", m.TaxAnchor))
	}
	hundred := decimal.NewFromInt(100)
	for name, pct := range map[string]decimal.Decimal{
		"MARKET_BASE_TAX_RATE_PCT": m.BaseTaxRatePct,
		"MARKET_PROTOCOL_FEE_PCT":  m.ProtocolFeePct,
		"MARKET_REFERRAL_SKIM_PCT": m.ReferralSkimPct,
	} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 100, got %s", name, pct))
		}
	}
	if !m.BaseTaxRatePct.IsPositive() {
		errs = append(errs, errors.New("MARKET_BASE_TAX_RATE_PCT must be positive"))
	}
	if m.OwnerAddress == (common.Address{}) {
		errs = append(errs, errors.New("MARKET_OWNER_ADDRESS must be set"))
	}
	if m.EngineAddress == (common.Address{}) {
		errs = append(errs, errors.New("MARKET_ENGINE_ADDRESS must be set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once. Panics if loading fails;
// call this early in main() to catch misconfigurations at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads the optional YAML file named by LOTMARKET_CONFIG and then the
// environment. Environment variables win over file values. The file is a flat
// mapping of the same variable names:
//
//	MARKET_PRICE_STEP: "100"
//	MARKET_PERIOD: 24h
func Load() (*Config, error) {
	l := &loader{}
	if path := os.Getenv("LOTMARKET_CONFIG"); path != "" {
		if err := l.readFile(path); err != nil {
			return nil, err
		}
	}
	return l.build()
}

type loader struct {
	file map[string]string
	errs []error
}

func (l *loader) readFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	l.file = make(map[string]string, len(doc))
	for k, v := range doc {
		l.file[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return nil
}

func (l *loader) build() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         l.getEnv("SERVER_PORT", "8080"),
		Env:          l.getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  l.getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: l.getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),

		AllowedOrigins: l.getList("SERVER_ALLOWED_ORIGINS"),

		BackofficePort:       l.getEnv("BACKOFFICE_PORT", "8081"),
		BackofficeAllowedIPs: l.getList("BACKOFFICE_ALLOWED_IPS"),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	driver := l.getEnv("DB_DRIVER", "postgres")
	dsn := l.getEnv("DATABASE_DSN", "")
	if dsn == "" && driver == "postgres" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			l.getEnv("DB_HOST", "localhost"),
			l.getEnv("DB_PORT", "5432"),
			l.getEnv("DB_USER", "postgres"),
			l.getEnv("DB_PASSWORD", ""),
			l.getEnv("DB_NAME", "lotmarket"),
			l.getEnv("DB_SSLMODE", "disable"),
		)
	}
	cfg.DB = DBConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    l.getInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    l.getInt("DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: l.getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: l.getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    l.getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		ChallengeTTL: l.getDuration("JWT_CHALLENGE_TTL", 5*time.Minute),
	}

	// ── Price ─────────────────────────────────────────────────────────────────
	cfg.Price = PriceConfig{
		Source:        l.getEnv("PRICE_SOURCE", "static"),
		StaticPrice:   l.getDecimal("PRICE_STATIC", decimal.NewFromInt(3000)),
		Base:          l.getEnv("PRICE_BASE", "ETH"),
		Quote:         l.getEnv("PRICE_QUOTE", "USDT"),
		BinanceURL:    l.getEnv("PRICE_BINANCE_URL", "https://api.binance.com"),
		BybitURL:      l.getEnv("PRICE_BYBIT_URL", "https://api.bybit.com"),
		OKXURL:        l.getEnv("PRICE_OKX_URL", "https://www.okx.com"),
		FetchTimeout:  l.getDuration("PRICE_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:      l.getDuration("PRICE_CACHE_TTL", 1*time.Second),
		BinanceWeight: l.getInt("PRICE_BINANCE_WEIGHT", 50),
		BybitWeight:   l.getInt("PRICE_BYBIT_WEIGHT", 30),
		OKXWeight:     l.getInt("PRICE_OKX_WEIGHT", 20),
		RPCURL:        l.getEnv("PRICE_RPC_URL", ""),
		PoolScale:     l.getDecimal("PRICE_POOL_SCALE", decimal.NewFromInt(1)),
	}

	// ── Market ────────────────────────────────────────────────────────────────
	cfg.Market = MarketConfig{
		PriceStep:          l.getDecimal("MARKET_PRICE_STEP", decimal.NewFromInt(100)),
		Period:             l.getDuration("MARKET_PERIOD", 24*time.Hour),
		SettlementWindow:   l.getDuration("MARKET_SETTLEMENT_WINDOW", 0),
		TaxAnchor:          l.getDuration("MARKET_TAX_ANCHOR", 24*time.Hour),
		BaseTaxRatePct:     l.getDecimal("MARKET_BASE_TAX_RATE_PCT", decimal.NewFromInt(25)),
		ProtocolFeePct:     l.getDecimal("MARKET_PROTOCOL_FEE_PCT", decimal.NewFromInt(10)),
		ReferralSkimPct:    l.getDecimal("MARKET_REFERRAL_SKIM_PCT", decimal.RequireFromString("0.5")),
		OwnerAddress:       l.getAddress("MARKET_OWNER_ADDRESS"),
		EngineAddress:      l.getAddress("MARKET_ENGINE_ADDRESS"),
		AssetAddress:       l.getAddress("MARKET_ASSET_ADDRESS"),
		AssetDecimals:      uint8(l.getInt("MARKET_ASSET_DECIMALS", 18)),
		PriceSourceAddress: l.getAddress("MARKET_PRICE_SOURCE_ADDRESS"),
	}

	// ── Keeper ────────────────────────────────────────────────────────────────
	cfg.Keeper = KeeperConfig{
		Enabled:           l.getBool("KEEPER_ENABLED", true),
		Schedule:          l.getEnv("KEEPER_SCHEDULE", "@every 30s"),
		BroadcastInterval: l.getDuration("KEEPER_BROADCAST_INTERVAL", time.Second),
	}

	// ── Token ─────────────────────────────────────────────────────────────────
	cfg.Token = TokenConfig{
		FaucetAmount: l.getDecimal("TOKEN_FAUCET_AMOUNT", decimal.Zero),
		EngineFloat:  l.getDecimal("TOKEN_ENGINE_FLOAT", decimal.Zero),
	}

	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func (l *loader) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return l.file[key]
}

func (l *loader) getEnv(key, defaultVal string) string {
	if v := l.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

// getList splits a comma-separated value, dropping empty entries.
func (l *loader) getList(key string) []string {
	var out []string
	for _, part := range strings.Split(l.lookup(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *loader) getInt(key string, defaultVal int) int {
	v := l.lookup(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func (l *loader) getBool(key string, defaultVal bool) bool {
	v := l.lookup(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func (l *loader) getDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	v := l.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid decimal %q", key, v))
		return defaultVal
	}
	return d
}

func (l *loader) getAddress(key string) common.Address {
	v := l.lookup(key)
	if v == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(v) {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid address %q", key, v))
		return common.Address{}
	}
	return common.HexToAddress(v)
}

// getDuration parses a Go duration string (e.g. "15m", "2s"). Falls back to
// defaultVal if the variable is unset, empty or malformed.
func (l *loader) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := l.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
