package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/thenexusengine/tne_bidengine/internal/bidding"
	"github.com/thenexusengine/tne_bidengine/internal/budget"
	"github.com/thenexusengine/tne_bidengine/internal/exchange"
	"github.com/thenexusengine/tne_bidengine/internal/fraud"
	"github.com/thenexusengine/tne_bidengine/internal/middleware"
)

// ServerConfig holds the full server configuration, populated from the
// environment
type ServerConfig struct {
	Port      string `env:"PORT" envDefault:"8000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// RedisURL enables shared fraud lists when set
	RedisURL string `env:"REDIS_URL"`

	Database  DatabaseConfig  `envPrefix:"DB_"`
	Auction   AuctionConfig   `envPrefix:"AUCTION_"`
	Fraud     FraudConfig     `envPrefix:"FRAUD_"`
	Budget    BudgetConfig    `envPrefix:"BUDGET_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

// DatabaseConfig holds campaign database configuration. An empty host
// disables the database and falls back to the built-in campaign pool.
type DatabaseConfig struct {
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"bidengine"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"bidengine"`
	SSLMode  string `env:"SSLMODE" envDefault:"require"`
}

// Enabled reports whether a database host was configured
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// AuctionConfig holds auction and pricing configuration
type AuctionConfig struct {
	Seat           string        `env:"SEAT" envDefault:"seat_1"`
	Currency       string        `env:"CURRENCY" envDefault:"USD"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"100ms"`
	BidExpiry      int           `env:"BID_EXPIRY" envDefault:"3600"`
	MinBidPrice    float64       `env:"MIN_BID_PRICE" envDefault:"0.01"`
	MaxBidPrice    float64       `env:"MAX_BID_PRICE" envDefault:"100.0"`
	PriceIncrement float64       `env:"PRICE_INCREMENT" envDefault:"0.01"`
}

// FraudConfig holds fraud detection configuration
type FraudConfig struct {
	Enabled               bool     `env:"ENABLED" envDefault:"true"`
	RiskThreshold         float64  `env:"RISK_THRESHOLD" envDefault:"0.7"`
	MaxClicksPerHour      int      `env:"MAX_CLICKS_PER_HOUR" envDefault:"100"`
	MaxImpressionsPerHour int      `env:"MAX_IMPRESSIONS_PER_HOUR" envDefault:"1000"`
	IPBlacklist           []string `env:"IP_BLACKLIST" envSeparator:","`
	DomainWhitelist       []string `env:"DOMAIN_WHITELIST" envSeparator:","`
}

// BudgetConfig holds budget ledger configuration
type BudgetConfig struct {
	DefaultDailyBudget float64       `env:"DEFAULT_DAILY" envDefault:"1000"`
	DefaultTotalBudget float64       `env:"DEFAULT_TOTAL" envDefault:"30000"`
	AlertThreshold     float64       `env:"ALERT_THRESHOLD" envDefault:"0.8"`
	ReservationTTL     time.Duration `env:"RESERVATION_TTL" envDefault:"5m"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool   `env:"ENABLED" envDefault:"true"`
	RequestsPerSecond int    `env:"RPS" envDefault:"1000"`
	BurstSize         int    `env:"BURST" envDefault:"2000"`
	TrustedProxies    string `env:"TRUSTED_PROXIES"`
}

// ParseConfig reads configuration from the environment
func ParseConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.Auction.Timeout <= 0 {
		return nil, fmt.Errorf("AUCTION_TIMEOUT must be positive, got %s", cfg.Auction.Timeout)
	}
	if cfg.Fraud.RiskThreshold < 0 || cfg.Fraud.RiskThreshold > 1 {
		return nil, fmt.Errorf("FRAUD_RISK_THRESHOLD must be in [0,1], got %f", cfg.Fraud.RiskThreshold)
	}
	if cfg.Budget.AlertThreshold <= 0 || cfg.Budget.AlertThreshold > 1 {
		return nil, fmt.Errorf("BUDGET_ALERT_THRESHOLD must be in (0,1], got %f", cfg.Budget.AlertThreshold)
	}
	if cfg.Auction.MinBidPrice >= cfg.Auction.MaxBidPrice {
		return nil, fmt.Errorf("MIN_BID_PRICE %f must be below MAX_BID_PRICE %f",
			cfg.Auction.MinBidPrice, cfg.Auction.MaxBidPrice)
	}

	return cfg, nil
}

// ToEngineConfig converts to the exchange engine's config
func (c *ServerConfig) ToEngineConfig() *exchange.Config {
	return &exchange.Config{
		Seat:           c.Auction.Seat,
		DefaultCur:     c.Auction.Currency,
		DefaultTimeout: c.Auction.Timeout,
		BidExpiry:      c.Auction.BidExpiry,
	}
}

// ToFraudConfig converts to the fraud scorer's config, keeping scorer
// defaults for everything the environment does not override
func (c *ServerConfig) ToFraudConfig() *fraud.Config {
	fc := fraud.DefaultConfig()
	fc.Enabled = c.Fraud.Enabled
	fc.RiskThreshold = c.Fraud.RiskThreshold
	fc.MaxClicksPerHour = c.Fraud.MaxClicksPerHour
	fc.MaxImpressionsPerHour = c.Fraud.MaxImpressionsPerHour
	fc.IPBlacklist = c.Fraud.IPBlacklist
	fc.DomainWhitelist = c.Fraud.DomainWhitelist
	return fc
}

// ToBudgetConfig converts to the budget ledger's config
func (c *ServerConfig) ToBudgetConfig() *budget.Config {
	return &budget.Config{
		DefaultDailyBudget: c.Budget.DefaultDailyBudget,
		DefaultTotalBudget: c.Budget.DefaultTotalBudget,
		AlertThreshold:     c.Budget.AlertThreshold,
		ReservationTTL:     c.Budget.ReservationTTL,
	}
}

// ToPricingConfig converts to the pricer's config, keeping pricing
// defaults for the multiplier tables
func (c *ServerConfig) ToPricingConfig() *bidding.Config {
	pc := bidding.DefaultConfig()
	pc.MinBidPrice = c.Auction.MinBidPrice
	pc.MaxBidPrice = c.Auction.MaxBidPrice
	pc.PriceIncrement = c.Auction.PriceIncrement
	return pc
}

// ToRateLimitConfig converts to the middleware rate limiter's config
func (c *ServerConfig) ToRateLimitConfig() *middleware.RateLimitConfig {
	rc := middleware.DefaultRateLimitConfig()
	rc.Enabled = c.RateLimit.Enabled
	rc.RequestsPerSecond = c.RateLimit.RequestsPerSecond
	rc.BurstSize = c.RateLimit.BurstSize
	if c.RateLimit.TrustedProxies != "" {
		rc.TrustedProxies = middleware.ParseTrustedProxies(c.RateLimit.TrustedProxies)
		rc.TrustXFF = len(rc.TrustedProxies) > 0
	}
	return rc
}
