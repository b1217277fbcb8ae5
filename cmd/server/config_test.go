package main

import (
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.Auction.Seat != "seat_1" {
		t.Errorf("expected default seat seat_1, got %s", cfg.Auction.Seat)
	}
	if cfg.Auction.Timeout != 100*time.Millisecond {
		t.Errorf("expected default auction timeout 100ms, got %s", cfg.Auction.Timeout)
	}
	if cfg.Fraud.RiskThreshold != 0.7 {
		t.Errorf("expected default risk threshold 0.7, got %f", cfg.Fraud.RiskThreshold)
	}
	if cfg.Budget.DefaultDailyBudget != 1000 {
		t.Errorf("expected default daily budget 1000, got %f", cfg.Budget.DefaultDailyBudget)
	}
	if cfg.Budget.ReservationTTL != 5*time.Minute {
		t.Errorf("expected default reservation TTL 5m, got %s", cfg.Budget.ReservationTTL)
	}
	if cfg.Database.Enabled() {
		t.Error("database should be disabled without DB_HOST")
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("AUCTION_SEAT", "seat_9")
	t.Setenv("AUCTION_TIMEOUT", "250ms")
	t.Setenv("FRAUD_IP_BLACKLIST", "10.0.0.1,10.0.0.2")
	t.Setenv("BUDGET_DEFAULT_DAILY", "2500")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("expected port 9100, got %s", cfg.Port)
	}
	if cfg.Auction.Seat != "seat_9" {
		t.Errorf("expected seat seat_9, got %s", cfg.Auction.Seat)
	}
	if cfg.Auction.Timeout != 250*time.Millisecond {
		t.Errorf("expected auction timeout 250ms, got %s", cfg.Auction.Timeout)
	}
	if len(cfg.Fraud.IPBlacklist) != 2 || cfg.Fraud.IPBlacklist[0] != "10.0.0.1" {
		t.Errorf("unexpected IP blacklist: %v", cfg.Fraud.IPBlacklist)
	}
	if cfg.Budget.DefaultDailyBudget != 2500 {
		t.Errorf("expected daily budget 2500, got %f", cfg.Budget.DefaultDailyBudget)
	}
	if !cfg.Database.Enabled() {
		t.Error("database should be enabled with DB_HOST set")
	}
}

func TestParseConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"risk threshold above one", "FRAUD_RISK_THRESHOLD", "1.5"},
		{"zero alert threshold", "BUDGET_ALERT_THRESHOLD", "0"},
		{"min bid above max bid", "AUCTION_MIN_BID_PRICE", "200"},
		{"negative auction timeout", "AUCTION_TIMEOUT", "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := ParseConfig(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestToRateLimitConfigTrustedProxies(t *testing.T) {
	t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	rc := cfg.ToRateLimitConfig()
	if len(rc.TrustedProxies) != 2 {
		t.Fatalf("expected 2 trusted proxy ranges, got %d", len(rc.TrustedProxies))
	}
	if !rc.TrustXFF {
		t.Error("TrustXFF should be enabled when trusted proxies are configured")
	}
}

func TestConverters(t *testing.T) {
	t.Setenv("AUCTION_MAX_BID_PRICE", "50")
	t.Setenv("BUDGET_ALERT_THRESHOLD", "0.9")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if ec := cfg.ToEngineConfig(); ec.Seat != "seat_1" || ec.BidExpiry != 3600 {
		t.Errorf("unexpected engine config: %+v", ec)
	}
	if pc := cfg.ToPricingConfig(); pc.MaxBidPrice != 50 || pc.MinBidPrice != 0.01 {
		t.Errorf("unexpected pricing config: %+v", pc)
	}
	if bc := cfg.ToBudgetConfig(); bc.AlertThreshold != 0.9 {
		t.Errorf("unexpected budget config: %+v", bc)
	}
	if fc := cfg.ToFraudConfig(); !fc.Enabled || len(fc.SuspiciousUAPatterns) == 0 {
		t.Errorf("unexpected fraud config: %+v", fc)
	}
}
