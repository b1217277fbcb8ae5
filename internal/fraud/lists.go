package fraud

import (
	"context"
	"fmt"

	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// Redis keys for externally managed fraud lists
const (
	ipBlacklistKey     = "fraud:ip_blacklist"
	deviceBlacklistKey = "fraud:device_blacklist"
	domainWhitelistKey = "fraud:domain_whitelist"
)

// ListStore provides externally managed fraud lists, typically Redis sets
// shared across engine instances.
type ListStore interface {
	SetMembers(ctx context.Context, key string) ([]string, error)
}

// LoadLists merges externally managed lists into the scorer. Entries already
// present locally are kept; a load failure on any key aborts with the local
// state intact.
func (s *Scorer) LoadLists(ctx context.Context, store ListStore) error {
	ips, err := store.SetMembers(ctx, ipBlacklistKey)
	if err != nil {
		return fmt.Errorf("loading IP blacklist: %w", err)
	}
	devices, err := store.SetMembers(ctx, deviceBlacklistKey)
	if err != nil {
		return fmt.Errorf("loading device blacklist: %w", err)
	}
	domains, err := store.SetMembers(ctx, domainWhitelistKey)
	if err != nil {
		return fmt.Errorf("loading domain whitelist: %w", err)
	}

	s.mu.Lock()
	for _, ip := range ips {
		s.ipBlacklist[ip] = struct{}{}
	}
	for _, fp := range devices {
		s.deviceBlacklist[fp] = struct{}{}
	}
	for _, domain := range domains {
		s.domainWhitelist[domain] = struct{}{}
	}
	s.mu.Unlock()

	lg := logger.Fraud()
	lg.Info().
		Int("ips", len(ips)).
		Int("devices", len(devices)).
		Int("domains", len(domains)).
		Msg("fraud lists loaded")
	return nil
}
