// Package middleware provides HTTP middleware for the bid engine endpoints
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thenexusengine/tne_bidengine/internal/config"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int           // Max requests per second per client
	BurstSize         int           // Max burst size
	CleanupInterval   time.Duration // How often stale client entries are dropped
	TrustedProxies    []*net.IPNet  // CIDR ranges of trusted proxies
	TrustXFF          bool          // Whether to trust X-Forwarded-For at all
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: config.DefaultRPS,
		BurstSize:         config.DefaultBurstSize,
		CleanupInterval:   time.Minute,
	}
}

// ParseTrustedProxies parses comma-separated CIDR ranges; bare IPs get /32
// or /128. Invalid entries are skipped.
func ParseTrustedProxies(proxyStr string) []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range strings.Split(proxyStr, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			out = append(out, network)
		}
	}
	return out
}

// clientState tracks token bucket state for a single client IP
type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimitMetrics defines the metrics interface for rate limiter
type RateLimitMetrics interface {
	IncRateLimitRejected()
}

// RateLimiter limits bid request rates per client IP using a token bucket
type RateLimiter struct {
	config  *RateLimitConfig
	clients map[string]*clientState
	mu      sync.Mutex
	stopCh  chan struct{}
	metrics RateLimitMetrics
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}

	return rl
}

// cleanup periodically removes stale client entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, state := range rl.clients {
				if now.Sub(state.lastCheck) > time.Minute {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// SetMetrics sets the metrics interface for the rate limiter
func (rl *RateLimiter) SetMetrics(m RateLimitMetrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = m
}

// Middleware returns the rate limiting middleware handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.allow(rl.getClientIP(r)) {
			if rl.metrics != nil {
				rl.metrics.IncRateLimitRejected()
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerSecond))
			w.Header().Set("X-RateLimit-Remaining", "0")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerSecond))
		next.ServeHTTP(w, r)
	})
}

// allow checks if a request from the given client should be allowed
func (rl *RateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	state, exists := rl.clients[clientID]

	if !exists {
		rl.clients[clientID] = &clientState{
			tokens:    float64(rl.config.BurstSize - 1),
			lastCheck: now,
		}
		return true
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(rl.config.RequestsPerSecond)
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastCheck = now

	if state.tokens < 1 {
		return false
	}
	state.tokens--
	return true
}

// getClientIP extracts the client IP with secure X-Forwarded-For handling:
// the header is only honored when the direct peer is a trusted proxy, and
// the chain is walked right to left past trusted hops.
func (rl *RateLimiter) getClientIP(r *http.Request) string {
	remoteIP := extractIP(r.RemoteAddr)

	if rl.config.TrustXFF && rl.isTrustedProxy(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			for i := len(ips) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(ips[i])
				if ip == "" {
					continue
				}
				if !rl.isTrustedProxy(ip) {
					return ip
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return remoteIP
}

// isTrustedProxy checks if an IP is in the trusted proxy list
func (rl *RateLimiter) isTrustedProxy(ipStr string) bool {
	if len(rl.config.TrustedProxies) == 0 {
		return false
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, network := range rl.config.TrustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP extracts the IP from an address that may include a port
func extractIP(addr string) string {
	// IPv6 with port: [::1]:8080
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx != -1 {
			return addr[1:idx]
		}
	}

	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		if strings.Count(addr, ":") > 1 {
			// IPv6 without port
			return addr
		}
		return addr[:idx]
	}

	return addr
}
