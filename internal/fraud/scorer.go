// Package fraud provides risk scoring for incoming bid requests
package fraud

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// SignalWeights holds the additive weight of each fraud signal.
// Signal scores are summed and clipped to 1.0.
type SignalWeights struct {
	IPBlacklisted     float64
	ClickRate         float64
	SuspiciousUA      float64
	GeoInconsistency  float64
	DeviceBlacklisted float64
	ImpressionRate    float64
	DomainNotListed   float64
}

// Config holds fraud detection configuration
type Config struct {
	Enabled               bool
	RiskThreshold         float64       // Score at or above which a request is fraudulent
	MaxClicksPerHour      int           // Per-IP click ceiling inside the window
	MaxImpressionsPerHour int           // Per-IP impression ceiling inside the window
	WindowSize            time.Duration // Trailing window for rate signals
	IPBlacklist           []string
	DomainWhitelist       []string // Empty list disables the whitelist signal
	SuspiciousUAPatterns  []string // Regex patterns matched against the user agent
	Weights               SignalWeights
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		RiskThreshold:         0.7,
		MaxClicksPerHour:      100,
		MaxImpressionsPerHour: 1000,
		WindowSize:            time.Hour,
		SuspiciousUAPatterns: []string{
			`(?i)bot`,
			`(?i)crawler`,
			`(?i)spider`,
			`(?i)scraper`,
		},
		Weights: SignalWeights{
			IPBlacklisted:     0.8,
			ClickRate:         0.6,
			SuspiciousUA:      0.5,
			GeoInconsistency:  0.4,
			DeviceBlacklisted: 0.7,
			ImpressionRate:    0.3,
			DomainNotListed:   0.2,
		},
	}
}

// GeoChecker reports whether the request's claimed geo is inconsistent with
// its IP. The default implementation always reports consistent; a GeoIP
// collaborator can be injected to make this signal real.
type GeoChecker interface {
	Inconsistent(req *openrtb.BidRequest) bool
}

type noopGeoChecker struct{}

func (noopGeoChecker) Inconsistent(*openrtb.BidRequest) bool { return false }

// Scorer computes a fraud risk score in [0,1] for bid requests.
//
// Scoring is NOT read-only: every call appends the current timestamp to the
// per-IP click and impression windows before comparing their sizes to the
// configured ceilings, so concurrent callers sharing an IP advance each
// other's rate signals.
type Scorer struct {
	mu     sync.RWMutex
	config *Config
	geo    GeoChecker
	now    func() time.Time

	ipBlacklist     map[string]struct{}
	deviceBlacklist map[string]struct{}
	domainWhitelist map[string]struct{}

	uaPatterns   []*regexp.Regexp
	patternsOnce sync.Once

	clickWindows      sync.Map // ip -> *ipWindow
	impressionWindows sync.Map // ip -> *ipWindow

	scored  atomic.Int64
	flagged atomic.Int64
}

// ipWindow is a mutable per-IP timestamp list with its own lock so that
// unrelated IPs never contend.
type ipWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// NewScorer creates a scorer from config (nil means defaults)
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Scorer{
		config:          config,
		geo:             noopGeoChecker{},
		now:             time.Now,
		ipBlacklist:     make(map[string]struct{}, len(config.IPBlacklist)),
		deviceBlacklist: make(map[string]struct{}),
		domainWhitelist: make(map[string]struct{}, len(config.DomainWhitelist)),
	}

	for _, ip := range config.IPBlacklist {
		s.ipBlacklist[ip] = struct{}{}
	}
	for _, domain := range config.DomainWhitelist {
		s.domainWhitelist[domain] = struct{}{}
	}

	return s
}

// SetClock replaces the time source, for deterministic window tests
func (s *Scorer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetGeoChecker injects a geo consistency collaborator
func (s *Scorer) SetGeoChecker(g GeoChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g != nil {
		s.geo = g
	}
}

// IsFraudulent reports whether the request's risk score reaches the
// configured threshold. Internal faults fail open: the request is treated
// as not fraudulent so the auction stays available.
func (s *Scorer) IsFraudulent(req *openrtb.BidRequest) bool {
	score, err := s.Score(req)
	if err != nil {
		lg := logger.Fraud()
		lg.Error().Err(err).Str("request_id", requestID(req)).
			Msg("fraud scoring failed, failing open")
		return false
	}

	s.mu.RLock()
	threshold := s.config.RiskThreshold
	s.mu.RUnlock()

	fraudulent := score >= threshold
	if fraudulent {
		s.flagged.Add(1)
		lg2 := logger.Fraud()
		lg2.Warn().
			Str("request_id", requestID(req)).
			Float64("risk_score", score).
			Str("ip", requestIP(req)).
			Msg("fraudulent bid request rejected")
	}
	return fraudulent
}

// Score computes the risk score for a request. The returned score is the
// sum of triggered signal weights, clipped to 1.0.
func (s *Scorer) Score(req *openrtb.BidRequest) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			score, err = 0, fmt.Errorf("fraud scorer panic: %v", r)
		}
	}()

	s.scored.Add(1)

	s.mu.RLock()
	cfg := *s.config
	geo := s.geo
	s.mu.RUnlock()

	if !cfg.Enabled {
		return 0, nil
	}

	ip := requestIP(req)

	if s.isIPBlacklisted(ip) {
		score += cfg.Weights.IPBlacklisted
	}
	if s.overWindowLimit(&s.clickWindows, ip, cfg.MaxClicksPerHour, cfg.WindowSize) {
		score += cfg.Weights.ClickRate
	}
	if s.isUserAgentSuspicious(requestUA(req)) {
		score += cfg.Weights.SuspiciousUA
	}
	if geo.Inconsistent(req) {
		score += cfg.Weights.GeoInconsistency
	}
	if req.Device != nil && s.isDeviceBlacklisted(req.Device) {
		score += cfg.Weights.DeviceBlacklisted
	}
	if s.overWindowLimit(&s.impressionWindows, ip, cfg.MaxImpressionsPerHour, cfg.WindowSize) {
		score += cfg.Weights.ImpressionRate
	}
	if !s.isDomainAllowed(req) {
		score += cfg.Weights.DomainNotListed
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, nil
}

func (s *Scorer) isIPBlacklisted(ip string) bool {
	if ip == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ipBlacklist[ip]
	return ok
}

func (s *Scorer) isDeviceBlacklisted(device *openrtb.Device) bool {
	fp := Fingerprint(device)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deviceBlacklist[fp]
	return ok
}

// isDomainAllowed passes when no whitelist is configured or the site has no
// domain; otherwise the domain must be listed.
func (s *Scorer) isDomainAllowed(req *openrtb.BidRequest) bool {
	if req.Site == nil || req.Site.Domain == "" {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.domainWhitelist) == 0 {
		return true
	}
	_, ok := s.domainWhitelist[req.Site.Domain]
	return ok
}

func (s *Scorer) isUserAgentSuspicious(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return true
	}

	s.compilePatterns()
	for _, pattern := range s.uaPatterns {
		if pattern.MatchString(ua) {
			return true
		}
	}
	return false
}

// compilePatterns compiles UA regexes once; invalid patterns are skipped
func (s *Scorer) compilePatterns() {
	s.patternsOnce.Do(func() {
		s.mu.RLock()
		patterns := s.config.SuspiciousUAPatterns
		s.mu.RUnlock()

		s.uaPatterns = make([]*regexp.Regexp, 0, len(patterns))
		for _, pattern := range patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				lg3 := logger.Fraud()
				lg3.Warn().Err(err).Str("pattern", pattern).
					Msg("invalid UA pattern skipped")
				continue
			}
			s.uaPatterns = append(s.uaPatterns, re)
		}
	})
}

// overWindowLimit prunes entries older than the window, records the current
// event, and reports whether the count exceeds the limit.
func (s *Scorer) overWindowLimit(windows *sync.Map, ip string, limit int, window time.Duration) bool {
	if ip == "" || limit <= 0 {
		return false
	}

	v, _ := windows.LoadOrStore(ip, &ipWindow{})
	w := v.(*ipWindow)

	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()
	cutoff := now.Add(-window)

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = append(kept, now)

	return len(w.times) > limit
}

// Fingerprint derives a stable device identity from request attributes
func Fingerprint(device *openrtb.Device) string {
	if device == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(device.UA)
	b.WriteString("|")
	b.WriteString(device.IP)
	b.WriteString("|")
	b.WriteString(strconv.Itoa(device.DeviceType))
	b.WriteString("|")
	b.WriteString(device.Make)
	b.WriteString("|")
	b.WriteString(device.Model)
	b.WriteString("|")
	b.WriteString(device.OS)
	b.WriteString("|")
	b.WriteString(device.OSV)

	h := fnv.New64a()
	h.Write([]byte(b.String()))
	return strconv.FormatUint(h.Sum64(), 16)
}

// AddIPToBlacklist adds an IP at runtime
func (s *Scorer) AddIPToBlacklist(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipBlacklist[ip] = struct{}{}
}

// AddDeviceToBlacklist adds a device fingerprint at runtime
func (s *Scorer) AddDeviceToBlacklist(device *openrtb.Device) {
	fp := Fingerprint(device)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceBlacklist[fp] = struct{}{}
}

// AddDomainToWhitelist adds a site domain at runtime
func (s *Scorer) AddDomainToWhitelist(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainWhitelist[domain] = struct{}{}
}

// Stats returns aggregate counters for the status endpoint
func (s *Scorer) Stats() map[string]any {
	s.mu.RLock()
	ipSize := len(s.ipBlacklist)
	deviceSize := len(s.deviceBlacklist)
	domainSize := len(s.domainWhitelist)
	threshold := s.config.RiskThreshold
	s.mu.RUnlock()

	clickTracked := 0
	s.clickWindows.Range(func(_, _ any) bool { clickTracked++; return true })
	impTracked := 0
	s.impressionWindows.Range(func(_, _ any) bool { impTracked++; return true })

	return map[string]any{
		"ipBlacklistSize":          ipSize,
		"deviceBlacklistSize":      deviceSize,
		"domainWhitelistSize":      domainSize,
		"activeClickTracking":      clickTracked,
		"activeImpressionTracking": impTracked,
		"riskThreshold":            threshold,
		"requestsScored":           s.scored.Load(),
		"requestsFlagged":          s.flagged.Load(),
	}
}

func requestIP(req *openrtb.BidRequest) string {
	if req == nil || req.Device == nil {
		return ""
	}
	return req.Device.IP
}

func requestUA(req *openrtb.BidRequest) string {
	if req == nil || req.Device == nil {
		return ""
	}
	return req.Device.UA
}

func requestID(req *openrtb.BidRequest) string {
	if req == nil {
		return ""
	}
	return req.ID
}
