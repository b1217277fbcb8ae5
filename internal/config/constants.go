// Package config provides shared configuration constants for the bid engine
package config

import "time"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration before timing out writes of the response
	ServerWriteTimeout = 10 * time.Second

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// Rate limiting defaults
const (
	// DefaultRPS is the default requests per second limit
	DefaultRPS = 1000

	// DefaultBurstSize is the default burst size for rate limiting
	DefaultBurstSize = 2000
)

// Size limiting defaults
const (
	// DefaultMaxBodySize is the default maximum request body size (1MB)
	DefaultMaxBodySize = 1024 * 1024

	// DefaultMaxURLLength is the default maximum URL length (8KB)
	DefaultMaxURLLength = 8192
)

// Auction defaults
const (
	// DefaultAuctionTimeout bounds a single auction when the request
	// carries no tmax
	DefaultAuctionTimeout = 100 * time.Millisecond
)

// Budget defaults
const (
	// ReservationCleanupInterval is how often expired budget reservations
	// are swept
	ReservationCleanupInterval = 5 * time.Minute
)
