package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Config controls when a breaker opens and recovers
type Config struct {
	MaxRequests      uint32        // Requests admitted while half-open
	Interval         time.Duration // Closed-state counter reset period (0 = never)
	Timeout          time.Duration // Open duration before probing again
	FailureThreshold uint32        // Consecutive failures that open the breaker
	SuccessThreshold uint32        // Consecutive half-open successes that close it
	OnStateChange    func(name string, from State, to State)
	IsSuccessful     func(err error) bool // Errors that should not count as failures
}

// DefaultConfig returns the defaults used when no environment override exists
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// HTTPConfig configures breakers in front of the capability service
func HTTPConfig() Config {
	return fromEnv("CB_HTTP", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// RedisConfig configures the breaker in front of Redis
func RedisConfig() Config {
	return fromEnv("CB_REDIS", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// fromEnv overlays PREFIX_MAX_REQUESTS, PREFIX_INTERVAL, PREFIX_TIMEOUT,
// PREFIX_FAILURE_THRESHOLD and PREFIX_SUCCESS_THRESHOLD onto def.
func fromEnv(prefix string, def Config) Config {
	def.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", def.MaxRequests)
	def.Interval = envDuration(prefix+"_INTERVAL", def.Interval)
	def.Timeout = envDuration(prefix+"_TIMEOUT", def.Timeout)
	def.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", def.FailureThreshold)
	def.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold)
	return def
}

func envUint32(key string, def uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
