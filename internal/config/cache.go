package config

import "time"

// CacheConfig defines settings for the shared Redis response cache
// middleware. When Enabled is false or no Redis client is configured,
// caching is disabled. The key always includes a digest of the caller's
// Authorization header so users never share entries.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string
	Prefix       string
	MaxBodyBytes int
}

// LocalCacheConfig sizes the in-process FIFO response cache.
type LocalCacheConfig struct {
	Capacity int
	TTL      time.Duration
}

// LoadCacheConfig reads CACHE_* variables. Defaults are used when unset.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 2*time.Minute),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       envStr("CACHE_PREFIX", "pwcache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1048576),
	}
}

// LoadLocalCacheConfig reads LOCAL_CACHE_* variables.
func LoadLocalCacheConfig() LocalCacheConfig {
	c := LocalCacheConfig{
		Capacity: envInt("LOCAL_CACHE_CAPACITY", 100),
		TTL:      envDur("LOCAL_CACHE_TTL", 5*time.Minute),
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	return c
}
