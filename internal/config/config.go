package config // package config loads gateway and client configuration from environment variables

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Base URLs have hardcoded fallbacks; the OAuth
// client credentials do not and must be injected at deploy time.
type Config struct {
	Env      string // application environment (dev, prod)
	Port     string // HTTP port to listen on
	LogLevel string // logrus level name
	LogJSON  bool   // json formatter instead of text

	UpstreamBaseURL string // learning-platform API host, versions live in path templates
	VideoAPIBaseURL string // first-party video API
	CDNBaseURL      string // CDN host serving media segments

	ClientID       string // OAuth client id for the token exchange
	ClientSecret   string // OAuth client secret for the token exchange
	OrganizationID string // upstream organization the users belong to
	ClientType     string // platform hint sent as client-type
	ClientVersion  string // sent as client-version
	APIVersion     string // API semantic version sent as version
	UserAgent      string // User-Agent sent upstream

	ThumbnailFallback string        // image used when a schedule item has none
	ProxyTimeout      time.Duration // single forwarded request timeout
	ProbeInterval     time.Duration // network status probe cadence
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     envStr("APP_PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),
		LogJSON:  envBool("LOG_JSON", false),

		UpstreamBaseURL: trimSlash(envStr("PW_API_BASE_URL", "https://api.penpencil.co")),
		VideoAPIBaseURL: trimSlash(envStr("PW_VIDEO_API_BASE_URL", "https://video-api.piewallah.app")),
		CDNBaseURL:      trimSlash(envStr("PW_CDN_BASE_URL", "https://d1d34p8vz63oiq.cloudfront.net")),

		ClientID:       os.Getenv("PW_CLIENT_ID"),
		ClientSecret:   os.Getenv("PW_CLIENT_SECRET"),
		OrganizationID: envStr("PW_ORGANIZATION_ID", "5eb393ee95fab7468a79d189"),
		ClientType:     envStr("PW_CLIENT_TYPE", "WEB"),
		ClientVersion:  envStr("PW_CLIENT_VERSION", "6.0.6"),
		APIVersion:     envStr("PW_API_VERSION", "2.6"),
		UserAgent:      envStr("PW_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) pw-gateway"),

		ThumbnailFallback: envStr("THUMBNAIL_FALLBACK", "https://static.pw.live/react-batches/assets/images/default-thumbnail.png"),
		ProxyTimeout:      envDur("PROXY_TIMEOUT", 30*time.Second),
		ProbeInterval:     envDur("NET_PROBE_INTERVAL", 30*time.Second),
	}
}

// ErrMissingClientCredentials is returned by Validate when the OAuth client
// pair was not provided.
var ErrMissingClientCredentials = errors.New("PW_CLIENT_ID and PW_CLIENT_SECRET are required")

// Validate checks values the gateway cannot start without.
func (c Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingClientCredentials
	}
	if c.Port == "" {
		return errors.New("APP_PORT is empty")
	}
	return nil
}

func trimSlash(s string) string { return strings.TrimRight(s, "/") }

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
