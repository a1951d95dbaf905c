package config

import (
	"os"
	"path/filepath"
	"time"
)

// ClientConfig configures the pwctl side: where the gateway lives, how the
// resilient client retries, and where credentials are kept.
type ClientConfig struct {
	GatewayURL      string
	RequestTimeout  time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	BackoffFactor   float64
	ExpiryBuffer    time.Duration
	LivenessEvery   time.Duration
	CredentialsFile string
	SessionRedisKey string // empty keeps the session-scoped store in memory
}

func LoadClientConfig() ClientConfig {
	return ClientConfig{
		GatewayURL:      trimSlash(envStr("PW_GATEWAY_URL", "http://localhost:8080")),
		RequestTimeout:  envDur("PW_REQUEST_TIMEOUT", 15*time.Second),
		MaxRetries:      envInt("PW_MAX_RETRIES", 3),
		BaseDelay:       envDur("PW_RETRY_BASE_DELAY", time.Second),
		BackoffFactor:   envFloat("PW_RETRY_FACTOR", 2),
		ExpiryBuffer:    envDur("PW_EXPIRY_BUFFER", 5*time.Minute),
		LivenessEvery:   envDur("PW_LIVENESS_INTERVAL", 10*time.Minute),
		CredentialsFile: envStr("PW_CREDENTIALS_FILE", defaultCredentialsFile()),
		SessionRedisKey: os.Getenv("PW_SESSION_REDIS_KEY"),
	}
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pwctl-credentials.json"
	}
	return filepath.Join(dir, "pwctl", "credentials.json")
}
