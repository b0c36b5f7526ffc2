// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisAddr   string // Redis address for the shared geo cache (optional)

	// Geolocation
	GeoDBPath        string        // Path to the IPinfo/MaxMind MMDB file
	GeoLookupTimeout time.Duration // Per-lookup timeout before degrading to unresolved

	// Velocity thresholds
	VelocityWindow   time.Duration // Sliding window for per-user transaction counting
	VelocityHigh     int           // Count above which HIGH_VELOCITY triggers (strict >)
	VelocityCritical int           // Count above which CRITICAL_VELOCITY also triggers
	RapidSuccession  time.Duration // Gap below which RAPID_SUCCESSION triggers

	// Amount and anomaly settings
	SuspiciousAmounts []int64 // Known test/fraud amounts in minor units
	AnomalyMethod     string  // "zscore", "iqr", or "mad"
	AnomalyThreshold  float64 // Absolute score above which STATISTICAL_OUTLIER triggers

	// Factor weights
	WeightGeoMismatch     float64
	WeightVelocity        float64
	WeightSuspiciousAmt   float64
	WeightRapidSuccession float64
	WeightStatOutlier     float64
	WeightProxy           float64

	// Composite score and classification
	ScoreCap         float64
	MediumBoundary   float64 // scores in [MediumBoundary, HighBoundary) are MEDIUM
	HighBoundary     float64
	CriticalBoundary float64

	// Proxy/VPN/datacenter detection
	ProxyOrgKeywords []string

	// Batch processing
	Workers int // Parallel user partitions; 0 means GOMAXPROCS

	// Tracing
	OTLPEndpoint string
}

// Defaults mirror the thresholds the scoring rules were tuned with.
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultGeoDBPath        = "ipinfo_lite.mmdb"
	DefaultGeoTimeout       = 2 * time.Second
	DefaultVelocityWindow   = time.Hour
	DefaultVelocityHigh     = 5
	DefaultVelocityCritical = 10
	DefaultRapidSuccession  = 5 * time.Minute
	DefaultAnomalyMethod    = "zscore"
	DefaultAnomalyThreshold = 3.0
	DefaultScoreCap         = 10.0
)

// DefaultSuspiciousAmounts are card-testing amounts (minor units) seen in
// historical fraud batches.
var DefaultSuspiciousAmounts = []int64{470, 1978, 1979, 2000, 5000}

// DefaultProxyOrgKeywords flag organizations that are VPN exits, anonymizers,
// or hosting providers rather than consumer networks.
var DefaultProxyOrgKeywords = []string{
	"vpn", "proxy", "tor", "anonymous", "hosting", "datacenter", "data center",
	"colocation", "amazon", "aws", "google cloud", "azure", "digitalocean",
	"ovh", "hetzner", "linode", "vultr", "cloudflare",
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", DefaultPort),
		Env:       getEnv("ENV", DefaultEnv),
		LogLevel:  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisAddr:   os.Getenv("REDIS_ADDR"),   // Optional shared geo cache

		GeoDBPath:        getEnv("GEO_DB_PATH", DefaultGeoDBPath),
		GeoLookupTimeout: getEnvDuration("GEO_LOOKUP_TIMEOUT", DefaultGeoTimeout),

		VelocityWindow:   getEnvDuration("VELOCITY_WINDOW", DefaultVelocityWindow),
		VelocityHigh:     getEnvInt("VELOCITY_HIGH", DefaultVelocityHigh),
		VelocityCritical: getEnvInt("VELOCITY_CRITICAL", DefaultVelocityCritical),
		RapidSuccession:  getEnvDuration("RAPID_SUCCESSION", DefaultRapidSuccession),

		SuspiciousAmounts: getEnvInt64List("SUSPICIOUS_AMOUNTS", DefaultSuspiciousAmounts),
		AnomalyMethod:     getEnv("ANOMALY_METHOD", DefaultAnomalyMethod),
		AnomalyThreshold:  getEnvFloat("ANOMALY_THRESHOLD", DefaultAnomalyThreshold),

		WeightGeoMismatch:     getEnvFloat("WEIGHT_GEO_MISMATCH", 3.0),
		WeightVelocity:        getEnvFloat("WEIGHT_VELOCITY", 2.0),
		WeightSuspiciousAmt:   getEnvFloat("WEIGHT_SUSPICIOUS_AMOUNT", 2.0),
		WeightRapidSuccession: getEnvFloat("WEIGHT_RAPID_SUCCESSION", 1.0),
		WeightStatOutlier:     getEnvFloat("WEIGHT_STAT_OUTLIER", 1.5),
		WeightProxy:           getEnvFloat("WEIGHT_PROXY", 2.5),

		ScoreCap:         getEnvFloat("SCORE_CAP", DefaultScoreCap),
		MediumBoundary:   getEnvFloat("RISK_MEDIUM_BOUNDARY", 5.0),
		HighBoundary:     getEnvFloat("RISK_HIGH_BOUNDARY", 8.0),
		CriticalBoundary: getEnvFloat("RISK_CRITICAL_BOUNDARY", 11.0),

		ProxyOrgKeywords: getEnvList("PROXY_ORG_KEYWORDS", DefaultProxyOrgKeywords),

		Workers: getEnvInt("BATCH_WORKERS", 0),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants. A violation here is fatal at
// startup: no transaction may be scored under an inconsistent rule table.
func (c *Config) Validate() error {
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("VELOCITY_WINDOW must be positive, got %s", c.VelocityWindow)
	}
	if c.VelocityHigh < 0 || c.VelocityCritical < 0 {
		return fmt.Errorf("velocity thresholds must be non-negative (high=%d critical=%d)",
			c.VelocityHigh, c.VelocityCritical)
	}
	if c.VelocityHigh >= c.VelocityCritical {
		return fmt.Errorf("VELOCITY_HIGH (%d) must be below VELOCITY_CRITICAL (%d)",
			c.VelocityHigh, c.VelocityCritical)
	}
	if c.RapidSuccession <= 0 {
		return fmt.Errorf("RAPID_SUCCESSION must be positive, got %s", c.RapidSuccession)
	}

	switch c.AnomalyMethod {
	case "zscore", "iqr", "mad":
	default:
		return fmt.Errorf("ANOMALY_METHOD must be one of zscore, iqr, mad; got %q", c.AnomalyMethod)
	}
	if c.AnomalyThreshold <= 0 {
		return fmt.Errorf("ANOMALY_THRESHOLD must be positive, got %g", c.AnomalyThreshold)
	}

	for _, amt := range c.SuspiciousAmounts {
		if amt < 0 {
			return fmt.Errorf("suspicious amounts must be non-negative, got %d", amt)
		}
	}

	for name, w := range map[string]float64{
		"WEIGHT_GEO_MISMATCH":      c.WeightGeoMismatch,
		"WEIGHT_VELOCITY":          c.WeightVelocity,
		"WEIGHT_SUSPICIOUS_AMOUNT": c.WeightSuspiciousAmt,
		"WEIGHT_RAPID_SUCCESSION":  c.WeightRapidSuccession,
		"WEIGHT_STAT_OUTLIER":      c.WeightStatOutlier,
		"WEIGHT_PROXY":             c.WeightProxy,
	} {
		if w < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", name, w)
		}
	}

	if c.ScoreCap <= 0 {
		return fmt.Errorf("SCORE_CAP must be positive, got %g", c.ScoreCap)
	}

	// Risk bands must ascend strictly so every score maps to exactly one level.
	if c.MediumBoundary <= 0 {
		return fmt.Errorf("RISK_MEDIUM_BOUNDARY must be positive, got %g", c.MediumBoundary)
	}
	if !(c.MediumBoundary < c.HighBoundary && c.HighBoundary < c.CriticalBoundary) {
		return fmt.Errorf("risk boundaries must ascend strictly: medium=%g high=%g critical=%g",
			c.MediumBoundary, c.HighBoundary, c.CriticalBoundary)
	}

	if c.Workers < 0 {
		return fmt.Errorf("BATCH_WORKERS must be non-negative, got %d", c.Workers)
	}

	if c.GeoLookupTimeout <= 0 {
		return fmt.Errorf("GEO_LOOKUP_TIMEOUT must be positive, got %s", c.GeoLookupTimeout)
	}

	return nil
}

// WorkerCount returns the effective number of batch workers.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvInt64List(key string, defaultValue []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int64
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		i, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
