package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	Platform    PlatformConfig
	Acquisition AcquisitionConfig
	Scheduler   SchedulerConfig
	Store       StoreConfig
	Notify      NotifyConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Cache       CacheConfig
	Log         LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance and the fingerprint
// applied to every page.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the upstream proxy URL for all browser traffic.
	Proxy string

	// UserAgent overrides the fingerprint user agent.
	UserAgent string

	Locale         string // default: "en-US"
	Timezone       string // default: "America/New_York"
	ViewportWidth  int    // default: 1366
	ViewportHeight int    // default: 900

	// BlockMedia blocks image and video downloads on platform pages.
	BlockMedia bool // default: true
}

// PlatformConfig holds the target platform endpoints and credentials.
type PlatformConfig struct {
	// AuthToken is the session cookie value. Acquisition is disabled without it.
	AuthToken string

	// CSRFToken is the optional ct0 cookie value.
	CSRFToken string

	// BaseURL is the web origin; default: "https://x.com".
	BaseURL string

	// SearchMode selects the search tab: "live" (latest) or "top".
	SearchMode string // default: "live"
}

// AcquisitionConfig controls one acquisition run.
type AcquisitionConfig struct {
	// DefaultQueries is the query list used by the scheduler.
	DefaultQueries []string // default: ["BTC", "ETH"]

	// MaxPostsPerQuery caps posts collected per query.
	MaxPostsPerQuery int // default: 50

	// MaxScrolls is the scroll-iteration budget per attempt.
	MaxScrolls int // default: 15

	// StallLimit stops scrolling after this many scrolls without new posts.
	StallLimit int // default: 4

	ScrollMinPx    int           // default: 400
	ScrollMaxPx    int           // default: 1200
	ScrollDelayMin time.Duration // default: 800ms
	ScrollDelayMax time.Duration // default: 2s

	// NavigationTimeout bounds page.Navigate.
	NavigationTimeout time.Duration // default: 30s

	// ContentWaitTimeout bounds the wait for the first rendered result.
	ContentWaitTimeout time.Duration // default: 15s

	// MaxAttempts is the per-query retry ceiling.
	MaxAttempts int // default: 3

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration // default: 2s

	QueryDelayMin time.Duration // default: 3s
	QueryDelayMax time.Duration // default: 8s
}

// SchedulerConfig controls the periodic trigger and the health guard.
type SchedulerConfig struct {
	// Enabled toggles the periodic trigger.
	Enabled bool // default: true

	// Interval is the time between scheduled runs.
	Interval time.Duration // default: 30m

	// RunOnStart fires one run immediately when the scheduler starts.
	RunOnStart bool // default: false

	// StuckAfter is the hard ceiling on a single run's duration.
	StuckAfter time.Duration // default: 60m

	// HealthInterval is how often the guard checks for a stuck run.
	HealthInterval time.Duration // default: 1m

	// RetentionAge deletes posts older than this. Zero disables the sweep.
	RetentionAge time.Duration // default: 168h

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration // default: 1h

	// TaskTTL prunes finished task records from memory.
	TaskTTL time.Duration // default: 24h
}

// StoreConfig controls the Postgres store.
type StoreConfig struct {
	DSN      string
	MaxConns int // default: 4

	// CandidateWindow bounds how many recent rows are ranked per query.
	CandidateWindow int // default: 500
}

// NotifyConfig controls subscriber delivery.
type NotifyConfig struct {
	// SinkTimeout bounds a single delivery.
	SinkTimeout time.Duration // default: 5s

	// StreamBuffer is the per-SSE-client event buffer.
	StreamBuffer int // default: 16

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration // default: 15s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the ranked-read cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000

	// TTL is how long a cached read stays valid.
	TTL time.Duration // default: 30s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: envOr("TWEETSCOPE_HOST", "0.0.0.0"),
			Port: envIntOr("TWEETSCOPE_PORT", 8080),
			Mode: envOr("TWEETSCOPE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("TWEETSCOPE_HEADLESS", true),
			NoSandbox:      envBoolOr("TWEETSCOPE_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("TWEETSCOPE_BROWSER_BIN"),
			Proxy:          os.Getenv("TWEETSCOPE_PROXY"),
			UserAgent:      os.Getenv("TWEETSCOPE_USER_AGENT"),
			Locale:         envOr("TWEETSCOPE_LOCALE", "en-US"),
			Timezone:       envOr("TWEETSCOPE_TIMEZONE", "America/New_York"),
			ViewportWidth:  envIntOr("TWEETSCOPE_VIEWPORT_WIDTH", 1366),
			ViewportHeight: envIntOr("TWEETSCOPE_VIEWPORT_HEIGHT", 900),
			BlockMedia:     envBoolOr("TWEETSCOPE_BLOCK_MEDIA", true),
		},
		Platform: PlatformConfig{
			AuthToken:  os.Getenv("TWEETSCOPE_AUTH_TOKEN"),
			CSRFToken:  os.Getenv("TWEETSCOPE_CT0"),
			BaseURL:    strings.TrimRight(envOr("TWEETSCOPE_BASE_URL", "https://x.com"), "/"),
			SearchMode: envOr("TWEETSCOPE_SEARCH_MODE", "live"),
		},
		Acquisition: AcquisitionConfig{
			DefaultQueries:     envSliceOr("TWEETSCOPE_QUERIES", []string{"BTC", "ETH"}),
			MaxPostsPerQuery:   envIntOr("TWEETSCOPE_MAX_POSTS", 50),
			MaxScrolls:         envIntOr("TWEETSCOPE_MAX_SCROLLS", 15),
			StallLimit:         envIntOr("TWEETSCOPE_STALL_LIMIT", 4),
			ScrollMinPx:        envIntOr("TWEETSCOPE_SCROLL_MIN_PX", 400),
			ScrollMaxPx:        envIntOr("TWEETSCOPE_SCROLL_MAX_PX", 1200),
			ScrollDelayMin:     envDurationOr("TWEETSCOPE_SCROLL_DELAY_MIN", 800*time.Millisecond),
			ScrollDelayMax:     envDurationOr("TWEETSCOPE_SCROLL_DELAY_MAX", 2*time.Second),
			NavigationTimeout:  envDurationOr("TWEETSCOPE_NAV_TIMEOUT", 30*time.Second),
			ContentWaitTimeout: envDurationOr("TWEETSCOPE_CONTENT_TIMEOUT", 15*time.Second),
			MaxAttempts:        envIntOr("TWEETSCOPE_MAX_ATTEMPTS", 3),
			BaseBackoff:        envDurationOr("TWEETSCOPE_BASE_BACKOFF", 2*time.Second),
			QueryDelayMin:      envDurationOr("TWEETSCOPE_QUERY_DELAY_MIN", 3*time.Second),
			QueryDelayMax:      envDurationOr("TWEETSCOPE_QUERY_DELAY_MAX", 8*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:        envBoolOr("TWEETSCOPE_SCHEDULER", true),
			Interval:       envDurationOr("TWEETSCOPE_INTERVAL", 30*time.Minute),
			RunOnStart:     envBoolOr("TWEETSCOPE_RUN_ON_START", false),
			StuckAfter:     envDurationOr("TWEETSCOPE_STUCK_AFTER", 60*time.Minute),
			HealthInterval: envDurationOr("TWEETSCOPE_HEALTH_INTERVAL", time.Minute),
			RetentionAge:   envDurationOr("TWEETSCOPE_RETENTION", 168*time.Hour),
			SweepInterval:  envDurationOr("TWEETSCOPE_SWEEP_INTERVAL", time.Hour),
			TaskTTL:        envDurationOr("TWEETSCOPE_TASK_TTL", 24*time.Hour),
		},
		Store: StoreConfig{
			DSN:             os.Getenv("TWEETSCOPE_PG_DSN"),
			MaxConns:        envIntOr("TWEETSCOPE_PG_MAX_CONNS", 4),
			CandidateWindow: envIntOr("TWEETSCOPE_CANDIDATE_WINDOW", 500),
		},
		Notify: NotifyConfig{
			SinkTimeout:  envDurationOr("TWEETSCOPE_SINK_TIMEOUT", 5*time.Second),
			StreamBuffer: envIntOr("TWEETSCOPE_STREAM_BUFFER", 16),
			Heartbeat:    envDurationOr("TWEETSCOPE_HEARTBEAT", 15*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("TWEETSCOPE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("TWEETSCOPE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("TWEETSCOPE_RATE_RPS", 5.0),
			Burst:             envIntOr("TWEETSCOPE_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("TWEETSCOPE_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("TWEETSCOPE_CACHE_TTL", 30*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("TWEETSCOPE_LOG_LEVEL", "info"),
			Format: envOr("TWEETSCOPE_LOG_FORMAT", "json"),
		},
	}
}

// AcquisitionEnabled reports whether the platform credential is present.
func (c *Config) AcquisitionEnabled() bool {
	return strings.TrimSpace(c.Platform.AuthToken) != ""
}

// Warnings lists non-fatal configuration problems worth logging at startup.
func (c *Config) Warnings() []string {
	var w []string
	if !c.AcquisitionEnabled() {
		w = append(w, "TWEETSCOPE_AUTH_TOKEN is not set: acquisition and scheduler are disabled")
	}
	if c.Store.DSN == "" {
		w = append(w, "TWEETSCOPE_PG_DSN is not set: the post store is unavailable")
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		w = append(w, "auth is enabled but TWEETSCOPE_API_KEYS is empty: API is open")
	}
	if c.Acquisition.ScrollMaxPx < c.Acquisition.ScrollMinPx {
		w = append(w, "TWEETSCOPE_SCROLL_MAX_PX is below TWEETSCOPE_SCROLL_MIN_PX: using the minimum for both")
	}
	return w
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
