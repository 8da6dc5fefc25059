package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TWEETSCOPE_AUTH_TOKEN", "")
	t.Setenv("TWEETSCOPE_QUERIES", "")

	cfg := Load()

	if cfg.Acquisition.MaxPostsPerQuery != 50 {
		t.Errorf("MaxPostsPerQuery = %d, want 50", cfg.Acquisition.MaxPostsPerQuery)
	}
	if cfg.Acquisition.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Acquisition.MaxAttempts)
	}
	if cfg.Scheduler.Interval != 30*time.Minute {
		t.Errorf("Interval = %v, want 30m", cfg.Scheduler.Interval)
	}
	if !reflect.DeepEqual(cfg.Acquisition.DefaultQueries, []string{"BTC", "ETH"}) {
		t.Errorf("DefaultQueries = %v", cfg.Acquisition.DefaultQueries)
	}
	if cfg.AcquisitionEnabled() {
		t.Error("acquisition should be disabled without an auth token")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TWEETSCOPE_AUTH_TOKEN", "secret")
	t.Setenv("TWEETSCOPE_QUERIES", " SOL , DOGE,, ")
	t.Setenv("TWEETSCOPE_MAX_POSTS", "120")
	t.Setenv("TWEETSCOPE_INTERVAL", "5m")
	t.Setenv("TWEETSCOPE_RUN_ON_START", "true")
	t.Setenv("TWEETSCOPE_BASE_URL", "https://twitter.com/")

	cfg := Load()

	if !cfg.AcquisitionEnabled() {
		t.Error("acquisition should be enabled with an auth token")
	}
	if !reflect.DeepEqual(cfg.Acquisition.DefaultQueries, []string{"SOL", "DOGE"}) {
		t.Errorf("DefaultQueries = %v, want [SOL DOGE]", cfg.Acquisition.DefaultQueries)
	}
	if cfg.Acquisition.MaxPostsPerQuery != 120 {
		t.Errorf("MaxPostsPerQuery = %d, want 120", cfg.Acquisition.MaxPostsPerQuery)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", cfg.Scheduler.Interval)
	}
	if !cfg.Scheduler.RunOnStart {
		t.Error("RunOnStart should be true")
	}
	if cfg.Platform.BaseURL != "https://twitter.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.Platform.BaseURL)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TWEETSCOPE_MAX_ATTEMPTS", "many")
	t.Setenv("TWEETSCOPE_BASE_BACKOFF", "soon")

	cfg := Load()

	if cfg.Acquisition.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want fallback 3", cfg.Acquisition.MaxAttempts)
	}
	if cfg.Acquisition.BaseBackoff != 2*time.Second {
		t.Errorf("BaseBackoff = %v, want fallback 2s", cfg.Acquisition.BaseBackoff)
	}
}

func TestWarnings_MissingToken(t *testing.T) {
	cfg := &Config{}
	cfg.Store.DSN = "postgres://localhost/x"

	w := cfg.Warnings()
	if len(w) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(w), w)
	}
}
