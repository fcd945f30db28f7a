package config

import (
	"testing"
	"time"
)

func TestFillZeroesRestoresDefaults(t *testing.T) {
	cfg := &Config{APIKey: "k", FrameBudget: 50}
	fillZeroes(cfg)

	if cfg.FrameSampleFPS != 1.0 {
		t.Fatalf("sample fps default not restored: %v", cfg.FrameSampleFPS)
	}
	if cfg.DissimilarityThreshold != 0.08 {
		t.Fatalf("threshold default not restored: %v", cfg.DissimilarityThreshold)
	}
	if cfg.VisionConcurrency != 10 || cfg.VisionBatchSize != 3 || cfg.VisionMaxRetries != 4 {
		t.Fatalf("vision defaults not restored: %+v", cfg)
	}
	if cfg.ChatModel == "" || cfg.BaseURL == "" {
		t.Fatalf("model defaults not restored: %+v", cfg)
	}
	// Explicit values survive.
	if cfg.FrameBudget != 50 {
		t.Fatalf("explicit frame budget overwritten: %d", cfg.FrameBudget)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{JobTimeoutSec: 600, JobRetentionSec: 3600, CacheTTLSec: 86400}
	if cfg.JobTimeout() != 10*time.Minute {
		t.Fatalf("job timeout: %v", cfg.JobTimeout())
	}
	if cfg.JobRetention() != time.Hour {
		t.Fatalf("job retention: %v", cfg.JobRetention())
	}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Fatalf("cache ttl: %v", cfg.CacheTTL())
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure without api key")
	}

	cfg.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	cfg.DissimilarityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure for out-of-range threshold")
	}
}
