package catalog

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigParsesDefaultsAndFlags(t *testing.T) {
	t.Setenv("CARTSTREAM_CATALOG_CONSUMER_GROUP", "catalog-e2e")

	cfg, err := ParseConfig(flag.NewFlagSet("catalog", flag.ContinueOnError), []string{"-poll-interval", "50ms"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPPort != 8090 {
		t.Fatalf("http port = %d, want 8090", cfg.HTTPPort)
	}
	if cfg.ConsumerGroup != "catalog-e2e" {
		t.Fatalf("consumer group = %q, want %q", cfg.ConsumerGroup, "catalog-e2e")
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Fatalf("poll interval = %v, want 50ms", cfg.PollInterval)
	}
	if cfg.CartHealthAddr != "" {
		t.Fatalf("cart health addr = %q, want empty", cfg.CartHealthAddr)
	}
}
