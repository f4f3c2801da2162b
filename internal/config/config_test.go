package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.BackoffFactor != 1.5 {
		t.Errorf("BackoffFactor = %v, want 1.5", cfg.BackoffFactor)
	}
	if len(cfg.WaitBetweenDownloads) != 2 || cfg.WaitBetweenDownloads[0] != 3.0 || cfg.WaitBetweenDownloads[1] != 7.0 {
		t.Errorf("WaitBetweenDownloads = %v, want [3 7]", cfg.WaitBetweenDownloads)
	}
	if cfg.PinStrict {
		t.Errorf("PinStrict should default to false")
	}
	if cfg.DBLoteSizeLarge != 10000 {
		t.Errorf("DBLoteSizeLarge = %d, want 10000", cfg.DBLoteSizeLarge)
	}
	if cfg.APIRateRPS != 10 || cfg.APIRateBurst != 20 || cfg.APIRateTTLMin != 15 {
		t.Errorf("rate limit defaults = %v/%d/%d, want 10/20/15",
			cfg.APIRateRPS, cfg.APIRateBurst, cfg.APIRateTTLMin)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBTimeout != 30 {
		t.Errorf("DBTimeout = %d, want default 30", cfg.DBTimeout)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
base_url: https://example.com/hist
max_retries: 5
wait_between_downloads: [0.1, 0.2]
pin_strict: true
db_path: /tmp/x.db
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://example.com/hist" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if !cfg.PinStrict {
		t.Errorf("PinStrict should be true")
	}
	// Untouched keys keep defaults.
	if cfg.BackoffFactor != 1.5 {
		t.Errorf("BackoffFactor = %v, want default 1.5", cfg.BackoffFactor)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("max_retries: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FIISCAN_MAX_RETRIES", "9")
	t.Setenv("FIISCAN_PIN_STRICT", "true")
	t.Setenv("FIISCAN_API_RATE_RPS", "2.5")
	t.Setenv("FIISCAN_API_RATE_BURST", "5")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetries != 9 {
		t.Errorf("MaxRetries = %d, want env override 9", cfg.MaxRetries)
	}
	if !cfg.PinStrict {
		t.Errorf("PinStrict should come from env")
	}
	if cfg.APIRateRPS != 2.5 || cfg.APIRateBurst != 5 {
		t.Errorf("rate limit = %v/%d, want env override 2.5/5", cfg.APIRateRPS, cfg.APIRateBurst)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http base url", func(c *Config) { c.BaseURL = "http://insecure" }},
		{"bad wait window", func(c *Config) { c.WaitBetweenDownloads = []float64{5, 1} }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero backoff", func(c *Config) { c.BackoffFactor = 0 }},
		{"inverted lote sizes", func(c *Config) { c.DBLoteSizeMedium = 10 }},
		{"zero timeout", func(c *Config) { c.DBTimeout = 0 }},
		{"rate without burst", func(c *Config) { c.APIRateBurst = 0 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Fatalf("validate accepted invalid config")
			}
		})
	}
}
