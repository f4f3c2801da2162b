package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the pipeline. Values come from, in order of
// precedence: FIISCAN_* environment variables, the YAML config file, and the
// defaults below.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	DataDir   string `yaml:"data_dir"`
	CertDir   string `yaml:"cert_dir"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	APIAddr   string `yaml:"api_addr"` // empty = API disabled
	UserAgent string `yaml:"user_agent"`

	MaxRetries           int       `yaml:"max_retries"`
	BackoffFactor        float64   `yaml:"backoff_factor"`
	WaitBetweenDownloads []float64 `yaml:"wait_between_downloads"` // [min, max] seconds
	CertRotationDays     int       `yaml:"cert_rotation_days"`
	// PinStrict aborts downloads on a certificate fingerprint mismatch.
	// Default is warn-and-continue; review before enabling in production.
	PinStrict       bool  `yaml:"pin_strict"`
	MinArchiveBytes int64 `yaml:"min_archive_bytes"`

	ExtractRetries    int     `yaml:"extract_retries"`
	ExtractRetryDelay float64 `yaml:"extract_retry_delay"` // seconds

	DBLoteSizeSmall  int `yaml:"db_lote_size_small"`
	DBLoteSizeMedium int `yaml:"db_lote_size_medium"`
	DBLoteSizeLarge  int `yaml:"db_lote_size_large"`
	DBLoteMaxBytes   int `yaml:"db_lote_max_bytes"`
	DBTimeout        int `yaml:"db_timeout"` // seconds

	CacheDefaultTTL int `yaml:"cache_default_ttl"` // seconds
	CacheMaxSize    int `yaml:"cache_max_size"`

	APIRateRPS    float64 `yaml:"api_rate_rps"` // <= 0 disables rate limiting
	APIRateBurst  int     `yaml:"api_rate_burst"`
	APIRateTTLMin int     `yaml:"api_rate_ttl_min"` // idle client forget horizon
}

// Default returns the built-in configuration, mirroring the values the
// exchange tolerates well in practice.
func Default() Config {
	return Config{
		BaseURL:              "https://bvmf.bmfbovespa.com.br/InstDados/SerHist",
		DataDir:              "historico_cotacoes",
		CertDir:              "config/certificates",
		DBPath:               "fundos_imobiliarios.db",
		LogLevel:             "info",
		UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		MaxRetries:           3,
		BackoffFactor:        1.5,
		WaitBetweenDownloads: []float64{3.0, 7.0},
		CertRotationDays:     7,
		MinArchiveBytes:      100,
		ExtractRetries:       3,
		ExtractRetryDelay:    2.0,
		DBLoteSizeSmall:      1000,
		DBLoteSizeMedium:     5000,
		DBLoteSizeLarge:      10000,
		DBLoteMaxBytes:       1 << 20,
		DBTimeout:            30,
		CacheDefaultTTL:      300,
		CacheMaxSize:         1000,
		APIRateRPS:           10,
		APIRateBurst:         20,
		APIRateTTLMin:        15,
	}
}

// Load reads the YAML file at path (missing file is not an error: defaults
// apply), then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnvString("FIISCAN_BASE_URL", c.BaseURL)
	c.DataDir = getEnvString("FIISCAN_DATA_DIR", c.DataDir)
	c.CertDir = getEnvString("FIISCAN_CERT_DIR", c.CertDir)
	c.DBPath = getEnvString("FIISCAN_DB_PATH", c.DBPath)
	c.LogLevel = getEnvString("FIISCAN_LOG_LEVEL", c.LogLevel)
	c.APIAddr = getEnvString("FIISCAN_API_ADDR", c.APIAddr)
	c.MaxRetries = getEnvInt("FIISCAN_MAX_RETRIES", c.MaxRetries)
	c.DBTimeout = getEnvInt("FIISCAN_DB_TIMEOUT", c.DBTimeout)
	c.CacheDefaultTTL = getEnvInt("FIISCAN_CACHE_DEFAULT_TTL", c.CacheDefaultTTL)
	c.CacheMaxSize = getEnvInt("FIISCAN_CACHE_MAX_SIZE", c.CacheMaxSize)
	c.APIRateRPS = getEnvFloat("FIISCAN_API_RATE_RPS", c.APIRateRPS)
	c.APIRateBurst = getEnvInt("FIISCAN_API_RATE_BURST", c.APIRateBurst)
	c.APIRateTTLMin = getEnvInt("FIISCAN_API_RATE_TTL_MIN", c.APIRateTTLMin)
	if v := os.Getenv("FIISCAN_PIN_STRICT"); v != "" {
		c.PinStrict = v == "1" || strings.EqualFold(v, "true")
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be https, got %q", c.BaseURL)
	}
	if len(c.WaitBetweenDownloads) != 2 || c.WaitBetweenDownloads[0] < 0 ||
		c.WaitBetweenDownloads[1] < c.WaitBetweenDownloads[0] {
		return fmt.Errorf("wait_between_downloads must be [min, max] with 0 <= min <= max")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.BackoffFactor <= 0 {
		return fmt.Errorf("backoff_factor must be > 0")
	}
	if c.DBLoteSizeSmall <= 0 || c.DBLoteSizeMedium < c.DBLoteSizeSmall || c.DBLoteSizeLarge < c.DBLoteSizeMedium {
		return fmt.Errorf("db_lote_size thresholds must be increasing and positive")
	}
	if c.DBTimeout <= 0 {
		return fmt.Errorf("db_timeout must be > 0")
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("cache_max_size must be > 0")
	}
	if c.APIRateRPS > 0 && c.APIRateBurst <= 0 {
		return fmt.Errorf("api_rate_burst must be > 0 when api_rate_rps is set")
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
