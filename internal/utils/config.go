package utils

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Margins holds CSS-like length strings ("16mm", "0.5in") for each page edge.
type Margins struct {
	Top    string `yaml:"top"`
	Right  string `yaml:"right"`
	Bottom string `yaml:"bottom"`
	Left   string `yaml:"left"`
}

// Wait policies for loading HTML into the page.
const (
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	Server struct {
		Host          string `yaml:"host"`
		Port          string `yaml:"port"`
		Prefork       bool   `yaml:"prefork"`
		BodyLimitMB   int    `yaml:"body_limit_mb"`
		EnableMonitor bool   `yaml:"enable_monitor"`
	} `yaml:"server"`

	Auth struct {
		Secret string `yaml:"secret"`
	} `yaml:"auth"`

	PDF struct {
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
		SingleProcess   bool                 `yaml:"single_process"`
		DownloadBrowser bool                 `yaml:"download_browser"`
		UserDataDir     string               `yaml:"user_data_dir"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		WaitUntil       string               `yaml:"wait_until"`
		DisableScripts  bool                 `yaml:"disable_scripts"`
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		Margins         Margins              `yaml:"margins"`
		Filename        string               `yaml:"filename"`
		FailureHint     string               `yaml:"failure_hint"`
	} `yaml:"pdf"`

	Cache struct {
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		PDFCacheDB      int           `yaml:"redis_pdf_db"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		UserLimit int           `yaml:"user_limit"`
		Interval  time.Duration `yaml:"interval"`
	} `yaml:"rate_limiter"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = "3000"
	cfg.Server.BodyLimitMB = 15

	cfg.PDF.ChromeNoSandbox = true
	cfg.PDF.WaitUntil = WaitDOMContentLoaded
	cfg.PDF.DefaultPaper = "A4"
	cfg.PDF.PaperSizes = map[string]PaperSize{
		"A4":     {Width: 8.27, Height: 11.69},
		"LETTER": {Width: 8.5, Height: 11},
	}
	cfg.PDF.Margins = Margins{Top: "16mm", Right: "14mm", Bottom: "16mm", Left: "14mm"}
	cfg.PDF.Filename = "awmp-meal-plan.pdf"
	cfg.PDF.FailureHint = "Chromium could not produce the PDF; check the browser binary and available memory"

	cfg.Cache.PDFCacheTTL = 24 * time.Hour
	cfg.Cache.PDFCacheDB = 1

	cfg.RateLimiter.Interval = time.Minute

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	return cfg
}

// LoadConfig loads the config file named by CONFIG_PATH (default config.yaml)
// and applies environment overrides.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads the YAML file at path on top of DefaultConfig. A missing file
// is not an error. Invalid values panic: the process cannot serve without them.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("config: parse %s: %v", path, err))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("AWMP_PDF_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	// Common container env var for the browser binary.
	if v := os.Getenv("CHROME_BIN"); v != "" && cfg.PDF.ChromePath == "" {
		cfg.PDF.ChromePath = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// Validate reports the first invalid value in cfg.
func (c Config) Validate() error {
	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be positive, got %d", c.Server.BodyLimitMB)
	}
	if c.PDF.TimeoutSecs < 0 {
		return fmt.Errorf("pdf.timeout_secs must not be negative, got %d", c.PDF.TimeoutSecs)
	}
	switch c.PDF.WaitUntil {
	case WaitDOMContentLoaded, WaitNetworkIdle:
	default:
		return fmt.Errorf("pdf.wait_until must be %q or %q, got %q", WaitDOMContentLoaded, WaitNetworkIdle, c.PDF.WaitUntil)
	}
	if _, ok := c.Paper(); !ok {
		return fmt.Errorf("pdf.default_paper %q is not in pdf.paper_sizes", c.PDF.DefaultPaper)
	}
	for name, v := range map[string]string{
		"top":    c.PDF.Margins.Top,
		"right":  c.PDF.Margins.Right,
		"bottom": c.PDF.Margins.Bottom,
		"left":   c.PDF.Margins.Left,
	} {
		if _, err := ParseLengthInches(v); err != nil {
			return fmt.Errorf("pdf.margins.%s: %w", name, err)
		}
	}
	if c.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative, got %d", c.RateLimiter.UserLimit)
	}
	if c.RateLimiter.UserLimit > 0 && c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive when user_limit is set")
	}
	return nil
}

// Paper returns the configured default paper size.
func (c Config) Paper() (PaperSize, bool) {
	p, ok := c.PDF.PaperSizes[strings.ToUpper(c.PDF.DefaultPaper)]
	return p, ok
}

// ListenAddr returns the host:port address for the HTTP listener.
func (c Config) ListenAddr() string {
	port := c.Server.Port
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return c.Server.Host + port
}

// BodyLimit returns the maximum request body size in bytes.
func (c Config) BodyLimit() int {
	return c.Server.BodyLimitMB * 1024 * 1024
}

var lengthPattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)\s*$`)

// ParseLengthInches converts a length such as "16mm" or "0.5in" to inches.
// A bare number is taken as inches.
func ParseLengthInches(value string) (float64, error) {
	m := lengthPattern.FindStringSubmatch(value)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid length %q", value)
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q: %w", value, err)
	}
	switch strings.ToLower(m[2]) {
	case "", "in":
		return amount, nil
	case "cm":
		return amount / 2.54, nil
	case "mm":
		return amount / 25.4, nil
	case "pt":
		return amount / 72.0, nil
	case "px":
		return amount / 96.0, nil
	default:
		return 0, fmt.Errorf("invalid length unit in %q", value)
	}
}
