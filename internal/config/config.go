package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set.
const DefaultPath = "config.yaml"

// Config holds all runtime settings for the svg2pdf service.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxUploadBytes int `yaml:"max_upload_bytes"`
		MaxJSONBytes   int `yaml:"max_json_bytes"`
		MaxPDFBytes    int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		PDFCacheDB      int           `yaml:"redis_pdf_db"`
	} `yaml:"cache"`

	Browser BrowserConfig `yaml:"browser"`

	Render RenderConfig `yaml:"render"`
}

// BrowserConfig controls how the single shared browser process is launched.
type BrowserConfig struct {
	Driver         string        `yaml:"driver"`
	ChromePath     string        `yaml:"chrome_path"`
	NoSandbox      bool          `yaml:"no_sandbox"`
	DisableGPU     bool          `yaml:"disable_gpu"`
	ExtraFlags     []string      `yaml:"extra_flags"`
	UserDataDir    string        `yaml:"user_data_dir"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// RenderConfig tunes the per-request pipeline.
type RenderConfig struct {
	OutputMode      string        `yaml:"output_mode"`
	TimeoutSecs     int           `yaml:"timeout_secs"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MinGraphicPx    float64       `yaml:"min_graphic_px"`
	VerifyOutput    bool          `yaml:"verify_output"`
	PrintBackground bool          `yaml:"print_background"`
}

// Timeout returns the pipeline deadline as a duration.
func (r RenderConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// Addr joins host and port the way fiber's Listen expects it.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strings.TrimPrefix(c.Server.Port, ":"))
}

// Default returns a configuration usable without any file on disk.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8080"

	cfg.Limits.MaxUploadBytes = 2 * 1024 * 1024
	cfg.Limits.MaxJSONBytes = 1 * 1024 * 1024
	cfg.Limits.MaxPDFBytes = 20 * 1024 * 1024

	cfg.Logger.File = "logs/svg2pdf.log"
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.Cache.PDFCacheTTL = time.Minute
	cfg.Cache.RedisHost = "127.0.0.1:6379"

	cfg.Browser.Driver = "chromedp"
	cfg.Browser.NoSandbox = true
	cfg.Browser.DisableGPU = true
	cfg.Browser.StartupTimeout = 30 * time.Second

	cfg.Render.OutputMode = "pdf"
	cfg.Render.TimeoutSecs = 30
	cfg.Render.AcquireTimeout = 5 * time.Second
	cfg.Render.MinGraphicPx = 1
	cfg.Render.VerifyOutput = true
	cfg.Render.PrintBackground = true
	return cfg
}

// Load reads the file named by CONFIG_PATH (or DefaultPath).
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads the YAML file at path on top of Default, applies env
// overrides and validates the result. A missing file yields the defaults.
// It panics on unreadable or invalid configuration; the service cannot start
// without a usable config.
func LoadFrom(path string) Config {
	cfg := Default()

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

	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	// Common container variable for the browser binary.
	if cfg.Browser.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Browser.ChromePath = v
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Host = host
			cfg.Server.Port = ":" + port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// Validate reports the first invalid setting.
func Validate(cfg Config) error {
	switch cfg.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver must be chromedp or rod, got %q", cfg.Browser.Driver)
	}
	switch cfg.Render.OutputMode {
	case "pdf", "html", "both":
	default:
		return fmt.Errorf("render.output_mode must be pdf, html or both, got %q", cfg.Render.OutputMode)
	}
	if cfg.Render.TimeoutSecs <= 0 {
		return errors.New("render.timeout_secs must be positive")
	}
	if cfg.Render.AcquireTimeout <= 0 {
		return errors.New("render.acquire_timeout must be positive")
	}
	if cfg.Render.MaxConcurrent < 0 {
		return errors.New("render.max_concurrent must not be negative")
	}
	if cfg.Render.MinGraphicPx < 0 {
		return errors.New("render.min_graphic_px must not be negative")
	}
	if cfg.Limits.MaxUploadBytes <= 0 || cfg.Limits.MaxJSONBytes <= 0 || cfg.Limits.MaxPDFBytes <= 0 {
		return errors.New("limits must be positive")
	}
	if cfg.Browser.StartupTimeout <= 0 {
		return errors.New("browser.startup_timeout must be positive")
	}
	return nil
}
