package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/http/server"
	"svg2pdf/internal/infra/cache"
	"svg2pdf/internal/infra/chrome"
	"svg2pdf/internal/infra/logging"
	"svg2pdf/internal/infra/rodbrowser"
	"svg2pdf/internal/render"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath  string
	logLevel    string
	driver      string
	showVersion bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("svg2pdf", flag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config.yaml (default $CONFIG_PATH or "+config.DefaultPath+")")
	fs.StringVar(&f.logLevel, "log-level", "", "override logger.level")
	fs.StringVar(&f.driver, "driver", "", "override browser.driver (chromedp or rod)")
	fs.BoolVarP(&f.showVersion, "version", "v", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags.showVersion {
		fmt.Println("svg2pdf", Version)
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	// maxprocs.Set only fails on an invalid GOMAXPROCS env; runtime defaults apply then.
	_, _ = maxprocs.Set(maxprocs.Logger(logging.Printf))

	browser, err := launchBrowser(context.Background(), cfg.Browser)
	if err != nil {
		logging.Error("Browser startup failed", "driver", cfg.Browser.Driver, "error", err)
		return err
	}
	defer browser.Close()

	var pdfCache render.Cache
	if cfg.Cache.PDFCacheEnabled {
		c := cache.New(cache.NewClient(cfg.Cache.RedisHost, cfg.Cache.PDFCacheDB), cfg.Cache.PDFCacheTTL)
		if err := c.Ping(context.Background()); err != nil {
			logging.Warn("Redis unavailable, PDF cache disabled", "addr", cfg.Cache.RedisHost, "error", err)
			_ = c.Close()
		} else {
			defer c.Close()
			pdfCache = c
		}
	}

	svc := render.New(browser, render.OptionsFrom(cfg.Render), pdfCache)
	app := server.New(server.Deps{
		Config:   cfg,
		Renderer: svc,
		Browser:  browser,
		Stats:    svc,
	})

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, browser.Done(), idleConnsClosed)
	<-idleConnsClosed

	if err := browser.Err(); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		return fmt.Errorf("browser session ended: %w", err)
	}
	return nil
}

// loadConfig reads --config, or CONFIG_PATH/config.yaml when the flag is
// unset, and turns the loader's panic into an error.
func loadConfig(flags cliFlags) (cfg config.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if flags.configPath != "" {
		cfg = config.LoadFrom(flags.configPath)
	} else {
		cfg = config.Load()
	}

	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}
	if flags.driver != "" {
		cfg.Browser.Driver = flags.driver
		if err := config.Validate(cfg); err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

func launchBrowser(ctx context.Context, cfg config.BrowserConfig) (domain.Browser, error) {
	if cfg.Driver == rodbrowser.DriverName {
		return rodbrowser.Launch(ctx, cfg)
	}
	return chrome.Launch(ctx, cfg)
}

// startServer starts the Fiber app and blocks until a shutdown signal
// arrives or stop is closed, then shuts the app down gracefully.
func startServer(app *fiber.App, cfg config.Config, stop <-chan struct{}, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)

	select {
	case <-sigint:
		logging.Warn("Shutdown signal received, closing server...")
	case <-stop:
		logging.Error("Browser session ended, closing server...")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
