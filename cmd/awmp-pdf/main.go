package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"awmp-pdf/internal/app"
	"awmp-pdf/internal/cache"
	"awmp-pdf/internal/chrome"
	"awmp-pdf/internal/ratelimit"
	u "awmp-pdf/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	execPath, err := chrome.ResolveExecPath(cfg.PDF.ChromePath, cfg.PDF.DownloadBrowser)
	if err != nil {
		u.Error("Browser download failed, falling back to system Chromium", "error", err)
	} else {
		cfg.PDF.ChromePath = execPath
	}

	opts, err := chrome.OptionsFromConfig(cfg)
	if err != nil {
		u.Error("Invalid PDF configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.Secret == "" {
		u.Warn("AWMP_PDF_SECRET is not set; every render request will be rejected")
	}

	pdfCache := cache.NewFromConfig(cfg)
	defer pdfCache.Close()

	var limiterStore fiber.Storage
	if cfg.RateLimiter.UserLimit > 0 {
		limiterStore = ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		})
	}

	application := app.SetupApp(app.Deps{
		Config:       cfg,
		Launcher:     chrome.NewChromiumLauncher(opts),
		Cache:        pdfCache,
		LimiterStore: limiterStore,
	})

	idleConnsClosed := make(chan struct{})
	startServer(application, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		u.Info("AWMP PDF render service running", "addr", cfg.ListenAddr(), "chrome_path", cfg.PDF.ChromePath)
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	// In-flight renders get a bounded grace period.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
