package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "github.com/magnus-im/CertificateManager/internal/adapters/web"
	"github.com/magnus-im/CertificateManager/internal/ai"
	"github.com/magnus-im/CertificateManager/internal/app"
	"github.com/magnus-im/CertificateManager/internal/config"
	"github.com/magnus-im/CertificateManager/internal/core"
	"github.com/magnus-im/CertificateManager/internal/db"
	"github.com/magnus-im/CertificateManager/internal/logging"
	"github.com/magnus-im/CertificateManager/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "json").Fatalf("configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Fatalf("configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	catalog := core.NewCatalogService(pool)
	issuance := core.NewIssuanceService(pool, core.NewMappingResolver(), core.NewPartyService(), catalog)

	var suggester ai.Suggester
	if agent := ai.NewAgent(cfg.OpenAIAPIKey, cfg.OpenAIModel); agent != nil {
		suggester = agent
	} else {
		logger.Warn("OPENAI_API_KEY is not set; mapping suggestions disabled")
	}

	m := metrics.New()
	svc := app.NewAppService(issuance, catalog, suggester, m, logger)

	scheduler := app.NewAutoAllocationScheduler(svc, cfg.AutoAllocationTenants, cfg.AutoAllocationInterval, logger)
	scheduler.Start(ctx)
	if cfg.AutoAllocationInterval > 0 {
		logger.WithField("interval", cfg.AutoAllocationInterval.String()).
			WithField("tenants", cfg.AutoAllocationTenants).
			Info("periodic automatic allocation enabled")
	}

	handler := webAdapter.NewHandler(svc, m, logger, webAdapter.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		UploadMaxBytes: cfg.UploadMaxBytes,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("server starting on :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	scheduler.Wait()
}
