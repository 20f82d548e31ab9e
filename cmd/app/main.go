package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/magnus-im/CertificateManager/internal/adapters/cli"
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
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	// Command output owns stdout.
	logger := logging.New(cfg.LogLevel, "text")
	logger.SetOutput(os.Stderr)

	tenantID, err := strconv.Atoi(os.Getenv("TENANT_ID"))
	if err != nil || tenantID <= 0 {
		logger.Fatal("TENANT_ID must be set to a positive tenant id")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	catalog := core.NewCatalogService(pool)
	issuance := core.NewIssuanceService(pool, core.NewMappingResolver(), core.NewPartyService(), catalog)

	var suggester ai.Suggester
	if agent := ai.NewAgent(cfg.OpenAIAPIKey, cfg.OpenAIModel); agent != nil {
		suggester = agent
	}
	svc := app.NewAppService(issuance, catalog, suggester, metrics.New(), logger)

	if err := cli.Run(ctx, svc, tenantID, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			pool.Close()
			os.Exit(2)
		}
		pool.Close()
		logger.Fatalf("%s failed: %v", os.Args[1], err)
	}
}
