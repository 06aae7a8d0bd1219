package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickfeed/src/config"
	"tickfeed/src/ingest"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/queue"
	"tickfeed/src/server"
	"tickfeed/src/utils"
)

// -----------------------------------------------------------------------------

func main() {
	os.Exit(run())
}

// -----------------------------------------------------------------------------

func run() int {

	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single update cycle and exit")
	only := flag.String("dataset", "", "restrict -once to one dataset")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return 1
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.MConfig, cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	gw, err := setupStorage(cfg.MConfig, appLogger)
	if err != nil {
		return 1
	}
	defer gw.Close()

	// 2. Sources behind the optional page cache
	pageCache, err := setupCache(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Critical("Failed to open page cache: %v", err)
		return 1
	}
	if pageCache != nil {
		defer pageCache.Close()
	}

	networkManager := setupNetwork(cfg.MConfig)
	registry, err := setupSources(cfg, networkManager, pageCache, appLogger)
	if err != nil {
		appLogger.Critical("Failed to build sources: %v", err)
		return 1
	}

	// 3. Downstream publisher
	publisher := queue.NewPublisher(cfg.Queue, logger.NewLogger(cfg.MConfig, "Publisher"))
	defer publisher.Close()

	// 4. Orchestrator
	orch, err := ingest.NewOrchestrator(ctx, cfg, registry, gw, publisher, logger.NewLogger(cfg.MConfig, "Orchestrator"))
	if err != nil {
		appLogger.Critical("Failed to build orchestrator: %v", err)
		return 1
	}

	if *once {
		return runOnce(ctx, orch, *only, appLogger)
	}

	// 5. Servers
	reports := utils.NewReportBook(orch.Ingest.ReportsKept)
	api := server.NewAPIServer(cfg.MConfig, orch, reports, logger.NewLogger(cfg.MConfig, "APIServer"))
	orch.Exchanger = api

	grpcServer, err := startServers(cfg, api, orch, reports, appLogger)
	if err != nil {
		appLogger.Critical("Failed to start servers: %v", err)
		return 1
	}

	// 6. Scheduler
	scheduler := utils.NewUpdateScheduler(ctx, logger.NewLogger(cfg.MConfig, "Scheduler"))
	cycle := func(ctx context.Context) {
		if _, err := orch.RunAll(ctx); err != nil {
			appLogger.Error("Update cycle failed: %v", err)
		}
	}
	if orch.Ingest.Schedule != "" {
		if err := scheduler.Register(orch.Ingest.Schedule, cycle); err != nil {
			appLogger.Critical("%v", err)
			return 1
		}
	}
	scheduler.Start()
	go scheduler.RunNow(cycle)

	appLogger.Info("tickfeed running with %d datasets", len(orch.Specs))
	<-ctx.Done()

	appLogger.Info("Shutting down...")
	scheduler.Stop()
	orch.Wait()
	grpcServer.GracefulStop()
	if err := api.Stop(); err != nil {
		appLogger.Warning("API server shutdown: %v", err)
	}
	return 0
}

// -----------------------------------------------------------------------------

// runOnce performs one cycle in the foreground and reports whether every
// pipeline finished cleanly.
func runOnce(ctx context.Context, orch *ingest.Orchestrator, only string, appLogger *logger.Logger) int {
	var reports []models.MCycleReport
	var err error
	if only != "" {
		reports, err = orch.RunDataset(ctx, only)
	} else {
		reports, err = orch.RunAll(ctx)
	}

	for _, r := range reports {
		appLogger.Info("%s/%s: %d new bars, %d total, cursor %s",
			r.Dataset, r.Asset, r.NewBars, r.TotalBars, r.Cursor.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if err != nil {
		appLogger.Error("Update cycle failed: %v", err)
		return 1
	}
	return 0
}
