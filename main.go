package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-coordinator/config"
	"trade-coordinator/internal/admission"
	"trade-coordinator/internal/api"
	"trade-coordinator/internal/capacity"
	"trade-coordinator/internal/coordinator"
	"trade-coordinator/internal/credentials"
	"trade-coordinator/internal/database"
	"trade-coordinator/internal/events"
	"trade-coordinator/internal/governor"
	"trade-coordinator/internal/logging"
	"trade-coordinator/internal/trade"
)

func main() {
	genConfig := flag.Bool("generate-config", false, "write a sample config.json and exit")
	flag.Parse()

	if *genConfig {
		if err := config.GenerateSampleConfig("config.json"); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Wrote config.json")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LoggingConfig.Level, cfg.LoggingConfig.Pretty)
	logger.Info().Msg("Starting trade coordinator")

	bus := events.NewBus()

	// Persistence: PostgreSQL when configured, in-memory otherwise.
	var (
		db        *database.DB
		store     trade.Store
		registry  api.BotRegistrar
		directory capacity.BotDirectory
		memDir    *capacity.MemDirectory
	)
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(migrateCtx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("Database migrations failed")
		}
		cancel()

		store = database.NewTradeStore(db)
		botRegistry := database.NewBotRegistry(db)
		registry = botRegistry
		directory = botRegistry
	} else {
		logger.Warn().Msg("Database disabled, state is in-memory only")
		store = trade.NewMemStore()
		memDir = capacity.NewMemDirectory()
		directory = memDir
		registry = &memRegistrar{dir: memDir}
	}

	// Performance cache: Redis with in-memory fallback.
	perfCache := database.NewRedisPerfCache(
		cfg.RedisConfig.Addr, cfg.RedisConfig.Password, cfg.RedisConfig.DB, logger)
	defer perfCache.Close()

	// Credential secrets.
	credStore, err := credentials.NewStore(credentials.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		TLSEnabled: cfg.VaultConfig.TLSEnabled,
		CACert:     cfg.VaultConfig.CACert,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Credential store init failed")
	}
	_ = credStore // handed to broker client construction when live trading is wired

	coord := coordinator.New(&coordinator.Config{
		EmergencyEnableBots:       cfg.CoordinatorConfig.EmergencyEnableBots,
		EmergencyDisableBots:      cfg.CoordinatorConfig.EmergencyDisableBots,
		RateLimitHitsForEmergency: cfg.CoordinatorConfig.RateLimitHitsForEmergency,
		PostRequestBase:           cfg.CoordinatorConfig.PostRequestBase,
		PostRequestPerBot:         cfg.CoordinatorConfig.PostRequestPerBot,
	}, logger, bus)

	gov := governor.New(&governor.Config{
		QueueCapacity:  cfg.GovernorConfig.QueueCapacity,
		MinSpacing:     cfg.GovernorConfig.MinSpacing,
		MaxPerMinute:   cfg.GovernorConfig.MaxPerMinute,
		MaxPerHour:     cfg.GovernorConfig.MaxPerHour,
		CooldownPeriod: cfg.GovernorConfig.CooldownPeriod,
	}, logger, bus)
	defer gov.Close()

	trades := trade.NewManager(store, perfCache, logger, bus)

	checker := admission.NewChecker(&admission.Config{
		MaxSimultaneousTrades: cfg.AdmissionConfig.MaxSimultaneousTrades,
		AllowHedging:          cfg.AdmissionConfig.AllowHedging,
		CooldownMultiplier:    cfg.AdmissionConfig.CooldownMultiplier,
		MaxTradesPerHour:      cfg.AdmissionConfig.MaxTradesPerHour,
		MaxTradesPerDay:       cfg.AdmissionConfig.MaxTradesPerDay,
		MaxExposurePercent:    cfg.AdmissionConfig.MaxExposurePercent,
	}, trades, nil, logger, bus)

	validator := capacity.NewValidator(&capacity.Config{
		MaxBotsPerCredential: cfg.CapacityConfig.MaxBotsPerCredential,
		WarningThreshold:     cfg.CapacityConfig.WarningThreshold,
	}, directory, logger)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		Production:     cfg.ServerConfig.Production,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
	}, coord, gov, trades, checker, validator, registry, bus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	logger.Info().Msg("Shutdown complete")
}

// memRegistrar adapts the in-memory directory to the API's registrar
// interface when no database is configured.
type memRegistrar struct {
	dir *capacity.MemDirectory
}

func (r *memRegistrar) RegisterBot(ctx context.Context, rec *database.BotRecord) error {
	r.dir.Add(rec.BotID, rec.UserID, rec.CredentialID)
	return nil
}

func (r *memRegistrar) UnregisterBot(ctx context.Context, botID string) error {
	r.dir.Remove(botID)
	return nil
}
