package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/api"
	"github.com/edgxcloud/chargegate/internal/bridge"
	"github.com/edgxcloud/chargegate/internal/config"
	"github.com/edgxcloud/chargegate/internal/engine"
	"github.com/edgxcloud/chargegate/internal/health"
	"github.com/edgxcloud/chargegate/internal/logger"
	"github.com/edgxcloud/chargegate/internal/metrics"
	"github.com/edgxcloud/chargegate/internal/modbus"
	"github.com/edgxcloud/chargegate/internal/persist"
	"github.com/edgxcloud/chargegate/internal/price"
	"github.com/edgxcloud/chargegate/internal/publisher"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	// Bootstrap logger for config loading; reinitialized below with
	// the configured settings.
	bootLog, _ := zap.NewProduction()
	cfg, err := config.Load(*configPath, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		LogDir:     cfg.Logging.Dir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("chargegate starting",
		zap.String("version", engine.Version),
		zap.String("charger", cfg.Modbus.Addr()),
		zap.Int("device_instance", cfg.DeviceInstance))

	// Components
	pub := publisher.New()
	store := persist.NewStore(cfg.Persistence.Path, logger.WithComponent("persist"))
	transport := modbus.NewClient(cfg.Modbus.Addr(), cfg.Modbus.Timeout(), logger.WithComponent("modbus"))
	m := metrics.NewMetrics()

	siteBridge := bridge.New(cfg.MQTT, logger.WithComponent("bridge"))
	if err := siteBridge.Connect(); err != nil {
		log.Warn("mqtt bridge unavailable, continuing without it", zap.Error(err))
	}
	siteBridge.MirrorPublisher(pub)
	defer siteBridge.Close()

	var priceSource engine.PriceSource
	tibber := price.NewTibber(cfg.Tibber, logger.WithComponent("price"))
	if tibber.Enabled() {
		priceSource = tibber
	}

	eng := engine.New(cfg, transport, pub, store, siteBridge, priceSource, m, logger.WithComponent("engine"))
	if err := eng.RegisterPaths(); err != nil {
		log.Fatal("failed to register object paths", zap.Error(err))
	}
	eng.RestoreState()

	// Health checks
	checker := health.NewChecker()
	checker.RegisterCheck("modbus", func(context.Context) (health.Status, string) {
		if transport.Connected() {
			return health.StatusHealthy, "connected"
		}
		return health.StatusUnhealthy, "disconnected"
	})
	checker.RegisterCheck("poll", func(context.Context) (health.Status, string) {
		age := m.LastPollAge()
		switch {
		case age < 0:
			return health.StatusDegraded, "no poll completed yet"
		case age > 3*cfg.PollInterval():
			return health.StatusDegraded, fmt.Sprintf("last poll %s ago", age.Round(cfg.PollInterval()))
		default:
			return health.StatusHealthy, "polling"
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background jobs
	jobs := cron.New()
	if tibber.Enabled() {
		if _, err := jobs.AddFunc("@every 5m", func() {
			if err := tibber.Refresh(ctx); err != nil {
				log.Warn("price refresh failed", zap.Error(err))
			}
		}); err != nil {
			log.Warn("failed to schedule price refresh", zap.Error(err))
		}
		go func() {
			if err := tibber.Refresh(ctx); err != nil {
				log.Warn("initial price fetch failed", zap.Error(err))
			}
		}()
	}
	jobs.Start()
	defer jobs.Stop()

	// HTTP control surface
	app := fiber.New(fiber.Config{
		AppName:               "chargegate v" + engine.Version,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	service := api.NewService(cfg, *configPath, pub, m, checker, logger.WithComponent("api"))
	api.NewHandler(service).SetupRoutes(app)

	host := getEnv("HOST", cfg.Web.Host)
	port := getEnv("PORT", fmt.Sprintf("%d", cfg.Web.Port))
	addr := fmt.Sprintf("%s:%s", host, port)
	go func() {
		log.Info("http surface listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Error("http surface stopped", zap.Error(err))
		}
	}()

	// The control loop owns the process lifetime.
	if err := eng.Run(ctx); err != nil {
		log.Error("control loop exited with error", zap.Error(err))
		_ = app.Shutdown()
		os.Exit(1)
	}

	_ = app.Shutdown()
	log.Info("chargegate stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
