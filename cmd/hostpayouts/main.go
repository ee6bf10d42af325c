package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/HostPayouts/app/controllers"
	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/app/repository"
	"github.com/ManuelReschke/HostPayouts/docs"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/backfill"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/cache"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/env"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gatewayevents"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/jobqueue"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/metrics"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/refund"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/reportstore"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/router"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/scheduler"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, workers := NewApplication(ctx)
	workers.Start()

	go func() {
		<-ctx.Done()
		log.Info("[HostPayouts] Shutting down")
		workers.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[HostPayouts] Shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication(ctx context.Context) (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	metrics.InitMetrics()

	db := database.GetDB()
	redisClient := cache.GetClient()
	redisUp := redisClient.Ping(ctx).Err() == nil

	gw := gateway.NewStripeGateway(gateway.LoadStripeConfig())
	store := ledger.NewStore()

	cfg := settlement.LoadConfig()
	service := settlement.NewService(db, gw, store, cfg, newReporter(ctx, cfg))
	if overrides, err := models.LoadSettlementSettings(db); err != nil {
		log.Warnf("[HostPayouts] Settlement overrides not loaded: %v", err)
	} else if _, err := service.ApplySettings(overrides); err != nil {
		log.Warnf("[HostPayouts] Stored settlement overrides rejected, using env config: %v", err)
	}

	eventOpts := gatewayevents.DefaultOptions()
	eventOpts.DelayDaysFunc = func() int { return service.Config().DelayDays }
	eventOpts.MaxAttempts = env.GetEnvInt("GATEWAY_EVENT_MAX_ATTEMPTS", eventOpts.MaxAttempts)
	inbox := gatewayevents.NewInbox(db, gw, store, eventOpts)
	backfiller := backfill.NewBackfiller(db, gw, store)
	repos := repository.NewRepositories(db)

	var (
		queue *jobqueue.Queue
		jobs  controllers.JobQueue
	)
	if redisUp {
		queue = jobqueue.NewQueue(redisClient, env.GetEnvInt("JOB_WORKERS", 3))
		jobqueue.RegisterHandlers(queue, service, inbox, backfiller)
		jobs = queue
	} else {
		log.Warn("[HostPayouts] Redis unavailable, job queue disabled")
	}

	sched := scheduler.New(service, cache.NewLocker(redisClient), service.Config)
	manager := jobqueue.NewManager(queue,
		jobqueue.PeriodicTask{
			Name:     "event_retry_sweep",
			Interval: env.GetEnvDuration("EVENT_SWEEP_INTERVAL", time.Minute),
			Run: func(ctx context.Context) error {
				_, err := inbox.RetryOverdueEvents(ctx, 100)
				return err
			},
		},
		jobqueue.PeriodicTask{
			Name:     "settlement_item_retry",
			Interval: env.GetEnvDuration("ITEM_RETRY_INTERVAL", time.Minute),
			Run: func(ctx context.Context) error {
				_, err := service.RetryDueItems(ctx, 100)
				return err
			},
		},
		jobqueue.PeriodicTask{
			Name:     "settlement_scheduler",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				_, err := sched.Tick(ctx)
				return err
			},
		},
	)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	if basePath := findBasePath(); basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "docs/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[HostPayouts] docs/openapi.yml not found, swagger UI disabled")
	}

	doc, err := docs.Load(ctx)
	if err != nil {
		panic(fmt.Errorf("load openapi document: %w", err))
	}

	deps := router.Dependencies{
		Webhook:         controllers.NewWebhookController(inbox),
		Settlements:     controllers.NewAdminSettlementController(service, repos.Settlement, jobs),
		Events:          controllers.NewAdminEventController(inbox),
		Payments:        controllers.NewAdminPaymentController(repos.Payment, refund.NewService(db, gw)),
		Settings:        controllers.NewAdminSettingsController(repos.Setting, service),
		Jobs:            controllers.NewAdminJobController(jobs),
		AdminAPIKeyHash: env.GetEnv("ADMIN_API_KEY_HASH", ""),
		OpenAPI:         doc,
		LimiterMax:      env.GetEnvInt("ADMIN_RATE_LIMIT", 60),
		MetricsUsers:    metricsUsers(),
	}
	if redisUp {
		deps.LimiterStorage = router.NewLimiterStorage(redisClient)
	}
	if err := router.InstallRouter(app, deps); err != nil {
		panic(err)
	}

	return app, manager
}

// newReporter writes batch reports locally and uploads them when S3 is enabled.
func newReporter(ctx context.Context, cfg settlement.Config) settlement.Reporter {
	storeCfg, err := reportstore.LoadConfig()
	if err != nil {
		log.Warnf("[HostPayouts] Report upload misconfigured, keeping reports local: %v", err)
		return settlement.NewFileReporter(cfg.ReportDir, nil)
	}
	if !storeCfg.Enabled {
		return settlement.NewFileReporter(cfg.ReportDir, nil)
	}
	client, err := reportstore.NewClient(ctx, storeCfg)
	if err != nil {
		log.Warnf("[HostPayouts] Report upload unavailable, keeping reports local: %v", err)
		return settlement.NewFileReporter(cfg.ReportDir, nil)
	}
	return settlement.NewFileReporter(cfg.ReportDir, client)
}

// metricsUsers parses METRICS_BASIC_AUTH as "user:password".
func metricsUsers() map[string]string {
	raw := env.GetEnv("METRICS_BASIC_AUTH", "")
	user, pass, ok := strings.Cut(raw, ":")
	if !ok || user == "" {
		return nil
	}
	return map[string]string{user: pass}
}

func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/hostpayouts to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "docs/openapi.yml"); err == nil {
			return path
		}
	}
	return ""
}
