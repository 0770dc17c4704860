package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskflow/internal/config"
	"deskflow/internal/observability"
	"deskflow/internal/services"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var (
	runOnce     bool
	runInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run escalation scan passes",
	Long:  `Run escalation scan passes, once with --once or on a loop.`,
	Run:   run,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass and exit")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "scan interval (default from config)")
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		appLogger.Warnf("init tracing: %v", err)
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	// The CLI runs with full rights; rule edits still go through the API.
	slaService := services.NewSLAService(db, appLogger, services.AllowAll)
	ticketService := services.NewTicketService(db, appLogger, slaService)
	ruleService := services.NewEscalationRuleService(db, appLogger, services.AllowAll)
	history := services.NewEscalationHistory(db)

	notifyHub := services.NewNotifyHub()
	go notifyHub.Run()
	emailGateway := &services.LogEmailGateway{From: cfg.Email.From, Logger: appLogger}
	executor := services.NewActionExecutor(db, appLogger, notifyHub, emailGateway)
	runner := services.NewEscalationRunner(db, appLogger, ruleService, ticketService, history, executor, cfg.Escalation.Workers)

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			appLogger.Warnf("Redis unreachable, pass lock disabled: %v", err)
		} else {
			runner.SetPassLock(client, cfg.Escalation.LockKey, cfg.Escalation.LockTTL)
		}
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runOnce {
		summary, err := runner.RunPass(ctx)
		if err != nil {
			if errors.Is(err, services.ErrPassLocked) {
				appLogger.Warn("Pass skipped: another instance holds the lock")
				return
			}
			appLogger.Fatalf("Pass failed: %v", err)
		}
		appLogger.Infof("Pass %s done: %d executed, %d failed, %d deduped",
			summary.PassID, summary.Executed, summary.Failed, summary.Deduped)
		return
	}

	interval := runInterval
	if interval <= 0 {
		interval = cfg.Escalation.ScanInterval
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go runner.StartMonitor(ctx, interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Escalator shutting down")
	cancel()
}
