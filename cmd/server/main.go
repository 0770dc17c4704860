package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"deskflow/internal/config"
	"deskflow/internal/handlers"
	"deskflow/internal/middleware"
	"deskflow/internal/models"
	"deskflow/internal/observability"
	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// config file (default ./config.yml) plus env overrides
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	var (
		flagDSN   string
		dbHost    string
		dbPortStr string
		dbUser    string
		dbPass    string
		dbName    string
		dbSSLMode string
		dbTZ      string
		srvHost   string
		srvPort   int
	)
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagSet.StringVar(&flagDSN, "dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides other DB flags")
	flagSet.StringVar(&dbHost, "db-host", getenvDefault("DB_HOST", cfg.Database.Host), "database host")
	flagSet.StringVar(&dbPortStr, "db-port", getenvDefault("DB_PORT", fmt.Sprintf("%d", cfg.Database.Port)), "database port")
	flagSet.StringVar(&dbUser, "db-user", getenvDefault("DB_USER", cfg.Database.User), "database user")
	flagSet.StringVar(&dbPass, "db-pass", getenvDefault("DB_PASSWORD", cfg.Database.Password), "database password")
	flagSet.StringVar(&dbName, "db-name", getenvDefault("DB_NAME", cfg.Database.Name), "database name")
	flagSet.StringVar(&dbSSLMode, "db-sslmode", getenvDefault("DB_SSLMODE", "disable"), "sslmode (disable, require, verify-ca, verify-full)")
	flagSet.StringVar(&dbTZ, "db-timezone", getenvDefault("DB_TIMEZONE", "UTC"), "database timezone")
	flagSet.StringVar(&srvHost, "host", getenvDefault("DESKFLOW_HOST", cfg.Server.Host), "server host (listen)")
	flagSet.IntVar(&srvPort, "port", func() int {
		if p := os.Getenv("DESKFLOW_PORT"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				return n
			}
		}
		return cfg.Server.Port
	}(), "server port (listen)")
	_ = flagSet.Parse(os.Args[1:])

	dsn := flagDSN
	if dsn == "" {
		host := firstNonEmpty(dbHost, cfg.Database.Host)
		user := firstNonEmpty(dbUser, cfg.Database.User)
		pass := firstNonEmpty(dbPass, cfg.Database.Password)
		name := firstNonEmpty(dbName, cfg.Database.Name)
		port := dbPortStr
		if port == "" && cfg.Database.Port != 0 {
			port = fmt.Sprintf("%d", cfg.Database.Port)
		}
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			host, user, pass, name, port, dbSSLMode, dbTZ)
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Team{},
		&models.Ticket{}, &models.TicketComment{}, &models.TicketFollower{},
		&models.TicketStatusChange{}, &models.TicketRating{},
		&models.SLAPolicy{}, &models.EscalationRule{}, &models.EscalationExecution{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			appLogger.Warnf("Redis unreachable, pass lock disabled: %v", err)
			redisClient = nil
		}
		cancel()
	}

	// business services
	perms := services.PermissionFunc(middleware.OraclePermission)
	slaService := services.NewSLAService(db, appLogger, perms)
	ticketService := services.NewTicketService(db, appLogger, slaService)
	ruleService := services.NewEscalationRuleService(db, appLogger, perms)
	history := services.NewEscalationHistory(db)

	notifyHub := services.NewNotifyHub()
	go notifyHub.Run()
	emailGateway := &services.LogEmailGateway{From: cfg.Email.From, Logger: appLogger}
	executor := services.NewActionExecutor(db, appLogger, notifyHub, emailGateway)
	runner := services.NewEscalationRunner(db, appLogger, ruleService, ticketService, history, executor, cfg.Escalation.Workers)
	if redisClient != nil {
		runner.SetPassLock(redisClient, cfg.Escalation.LockKey, cfg.Escalation.LockTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Escalation.Enabled {
		interval := cfg.Escalation.ScanInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go runner.StartMonitor(ctx, interval)
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddlewareWithConfig(cfg))
	if cfg.Security.RateLimiting.Enabled {
		r.Use(middleware.RateLimitMiddleware(cfg.Security.RateLimiting.RequestsPerMinute, cfg.Security.RateLimiting.Burst))
	}
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	r.GET("/health", handlers.HealthCheck(db))
	if cfg.Monitoring.Enabled {
		metricsPath := cfg.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, handlers.MetricsHandler())
	}

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))

	escalationHandler := handlers.NewEscalationHandler(ruleService, history, runner)
	slaHandler := handlers.NewSLAHandler(slaService)
	ticketHandler := handlers.NewTicketHandler(ticketService)

	handlers.RegisterTicketRoutes(api, ticketHandler, escalationHandler, middleware.RequireResourcePermission("tickets"))
	handlers.RegisterEscalationRoutes(api, escalationHandler, middleware.RequireResourcePermission("escalations"))
	handlers.RegisterSLARoutes(api, slaHandler, middleware.RequireResourcePermission("sla"))

	// realtime notification channel for agents
	ws := r.Group("/api/v1")
	ws.Use(middleware.AuthMiddleware(cfg))
	ws.GET("/ws", notifyHub.HandleWebSocket)

	host := firstNonEmpty(srvHost, cfg.Server.Host)
	port := srvPort
	if port == 0 {
		port = cfg.Server.Port
	}
	listenAddr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{Addr: listenAddr, Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func corsMiddlewareWithConfig(cfg *config.Config) gin.HandlerFunc {
	allowedOrigins := "*"
	allowedMethods := "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders := "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization"
	if cfg != nil && cfg.Security.CORS.Enabled {
		if len(cfg.Security.CORS.AllowedOrigins) > 0 {
			allowedOrigins = strings.Join(cfg.Security.CORS.AllowedOrigins, ", ")
		}
		if len(cfg.Security.CORS.AllowedMethods) > 0 {
			allowedMethods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
		}
		if len(cfg.Security.CORS.AllowedHeaders) > 0 {
			allowedHeaders = strings.Join(cfg.Security.CORS.AllowedHeaders, ", ")
		}
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
