package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/examtrust/proctor/internal/evidence"
	"github.com/examtrust/proctor/internal/handler"
	"github.com/examtrust/proctor/internal/monitor"
	"github.com/examtrust/proctor/internal/notify"
	"github.com/examtrust/proctor/internal/record"
	"github.com/examtrust/proctor/internal/settings"
	"github.com/examtrust/proctor/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("proctord exited with error", zap.Error(err))
	}
}

// examConfig is one exam definition from the config file. access_code_hash
// takes precedence; a plaintext access_code is bcrypt-hashed at startup for
// local development setups.
type examConfig struct {
	ID             string                  `mapstructure:"id"`
	AccessCode     string                  `mapstructure:"access_code"`
	AccessCodeHash string                  `mapstructure:"access_code_hash"`
	Settings       settings.Proctoring     `mapstructure:"settings"`
	Thresholds     settings.RiskThresholds `mapstructure:"thresholds"`
	Weights        settings.Weights        `mapstructure:"weights"`
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("proctord")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8085)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("database.url", "")
	viper.SetDefault("token.secret", "")
	viper.SetDefault("token.issuer_url", "")
	viper.SetDefault("token.ttl", "4h")
	viper.SetDefault("watchdog.interval", "15s")
	viper.SetDefault("watchdog.heartbeat_timeout", "60s")
	viper.SetDefault("webhook.url", "")
	viper.SetDefault("webhook.secret", "")
	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "proctor@localhost")
	viper.SetDefault("email.escalation_address", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		recordStore record.Store
		evidenceLog evidence.Log
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		recordStore = record.NewPostgresStore(db)
		evidenceLog = evidence.NewPostgresLog(db, logger)
	} else {
		logger.Warn("database.url not set — records and evidence are in-memory and lost on restart")
		recordStore = record.NewMemoryStore()
		evidenceLog = evidence.NewMemoryLog()
	}

	// ── Session tokens ───────────────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	issuerURL := viper.GetString("token.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	secret := viper.GetString("token.secret")
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate token secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("token.secret not set — generated an ephemeral secret; sessions will not survive a restart")
	}
	issuer := token.NewIssuer([]byte(secret), issuerURL, viper.GetDuration("token.ttl"))

	// ── Notifiers ────────────────────────────────────────────────────────────
	var notifiers notify.Multi
	if url := viper.GetString("webhook.url"); url != "" {
		wh := notify.NewWebhookNotifier(url, viper.GetString("webhook.secret"), logger)
		wh.SetMetricsRecorder(handler.RecordWebhookDelivery)
		notifiers = append(notifiers, wh)
		logger.Info("webhook notifier configured", zap.String("url", url))
	}
	if to := viper.GetString("email.escalation_address"); to != "" && viper.GetString("email.smtp_host") != "" {
		notifiers = append(notifiers, notify.NewEmailNotifier(
			viper.GetString("email.smtp_host"),
			viper.GetInt("email.smtp_port"),
			viper.GetString("email.smtp_username"),
			viper.GetString("email.smtp_password"),
			viper.GetString("email.from_address"),
			to,
			logger,
		))
		logger.Info("email escalation configured", zap.String("to", to))
	}
	var notifier notify.Notifier
	switch len(notifiers) {
	case 0:
		notifier = notify.NewNoopNotifier(logger)
		logger.Info("notifier: noop (set webhook.url or email.escalation_address to enable)")
	case 1:
		notifier = notifiers[0]
	default:
		notifier = notifiers
	}

	// ── Session manager ──────────────────────────────────────────────────────
	mgr := monitor.NewManager(issuer, evidenceLog, recordStore, notifier, monitor.Config{
		WatchdogInterval: viper.GetDuration("watchdog.interval"),
		HeartbeatTimeout: viper.GetDuration("watchdog.heartbeat_timeout"),
	}, logger)
	mgr.SetMetricsRecord(handler.SetActiveSessions)

	var exams []examConfig
	if err := viper.UnmarshalKey("exams", &exams); err != nil {
		return fmt.Errorf("parse exams config: %w", err)
	}
	for _, ec := range exams {
		if ec.Settings == (settings.Proctoring{}) {
			ec.Settings = settings.DefaultProctoring()
		}
		if ec.Thresholds == (settings.RiskThresholds{}) {
			ec.Thresholds = settings.DefaultRiskThresholds()
		}
		if ec.Weights == (settings.Weights{}) {
			ec.Weights = settings.DefaultWeights()
		}
		hash := ec.AccessCodeHash
		if hash == "" && ec.AccessCode != "" {
			var err error
			hash, err = monitor.HashAccessCode(ec.AccessCode)
			if err != nil {
				return fmt.Errorf("exam %s: %w", ec.ID, err)
			}
		}
		if err := mgr.RegisterExam(monitor.Exam{
			ID:             ec.ID,
			AccessCodeHash: hash,
			Settings:       ec.Settings,
			Thresholds:     ec.Thresholds,
			Weights:        ec.Weights,
		}); err != nil {
			return fmt.Errorf("register exam: %w", err)
		}
		logger.Info("exam registered", zap.String("exam_id", ec.ID))
	}
	if len(exams) == 0 {
		logger.Warn("no exams configured — every start-session request will 404")
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (256 KB — events are tiny)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 256<<10)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	sessionHandler := handler.NewSessionHandler(mgr, issuer, recordStore, evidenceLog, logger)
	sessionHandler.Register(router.Group("/api/v1"))

	// ── Serve ────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go mgr.Start(quit)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("proctord listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down proctord...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("proctord stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
