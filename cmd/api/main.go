package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/heartclinic/clinic-assistant/cmd/mainconfig"
	"github.com/heartclinic/clinic-assistant/internal/api/router"
	"github.com/heartclinic/clinic-assistant/internal/appointments"
	"github.com/heartclinic/clinic-assistant/internal/assistant"
	"github.com/heartclinic/clinic-assistant/internal/audit"
	"github.com/heartclinic/clinic-assistant/internal/chat"
	"github.com/heartclinic/clinic-assistant/internal/closures"
	appconfig "github.com/heartclinic/clinic-assistant/internal/config"
	"github.com/heartclinic/clinic-assistant/internal/http/handlers"
	"github.com/heartclinic/clinic-assistant/internal/medications"
	"github.com/heartclinic/clinic-assistant/internal/observability/metrics"
	"github.com/heartclinic/clinic-assistant/internal/patients"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	// Optional Postgres audit trail.
	var auditor audit.Recorder
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open audit database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		auditor = audit.NewService(db)
		logger.Info("audit trail enabled")
	} else {
		logger.Warn("DATABASE_URL not set, audit trail disabled")
	}

	// Redis for durable chat transcripts.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	registry := prometheus.DefaultRegisterer
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Stores and services.
	apptStore := appointments.NewStore(dynamoClient, cfg.AppointmentsTable, logger)
	closureStore := closures.NewStore(dynamoClient, cfg.ClosuresTable, logger)
	patientStore := patients.NewStore(dynamoClient, cfg.PatientsTable, logger)
	medicationStore := medications.NewStore(dynamoClient, cfg.MedicationsTable, logger)

	bookingService := appointments.NewService(apptStore, closureStore, auditor, bookingMetrics, logger)
	clinicAssistant := assistant.New(bookingService, bookingMetrics, logger.Component("assistant"))

	transcriptStore := chat.NewTranscriptStore(redisClient, cfg.TranscriptTTL, int64(cfg.TranscriptKeep))
	chatHandler := chat.NewHandler(clinicAssistant, transcriptStore, logger.Component("chat"))

	routerCfg := &router.Config{
		Logger:             logger,
		ChatHandler:        chatHandler,
		AdminAppointments:  handlers.NewAdminAppointmentsHandler(apptStore, bookingService, logger),
		AdminClosures:      handlers.NewAdminClosuresHandler(closureStore, auditor, logger),
		AdminMedications:   handlers.NewAdminMedicationsHandler(medicationStore, patientStore, auditor, logger),
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		CognitoRegion:      cfg.CognitoRegion,
		CognitoUserPoolID:  cfg.CognitoUserPoolID,
		CognitoClientID:    cfg.CognitoClientID,
		ProfileDirectory:   patientStore,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
