// Package main initializes and starts the CareKeeper server, setting up
// configuration, logging, the records database, services, the retention
// sweep and the HTTP API.
package main

import (
	"cmp"
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/CareKeeper/internal/audit"
	"github.com/atinyakov/CareKeeper/internal/auth"
	"github.com/atinyakov/CareKeeper/internal/config"
	"github.com/atinyakov/CareKeeper/internal/db"
	"github.com/atinyakov/CareKeeper/internal/logger"
	"github.com/atinyakov/CareKeeper/internal/metrics"
	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
	"github.com/atinyakov/CareKeeper/internal/server/handler/http"
	"github.com/atinyakov/CareKeeper/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse .env, config file, flags and environment.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, zapLogger); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, options *config.Options, zapLogger *zap.Logger) error {
	// Open the records database and apply migrations.
	conn, err := db.Open(ctx, options.DatabaseDriver, options.DatabaseDSN, zapLogger)
	if err != nil {
		return fmt.Errorf("cannot init database: %w", err)
	}
	defer conn.Close()
	dialect := repository.DialectFor(options.DatabaseDriver)

	// Metrics registry with the runtime collectors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Repositories.
	accounts := repository.NewAccountRepository(conn, dialect)
	statusLog := repository.NewStatusLog(conn, dialect)
	loginLog := audit.New(options.AuditLogPath)

	// Authentication guard.
	hasher, err := auth.NewHasher(options.PasswordHasher)
	if err != nil {
		return err
	}
	authService := service.NewAuthService(accounts, loginLog, hasher,
		service.WithPolicy(service.AuthPolicy{
			MaxFailedAttempts: options.MaxFailedAttempts,
			LockoutDuration:   options.LockoutDuration.Duration,
		}),
		service.WithLogger(zapLogger.Named("auth")),
		service.WithMetrics(m),
		service.WithAdmin(options.AdminUsername),
	)

	if options.AdminPassword != "" {
		if err := authService.EnsureAdmin(ctx, options.AdminUsername, options.AdminPassword); err != nil {
			return err
		}
	} else {
		zapLogger.Warn("no admin password configured; built-in administrator is not seeded",
			zap.String("username", options.AdminUsername))
	}
	if options.EmergencyUnlock != "" {
		if err := authService.EmergencyUnlock(ctx, options.EmergencyUnlock); err != nil {
			return fmt.Errorf("emergency unlock: %w", err)
		}
	}

	// Lifecycle managers, one per record type.
	lifecycleOpts := []service.LifecycleOption{
		service.WithLifecycleLogger(zapLogger.Named("lifecycle")),
		service.WithLifecycleMetrics(m),
		service.WithRetentionYears(options.RetentionYears),
	}
	patients := service.NewLifecycle[*models.Patient](models.KindPatient,
		repository.NewPatientRepository(conn, dialect), statusLog, lifecycleOpts...)
	caregivers := service.NewLifecycle[*models.Caregiver](models.KindCaregiver,
		repository.NewCaregiverRepository(conn, dialect), statusLog, lifecycleOpts...)
	treatments := service.NewLifecycle[*models.Treatment](models.KindTreatment,
		repository.NewTreatmentRepository(conn, dialect), statusLog, lifecycleOpts...)

	// Daily retention sweep.
	service.StartLifecycleSweep(ctx, options.SweepInterval.Duration, zapLogger.Named("sweep"),
		patients, caregivers, treatments)

	// Session tokens.
	secret := options.SessionSecret
	if secret == "" {
		secret = rand.Text()
		zapLogger.Warn("no session secret configured; sessions end on restart")
	}
	issuer := auth.NewIssuer(secret, options.SessionTTL.Duration, nil)

	// HTTP handlers and router.
	router := http.NewRouter(
		&http.AuthHandler{AuthService: authService, Issuer: issuer, Logger: zapLogger},
		&http.AuditHandler{Trail: service.NewAuditTrail(loginLog, statusLog), Logger: zapLogger},
		issuer,
		accounts,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		zapLogger,
		&http.RecordHandler[*models.Patient]{
			Path: "/patients", Service: patients, Logger: zapLogger,
			New:      func() *models.Patient { return &models.Patient{} },
			CanWrite: models.Session.CanManagePatients,
		},
		&http.RecordHandler[*models.Caregiver]{
			Path: "/caregivers", Service: caregivers, Logger: zapLogger,
			New:      func() *models.Caregiver { return &models.Caregiver{} },
			CanWrite: models.Session.CanManageCaregivers,
		},
		&http.RecordHandler[*models.Treatment]{
			Path: "/treatments", Service: treatments, Logger: zapLogger,
			New:      func() *models.Treatment { return &models.Treatment{} },
			CanWrite: models.Session.CanManageTreatments,
		},
	)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	errCh := make(chan error, 1)
	go func() {
		if options.TLSCertFile != "" {
			zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr))
			errCh <- server.ListenAndServeTLS(options.TLSCertFile, options.TLSKeyFile)
			return
		}
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
