// Command controller runs the Controller: the coordination engine behind
// the Scanner, Admin, and Agent HTTP surfaces.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentryscan/controller/internal/auth"
	"github.com/sentryscan/controller/internal/cache"
	"github.com/sentryscan/controller/internal/configsvc"
	"github.com/sentryscan/controller/internal/coordinator"
	"github.com/sentryscan/controller/internal/db"
	"github.com/sentryscan/controller/internal/dispatcher"
	"github.com/sentryscan/controller/internal/events"
	"github.com/sentryscan/controller/internal/handlers"
	"github.com/sentryscan/controller/internal/ingestor"
	"github.com/sentryscan/controller/internal/liveness"
	"github.com/sentryscan/controller/internal/logger"
	"github.com/sentryscan/controller/internal/registry"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	port := getEnv("CONTROLLER_PORT", "8443")
	tlsCertFile := os.Getenv("TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("TLS_KEY_FILE")
	agentCACertFile := os.Getenv("AGENT_CA_CERT_FILE")
	requireClientCert := getEnv("REQUIRE_CLIENT_CERT", "false") == "true"

	log.Info().Msg("starting Controller")

	database, err := db.NewDatabase(db.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "sentryscan"),
		Password: getEnv("DB_PASSWORD", "sentryscan"),
		DBName:   getEnv("DB_NAME", "sentryscan"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	cacheEnabled := getEnv("CACHE_ENABLED", "false") == "true"
	redisCache, err := cache.NewCache(cache.Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
		Enabled:  cacheEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize Redis cache, continuing without it")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	eventPublisher, err := events.NewPublisher(events.Config{
		URL:      os.Getenv("NATS_URL"),
		User:     os.Getenv("NATS_USER"),
		Password: os.Getenv("NATS_PASSWORD"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event publisher")
	}
	defer eventPublisher.Close()

	reg := registry.New(database, redisCache)
	config := configsvc.New(database, redisCache)
	disp := dispatcher.New(database, config, eventPublisher)
	ing := ingestor.New(database, config, eventPublisher)
	coord := coordinator.New(database, reg, disp)
	monitor := liveness.NewMonitor(database, redisCache, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go disp.Start(ctx)
	defer disp.Stop()

	go monitor.Start(ctx)
	defer monitor.Stop()

	if err := disp.DispatchPendingRequeues(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to requeue expired jobs on startup")
	}
	if err := coord.Resync(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to resync in-flight scans on startup")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable must be set. Generate with: openssl rand -base64 32")
	}
	if len(jwtSecret) < 32 {
		log.Fatal().Msg("JWT_SECRET must be at least 32 characters long")
	}
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		SecretKey:     jwtSecret,
		Issuer:        "sentryscan-controller",
		TokenDuration: 24 * time.Hour,
	})

	adminKeys := &auth.AdminKeyStore{
		BcryptHash: os.Getenv("ADMIN_API_KEY_BCRYPT_HASH"),
		RawKeyHash: os.Getenv("ADMIN_API_KEY_SHA256"),
	}
	if adminKeys.BcryptHash == "" && adminKeys.RawKeyHash == "" {
		log.Fatal().Msg("ADMIN_API_KEY_BCRYPT_HASH or ADMIN_API_KEY_SHA256 must be set")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.Dependencies{
		DB:          database,
		Cache:       redisCache,
		Registry:    reg,
		Coordinator: coord,
		Dispatcher:  disp,
		Ingestor:    ing,
		Config:      config,
		JWTManager:  jwtManager,
		AdminKeys:   adminKeys,
	})

	var tlsConfig *tls.Config
	if agentCACertFile != "" {
		caCert, err := os.ReadFile(agentCACertFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read agent CA certificate")
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			log.Fatal().Msg("failed to parse agent CA certificate")
		}
		tlsConfig = &tls.Config{
			ClientCAs:  caCertPool,
			ClientAuth: tls.VerifyClientCertIfGiven,
			MinVersion: tls.VersionTLS12,
		}
		if requireClientCert {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
		log.Info().Str("ca_file", agentCACertFile).Bool("required", requireClientCert).Msg("mTLS configured for agent authentication")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		TLSConfig:         tlsConfig,
	}

	go func() {
		if tlsCertFile != "" && tlsKeyFile != "" {
			log.Info().Str("port", port).Bool("mtls", agentCACertFile != "").Msg("listening (HTTPS)")
			if err := srv.ListenAndServeTLS(tlsCertFile, tlsKeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("HTTPS server failed")
			}
		} else {
			log.Warn().Str("port", port).Msg("listening (HTTP, TLS not configured — insecure for production)")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("HTTP server failed")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownTimeout := 30 * time.Second
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			shutdownTimeout = d
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
