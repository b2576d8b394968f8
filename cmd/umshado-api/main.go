package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/umshado/umshado-api/internal/auth"
	"github.com/umshado/umshado-api/internal/config"
	"github.com/umshado/umshado-api/internal/database"
	"github.com/umshado/umshado-api/internal/ids"
	"github.com/umshado/umshado-api/internal/logging"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/profiles"
	"github.com/umshado/umshado-api/internal/quotes"
	"github.com/umshado/umshado-api/internal/server"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "umshado-api",
		Short: "uMshado marketplace quotes, messaging and notifications service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or Postgres connection string")
	cmd.PersistentFlags().String("jwt-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().String("auth-audience", defaults.GetString("auth.audience"), "Expected access token audience")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().Int("message-cooldown-seconds", defaults.GetInt("notifications.message_cooldown_seconds"), "Per-thread message notification cooldown")
	cmd.PersistentFlags().String("redis-url", "", "Optional Redis URL for throttle markers")
	cmd.PersistentFlags().Float64("rate-limit-rps", defaults.GetFloat64("ratelimit.requests_per_second"), "Requests per second allowed per user")
	cmd.PersistentFlags().Int("rate-limit-burst", defaults.GetInt("ratelimit.burst"), "Request burst allowed per user")
	cmd.PersistentFlags().String("cors-allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated list of allowed origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.jwt_secret", "jwt-secret")
	bindFlag(cmd, "auth.audience", "auth-audience")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "notifications.message_cooldown_seconds", "message-cooldown-seconds")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "ratelimit.requests_per_second", "rate-limit-rps")
	bindFlag(cmd, "ratelimit.burst", "rate-limit-burst")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := notifications.NewGormStore(db)
	if err != nil {
		return err
	}

	var marker notifications.CooldownMarker
	if appConfig.RedisURL != "" {
		redisMarker, err := notifications.NewRedisCooldownMarker(ctx, appConfig.RedisURL)
		if err != nil {
			logger.Warn("redis cooldown marker unavailable, using table lookups only", zap.Error(err))
		} else {
			defer redisMarker.Close() //nolint:errcheck
			marker = redisMarker
		}
	}

	realtime := server.NewRealtimeDispatcher()
	idProvider := ids.NewUUIDProvider()

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Store:      store,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		Publisher:  realtime,
	})
	if err != nil {
		return err
	}
	throttle, err := notifications.NewThrottle(notifications.ThrottleConfig{
		Store:  store,
		Clock:  time.Now,
		Logger: logger,
		Marker: marker,
	})
	if err != nil {
		return err
	}
	inbox, err := notifications.NewInbox(store, logger)
	if err != nil {
		return err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Notifier: dispatcher,
	})
	if err != nil {
		return err
	}
	messageService, err := messaging.NewService(messaging.ServiceConfig{
		Database:        db,
		Clock:           time.Now,
		IDProvider:      idProvider,
		Logger:          logger,
		Notifier:        dispatcher,
		Throttle:        throttle,
		Names:           profileService,
		MessageCooldown: appConfig.MessageCooldown,
	})
	if err != nil {
		return err
	}
	quoteService, err := quotes.NewService(quotes.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		Logger:        logger,
		Conversations: messageService,
		Directory:     profileService,
		Notifier:      dispatcher,
	})
	if err != nil {
		return err
	}

	tokenValidator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(appConfig.JWTSecret),
		Audience:      appConfig.AuthAudience,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenValidator,
		Profiles:       profileService,
		Quotes:         quoteService,
		Messages:       messageService,
		Inbox:          inbox,
		Realtime:       realtime,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: appConfig.RequestsPerSecond,
			Burst:             appConfig.RequestBurst,
		},
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
