package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/auth"
	"github.com/MarcoPoloResearchLab/pollster/internal/cache"
	"github.com/MarcoPoloResearchLab/pollster/internal/config"
	"github.com/MarcoPoloResearchLab/pollster/internal/database"
	"github.com/MarcoPoloResearchLab/pollster/internal/logging"
	"github.com/MarcoPoloResearchLab/pollster/internal/metrics"
	"github.com/MarcoPoloResearchLab/pollster/internal/polls"
	"github.com/MarcoPoloResearchLab/pollster/internal/server"
	"github.com/MarcoPoloResearchLab/pollster/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const cacheProbeTimeout = 3 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pollster-api",
		Short: "Pollster polling and voting service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newReconcileCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "MySQL DSN")
	cmd.PersistentFlags().String("cache-driver", defaults.GetString("cache.driver"), "Cache driver (redis, memory, none)")
	cmd.PersistentFlags().String("cache-address", defaults.GetString("cache.address"), "Redis address")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "cache.driver", "cache-driver")
	bindFlag(cmd, "cache.address", "cache-address")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	recorder := metrics.NewRecorder()

	voteCache, err := openCache(ctx, appConfig, logger, recorder)
	if err != nil {
		return err
	}
	defer voteCache.Close() //nolint:errcheck

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: users.NewUUIDProvider(),
		Logger:     logger.Named("users"),
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	pollsService, err := polls.NewService(polls.ServiceConfig{
		Database:           db,
		Cache:              voteCache,
		Clock:              time.Now,
		IDProvider:         polls.NewUUIDProvider(),
		Logger:             logger.Named("polls"),
		Metrics:            recorder,
		Notifier:           dispatcher,
		MarkerTTL:          appConfig.MarkerTTL,
		ResultsTTL:         appConfig.ResultsTTL,
		TransactionTimeout: appConfig.TransactionTimeout,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		UsersService: usersService,
		PollsService: pollsService,
		Realtime:     dispatcher,
		Metrics:      recorder,
		Logger:       logger,
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

// openCache builds the configured cache. An unreachable Redis is logged and kept: every
// operation then fails open until the server comes back.
func openCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, recorder *metrics.Recorder) (cache.Cache, error) {
	switch appConfig.CacheDriver {
	case config.CacheDriverRedis:
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Address:   appConfig.CacheAddress,
			Password:  appConfig.CachePassword,
			DB:        appConfig.CacheDB,
			Logger:    logger,
			OnFailure: recorder.ObserveCacheFailure,
		})
		if err != nil {
			return nil, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, cacheProbeTimeout)
		defer cancel()
		if err := redisCache.Probe(probeCtx); err != nil {
			logger.Warn("redis cache unreachable; continuing without fast path", zap.String("address", appConfig.CacheAddress), zap.Error(err))
		}
		return redisCache, nil
	case config.CacheDriverMemory:
		return cache.NewMemory(), nil
	default:
		return cache.NewNop(), nil
	}
}
