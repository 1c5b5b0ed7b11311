package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/auth"
	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"github.com/MarcoPoloResearchLab/canvas/internal/config"
	"github.com/MarcoPoloResearchLab/canvas/internal/database"
	"github.com/MarcoPoloResearchLab/canvas/internal/logging"
	"github.com/MarcoPoloResearchLab/canvas/internal/queue"
	"github.com/MarcoPoloResearchLab/canvas/internal/server"
	"github.com/MarcoPoloResearchLab/canvas/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canvas-collab",
		Short: "Real-time collaborative canvas service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a signed client credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueCredential(cmd.Context(), userID, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User identifier placed in the credential")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name placed in the credential")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Credential lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Credential signing secret (overrides env)")
	cmd.PersistentFlags().String("queue-backend", defaults.GetString("queue.backend"), "Offline queue backend (memory, bolt, redis)")
	cmd.PersistentFlags().String("queue-path", defaults.GetString("queue.path"), "Offline queue file for the bolt backend")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("queue.redis_address"), "Redis address for the redis backend")
	cmd.PersistentFlags().Duration("heartbeat-interval", defaults.GetDuration("session.heartbeat_interval"), "Interval between heartbeat probes")
	cmd.PersistentFlags().Duration("auth-timeout", defaults.GetDuration("session.auth_timeout"), "Grace period for the auth frame")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "queue.backend", "queue-backend")
	bindFlag(cmd, "queue.path", "queue-path")
	bindFlag(cmd, "queue.redis_address", "redis-address")
	bindFlag(cmd, "session.heartbeat_interval", "heartbeat-interval")
	bindFlag(cmd, "session.auth_timeout", "auth-timeout")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	offline, err := queue.Open(ctx, queue.Config{
		Backend:      appConfig.QueueBackend,
		Path:         appConfig.QueuePath,
		RedisAddress: appConfig.RedisAddress,
		RedisDB:      appConfig.RedisDB,
	})
	if err != nil {
		return err
	}
	defer offline.Close()

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.AuthIssuer,
	})
	if err != nil {
		return err
	}
	directory, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	verifier, err := users.NewCredentialVerifier(validator, directory)
	if err != nil {
		return err
	}

	documents, err := canvas.NewGormRepository(db)
	if err != nil {
		return err
	}
	store, err := canvas.NewStore(canvas.StoreConfig{
		Repository:        documents,
		IDProvider:        canvas.NewUUIDProvider(),
		Clock:             time.Now,
		Logger:            logger,
		HistoryLimit:      appConfig.HistoryLimit,
		PersistRetries:    appConfig.PersistRetries,
		PersistRetryDelay: appConfig.PersistRetryDelay,
	})
	if err != nil {
		return err
	}
	collaborations, err := collab.NewGormRepository(db)
	if err != nil {
		return err
	}

	metrics := &server.Metrics{}
	router, err := server.NewRouter(server.RouterConfig{
		Queue:   offline,
		Clock:   time.Now,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defaultRole, err := collab.ParseRole(appConfig.DefaultRole)
	if err != nil {
		return err
	}
	registry, err := collab.NewRegistry(collab.RegistryConfig{
		Store:             store,
		Repository:        collaborations,
		Broadcaster:       router,
		Clock:             time.Now,
		Logger:            logger,
		DefaultRole:       defaultRole,
		ChatLimit:         appConfig.ChatLimit,
		PersistRetries:    appConfig.PersistRetries,
		PersistRetryDelay: appConfig.PersistRetryDelay,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	supervisor, err := server.NewSupervisor(server.SupervisorConfig{
		Verifier:          verifier,
		Registry:          registry,
		Router:            router,
		Metrics:           metrics,
		Logger:            logger,
		AllowedOrigins:    appConfig.AllowedOrigins,
		AuthTimeout:       appConfig.AuthTimeout,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		WriteTimeout:      appConfig.WriteTimeout,
		SendBuffer:        appConfig.SendBuffer,
		ReadLimitBytes:    appConfig.ReadLimitBytes,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:       verifier,
		Documents:      registry,
		Supervisor:     supervisor,
		Metrics:        metrics,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
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

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("queue_backend", appConfig.QueueBackend),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return supervisor.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		supervisor.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
