package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/config"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/database"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/server"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/votes"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bookshelf-api",
		Short: "Bookshelf catalog backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema and pending migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations()
		},
	}
	rootCmd.AddCommand(migrateCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS and websocket allowed origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("bookshelf")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func storageConfig(appConfig config.AppConfig) database.Config {
	return database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}
}

func runMigrations() error {
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(storageConfig(appConfig), logger)
	if err != nil {
		logger.Error("migration failed", zap.Error(err))
		return err
	}
	return database.Close(db)
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(storageConfig(appConfig), logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	handler, err := buildHandler(db, appConfig, logger)
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
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildHandler(db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger) (http.Handler, error) {
	userService, err := users.NewService(users.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		Logger:       logger,
		PasswordCost: appConfig.BcryptCost,
	})
	if err != nil {
		return nil, err
	}
	bookService, err := books.NewService(books.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return nil, err
	}
	voteService, err := votes.NewService(votes.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return nil, err
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database: db,
		Books:    bookService,
		Votes:    voteService,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return nil, err
	}
	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Credentials: userService,
		Tokens:      tokenIssuer,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		Authenticator: authenticator,
		Users:         userService,
		Books:         bookService,
		Votes:         voteService,
		Catalog:       catalogService,
		Health: func(ctx context.Context) error {
			return database.Ping(ctx, db)
		},
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
}
