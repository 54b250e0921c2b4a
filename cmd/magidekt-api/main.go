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

	"github.com/magidekt/backend/internal/auth"
	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/config"
	"github.com/magidekt/backend/internal/database"
	"github.com/magidekt/backend/internal/decks"
	"github.com/magidekt/backend/internal/logging"
	"github.com/magidekt/backend/internal/scryfall"
	"github.com/magidekt/backend/internal/server"
	"github.com/magidekt/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "magidekt-api",
		Short: "Magidekt deck building backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

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
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or PostgreSQL connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("scryfall-base-url", defaults.GetString("scryfall.base_url"), "Scryfall API base URL")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "scryfall.base_url", "scryfall-base-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		viper.SetConfigName("magidekt")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(cfgFile)
	}

	err := viper.ReadInConfig()
	var configNotFound viper.ConfigFileNotFoundError
	if err != nil && (cfgFile != "" || !errors.As(err, &configNotFound)) {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func newIssueTokenCommand() *cobra.Command {
	var (
		displayName string
		email       string
		admin       bool
	)
	cmd := &cobra.Command{
		Use:   "issue-token <username>",
		Short: "Print a session token for local use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.AuthTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(cmd.Context(), auth.Identity{
				Username:    args[0],
				DisplayName: displayName,
				Email:       email,
				IsAdmin:     admin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name claim")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin claim")
	return cmd
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

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	scryfallClient, err := scryfall.NewClient(scryfall.ClientConfig{
		BaseURL:           appConfig.ScryfallBaseURL,
		UserAgent:         appConfig.ScryfallUserAgent,
		RequestsPerSecond: appConfig.ScryfallRatePerSec,
		HTTPClient:        &http.Client{Timeout: appConfig.ScryfallTimeout},
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	validator, err := cards.NewBatchValidator(cards.BatchValidatorConfig{
		Lookup: scryfallClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	store, err := decks.NewGormStore(db)
	if err != nil {
		return err
	}
	reconciler, err := decks.NewReconciler(decks.ReconcilerConfig{
		Store:     store,
		Validator: validator,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	deckService, err := decks.NewService(decks.ServiceConfig{
		Database: db,
		Owners:   userService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessions,
		Users:    userService,
		Decks:    deckService,
		Cards:    reconciler,
		Events:   server.NewDeckEventDispatcher(),
		Logger:   logger,
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
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("database_driver", appConfig.DatabaseDriver))
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
