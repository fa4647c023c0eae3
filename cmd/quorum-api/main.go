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

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"github.com/MarcoPoloResearchLab/quorum/internal/config"
	"github.com/MarcoPoloResearchLab/quorum/internal/database"
	"github.com/MarcoPoloResearchLab/quorum/internal/logging"
	"github.com/MarcoPoloResearchLab/quorum/internal/questions"
	"github.com/MarcoPoloResearchLab/quorum/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/quorum/internal/server"
	"github.com/MarcoPoloResearchLab/quorum/internal/sessions"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile          string
	hostTokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quorum-api",
		Short: "Quorum audience engagement service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	hostTokenCmd := &cobra.Command{
		Use:   "host-token",
		Short: "Issue a signed host bearer token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHostToken(cmd)
		},
	}
	hostTokenCmd.Flags().StringVar(&hostTokenSubject, "subject", "", "Host subject to embed in the token")

	setupFlags(rootCmd)
	rootCmd.AddCommand(hostTokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Host token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Host token signing secret (overrides env)")
	cmd.PersistentFlags().Int("rate-window-seconds", defaults.GetInt("rate.window_seconds"), "Sliding rate window in seconds")
	cmd.PersistentFlags().Int("question-rate-limit", defaults.GetInt("rate.question_limit"), "Question submissions per caller per window")
	cmd.PersistentFlags().Int("vote-rate-limit", defaults.GetInt("rate.vote_limit"), "Vote mutations per caller per window")
	cmd.PersistentFlags().Int("feedback-rate-limit", defaults.GetInt("rate.feedback_limit"), "Feedback submissions per caller per window")
	cmd.PersistentFlags().Int("host-rate-limit", defaults.GetInt("rate.host_limit"), "Host mutations per caller per window")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "rate.window_seconds", "rate-window-seconds")
	bindFlag(cmd, "rate.question_limit", "question-rate-limit")
	bindFlag(cmd, "rate.vote_limit", "vote-rate-limit")
	bindFlag(cmd, "rate.feedback_limit", "feedback-rate-limit")
	bindFlag(cmd, "rate.host_limit", "host-rate-limit")
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

func newTokenManager(appConfig config.AppConfig) (*auth.HostTokenManager, error) {
	return auth.NewHostTokenManager(auth.HostTokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "quorum-api",
		Audience:      "quorum-hosts",
		TokenTTL:      appConfig.HostTokenTTL,
	})
}

func runHostToken(cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if hostTokenSubject == "" {
		return errors.New("--subject is required")
	}

	tokenManager, err := newTokenManager(appConfig)
	if err != nil {
		return err
	}

	token, expiresIn, err := tokenManager.IssueHostToken(hostTokenSubject)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
	return nil
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := newTokenManager(appConfig)
	if err != nil {
		return err
	}

	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: questions.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	questionService, err := questions.NewService(questions.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: questions.NewUUIDProvider(),
		Sessions:   sessionService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(ratelimit.LimiterConfig{})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Questions:    questionService,
		Sessions:     sessionService,
		Limiter:      limiter,
		QuestionRate: appConfig.QuestionRate,
		VoteRate:     appConfig.VoteRate,
		FeedbackRate: appConfig.FeedbackRate,
		HostRate:     appConfig.HostRate,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
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
