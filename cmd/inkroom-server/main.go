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

	"github.com/MarcoPoloResearchLab/inkroom/internal/auth"
	"github.com/MarcoPoloResearchLab/inkroom/internal/config"
	"github.com/MarcoPoloResearchLab/inkroom/internal/logging"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"github.com/MarcoPoloResearchLab/inkroom/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkroom-server",
		Short: "Collaborative drawing room server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	flags.String("persistence-driver", defaults.GetString("persistence.driver"), "Snapshot storage (sqlite, redis, file, memory)")
	flags.String("sqlite-path", defaults.GetString("persistence.sqlite_path"), "SQLite database path")
	flags.String("file-dir", defaults.GetString("persistence.file_dir"), "Directory for file snapshots")
	flags.String("redis-address", defaults.GetString("persistence.redis_address"), "Redis address")
	flags.Int("redis-db", defaults.GetInt("persistence.redis_db"), "Redis database number")
	flags.String("redis-key-prefix", defaults.GetString("persistence.redis_key_prefix"), "Redis key prefix")
	flags.Duration("save-debounce", defaults.GetDuration("persistence.save_debounce"), "Delay coalescing room saves")
	flags.Duration("room-idle-ttl", defaults.GetDuration("rooms.idle_ttl"), "Evict rooms empty for this long (0 keeps rooms)")
	flags.Duration("room-sweep-interval", defaults.GetDuration("rooms.sweep_interval"), "Idle room sweep interval")
	flags.Int64("max-message-bytes", defaults.GetInt64("websocket.max_message_bytes"), "Largest accepted websocket frame")
	flags.Int("send-buffer", defaults.GetInt("websocket.send_buffer"), "Queued frames per connection before disconnecting")
	flags.StringSlice("allowed-origins", defaults.GetStringSlice("websocket.allowed_origins"), "Allowed browser origins")
	flags.String("signing-secret", "", "Session signing secret (enables authentication)")
	flags.String("auth-issuer", defaults.GetString("auth.issuer"), "Session token issuer")
	flags.String("auth-cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "persistence.driver", "persistence-driver")
	bindFlag(cmd, "persistence.sqlite_path", "sqlite-path")
	bindFlag(cmd, "persistence.file_dir", "file-dir")
	bindFlag(cmd, "persistence.redis_address", "redis-address")
	bindFlag(cmd, "persistence.redis_db", "redis-db")
	bindFlag(cmd, "persistence.redis_key_prefix", "redis-key-prefix")
	bindFlag(cmd, "persistence.save_debounce", "save-debounce")
	bindFlag(cmd, "rooms.idle_ttl", "room-idle-ttl")
	bindFlag(cmd, "rooms.sweep_interval", "room-sweep-interval")
	bindFlag(cmd, "websocket.max_message_bytes", "max-message-bytes")
	bindFlag(cmd, "websocket.send_buffer", "send-buffer")
	bindFlag(cmd, "websocket.allowed_origins", "allowed-origins")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.cookie_name", "auth-cookie-name")
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

	// Without --config a missing file is fine; defaults, flags and env apply.
	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		return err
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

	adapter, closeAdapter, err := openPersistence(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeAdapter()

	registry, err := rooms.NewRegistry(rooms.RegistryConfig{
		Persistence:  adapter,
		Logger:       logger,
		IdleTTL:      appConfig.RoomIdleTTL,
		SaveDebounce: appConfig.SaveDebounce,
	})
	if err != nil {
		return err
	}

	var validator server.SessionValidator
	if appConfig.AuthEnabled() {
		sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.AuthSigningSecret),
			Issuer:        appConfig.AuthIssuer,
			CookieName:    appConfig.AuthCookieName,
		})
		if err != nil {
			return err
		}
		validator = sessionValidator
	} else {
		logger.Warn("authentication disabled; all clients join anonymously")
	}

	connections := server.NewConnectionHub()
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Registry:        registry,
		Validator:       validator,
		Connections:     connections,
		Logger:          logger,
		AllowedOrigins:  appConfig.AllowedOrigins,
		MaxMessageBytes: appConfig.MaxMessageBytes,
		SendBuffer:      appConfig.SendBuffer,
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

	sweepCtx, stopSweep := context.WithCancel(signalCtx)
	defer stopSweep()
	go registry.Run(sweepCtx, appConfig.RoomSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("persistence", appConfig.PersistenceDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-signalCtx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopSweep()
	connections.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error("room flush incomplete", zap.Error(err))
		return errors.Join(serveErr, err)
	}
	logger.Info("server stopped")
	return serveErr
}

func newTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		color       string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.AuthEnabled() {
				return fmt.Errorf("auth.signing_secret is required to mint tokens")
			}
			if ttl <= 0 {
				ttl = appConfig.AuthTokenTTL
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.Identity{UserID: userID, DisplayName: displayName, Color: color})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id carried by the token")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name shown to other members")
	cmd.Flags().StringVar(&color, "color", "", "Cursor color shown to other members")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
