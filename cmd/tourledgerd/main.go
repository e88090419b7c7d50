package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/tourledger/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL           = "database-url"
	flagHTTPListenAddr        = "http-listen-addr"
	flagGRPCListenAddr        = "grpc-listen-addr"
	flagAllowedOrigins        = "allowed-origins"
	flagJWTSigningKey         = "jwt-signing-key"
	flagJWTIssuer             = "jwt-issuer"
	flagJWTCookieName         = "jwt-cookie-name"
	flagReminderInterval      = "reminder-interval"
	flagExpiryInterval        = "expiry-interval"
	flagRedisAddr             = "redis-addr"
	flagNotificationTransport = "notification-transport"
	flagRecipientDomain       = "recipient-domain"
	flagSMTPHost              = "smtp-host"
	flagSMTPPort              = "smtp-port"
	flagSMTPUsername          = "smtp-username"
	flagSMTPPassword          = "smtp-password"
	flagSMTPFrom              = "smtp-from"
	flagAllowedRecipient      = "allowed-recipient"
	flagAMQPURL               = "amqp-url"
	flagAMQPQueue             = "amqp-queue"
	envPrefix                 = "TOURLEDGER"
	envFile                   = ".env"
)

var allFlags = []string{
	flagDatabaseURL, flagHTTPListenAddr, flagGRPCListenAddr, flagAllowedOrigins,
	flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
	flagReminderInterval, flagExpiryInterval, flagRedisAddr,
	flagNotificationTransport, flagRecipientDomain,
	flagSMTPHost, flagSMTPPort, flagSMTPUsername, flagSMTPPassword, flagSMTPFrom, flagAllowedRecipient,
	flagAMQPURL, flagAMQPQueue,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tourledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	serve := func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
	loadServe := func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd, cfg); err != nil {
			return err
		}
		return cfg.Validate()
	}

	cmd := &cobra.Command{
		Use:           "tourledgerd",
		Short:         "Tour booking consistency core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE:       loadServe,
		RunE:          serve,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, "", "database URL: sqlite://path, a sqlite file path, or postgres://...")
	flags.String(flagHTTPListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "", "gRPC health listen address")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagJWTCookieName, "", "JWT cookie name")
	flags.Duration(flagReminderInterval, 0, "tour reminder reconciliation interval")
	flags.Duration(flagExpiryInterval, 0, "replacement expiry reconciliation interval")
	flags.String(flagRedisAddr, "", "Redis address for the shared job lease; empty keeps the lease in process")
	flags.String(flagNotificationTransport, "", "notification transport: log, smtp or amqp")
	flags.String(flagRecipientDomain, "", "email domain appended to tourist ids")
	flags.String(flagSMTPHost, "", "SMTP relay host")
	flags.Int(flagSMTPPort, 0, "SMTP relay port")
	flags.String(flagSMTPUsername, "", "SMTP username")
	flags.String(flagSMTPPassword, "", "SMTP password")
	flags.String(flagSMTPFrom, "", "sender address; defaults to the SMTP username")
	flags.String(flagAllowedRecipient, "", "when set, only this address receives email")
	flags.String(flagAMQPURL, "", "AMQP broker URL")
	flags.String(flagAMQPQueue, "", "AMQP queue for notification events")

	cmd.AddCommand(&cobra.Command{
		Use:           "serve",
		Short:         "Run the HTTP API, gRPC health service and reconciliation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE:       loadServe,
		RunE:          serve,
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "mail-relay",
		Short:         "Deliver queued notification events by email",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.ValidateRelay()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, cfg)
		},
	})

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range allFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.ReminderInterval = v.GetDuration(flagReminderInterval)
	cfg.ExpiryInterval = v.GetDuration(flagExpiryInterval)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.NotificationTransport = strings.TrimSpace(v.GetString(flagNotificationTransport))
	cfg.RecipientDomain = strings.TrimSpace(v.GetString(flagRecipientDomain))
	cfg.SMTPHost = strings.TrimSpace(v.GetString(flagSMTPHost))
	cfg.SMTPPort = v.GetInt(flagSMTPPort)
	cfg.SMTPUsername = strings.TrimSpace(v.GetString(flagSMTPUsername))
	cfg.SMTPPassword = v.GetString(flagSMTPPassword)
	cfg.SMTPFrom = strings.TrimSpace(v.GetString(flagSMTPFrom))
	cfg.AllowedRecipient = strings.TrimSpace(v.GetString(flagAllowedRecipient))
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPQueue = strings.TrimSpace(v.GetString(flagAMQPQueue))
	return nil
}
