// Package config holds the runtime settings of the tourledger daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultDatabaseURL      = "sqlite://tourledger.db"
	defaultHTTPListenAddr   = ":8080"
	defaultGRPCListenAddr   = ":50051"
	defaultAllowedOrigin    = "http://localhost:8000"
	defaultSessionIssuer    = "tauth"
	defaultSessionCookie    = "app_session"
	defaultReminderInterval = time.Minute
	defaultExpiryInterval   = 2 * time.Minute
	defaultSMTPPort         = 587
	defaultAMQPQueue        = "tourledger.notifications"
)

// Notification transports.
const (
	TransportLog  = "log"
	TransportSMTP = "smtp"
	TransportAMQP = "amqp"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for the daemon.
type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	GRPCListenAddr    string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string

	ReminderInterval time.Duration
	ExpiryInterval   time.Duration
	RedisAddr        string

	NotificationTransport string
	RecipientDomain       string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	SMTPFrom              string
	AllowedRecipient      string
	AMQPURL               string
	AMQPQueue             string
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = defaultReminderInterval
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = defaultExpiryInterval
	}
	cfg.NotificationTransport = strings.ToLower(defaultIfEmpty(cfg.NotificationTransport, TransportLog))
	cfg.AMQPQueue = defaultIfEmpty(cfg.AMQPQueue, defaultAMQPQueue)
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = defaultSMTPPort
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)

	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", ErrInvalidConfig)
	}
	switch cfg.NotificationTransport {
	case TransportLog:
	case TransportSMTP:
		if strings.TrimSpace(cfg.SMTPHost) == "" {
			return fmt.Errorf("%w: smtp host is required for the smtp transport", ErrInvalidConfig)
		}
		if strings.TrimSpace(cfg.RecipientDomain) == "" {
			return fmt.Errorf("%w: recipient domain is required for the smtp transport", ErrInvalidConfig)
		}
	case TransportAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return fmt.Errorf("%w: amqp url is required for the amqp transport", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown notification transport %q", ErrInvalidConfig, cfg.NotificationTransport)
	}
	return nil
}

// ValidateRelay checks the settings the mail relay needs: a broker to consume
// from and an SMTP relay to deliver to.
func (cfg *Config) ValidateRelay() error {
	cfg.AMQPQueue = defaultIfEmpty(cfg.AMQPQueue, defaultAMQPQueue)
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = defaultSMTPPort
	}
	if strings.TrimSpace(cfg.AMQPURL) == "" {
		return fmt.Errorf("%w: amqp url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.RecipientDomain) == "" {
		return fmt.Errorf("%w: recipient domain is required", ErrInvalidConfig)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
