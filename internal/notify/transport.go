// Package notify delivers booking notifications by email, directly or through
// a message queue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRecipientUnknown = errors.New("recipient email unknown")
	ErrInvalidTransport = errors.New("invalid transport config")
	ErrDeliveryFailed   = errors.New("email delivery failed")
)

// Message is a rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport hands rendered messages to a delivery channel.
type Transport interface {
	Deliver(ctx context.Context, message Message) error
}

// LogTransport writes messages to the log instead of sending them.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport builds a LogTransport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

// Deliver logs the message.
func (transport *LogTransport) Deliver(_ context.Context, message Message) error {
	transport.logger.Info("email notification",
		zap.String("to", message.To),
		zap.String("subject", message.Subject),
		zap.String("body", message.Body),
	)
	return nil
}

// SMTPConfig configures an SMTPTransport.
type SMTPConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	From             string
	AllowedRecipient string
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends mail through an SMTP relay. When AllowedRecipient is set
// every other recipient is skipped.
type SMTPTransport struct {
	config   SMTPConfig
	logger   *zap.Logger
	sendMail sendMailFunc
	nowFn    func() time.Time
}

// NewSMTPTransport validates the config and builds an SMTPTransport.
func NewSMTPTransport(config SMTPConfig, logger *zap.Logger) (*SMTPTransport, error) {
	config.Host = strings.TrimSpace(config.Host)
	config.From = strings.TrimSpace(config.From)
	if config.Host == "" {
		return nil, fmt.Errorf("%w: smtp host is required", ErrInvalidTransport)
	}
	if config.Port <= 0 {
		return nil, fmt.Errorf("%w: smtp port must be positive", ErrInvalidTransport)
	}
	if config.From == "" {
		config.From = strings.TrimSpace(config.Username)
	}
	if config.From == "" {
		return nil, fmt.Errorf("%w: smtp sender address is required", ErrInvalidTransport)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPTransport{config: config, logger: logger, sendMail: smtp.SendMail, nowFn: time.Now}, nil
}

// Deliver sends the message unless the allow-list withholds it.
func (transport *SMTPTransport) Deliver(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	allowed := strings.TrimSpace(transport.config.AllowedRecipient)
	if allowed != "" && !strings.EqualFold(allowed, message.To) {
		transport.logger.Warn("email withheld by recipient allow-list", zap.String("to", message.To), zap.String("allowed", allowed))
		return nil
	}
	var auth smtp.Auth
	if transport.config.Username != "" {
		auth = smtp.PlainAuth("", transport.config.Username, transport.config.Password, transport.config.Host)
	}
	address := transport.config.Host + ":" + strconv.Itoa(transport.config.Port)
	if err := transport.sendMail(address, auth, transport.config.From, []string{message.To}, transport.compose(message)); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	transport.logger.Info("email sent", zap.String("to", message.To), zap.String("subject", message.Subject))
	return nil
}

func (transport *SMTPTransport) compose(message Message) []byte {
	var builder strings.Builder
	builder.WriteString("From: " + transport.config.From + "\r\n")
	builder.WriteString("To: " + message.To + "\r\n")
	builder.WriteString("Subject: " + message.Subject + "\r\n")
	builder.WriteString("Date: " + transport.nowFn().UTC().Format(time.RFC1123Z) + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	builder.WriteString(strings.ReplaceAll(message.Body, "\n", "\r\n"))
	return []byte(builder.String())
}
