// Package logging adapts ledger operation callbacks to zap.
package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"go.uber.org/zap"
)

// ZapOperationLogger writes ledger operations to a zap logger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger builds a ZapOperationLogger. A nil logger discards output.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation logs successful operations at info level and failures at warn.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("tourist_id", entry.TouristID.String()),
		zap.String("kind", entry.Kind.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("reason", entry.Reason),
		zap.String("status", entry.Status),
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
