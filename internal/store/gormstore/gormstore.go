// Package gormstore persists the booking core on GORM, with SQLite or Postgres.
package gormstore

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintTransactionIdempotency = "uniq_bonus_tx_idempotency"
	constraintPendingReplacement     = "uniq_replacements_pending_tour"
	defaultMetadataJSON              = "{}"
	pgUniqueViolationCode            = "23505"
	sqliteConstraintUniqueCode       = 2067
	errorOperationStore              = "store"
	errorSubjectAccount              = "account"
	errorSubjectBalance              = "balance"
	errorSubjectTransaction          = "transaction"
	errorSubjectPurchase             = "purchase"
	errorSubjectReminder             = "reminder"
	errorSubjectTour                 = "tour"
	errorSubjectCart                 = "cart"
	errorSubjectProblem              = "problem"
	errorSubjectReplacement          = "replacement"
	errorCodeCount                   = "count"
	errorCodeCreate                  = "create"
	errorCodeDuplicate               = "duplicate"
	errorCodeGet                     = "get"
	errorCodeInsert                  = "insert"
	errorCodeInvalid                 = "invalid"
	errorCodeList                    = "list"
	errorCodeLock                    = "lock"
	errorCodeLookup                  = "lookup"
	errorCodeSum                     = "sum"
	errorCodeUpdate                  = "update"
	errorCodeUpdateStatus            = "update_status"
)

// AutoMigrate creates or updates every table the stores use.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return fault.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// isUniqueViolation reports whether err is a unique-constraint failure. On
// Postgres the violated constraint must match constraint. On SQLite only the
// extended SQLITE_CONSTRAINT_UNIQUE code counts; NOT NULL, CHECK and primary
// key failures do not.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintUniqueCode
	}
	return false
}
