package decks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingStore     = errors.New("membership store is required")
	errMissingValidator = errors.New("card validator is required")
	errMissingOwners    = errors.New("owner directory is required")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opReconcilerNew = "decks.reconciler.new"
	opServiceNew    = "decks.service.new"
	opAddCards      = "decks.add_cards"
	opUpdateCards   = "decks.update_cards"
	opRemoveCards   = "decks.remove_cards"
	opListCards     = "decks.list_cards"
	opCreateDeck    = "decks.create_deck"
	opGetDeck       = "decks.get_deck"
	opListDecks     = "decks.list_decks"
	opUpdateDeck    = "decks.update_deck"
	opDeleteDeck    = "decks.delete_deck"
	opListFormats   = "decks.list_formats"
	opCheckOwner    = "decks.check_owner"

	reasonMissingDatabase = "missing_database"
	reasonMissingOwners   = "missing_owners"
	reasonDeckNotFound    = "deck_not_found"
	reasonDeckLookup      = "deck_lookup_failed"
	reasonMembersQuery    = "members_query_failed"
	reasonOracleFailed    = "oracle_failed"
	reasonInsertFailed    = "insert_failed"
	reasonDuplicateCard   = "duplicate_card"
	reasonUpdateFailed    = "update_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonQueryFailed     = "query_failed"
	reasonOwnerNotFound   = "owner_not_found"
	reasonOwnerLookup     = "owner_lookup_failed"
	reasonInvalidInput    = "invalid_input"
	reasonInvalidFormat   = "invalid_format"
	reasonBuildFailed     = "build_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logServiceError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("decks service error", attrs...)
}

// isUniqueViolation recognizes a (deck_id, card_id) conflict from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") || strings.Contains(message, "PRIMARY KEY constraint failed")
}
