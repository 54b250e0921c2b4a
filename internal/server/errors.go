package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/decks"
	"github.com/magidekt/backend/internal/sqlbuild"
	"go.uber.org/zap"
)

// statusForError maps domain failures onto an HTTP status and a stable error token.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, decks.ErrDeckNotFound), errors.Is(err, decks.ErrOwnerNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, decks.ErrDuplicateMembership):
		return http.StatusConflict, "duplicate_card"
	case errors.Is(err, cards.ErrOracleUnavailable):
		return http.StatusBadGateway, "card_oracle_unavailable"
	case errors.Is(err, decks.ErrInvalidDeckID),
		errors.Is(err, decks.ErrInvalidDeckName),
		errors.Is(err, decks.ErrInvalidFormat),
		errors.Is(err, cards.ErrInvalidCardID),
		errors.Is(err, cards.ErrInvalidQuantity),
		errors.Is(err, sqlbuild.ErrEmptyBatch),
		errors.Is(err, sqlbuild.ErrEmptyFieldSet):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	status, token := statusForError(err)
	body := gin.H{"error": token}
	var serviceErr *decks.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}
