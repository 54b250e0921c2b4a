package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/magidekt/backend/internal/decks"
)

type deckPayload struct {
	ID            int64    `json:"id"`
	DeckOwner     string   `json:"deckOwner"`
	DeckName      string   `json:"deckName"`
	Description   string   `json:"description"`
	Format        string   `json:"format"`
	ColorIdentity string   `json:"colorIdentity"`
	Tags          []string `json:"tags"`
}

type deckSummaryPayload struct {
	deckPayload
	CardCount int64 `json:"cardCount"`
}

type deckDetailPayload struct {
	deckPayload
	Cards []cardPayload `json:"cards"`
}

type createDeckRequest struct {
	DeckName      string   `json:"deckName" binding:"required,max=190"`
	Description   string   `json:"description" binding:"max=4000"`
	Format        string   `json:"format" binding:"required"`
	ColorIdentity string   `json:"colorIdentity" binding:"max=5"`
	Tags          []string `json:"tags" binding:"omitempty,dive,max=64"`
}

type updateDeckRequest struct {
	DeckName      *string   `json:"deckName" binding:"omitempty,max=190"`
	Description   *string   `json:"description" binding:"omitempty,max=4000"`
	Format        *string   `json:"format"`
	ColorIdentity *string   `json:"colorIdentity" binding:"omitempty,max=5"`
	Tags          *[]string `json:"tags"`
}

type deckEventPayload struct {
	DeckID    int64    `json:"deckId"`
	CardIDs   []string `json:"cardIds,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Source    string   `json:"source"`
}

func toDeckPayload(deck decks.Deck) deckPayload {
	tags := deck.Tags
	if tags == nil {
		tags = []string{}
	}
	return deckPayload{
		ID:            deck.ID,
		DeckOwner:     deck.Owner,
		DeckName:      deck.Name,
		Description:   deck.Description,
		Format:        deck.Format,
		ColorIdentity: deck.ColorIdentity,
		Tags:          tags,
	}
}

func toDeckDetailPayload(detail decks.DeckDetail) deckDetailPayload {
	return deckDetailPayload{
		deckPayload: toDeckPayload(detail.Deck),
		Cards:       toCardPayloads(detail.Cards),
	}
}

func (h *httpHandler) handleListFormats(c *gin.Context) {
	formats, err := h.decks.Formats(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to list deck formats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"formats": formats})
}

func (h *httpHandler) handleListDecks(c *gin.Context) {
	summaries, err := h.decks.ListUserDecks(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondError(c, "failed to list decks", err)
		return
	}
	collection := make([]deckSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		collection = append(collection, deckSummaryPayload{
			deckPayload: toDeckPayload(summary.Deck),
			CardCount:   summary.CardCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"deckCollection": collection})
}

func (h *httpHandler) handleCreateDeck(c *gin.Context) {
	var request createDeckRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	owner := c.Param("username")
	deck, err := h.decks.CreateDeck(c.Request.Context(), owner, decks.DeckInput{
		Name:          request.DeckName,
		Description:   request.Description,
		Format:        request.Format,
		ColorIdentity: request.ColorIdentity,
		Tags:          request.Tags,
	})
	if err != nil {
		h.respondError(c, "failed to create deck", err)
		return
	}
	h.publish(owner, DeckEventDeckChanged, decks.DeckID(deck.ID), nil)
	c.JSON(http.StatusCreated, gin.H{"deck": toDeckPayload(deck)})
}

// handleGetAnyDeck serves any deck to a signed-in user.
func (h *httpHandler) handleGetAnyDeck(c *gin.Context) {
	deckID, err := decks.NewDeckID(c.Param("deckID"))
	if err != nil {
		h.respondError(c, "invalid deck id", err)
		return
	}
	detail, err := h.decks.GetDeck(c.Request.Context(), deckID, "")
	if err != nil {
		h.respondError(c, "failed to load deck", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deck": toDeckDetailPayload(detail)})
}

func (h *httpHandler) handleGetDeck(c *gin.Context) {
	deckID, err := decks.NewDeckID(c.Param("deckID"))
	if err != nil {
		h.respondError(c, "invalid deck id", err)
		return
	}
	detail, err := h.decks.GetDeck(c.Request.Context(), deckID, c.Param("username"))
	if err != nil {
		h.respondError(c, "failed to load deck", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deck": toDeckDetailPayload(detail)})
}

func (h *httpHandler) handleUpdateDeck(c *gin.Context) {
	deckID, ok := h.ownedDeckID(c)
	if !ok {
		return
	}
	var request updateDeckRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	deck, err := h.decks.UpdateDeck(c.Request.Context(), deckID, decks.DeckPatch{
		Name:          request.DeckName,
		Description:   request.Description,
		Format:        request.Format,
		ColorIdentity: request.ColorIdentity,
		Tags:          request.Tags,
	})
	if err != nil {
		h.respondError(c, "failed to update deck", err)
		return
	}
	h.publish(c.Param("username"), DeckEventDeckChanged, deckID, nil)
	c.JSON(http.StatusOK, gin.H{"deck": toDeckPayload(deck)})
}

func (h *httpHandler) handleDeleteDeck(c *gin.Context) {
	deckID, ok := h.ownedDeckID(c)
	if !ok {
		return
	}
	if err := h.decks.DeleteDeck(c.Request.Context(), deckID); err != nil {
		h.respondError(c, "failed to delete deck", err)
		return
	}
	h.publish(c.Param("username"), DeckEventDeckDeleted, deckID, nil)
	c.JSON(http.StatusOK, gin.H{"deleted": deckID.Int64()})
}

func (h *httpHandler) handleDeckEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, c.Param("username"))
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, deckEventPayload{
				DeckID:    event.DeckID,
				CardIDs:   event.CardIDs,
				Timestamp: event.Timestamp.Unix(),
				Source:    deckEventSource,
			})
			return true
		case <-ticker.C:
			c.SSEvent(deckEventHeartbeat, gin.H{"source": deckEventSource})
			return true
		}
	})
}

// ownedDeckID parses the deck path parameter and confirms it belongs to the path user.
// On failure the response has been written.
func (h *httpHandler) ownedDeckID(c *gin.Context) (decks.DeckID, bool) {
	deckID, err := decks.NewDeckID(c.Param("deckID"))
	if err != nil {
		h.respondError(c, "invalid deck id", err)
		return 0, false
	}
	if err := h.decks.CheckOwner(c.Request.Context(), deckID, c.Param("username")); err != nil {
		h.respondError(c, "failed to check deck owner", err)
		return 0, false
	}
	return deckID, true
}
