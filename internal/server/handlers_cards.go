package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/decks"
)

type cardPayload struct {
	CardID   string `json:"cardId"`
	Quantity int    `json:"quantity"`
}

type deckCardPayload struct {
	CardID   string `json:"cardId" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

type deckCardsRequest struct {
	DeckCards []deckCardPayload `json:"deckCards" binding:"required,min=1,dive"`
}

type cardIDsRequest struct {
	CardIDs []string `json:"cardIds" binding:"required,min=1,dive,required"`
}

type addCardsResponse struct {
	RejectedData []cardPayload `json:"rejectedData"`
	Added        []cardPayload `json:"added"`
}

type updateCardsResponse struct {
	RejectedData []cardPayload `json:"rejectedData"`
	Updated      []cardPayload `json:"updated"`
}

func toCardPayloads(memberships []cards.Membership) []cardPayload {
	payloads := make([]cardPayload, 0, len(memberships))
	for _, membership := range memberships {
		payloads = append(payloads, cardPayload{CardID: membership.CardID.String(), Quantity: membership.Quantity})
	}
	return payloads
}

func candidatePayloads(candidates []cards.Candidate) []cardPayload {
	payloads := make([]cardPayload, 0, len(candidates))
	for _, candidate := range candidates {
		payloads = append(payloads, cardPayload{CardID: candidate.CardID.String(), Quantity: candidate.Quantity})
	}
	return payloads
}

func (request deckCardsRequest) candidates() ([]cards.Candidate, error) {
	candidates := make([]cards.Candidate, 0, len(request.DeckCards))
	for _, entry := range request.DeckCards {
		candidate, err := cards.NewCandidate(entry.CardID, entry.Quantity)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (request cardIDsRequest) cardIDs() ([]cards.CardID, error) {
	cardIDs := make([]cards.CardID, 0, len(request.CardIDs))
	for _, raw := range request.CardIDs {
		cardID, err := cards.NewCardID(raw)
		if err != nil {
			return nil, err
		}
		cardIDs = append(cardIDs, cardID)
	}
	return cardIDs, nil
}

func (h *httpHandler) handleListCards(c *gin.Context) {
	deckID, ok := h.ownedDeckID(c)
	if !ok {
		return
	}
	memberships, err := h.cards.Get(c.Request.Context(), deckID)
	if err != nil {
		h.respondError(c, "failed to list deck cards", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": toCardPayloads(memberships)})
}

func (h *httpHandler) handleAddCards(c *gin.Context) {
	candidates, ok := h.bindCandidates(c)
	if !ok {
		return
	}
	deckID, ok := h.ownedDeckID(c)
	if !ok {
		return
	}
	result, err := h.cards.Add(c.Request.Context(), deckID, candidates)
	if err != nil {
		h.respondError(c, "failed to add deck cards", err)
		return
	}
	if len(result.Added) > 0 {
		h.publish(c.Param("username"), DeckEventCardsChanged, deckID, membershipIDs(result.Added))
	}
	c.JSON(http.StatusCreated, gin.H{"cards": addCardsResponse{
		RejectedData: candidatePayloads(result.Rejected),
		Added:        toCardPayloads(result.Added),
	}})
}

func (h *httpHandler) handleUpdateCards(c *gin.Context) {
	candidates, ok := h.bindCandidates(c)
	if !ok {
		return
	}
	deckID, ok := h.ownedDeckID(c)
	if !ok {
		return
	}
	result, err := h.cards.Update(c.Request.Context(), deckID, candidates)
	if err != nil {
		h.respondError(c, "failed to update deck cards", err)
		return
	}
	if len(result.Updated) > 0 {
		h.publish(c.Param("username"), DeckEventCardsChanged, deckID, membershipIDs(result.Updated))
	}
	c.JSON(http.StatusOK, gin.H{"cards": updateCardsResponse{
		RejectedData: candidatePayloads(result.Rejected),
		Updated:      toCardPayloads(result.Updated),
	}})
}

func (h *httpHandler) handleRemoveCards(c *gin.Context) {
	var request cardIDsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	cardIDs, err := request.cardIDs()
	if err != nil {
		h.respondError(c, "invalid card ids", err)
		return
	}
	deckID, ok := h.ownedDeckID(c)
	if !ok {
		return
	}
	if err := h.cards.Remove(c.Request.Context(), deckID, cardIDs); err != nil {
		h.respondError(c, "failed to remove deck cards", err)
		return
	}
	removed := make([]string, 0, len(cardIDs))
	for _, cardID := range cardIDs {
		removed = append(removed, cardID.String())
	}
	h.publish(c.Param("username"), DeckEventCardsChanged, deckID, removed)
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}

func (h *httpHandler) bindCandidates(c *gin.Context) ([]cards.Candidate, bool) {
	var request deckCardsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, false
	}
	candidates, err := request.candidates()
	if err != nil {
		h.respondError(c, "invalid deck cards", err)
		return nil, false
	}
	return candidates, true
}

func membershipIDs(memberships []cards.Membership) []string {
	ids := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		ids = append(ids, membership.CardID.String())
	}
	return ids
}

var _ CardReconciler = (*decks.Reconciler)(nil)
var _ DeckCatalog = (*decks.Service)(nil)
