package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/magidekt/backend/internal/auth"
	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/decks"
	"github.com/magidekt/backend/internal/users"
	"go.uber.org/zap"
)

const (
	claimsContextKey         = "magidekt_session_claims"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessions   = errors.New("session validator dependency required")
	errMissingUsers      = errors.New("user directory dependency required")
	errMissingDecks      = errors.New("deck catalog dependency required")
	errMissingReconciler = errors.New("card reconciler dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory records authenticated users.
type UserDirectory interface {
	Ensure(ctx context.Context, claims auth.SessionClaims) (users.User, error)
}

// DeckCatalog manages deck records.
type DeckCatalog interface {
	CreateDeck(ctx context.Context, owner string, input decks.DeckInput) (decks.Deck, error)
	GetDeck(ctx context.Context, deckID decks.DeckID, owner string) (decks.DeckDetail, error)
	CheckOwner(ctx context.Context, deckID decks.DeckID, owner string) error
	ListUserDecks(ctx context.Context, owner string) ([]decks.DeckSummary, error)
	UpdateDeck(ctx context.Context, deckID decks.DeckID, patch decks.DeckPatch) (decks.Deck, error)
	DeleteDeck(ctx context.Context, deckID decks.DeckID) error
	Formats(ctx context.Context) ([]string, error)
}

// CardReconciler applies card batches to decks.
type CardReconciler interface {
	Add(ctx context.Context, deckID decks.DeckID, candidates []cards.Candidate) (decks.AddResult, error)
	Update(ctx context.Context, deckID decks.DeckID, candidates []cards.Candidate) (decks.UpdateResult, error)
	Remove(ctx context.Context, deckID decks.DeckID, cardIDs []cards.CardID) error
	Get(ctx context.Context, deckID decks.DeckID) ([]cards.Membership, error)
}

type Dependencies struct {
	Sessions          SessionValidator
	Users             UserDirectory
	Decks             DeckCatalog
	Cards             CardReconciler
	Events            *DeckEventDispatcher
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Decks == nil {
		return nil, errMissingDecks
	}
	if deps.Cards == nil {
		return nil, errMissingReconciler
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:  deps.Sessions,
		users:     deps.Users,
		decks:     deps.Decks,
		cards:     deps.Cards,
		events:    deps.Events,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/decks/formats", handler.handleListFormats)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/decks/:deckID", handler.handleGetAnyDeck)

	owned := protected.Group("/users/:username")
	owned.Use(handler.requireCorrectUserOrAdmin)
	owned.GET("/decks", handler.handleListDecks)
	owned.POST("/decks", handler.handleCreateDeck)
	if deps.Events != nil {
		owned.GET("/decks/events", handler.handleDeckEvents)
	}
	owned.GET("/decks/:deckID", handler.handleGetDeck)
	owned.PATCH("/decks/:deckID", handler.handleUpdateDeck)
	owned.DELETE("/decks/:deckID", handler.handleDeleteDeck)
	owned.GET("/decks/:deckID/cards", handler.handleListCards)
	owned.POST("/decks/:deckID/cards", handler.handleAddCards)
	owned.PATCH("/decks/:deckID/cards", handler.handleUpdateCards)
	owned.DELETE("/decks/:deckID/cards", handler.handleRemoveCards)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions  SessionValidator
	users     UserDirectory
	decks     DeckCatalog
	cards     CardReconciler
	events    *DeckEventDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if _, err := h.users.Ensure(c.Request.Context(), claims); err != nil {
		h.logger.Error("failed to record session user", zap.String("username", claims.Username), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_lookup_failed"})
		return
	}
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireCorrectUserOrAdmin(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if claims.IsAdmin || claims.Username == c.Param("username") {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

func (h *httpHandler) publish(owner, eventType string, deckID decks.DeckID, cardIDs []string) {
	if h.events == nil {
		return
	}
	h.events.Publish(DeckEvent{
		Owner:     owner,
		EventType: eventType,
		DeckID:    deckID.Int64(),
		CardIDs:   cardIDs,
		Timestamp: time.Now().UTC(),
	})
}
