package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/magidekt/backend/internal/auth"
	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/config"
	"github.com/magidekt/backend/internal/database"
	"github.com/magidekt/backend/internal/decks"
	"github.com/magidekt/backend/internal/scryfall"
	"github.com/magidekt/backend/internal/server"
	"github.com/magidekt/backend/internal/users"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	jsonContentType      = "application/json"
)

type fakeCollection struct {
	mu       sync.Mutex
	unknown  map[string]bool
	requests []int
}

func (f *fakeCollection) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/cards/collection" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var payload struct {
		Identifiers []struct {
			ID string `json:"id"`
		} `json:"identifiers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, len(payload.Identifiers))
	f.mu.Unlock()

	type entry struct {
		ID string `json:"id"`
	}
	response := struct {
		Data     []entry `json:"data"`
		NotFound []entry `json:"not_found"`
	}{Data: []entry{}, NotFound: []entry{}}
	for _, identifier := range payload.Identifiers {
		if f.unknown[identifier.ID] {
			response.NotFound = append(response.NotFound, entry{ID: identifier.ID})
			continue
		}
		response.Data = append(response.Data, entry{ID: identifier.ID})
	}
	w.Header().Set("Content-Type", jsonContentType)
	_ = json.NewEncoder(w).Encode(response)
}

func (f *fakeCollection) requestSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.requests...)
}

type cardEntry struct {
	CardID   string `json:"cardId"`
	Quantity int    `json:"quantity"`
}

func TestDeckFlowThroughHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.Open(config.DriverSQLite, filepath.Join(t.TempDir(), "flow.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	unknownA := uuid.NewString()
	unknownB := uuid.NewString()
	collection := &fakeCollection{unknown: map[string]bool{unknownA: true, unknownB: true}}
	oracle := httptest.NewServer(collection)
	defer oracle.Close()

	lookup, err := scryfall.NewClient(scryfall.ClientConfig{
		BaseURL:           oracle.URL,
		RequestsPerSecond: 1000,
		HTTPClient:        oracle.Client(),
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to build scryfall client: %v", err)
	}
	validator, err := cards.NewBatchValidator(cards.BatchValidatorConfig{Lookup: lookup, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	store, err := decks.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	reconciler, err := decks.NewReconciler(decks.ReconcilerConfig{Store: store, Validator: validator, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	deckService, err := decks.NewService(decks.ServiceConfig{Database: db, Owners: userService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build deck service: %v", err)
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        auth.DefaultSessionIssuer,
		CookieName:    auth.DefaultSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessions,
		Users:    userService,
		Decks:    deckService,
		Cards:    reconciler,
		Events:   server.NewDeckEventDispatcher(),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	api := httptest.NewServer(handler)
	defer api.Close()

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        auth.DefaultSessionIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	aliceToken, _, err := issuer.IssueSessionToken(t.Context(), auth.Identity{Username: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	bobToken, _, err := issuer.IssueSessionToken(t.Context(), auth.Identity{Username: "bob"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	send := func(token, method, path string, body any) (int, []byte) {
		t.Helper()
		var reader *bytes.Reader
		if body == nil {
			reader = bytes.NewReader(nil)
		} else {
			encoded, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("failed to encode body: %v", err)
			}
			reader = bytes.NewReader(encoded)
		}
		request, err := http.NewRequest(method, api.URL+path, reader)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		request.Header.Set("Content-Type", jsonContentType)
		request.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookieName, Value: token})
		response, err := api.Client().Do(request)
		if err != nil {
			t.Fatalf("%s %s failed: %v", method, path, err)
		}
		defer response.Body.Close()
		var buffer bytes.Buffer
		if _, err := buffer.ReadFrom(response.Body); err != nil {
			t.Fatalf("failed to read response: %v", err)
		}
		return response.StatusCode, buffer.Bytes()
	}

	status, body := send(aliceToken, http.MethodPost, "/users/alice/decks", map[string]any{
		"deckName": "Mono Green Stompy",
		"format":   "pauper",
	})
	if status != http.StatusCreated {
		t.Fatalf("create deck: expected 201, got %d: %s", status, body)
	}
	var created struct {
		Deck struct {
			ID int64 `json:"id"`
		} `json:"deck"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.Deck.ID == 0 {
		t.Fatalf("create deck: unexpected body %s (%v)", body, err)
	}
	cardsPath := fmt.Sprintf("/users/alice/decks/%d/cards", created.Deck.ID)

	batch := make([]cardEntry, 0, 82)
	known := make([]string, 0, 80)
	for i := 0; i < 80; i++ {
		id := uuid.NewString()
		known = append(known, id)
		batch = append(batch, cardEntry{CardID: strings.ToUpper(id), Quantity: 1 + i%4})
	}
	batch = append(batch, cardEntry{CardID: unknownA, Quantity: 1}, cardEntry{CardID: unknownB, Quantity: 2})

	status, body = send(aliceToken, http.MethodPost, cardsPath, map[string]any{"deckCards": batch})
	if status != http.StatusCreated {
		t.Fatalf("add cards: expected 201, got %d: %s", status, body)
	}
	var added struct {
		Cards struct {
			RejectedData []cardEntry `json:"rejectedData"`
			Added        []cardEntry `json:"added"`
		} `json:"cards"`
	}
	if err := json.Unmarshal(body, &added); err != nil {
		t.Fatalf("add cards: decode: %v", err)
	}
	if len(added.Cards.Added) != 80 || len(added.Cards.RejectedData) != 2 {
		t.Fatalf("add cards: expected 80 added and 2 rejected, got %d and %d", len(added.Cards.Added), len(added.Cards.RejectedData))
	}
	sizes := collection.requestSizes()
	if len(sizes) != 2 || sizes[0] != 75 || sizes[1] != 7 {
		t.Fatalf("expected oracle chunks of 75 and 7, got %v", sizes)
	}

	status, body = send(aliceToken, http.MethodPost, cardsPath, map[string]any{"deckCards": batch[:3]})
	if status != http.StatusCreated {
		t.Fatalf("re-add cards: expected 201, got %d: %s", status, body)
	}
	if err := json.Unmarshal(body, &added); err != nil {
		t.Fatalf("re-add cards: decode: %v", err)
	}
	if len(added.Cards.Added) != 0 || len(added.Cards.RejectedData) != 3 {
		t.Fatalf("re-add cards: expected every card rejected, got %s", body)
	}
	if got := len(collection.requestSizes()); got != 2 {
		t.Fatalf("re-adding members must not consult the oracle, saw %d requests", got)
	}

	status, body = send(aliceToken, http.MethodPatch, cardsPath, map[string]any{
		"deckCards": []cardEntry{{CardID: known[0], Quantity: 4}, {CardID: unknownA, Quantity: 1}},
	})
	if status != http.StatusOK {
		t.Fatalf("update cards: expected 200, got %d: %s", status, body)
	}
	var updated struct {
		Cards struct {
			RejectedData []cardEntry `json:"rejectedData"`
			Updated      []cardEntry `json:"updated"`
		} `json:"cards"`
	}
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("update cards: decode: %v", err)
	}
	if len(updated.Cards.Updated) != 1 || updated.Cards.Updated[0].Quantity != 4 || len(updated.Cards.RejectedData) != 1 {
		t.Fatalf("update cards: unexpected body %s", body)
	}

	status, body = send(aliceToken, http.MethodDelete, cardsPath, map[string]any{"cardIds": []string{known[1], unknownB}})
	if status != http.StatusOK {
		t.Fatalf("remove cards: expected 200, got %d: %s", status, body)
	}

	status, body = send(aliceToken, http.MethodGet, cardsPath, nil)
	if status != http.StatusOK {
		t.Fatalf("list cards: expected 200, got %d: %s", status, body)
	}
	var listed struct {
		Cards []cardEntry `json:"cards"`
	}
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("list cards: decode: %v", err)
	}
	if len(listed.Cards) != 79 {
		t.Fatalf("expected 79 cards after removal, got %d", len(listed.Cards))
	}
	quantities := make(map[string]int, len(listed.Cards))
	for _, entry := range listed.Cards {
		quantities[entry.CardID] = entry.Quantity
	}
	if quantities[known[0]] != 4 {
		t.Fatalf("expected updated quantity 4 for %s, got %d", known[0], quantities[known[0]])
	}
	if _, present := quantities[known[1]]; present {
		t.Fatalf("expected %s to be removed", known[1])
	}

	if status, _ := send(bobToken, http.MethodGet, cardsPath, nil); status != http.StatusForbidden {
		t.Fatalf("foreign owner: expected 403, got %d", status)
	}
	status, body = send(bobToken, http.MethodGet, fmt.Sprintf("/decks/%d", created.Deck.ID), nil)
	if status != http.StatusOK {
		t.Fatalf("public deck view: expected 200, got %d: %s", status, body)
	}
}
