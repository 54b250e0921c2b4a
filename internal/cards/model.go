package cards

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCardID indicates that a card identifier is not a UUID.
	ErrInvalidCardID = errors.New("cards: invalid card id")
	// ErrInvalidQuantity indicates that a requested quantity is not positive.
	ErrInvalidQuantity = errors.New("cards: invalid quantity")
)

// CardID is an externally issued card identifier in canonical UUID form.
type CardID string

// NewCardID validates raw input and returns its canonical lowercase form.
func NewCardID(rawInput string) (CardID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCardID)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCardID, trimmed)
	}
	return CardID(parsed.String()), nil
}

// String returns the underlying identifier.
func (id CardID) String() string {
	return string(id)
}

// Candidate is a requested (card, quantity) pair. It only lives for one request.
type Candidate struct {
	CardID   CardID
	Quantity int
}

// NewCandidate validates both parts of a candidate.
func NewCandidate(rawCardID string, quantity int) (Candidate, error) {
	cardID, err := NewCardID(rawCardID)
	if err != nil {
		return Candidate{}, err
	}
	if quantity < 1 {
		return Candidate{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	return Candidate{CardID: cardID, Quantity: quantity}, nil
}

// Membership is a card stored in a deck with its quantity.
type Membership struct {
	CardID   CardID
	Quantity int
}

// CardIDs returns the identifiers of the candidates in order.
func CardIDs(candidates []Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.CardID.String())
	}
	return ids
}
