package decks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/sqlbuild"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	// ErrDeckNotFound indicates that the target deck does not exist (or is not owned by the caller).
	ErrDeckNotFound = errors.New("decks: deck not found")
	// ErrOwnerNotFound indicates that a deck owner does not reference an existing user.
	ErrOwnerNotFound = errors.New("decks: owner not found")
	// ErrDuplicateMembership indicates that a card was inserted into a deck that already holds it.
	ErrDuplicateMembership = errors.New("decks: duplicate card membership")
	// ErrInvalidDeckID indicates that a deck identifier is not a positive integer.
	ErrInvalidDeckID = errors.New("decks: invalid deck id")
	// ErrInvalidFormat indicates that a deck format is not one of the known formats.
	ErrInvalidFormat = errors.New("decks: invalid deck format")
	// ErrInvalidDeckName indicates that a deck name is empty or too long.
	ErrInvalidDeckName = errors.New("decks: invalid deck name")
)

const maxDeckNameLength = 190

// DeckID identifies a deck.
type DeckID int64

// NewDeckID parses a path parameter into a DeckID.
func NewDeckID(rawInput string) (DeckID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(rawInput), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeckID, rawInput)
	}
	return DeckID(value), nil
}

// Int64 exposes the raw identifier.
func (id DeckID) Int64() int64 {
	return int64(id)
}

// Deck is a named collection of cards owned by one user.
type Deck struct {
	ID            int64    `gorm:"column:id;primaryKey;autoIncrement"`
	Owner         string   `gorm:"column:deck_owner;size:190;not null;index"`
	Name          string   `gorm:"column:deck_name;size:190;not null;index"`
	Description   string   `gorm:"column:description;type:text;not null;default:''"`
	Format        string   `gorm:"column:format;size:32;not null"`
	ColorIdentity string   `gorm:"column:color_identity;size:5;not null;default:''"`
	Tags          DeckTags `gorm:"column:tags;not null;serializer:json"`
}

// TableName provides the explicit table binding for GORM.
func (Deck) TableName() string {
	return "decks"
}

// DeckTags is stored as a JSON array: jsonb on Postgres, text elsewhere.
type DeckTags []string

// GormDBDataType picks the column type for the connected dialect.
func (DeckTags) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == sqlbuild.Postgres.Name {
		return "jsonb"
	}
	return "text"
}

// DeckCard is one card held by a deck. (deck_id, card_id) is unique.
// Deleting the deck cascades to its cards.
type DeckCard struct {
	DeckID   int64  `gorm:"column:deck_id;primaryKey;autoIncrement:false"`
	CardID   string `gorm:"column:card_id;primaryKey;size:36"`
	Quantity int    `gorm:"column:quantity;not null"`
	Deck     *Deck  `gorm:"foreignKey:DeckID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (DeckCard) TableName() string {
	return "deck_cards"
}

// DeckFormat is one of the play formats a deck may declare.
type DeckFormat struct {
	Name string `gorm:"column:name;primaryKey;size:32"`
}

// TableName provides the explicit table binding for GORM.
func (DeckFormat) TableName() string {
	return "deck_formats"
}

// KnownFormats seeds the deck_formats table.
var KnownFormats = []string{
	"alchemy", "brawl", "commander", "duel", "explorer", "future", "gladiator",
	"historic", "legacy", "modern", "oathbreaker", "oldschool", "pauper",
	"paupercommander", "penny", "pioneer", "predh", "premodern", "standard",
	"standardbrawl", "timeless", "vintage",
}

// AddResult partitions an add request.
type AddResult struct {
	Rejected []cards.Candidate
	Added    []cards.Membership
}

// UpdateResult partitions an update request.
type UpdateResult struct {
	Rejected []cards.Candidate
	Updated  []cards.Membership
}

// DeckInput carries the fields of a new deck.
type DeckInput struct {
	Name          string
	Description   string
	Format        string
	ColorIdentity string
	Tags          []string
}

// DeckPatch carries a partial deck update. Nil fields are left unchanged.
type DeckPatch struct {
	Name          *string
	Description   *string
	Format        *string
	ColorIdentity *string
	Tags          *[]string
}

// DeckDetail is a deck together with its cards.
type DeckDetail struct {
	Deck  Deck
	Cards []cards.Membership
}

// DeckSummary is a deck with the number of distinct cards it holds.
type DeckSummary struct {
	Deck      Deck
	CardCount int64
}
