package decks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/magidekt/backend/internal/cards"
	"github.com/magidekt/backend/internal/sqlbuild"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MembershipStore persists deck card memberships.
type MembershipStore interface {
	// Transaction runs fn against a store bound to a single transaction.
	Transaction(ctx context.Context, fn func(store MembershipStore) error) error
	// DeckExists reports whether the deck exists without locking it.
	DeckExists(ctx context.Context, deckID DeckID) (bool, error)
	// LockDeck reports whether the deck exists and locks its row until the
	// transaction ends where the store supports it.
	LockDeck(ctx context.Context, deckID DeckID) (bool, error)
	MemberCardIDs(ctx context.Context, deckID DeckID) ([]string, error)
	InsertMemberships(ctx context.Context, deckID DeckID, candidates []cards.Candidate) ([]cards.Membership, error)
	UpdateMembershipQuantities(ctx context.Context, deckID DeckID, candidates []cards.Candidate) ([]cards.Membership, error)
	DeleteMemberships(ctx context.Context, deckID DeckID, cardIDs []string) error
	ListMemberships(ctx context.Context, deckID DeckID) ([]cards.Membership, error)
}

// GormStore implements MembershipStore on top of GORM.
type GormStore struct {
	db      *gorm.DB
	dialect sqlbuild.Dialect
}

var _ MembershipStore = (*GormStore)(nil)

// NewGormStore binds a store to the provided database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db, dialect: dialectFor(db)}, nil
}

func dialectFor(db *gorm.DB) sqlbuild.Dialect {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == sqlbuild.Postgres.Name {
		return sqlbuild.Postgres
	}
	return sqlbuild.SQLite
}

// Transaction implements MembershipStore.
func (s *GormStore) Transaction(ctx context.Context, fn func(store MembershipStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, dialect: s.dialect})
	})
}

// DeckExists implements MembershipStore.
func (s *GormStore) DeckExists(ctx context.Context, deckID DeckID) (bool, error) {
	return findDeckRow(s.db.WithContext(ctx), deckID)
}

// LockDeck implements MembershipStore.
func (s *GormStore) LockDeck(ctx context.Context, deckID DeckID) (bool, error) {
	return findDeckRow(s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), deckID)
}

func findDeckRow(db *gorm.DB, deckID DeckID) (bool, error) {
	var deck Deck
	err := db.Select("id").Where("id = ?", deckID.Int64()).Take(&deck).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemberCardIDs implements MembershipStore.
func (s *GormStore) MemberCardIDs(ctx context.Context, deckID DeckID) ([]string, error) {
	var cardIDs []string
	err := s.db.WithContext(ctx).
		Model(&DeckCard{}).
		Where("deck_id = ?", deckID.Int64()).
		Order("card_id").
		Pluck("card_id", &cardIDs).Error
	if err != nil {
		return nil, err
	}
	return cardIDs, nil
}

type membershipRecord struct {
	deckID   int64
	cardID   string
	quantity int
}

func (r membershipRecord) Values() []any {
	return []any{r.deckID, r.cardID, r.quantity}
}

// InsertMemberships implements MembershipStore with one multi-row insert.
func (s *GormStore) InsertMemberships(ctx context.Context, deckID DeckID, candidates []cards.Candidate) ([]cards.Membership, error) {
	if len(candidates) == 0 {
		return []cards.Membership{}, nil
	}

	records := make([]sqlbuild.Record, 0, len(candidates))
	for _, candidate := range candidates {
		records = append(records, membershipRecord{
			deckID:   deckID.Int64(),
			cardID:   candidate.CardID.String(),
			quantity: candidate.Quantity,
		})
	}
	placeholders, err := sqlbuild.InsertPlaceholders(records)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO deck_cards (deck_id, card_id, quantity)
		VALUES ` + placeholders + `
		RETURNING card_id, quantity`

	var rows []membershipRow
	if err := s.db.WithContext(ctx).Raw(query, sqlbuild.InsertArgs(records)...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toMemberships(rows), nil
}

// UpdateMembershipQuantities implements MembershipStore with one CASE update.
func (s *GormStore) UpdateMembershipQuantities(ctx context.Context, deckID DeckID, candidates []cards.Candidate) ([]cards.Membership, error) {
	if len(candidates) == 0 {
		return []cards.Membership{}, nil
	}

	count := len(candidates)
	arms := make([]string, 0, count)
	args := make([]any, 0, 3*count+1)
	for index, candidate := range candidates {
		arms = append(arms, fmt.Sprintf("WHEN card_id = $%d THEN $%d", 2*index+1, 2*index+2))
		args = append(args, candidate.CardID.String(), candidate.Quantity)
	}
	for _, candidate := range candidates {
		args = append(args, candidate.CardID.String())
	}
	args = append(args, deckID.Int64())

	query := fmt.Sprintf(`UPDATE deck_cards
		SET quantity = CASE
			%s
			ELSE quantity
		END
		WHERE card_id IN (%s)
		AND deck_id = $%d
		RETURNING card_id, quantity`,
		strings.Join(arms, "\n\t\t\t"),
		sqlbuild.Placeholders(2*count+1, count),
		3*count+1,
	)

	var rows []membershipRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toMemberships(rows), nil
}

// DeleteMemberships implements MembershipStore. Identifiers that are not members are ignored.
func (s *GormStore) DeleteMemberships(ctx context.Context, deckID DeckID, cardIDs []string) error {
	if len(cardIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(cardIDs)+1)
	for _, cardID := range cardIDs {
		args = append(args, cardID)
	}
	args = append(args, deckID.Int64())

	query := fmt.Sprintf(`DELETE FROM deck_cards
		WHERE card_id IN (%s)
		AND deck_id = $%d`,
		sqlbuild.Placeholders(1, len(cardIDs)),
		len(cardIDs)+1,
	)
	return s.db.WithContext(ctx).Exec(query, args...).Error
}

// ListMemberships implements MembershipStore.
func (s *GormStore) ListMemberships(ctx context.Context, deckID DeckID) ([]cards.Membership, error) {
	var rows []membershipRow
	err := s.db.WithContext(ctx).
		Model(&DeckCard{}).
		Select("card_id", "quantity").
		Where("deck_id = ?", deckID.Int64()).
		Order("card_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toMemberships(rows), nil
}

type membershipRow struct {
	CardID   string         `gorm:"column:card_id"`
	Quantity storedQuantity `gorm:"column:quantity"`
}

func toMemberships(rows []membershipRow) []cards.Membership {
	memberships := make([]cards.Membership, 0, len(rows))
	for _, row := range rows {
		memberships = append(memberships, cards.Membership{
			CardID:   cards.CardID(row.CardID),
			Quantity: int(row.Quantity),
		})
	}
	return memberships
}

// storedQuantity accepts quantities rendered by the store as integers or text.
type storedQuantity int

// Scan implements sql.Scanner.
func (q *storedQuantity) Scan(value any) error {
	switch typed := value.(type) {
	case int64:
		*q = storedQuantity(typed)
	case int32:
		*q = storedQuantity(typed)
	case int:
		*q = storedQuantity(typed)
	case float64:
		*q = storedQuantity(int64(typed))
	case []byte:
		return q.parse(string(typed))
	case string:
		return q.parse(typed)
	case nil:
		return errors.New("decks: null quantity")
	default:
		return fmt.Errorf("decks: unsupported quantity type %T", value)
	}
	return nil
}

func (q *storedQuantity) parse(raw string) error {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("decks: invalid quantity %q: %w", raw, err)
	}
	*q = storedQuantity(value)
	return nil
}
