package decks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/magidekt/backend/internal/sqlbuild"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OwnerDirectory answers whether a username refers to an existing user.
type OwnerDirectory interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// ServiceConfig wires the deck service dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Owners   OwnerDirectory
	Logger   *zap.Logger
}

// Service manages deck records. Card membership lives in Reconciler.
type Service struct {
	db      *gorm.DB
	owners  OwnerDirectory
	dialect sqlbuild.Dialect
	logger  *zap.Logger
}

// deckColumns maps API field names onto deck columns for partial updates.
var deckColumns = map[string]string{
	"deckName":      "deck_name",
	"colorIdentity": "color_identity",
}

// NewService constructs the deck service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Owners == nil {
		return nil, newServiceError(opServiceNew, reasonMissingOwners, errMissingOwners)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:      cfg.Database,
		owners:  cfg.Owners,
		dialect: dialectFor(cfg.Database),
		logger:  logger,
	}, nil
}

// CreateDeck stores a new, empty deck for owner.
func (s *Service) CreateDeck(ctx context.Context, owner string, input DeckInput) (Deck, error) {
	if s.db == nil {
		return Deck{}, newServiceError(opCreateDeck, reasonMissingDatabase, errMissingDatabase)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > maxDeckNameLength {
		return Deck{}, newServiceError(opCreateDeck, reasonInvalidInput, ErrInvalidDeckName)
	}

	exists, err := s.owners.Exists(ctx, owner)
	if err != nil {
		s.logError(opCreateDeck, reasonOwnerLookup, err, zap.String("owner", owner))
		return Deck{}, newServiceError(opCreateDeck, reasonOwnerLookup, err)
	}
	if !exists {
		return Deck{}, newServiceError(opCreateDeck, reasonOwnerNotFound, fmt.Errorf("%w: %s", ErrOwnerNotFound, owner))
	}

	if err := s.requireFormat(ctx, opCreateDeck, input.Format); err != nil {
		return Deck{}, err
	}

	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}
	deck := Deck{
		Owner:         owner,
		Name:          name,
		Description:   input.Description,
		Format:        input.Format,
		ColorIdentity: input.ColorIdentity,
		Tags:          tags,
	}
	if err := s.db.WithContext(ctx).Create(&deck).Error; err != nil {
		s.logError(opCreateDeck, reasonInsertFailed, err, zap.String("owner", owner))
		return Deck{}, newServiceError(opCreateDeck, reasonInsertFailed, err)
	}

	s.logger.Info("deck created", zap.Int64("deck_id", deck.ID), zap.String("owner", owner))
	return deck, nil
}

// GetDeck loads a deck with its cards. A non-empty owner restricts the lookup to that owner.
func (s *Service) GetDeck(ctx context.Context, deckID DeckID, owner string) (DeckDetail, error) {
	if s.db == nil {
		return DeckDetail{}, newServiceError(opGetDeck, reasonMissingDatabase, errMissingDatabase)
	}

	query := s.db.WithContext(ctx).Where("id = ?", deckID.Int64())
	if owner != "" {
		query = query.Where("deck_owner = ?", owner)
	}
	var deck Deck
	err := query.Take(&deck).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DeckDetail{}, newServiceError(opGetDeck, reasonDeckNotFound, ErrDeckNotFound)
	}
	if err != nil {
		s.logError(opGetDeck, reasonQueryFailed, err, zap.Int64("deck_id", deckID.Int64()))
		return DeckDetail{}, newServiceError(opGetDeck, reasonQueryFailed, err)
	}

	store := &GormStore{db: s.db, dialect: s.dialect}
	memberships, err := store.ListMemberships(ctx, deckID)
	if err != nil {
		s.logError(opGetDeck, reasonQueryFailed, err, zap.Int64("deck_id", deckID.Int64()))
		return DeckDetail{}, newServiceError(opGetDeck, reasonQueryFailed, err)
	}
	return DeckDetail{Deck: deck, Cards: memberships}, nil
}

// CheckOwner confirms that deckID belongs to owner. Decks owned by someone else read as missing.
func (s *Service) CheckOwner(ctx context.Context, deckID DeckID, owner string) error {
	if s.db == nil {
		return newServiceError(opCheckOwner, reasonMissingDatabase, errMissingDatabase)
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Deck{}).
		Where("id = ? AND deck_owner = ?", deckID.Int64(), owner).
		Count(&count).Error
	if err != nil {
		s.logError(opCheckOwner, reasonQueryFailed, err, zap.Int64("deck_id", deckID.Int64()))
		return newServiceError(opCheckOwner, reasonQueryFailed, err)
	}
	if count == 0 {
		return newServiceError(opCheckOwner, reasonDeckNotFound, ErrDeckNotFound)
	}
	return nil
}

// ListUserDecks returns the decks of owner ordered by name, with card counts.
func (s *Service) ListUserDecks(ctx context.Context, owner string) ([]DeckSummary, error) {
	if s.db == nil {
		return nil, newServiceError(opListDecks, reasonMissingDatabase, errMissingDatabase)
	}

	var decks []Deck
	if err := s.db.WithContext(ctx).
		Where("deck_owner = ?", owner).
		Order("deck_name").
		Order("id").
		Find(&decks).Error; err != nil {
		s.logError(opListDecks, reasonQueryFailed, err, zap.String("owner", owner))
		return nil, newServiceError(opListDecks, reasonQueryFailed, err)
	}
	summaries := make([]DeckSummary, 0, len(decks))
	if len(decks) == 0 {
		return summaries, nil
	}

	deckIDs := make([]int64, 0, len(decks))
	for _, deck := range decks {
		deckIDs = append(deckIDs, deck.ID)
	}
	var counts []struct {
		DeckID    int64 `gorm:"column:deck_id"`
		CardCount int64 `gorm:"column:card_count"`
	}
	if err := s.db.WithContext(ctx).
		Model(&DeckCard{}).
		Select("deck_id, COUNT(card_id) AS card_count").
		Where("deck_id IN ?", deckIDs).
		Group("deck_id").
		Scan(&counts).Error; err != nil {
		s.logError(opListDecks, reasonQueryFailed, err, zap.String("owner", owner))
		return nil, newServiceError(opListDecks, reasonQueryFailed, err)
	}
	countByDeck := make(map[int64]int64, len(counts))
	for _, count := range counts {
		countByDeck[count.DeckID] = count.CardCount
	}

	for _, deck := range decks {
		summaries = append(summaries, DeckSummary{Deck: deck, CardCount: countByDeck[deck.ID]})
	}
	return summaries, nil
}

// UpdateDeck applies a partial update and returns the stored deck.
func (s *Service) UpdateDeck(ctx context.Context, deckID DeckID, patch DeckPatch) (Deck, error) {
	if s.db == nil {
		return Deck{}, newServiceError(opUpdateDeck, reasonMissingDatabase, errMissingDatabase)
	}

	assignments := make([]sqlbuild.Assignment, 0, 5)
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len(name) > maxDeckNameLength {
			return Deck{}, newServiceError(opUpdateDeck, reasonInvalidInput, ErrInvalidDeckName)
		}
		assignments = append(assignments, sqlbuild.Assignment{Field: "deckName", Value: name})
	}
	if patch.Description != nil {
		assignments = append(assignments, sqlbuild.Assignment{Field: "description", Value: *patch.Description})
	}
	if patch.Format != nil {
		if err := s.requireFormat(ctx, opUpdateDeck, *patch.Format); err != nil {
			return Deck{}, err
		}
		assignments = append(assignments, sqlbuild.Assignment{Field: "format", Value: *patch.Format})
	}
	if patch.ColorIdentity != nil {
		assignments = append(assignments, sqlbuild.Assignment{Field: "colorIdentity", Value: *patch.ColorIdentity})
	}
	if patch.Tags != nil {
		tags := *patch.Tags
		if tags == nil {
			tags = []string{}
		}
		assignments = append(assignments, sqlbuild.Assignment{Field: "tags", Value: tags})
	}

	setClause, err := s.dialect.AssignmentClause(assignments, deckColumns, "tags")
	if err != nil {
		if errors.Is(err, sqlbuild.ErrEmptyFieldSet) {
			return Deck{}, newServiceError(opUpdateDeck, reasonInvalidInput, err)
		}
		return Deck{}, newServiceError(opUpdateDeck, reasonBuildFailed, err)
	}

	query := fmt.Sprintf(`UPDATE decks SET %s WHERE id = $%d`, setClause.SQL, setClause.Next())
	args := append(setClause.Values, deckID.Int64())

	var deck Deck
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		execResult := tx.Exec(query, args...)
		if execResult.Error != nil {
			s.logError(opUpdateDeck, reasonUpdateFailed, execResult.Error, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opUpdateDeck, reasonUpdateFailed, execResult.Error)
		}
		if execResult.RowsAffected == 0 {
			return newServiceError(opUpdateDeck, reasonDeckNotFound, ErrDeckNotFound)
		}
		if err := tx.Where("id = ?", deckID.Int64()).Take(&deck).Error; err != nil {
			s.logError(opUpdateDeck, reasonQueryFailed, err, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opUpdateDeck, reasonQueryFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Deck{}, txErr
	}
	return deck, nil
}

// DeleteDeck removes a deck together with its cards.
func (s *Service) DeleteDeck(ctx context.Context, deckID DeckID) error {
	if s.db == nil {
		return newServiceError(opDeleteDeck, reasonMissingDatabase, errMissingDatabase)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the deck before touching its cards so a concurrent add waits and then
		// finds the deck gone.
		exists, err := (&GormStore{db: tx, dialect: s.dialect}).LockDeck(ctx, deckID)
		if err != nil {
			s.logError(opDeleteDeck, reasonDeckLookup, err, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opDeleteDeck, reasonDeckLookup, err)
		}
		if !exists {
			return newServiceError(opDeleteDeck, reasonDeckNotFound, ErrDeckNotFound)
		}
		if err := tx.Where("deck_id = ?", deckID.Int64()).Delete(&DeckCard{}).Error; err != nil {
			s.logError(opDeleteDeck, reasonDeleteFailed, err, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opDeleteDeck, reasonDeleteFailed, err)
		}
		result := tx.Where("id = ?", deckID.Int64()).Delete(&Deck{})
		if result.Error != nil {
			s.logError(opDeleteDeck, reasonDeleteFailed, result.Error, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opDeleteDeck, reasonDeleteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteDeck, reasonDeckNotFound, ErrDeckNotFound)
		}
		return nil
	})
}

// Formats lists the valid deck formats.
func (s *Service) Formats(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, newServiceError(opListFormats, reasonMissingDatabase, errMissingDatabase)
	}
	var formats []string
	if err := s.db.WithContext(ctx).Model(&DeckFormat{}).Order("name").Pluck("name", &formats).Error; err != nil {
		s.logError(opListFormats, reasonQueryFailed, err)
		return nil, newServiceError(opListFormats, reasonQueryFailed, err)
	}
	return formats, nil
}

func (s *Service) requireFormat(ctx context.Context, operation, format string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DeckFormat{}).Where("name = ?", format).Count(&count).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("format", format))
		return newServiceError(operation, reasonQueryFailed, err)
	}
	if count == 0 {
		return newServiceError(operation, reasonInvalidFormat, fmt.Errorf("%w: %q", ErrInvalidFormat, format))
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil {
		logServiceError(noOpLogger, operation, reason, err, fields...)
		return
	}
	logServiceError(s.logger, operation, reason, err, fields...)
}
