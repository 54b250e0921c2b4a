package decks

import (
	"context"

	"github.com/magidekt/backend/internal/cards"
	"go.uber.org/zap"
)

// CandidateValidator confirms card identifiers against the card oracle.
type CandidateValidator interface {
	ValidateBatch(ctx context.Context, candidates []cards.Candidate) (cards.Validation, error)
}

// ReconcilerConfig wires the reconciler dependencies.
type ReconcilerConfig struct {
	Store     MembershipStore
	Validator CandidateValidator
	Logger    *zap.Logger
}

// Reconciler applies batches of card changes to decks.
//
// Every operation checks the deck, reads its current cards and writes inside
// one store transaction. Rejected candidates are returned as data.
type Reconciler struct {
	store     MembershipStore
	validator CandidateValidator
	logger    *zap.Logger
}

// NewReconciler validates dependencies and constructs a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opReconcilerNew, "missing_store", errMissingStore)
	}
	if cfg.Validator == nil {
		return nil, newServiceError(opReconcilerNew, "missing_validator", errMissingValidator)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{
		store:     cfg.Store,
		validator: cfg.Validator,
		logger:    logger,
	}, nil
}

// Add inserts the candidates the deck does not hold yet and the oracle recognizes.
// Cards already in the deck are rejected without consulting the oracle; Rejected
// lists them first, followed by the cards the oracle did not recognize. Rejected
// entries are the request's own candidates, repeats included. Repeated identifiers
// that are accepted are merged by summing their quantities.
func (r *Reconciler) Add(ctx context.Context, deckID DeckID, candidates []cards.Candidate) (AddResult, error) {
	result := AddResult{Rejected: []cards.Candidate{}, Added: []cards.Membership{}}

	err := r.store.Transaction(ctx, func(store MembershipStore) error {
		existing, err := r.loadMembers(ctx, store, opAddCards, deckID)
		if err != nil {
			return err
		}

		absent := make([]cards.Candidate, 0, len(candidates))
		alreadyPresent := make([]cards.Candidate, 0)
		for _, candidate := range candidates {
			if _, member := existing[candidate.CardID.String()]; member {
				alreadyPresent = append(alreadyPresent, candidate)
				continue
			}
			absent = append(absent, candidate)
		}

		toValidate := mergeCandidates(absent, func(total, next int) int { return total + next })
		validation, err := r.validator.ValidateBatch(ctx, toValidate)
		if err != nil {
			r.logError(opAddCards, reasonOracleFailed, err, zap.Int64("deck_id", deckID.Int64()), zap.Int("candidates", len(toValidate)))
			return newServiceError(opAddCards, reasonOracleFailed, err)
		}

		recognized := make(map[cards.CardID]struct{}, len(validation.Found))
		for _, candidate := range validation.Found {
			recognized[candidate.CardID] = struct{}{}
		}
		rejected := make([]cards.Candidate, 0, len(candidates))
		rejected = append(rejected, alreadyPresent...)
		for _, candidate := range absent {
			if _, ok := recognized[candidate.CardID]; !ok {
				rejected = append(rejected, candidate)
			}
		}

		added := []cards.Membership{}
		if len(validation.Found) > 0 {
			added, err = store.InsertMemberships(ctx, deckID, validation.Found)
			if isUniqueViolation(err) {
				return newServiceError(opAddCards, reasonDuplicateCard, ErrDuplicateMembership)
			}
			if err != nil {
				r.logError(opAddCards, reasonInsertFailed, err, zap.Int64("deck_id", deckID.Int64()))
				return newServiceError(opAddCards, reasonInsertFailed, err)
			}
		}

		result = AddResult{Rejected: rejected, Added: added}
		return nil
	})
	if err != nil {
		return AddResult{}, err
	}

	r.logger.Info("deck cards added",
		zap.Int64("deck_id", deckID.Int64()),
		zap.Int("added", len(result.Added)),
		zap.Int("rejected", len(result.Rejected)))
	return result, nil
}

// Update changes quantities of cards the deck already holds. Candidates that are
// not members are rejected as sent. The oracle is not consulted: membership proves
// the card was validated when it was added. Repeated member identifiers keep the
// last quantity.
func (r *Reconciler) Update(ctx context.Context, deckID DeckID, candidates []cards.Candidate) (UpdateResult, error) {
	result := UpdateResult{Rejected: []cards.Candidate{}, Updated: []cards.Membership{}}

	err := r.store.Transaction(ctx, func(store MembershipStore) error {
		existing, err := r.loadMembers(ctx, store, opUpdateCards, deckID)
		if err != nil {
			return err
		}

		rejected := make([]cards.Candidate, 0)
		members := make([]cards.Candidate, 0, len(candidates))
		for _, candidate := range candidates {
			if _, member := existing[candidate.CardID.String()]; !member {
				rejected = append(rejected, candidate)
				continue
			}
			members = append(members, candidate)
		}
		toUpdate := mergeCandidates(members, func(_, next int) int { return next })

		updated := []cards.Membership{}
		if len(toUpdate) > 0 {
			updated, err = store.UpdateMembershipQuantities(ctx, deckID, toUpdate)
			if err != nil {
				r.logError(opUpdateCards, reasonUpdateFailed, err, zap.Int64("deck_id", deckID.Int64()))
				return newServiceError(opUpdateCards, reasonUpdateFailed, err)
			}
		}

		result = UpdateResult{Rejected: rejected, Updated: updated}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}

	r.logger.Info("deck cards updated",
		zap.Int64("deck_id", deckID.Int64()),
		zap.Int("updated", len(result.Updated)),
		zap.Int("rejected", len(result.Rejected)))
	return result, nil
}

// Remove deletes the listed cards from the deck. Identifiers the deck does not
// hold are ignored rather than reported, so callers can clean up in bulk.
func (r *Reconciler) Remove(ctx context.Context, deckID DeckID, cardIDs []cards.CardID) error {
	identifiers := make([]string, 0, len(cardIDs))
	for _, cardID := range cardIDs {
		identifiers = append(identifiers, cardID.String())
	}

	err := r.store.Transaction(ctx, func(store MembershipStore) error {
		if err := r.requireDeck(ctx, store, opRemoveCards, deckID, true); err != nil {
			return err
		}
		if err := store.DeleteMemberships(ctx, deckID, identifiers); err != nil {
			r.logError(opRemoveCards, reasonDeleteFailed, err, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opRemoveCards, reasonDeleteFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("deck cards removed",
		zap.Int64("deck_id", deckID.Int64()),
		zap.Int("requested", len(identifiers)))
	return nil
}

// Get returns the cards of a deck ordered by card id.
func (r *Reconciler) Get(ctx context.Context, deckID DeckID) ([]cards.Membership, error) {
	var memberships []cards.Membership
	err := r.store.Transaction(ctx, func(store MembershipStore) error {
		if err := r.requireDeck(ctx, store, opListCards, deckID, false); err != nil {
			return err
		}
		rows, err := store.ListMemberships(ctx, deckID)
		if err != nil {
			r.logError(opListCards, reasonQueryFailed, err, zap.Int64("deck_id", deckID.Int64()))
			return newServiceError(opListCards, reasonQueryFailed, err)
		}
		memberships = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// requireDeck fails with ErrDeckNotFound for a missing deck. Writers pass lock so
// concurrent changes to one deck serialize; reads do not block behind them.
func (r *Reconciler) requireDeck(ctx context.Context, store MembershipStore, operation string, deckID DeckID, lock bool) error {
	check := store.DeckExists
	if lock {
		check = store.LockDeck
	}
	exists, err := check(ctx, deckID)
	if err != nil {
		r.logError(operation, reasonDeckLookup, err, zap.Int64("deck_id", deckID.Int64()))
		return newServiceError(operation, reasonDeckLookup, err)
	}
	if !exists {
		return newServiceError(operation, reasonDeckNotFound, ErrDeckNotFound)
	}
	return nil
}

func (r *Reconciler) loadMembers(ctx context.Context, store MembershipStore, operation string, deckID DeckID) (map[string]struct{}, error) {
	if err := r.requireDeck(ctx, store, operation, deckID, true); err != nil {
		return nil, err
	}
	cardIDs, err := store.MemberCardIDs(ctx, deckID)
	if err != nil {
		r.logError(operation, reasonMembersQuery, err, zap.Int64("deck_id", deckID.Int64()))
		return nil, newServiceError(operation, reasonMembersQuery, err)
	}
	members := make(map[string]struct{}, len(cardIDs))
	for _, cardID := range cardIDs {
		members[cardID] = struct{}{}
	}
	return members, nil
}

// mergeCandidates collapses repeated identifiers onto their first position.
func mergeCandidates(candidates []cards.Candidate, combine func(existing, next int) int) []cards.Candidate {
	merged := make([]cards.Candidate, 0, len(candidates))
	positions := make(map[cards.CardID]int, len(candidates))
	for _, candidate := range candidates {
		if position, seen := positions[candidate.CardID]; seen {
			merged[position].Quantity = combine(merged[position].Quantity, candidate.Quantity)
			continue
		}
		positions[candidate.CardID] = len(merged)
		merged = append(merged, candidate)
	}
	return merged
}

func (r *Reconciler) logError(operation, reason string, err error, fields ...zap.Field) {
	if r == nil {
		logServiceError(noOpLogger, operation, reason, err, fields...)
		return
	}
	logServiceError(r.logger, operation, reason, err, fields...)
}
