package cards

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MaxBatchSize is the largest identifier list the card oracle accepts per request.
const MaxBatchSize = 75

var (
	// ErrOracleUnavailable wraps any failure of the card oracle.
	ErrOracleUnavailable = errors.New("cards: oracle unavailable")
	errMissingLookup     = errors.New("cards: lookup dependency required")
)

// LookupResult lists which of the requested identifiers the oracle recognized.
type LookupResult struct {
	Recognized   []string
	Unrecognized []string
}

// Lookup is the external card oracle. Callers never pass more than MaxBatchSize ids.
type Lookup interface {
	LookupBatch(ctx context.Context, identifiers []string) (LookupResult, error)
}

// Validation splits candidates into those the oracle knows and those it does not.
type Validation struct {
	Found    []Candidate
	NotFound []Candidate
}

// BatchValidatorConfig wires the validator dependencies.
type BatchValidatorConfig struct {
	Lookup    Lookup
	BatchSize int
	Logger    *zap.Logger
}

// BatchValidator chunks candidate lists into oracle sized requests.
type BatchValidator struct {
	lookup    Lookup
	batchSize int
	logger    *zap.Logger
}

// NewBatchValidator constructs a validator; BatchSize defaults to MaxBatchSize.
func NewBatchValidator(cfg BatchValidatorConfig) (*BatchValidator, error) {
	if cfg.Lookup == nil {
		return nil, errMissingLookup
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchValidator{
		lookup:    cfg.Lookup,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// ValidateBatch asks the oracle about every candidate, one chunk at a time.
// The result keeps input order and requested quantities. A failed chunk aborts
// the remaining ones.
func (v *BatchValidator) ValidateBatch(ctx context.Context, candidates []Candidate) (Validation, error) {
	result := Validation{Found: []Candidate{}, NotFound: []Candidate{}}
	if len(candidates) == 0 {
		return result, nil
	}

	recognized := make(map[string]struct{}, len(candidates))
	for start := 0; start < len(candidates); start += v.batchSize {
		end := min(start+v.batchSize, len(candidates))
		chunk := CardIDs(candidates[start:end])

		lookupResult, err := v.lookup.LookupBatch(ctx, chunk)
		if err != nil {
			v.logger.Warn("card lookup failed",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err))
			return Validation{}, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
		}
		for _, identifier := range lookupResult.Recognized {
			recognized[normalizeIdentifier(identifier)] = struct{}{}
		}
	}

	for _, candidate := range candidates {
		if _, ok := recognized[candidate.CardID.String()]; ok {
			result.Found = append(result.Found, candidate)
			continue
		}
		result.NotFound = append(result.NotFound, candidate)
	}

	v.logger.Debug("card batch validated",
		zap.Int("candidates", len(candidates)),
		zap.Int("found", len(result.Found)),
		zap.Int("not_found", len(result.NotFound)))
	return result, nil
}

func normalizeIdentifier(identifier string) string {
	cardID, err := NewCardID(identifier)
	if err != nil {
		return identifier
	}
	return cardID.String()
}
