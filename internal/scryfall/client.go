package scryfall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/magidekt/backend/internal/cards"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Scryfall API root.
	DefaultBaseURL           = "https://api.scryfall.com"
	defaultUserAgent         = "magidekt-api/1.0"
	defaultRequestsPerSecond = 10
	defaultTimeout           = 30 * time.Second
	collectionPath           = "/cards/collection"
)

var (
	errMissingBaseURL = errors.New("scryfall: base url required")
	// ErrTooManyIdentifiers indicates a lookup larger than the collection endpoint accepts.
	ErrTooManyIdentifiers = errors.New("scryfall: too many identifiers")
)

// ClientConfig configures the Scryfall collection client.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client looks up card identifiers through the Scryfall collection endpoint.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ cards.Lookup = (*Client)(nil)

// NewClient constructs a client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	perSecond := cfg.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = defaultRequestsPerSecond
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:     logger,
	}, nil
}

type collectionRequest struct {
	Identifiers []identifier `json:"identifiers"`
}

type identifier struct {
	ID string `json:"id"`
}

type collectionResponse struct {
	Data     []identifier `json:"data"`
	NotFound []identifier `json:"not_found"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

// LookupBatch resolves up to cards.MaxBatchSize identifiers in one request.
func (c *Client) LookupBatch(ctx context.Context, identifiers []string) (cards.LookupResult, error) {
	if len(identifiers) == 0 {
		return cards.LookupResult{}, nil
	}
	if len(identifiers) > cards.MaxBatchSize {
		return cards.LookupResult{}, fmt.Errorf("%w: %d > %d", ErrTooManyIdentifiers, len(identifiers), cards.MaxBatchSize)
	}

	payload := collectionRequest{Identifiers: make([]identifier, 0, len(identifiers))}
	for _, id := range identifiers {
		payload.Identifiers = append(payload.Identifiers, identifier{ID: id})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return cards.LookupResult{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return cards.LookupResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+collectionPath, bytes.NewReader(body))
	if err != nil {
		return cards.LookupResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return cards.LookupResult{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if decodeErr := json.NewDecoder(response.Body).Decode(&apiErr); decodeErr == nil && apiErr.Details != "" {
			return cards.LookupResult{}, fmt.Errorf("scryfall collection request returned status %d: %s", response.StatusCode, apiErr.Details)
		}
		return cards.LookupResult{}, fmt.Errorf("scryfall collection request returned status %d", response.StatusCode)
	}

	var document collectionResponse
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return cards.LookupResult{}, fmt.Errorf("scryfall: decode collection response: %w", err)
	}

	result := cards.LookupResult{
		Recognized:   make([]string, 0, len(document.Data)),
		Unrecognized: make([]string, 0, len(document.NotFound)),
	}
	for _, card := range document.Data {
		result.Recognized = append(result.Recognized, card.ID)
	}
	for _, card := range document.NotFound {
		result.Unrecognized = append(result.Unrecognized, card.ID)
	}

	c.logger.Debug("scryfall collection lookup",
		zap.Int("requested", len(identifiers)),
		zap.Int("recognized", len(result.Recognized)),
		zap.Int("unrecognized", len(result.Unrecognized)))
	return result, nil
}
