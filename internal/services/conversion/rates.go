package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "fxwallet/internal/errors"

	"go.uber.org/zap"
)

// RateSource quotes the rates of every currency against base.
type RateSource interface {
	Rates(ctx context.Context, base string) (map[string]float64, error)
}

// RateCache is an optional read-through cache for rate tables.
type RateCache interface {
	GetRates(ctx context.Context, base string) (map[string]float64, bool, error)
	SetRates(ctx context.Context, base string, rates map[string]float64) error
}

// HTTPRateSource reads GET {baseURL}/{base} -> {"rates": {"EUR": 0.92, ...}}.
type HTTPRateSource struct {
	baseURL string
	client  *http.Client
	cache   RateCache
	logger  *zap.Logger
}

func NewHTTPRateSource(baseURL string, timeout time.Duration, cache RateCache, logger *zap.Logger) *HTTPRateSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRateSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		logger:  logger,
	}
}

type ratesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

func (s *HTTPRateSource) Rates(ctx context.Context, base string) (map[string]float64, error) {
	if s.cache != nil {
		rates, found, err := s.cache.GetRates(ctx, base)
		if err != nil {
			s.logger.Warn("rate cache read failed", zap.String("base", base), zap.Error(err))
		} else if found {
			return rates, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+base, nil)
	if err != nil {
		return nil, fmt.Errorf("build rate request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConversionUnavailable, "rate source: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Wrap(apperrors.ErrConversionUnavailable, "rate source returned %d", resp.StatusCode)
	}
	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConversionUnavailable, "decode rates: %v", err)
	}
	if len(body.Rates) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrConversionUnavailable, "rate source returned no rates for %s", base)
	}

	if s.cache != nil {
		if err := s.cache.SetRates(ctx, base, body.Rates); err != nil {
			s.logger.Warn("rate cache write failed", zap.String("base", base), zap.Error(err))
		}
	}
	return body.Rates, nil
}
