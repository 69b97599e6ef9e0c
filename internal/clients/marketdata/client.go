// Package marketdata provides a client for the market-data service: daily
// return histories, reported fund holdings and liquidity figures. Responses
// carry their own as-of timestamp; payloads older than the configured max age
// are refused with a StaleDataError rather than silently used.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/clientdata"
	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/exposure"
)

// Client is the market-data API client. It satisfies exposure.FundHoldingsSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxAge     time.Duration
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a market-data client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL string, timeout, maxAge time.Duration, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxAge:     maxAge,
		log:        log.With().Str("client", "marketdata").Logger(),
		cacheRepo:  cacheRepo,
	}
}

// returnsPayload is the wire and cache format for one security's history.
type returnsPayload struct {
	SecurityID string    `json:"security_id"`
	AsOf       time.Time `json:"as_of"`
	Returns    []float64 `json:"returns"`
}

// holdingsPayload is the wire and cache format for a fund's reported holdings.
type holdingsPayload struct {
	FundID   string    `json:"fund_id"`
	AsOf     time.Time `json:"as_of"`
	Holdings []struct {
		IssuerID string  `json:"issuer_id"`
		Weight   float64 `json:"weight"`
	} `json:"holdings"`
}

// liquidityPayload is the wire and cache format for liquidity figures.
type liquidityPayload struct {
	SecurityID    string    `json:"security_id"`
	AsOf          time.Time `json:"as_of"`
	AvgDailyValue float64   `json:"avg_daily_value"`
}

// pricePayload is the wire and cache format for one security's spot price.
type pricePayload struct {
	SecurityID string    `json:"security_id"`
	AsOf       time.Time `json:"as_of"`
	Price      float64   `json:"price"`
}

// GetReturns fetches daily return series for each security. A payload whose
// as-of date exceeds the max age fails the whole call: the risk gate never
// runs on partially stale inputs.
func (c *Client) GetReturns(ctx context.Context, securityIDs []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(securityIDs))
	for _, id := range securityIDs {
		var payload returnsPayload
		if err := c.fetch(ctx, "marketdata_returns", id,
			fmt.Sprintf("%s/returns/%s", c.baseURL, id), clientdata.TTLReturns, &payload); err != nil {
			return nil, err
		}
		if err := c.checkAge("returns:"+id, payload.AsOf); err != nil {
			return nil, err
		}
		out[id] = payload.Returns
	}
	return out, nil
}

// Holdings returns a fund's reported holdings and their as-of date, satisfying
// exposure.FundHoldingsSource. Staleness is left to the resolver, which
// degrades to an opaque node instead of failing the evaluation.
func (c *Client) Holdings(ctx context.Context, fundID string) ([]exposure.FundHolding, time.Time, error) {
	var payload holdingsPayload
	if err := c.fetch(ctx, "marketdata_fund_holdings", fundID,
		fmt.Sprintf("%s/funds/%s/holdings", c.baseURL, fundID), clientdata.TTLFundHoldings, &payload); err != nil {
		return nil, time.Time{}, err
	}

	holdings := make([]exposure.FundHolding, 0, len(payload.Holdings))
	for _, h := range payload.Holdings {
		holdings = append(holdings, exposure.FundHolding{IssuerID: h.IssuerID, Weight: h.Weight})
	}
	return holdings, payload.AsOf, nil
}

// GetLiquidity fetches average daily traded value per security.
func (c *Client) GetLiquidity(ctx context.Context, securityIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(securityIDs))
	for _, id := range securityIDs {
		var payload liquidityPayload
		if err := c.fetch(ctx, "marketdata_liquidity", id,
			fmt.Sprintf("%s/liquidity/%s", c.baseURL, id), clientdata.TTLLiquidity, &payload); err != nil {
			return nil, err
		}
		if err := c.checkAge("liquidity:"+id, payload.AsOf); err != nil {
			return nil, err
		}
		out[id] = payload.AvgDailyValue
	}
	return out, nil
}

// GetPrices fetches spot prices per security. Position values derived from
// these back the liquidity check, so staleness fails the call the same way
// returns do.
func (c *Client) GetPrices(ctx context.Context, securityIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(securityIDs))
	for _, id := range securityIDs {
		var payload pricePayload
		if err := c.fetch(ctx, "marketdata_prices", id,
			fmt.Sprintf("%s/prices/%s", c.baseURL, id), clientdata.TTLPrices, &payload); err != nil {
			return nil, err
		}
		if err := c.checkAge("price:"+id, payload.AsOf); err != nil {
			return nil, err
		}
		out[id] = payload.Price
	}
	return out, nil
}

// fetch resolves one payload cache-first. On API failure the stale cached
// payload is used as a fallback; checkAge still decides whether its as-of
// date is tolerable.
func (c *Client) fetch(ctx context.Context, table, key, url string, ttl time.Duration, payload interface{}) error {
	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh(table, key)
		if err == nil && data != nil {
			if err := json.Unmarshal(data, payload); err == nil {
				c.log.Debug().Str("table", table).Str("key", key).Msg("Cache hit")
				return nil
			}
		}
	}

	if err := c.doRequest(ctx, url, payload); err != nil {
		if c.getStaleFromCache(table, key, payload) {
			c.log.Warn().Err(err).Str("key", key).Msg("API failed, using stale cached payload")
			return nil
		}
		return err
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(table, key, payload, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache payload")
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, url string, payload interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market-data request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market-data API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return fmt.Errorf("failed to parse market-data response: %w", err)
	}
	return nil
}

func (c *Client) getStaleFromCache(table, key string, payload interface{}) bool {
	if c.cacheRepo == nil {
		return false
	}
	data, err := c.cacheRepo.Get(table, key)
	if err != nil || data == nil {
		return false
	}
	return json.Unmarshal(data, payload) == nil
}

func (c *Client) checkAge(source string, asOf time.Time) error {
	if c.maxAge <= 0 {
		return nil
	}
	if time.Since(asOf) > c.maxAge {
		return &domain.StaleDataError{Source: source, AsOf: asOf, MaxAge: c.maxAge}
	}
	return nil
}
