package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

// RateCache stores marketplace commission rates between lookups. Injected
// like the token cache; backed by redis in production.
type RateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CommissionRateKey(systemCode, category string) string
}

var (
	errMarketplaceBaseURLRequired = errors.New("marketplace base url is required")
	errMarketplaceKeysRequired    = errors.New("marketplace access and secret keys are required")
)

// MarketplaceClient pushes fulfillment updates to the marketplace and reads
// commission rates. Requests carry an HMAC-SHA256 signature over method,
// path, timestamp, and body digest.
type MarketplaceClient struct {
	http      httpDoer
	baseURL   string
	accessKey string
	secretKey []byte
	rates     RateCache
	rateTTL   time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewMarketplaceClient(cfg config.MarketplaceConfig, rates RateCache, logg *logger.Logger) (*MarketplaceClient, error) {
	if logg == nil {
		return nil, errors.New("marketplace logger is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMarketplaceBaseURLRequired
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errMarketplaceKeysRequired
	}
	return &MarketplaceClient{
		http:      newHTTPClient(cfg.Timeout),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		secretKey: []byte(cfg.SecretKey),
		rates:     rates,
		rateTTL:   cfg.CommissionCacheTTL,
		logger:    logg,
		now:       time.Now,
	}, nil
}

// PushTracking reports shipment tracking back to the marketplace and returns
// the feed id acknowledging the update.
func (c *MarketplaceClient) PushTracking(ctx context.Context, systemCode string, payload json.RawMessage) (*syncengine.CallResult, error) {
	logCtx := c.logger.WithFields(ctx, map[string]any{
		"connector":   "marketplace",
		"system_code": systemCode,
	})
	c.logger.Info(logCtx, "pushing tracking update")

	path := "/v1/orders/tracking"
	resp, err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+path,
		c.signedHeaders(http.MethodPost, path, payload), payload)
	if err != nil {
		c.logger.Error(logCtx, "marketplace unreachable", err)
		return nil, transportError("MARKETPLACE", err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		callErr := upstreamError("marketplace", resp)
		c.logger.Warn(c.logger.WithField(logCtx, "error_code", callErr.Code), "marketplace rejected tracking update")
		return nil, callErr
	}

	var body struct {
		FeedID string `json:"feed_id"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.FeedID == "" {
		return nil, &syncengine.CallError{
			Code:    "MARKETPLACE_MALFORMED_RESPONSE",
			Message: "tracking accepted but no feed_id returned",
		}
	}
	c.logger.Info(c.logger.WithField(logCtx, "feed_id", body.FeedID), "tracking pushed")
	return &syncengine.CallResult{ExternalRef: body.FeedID, ResponsePayload: resp.Body}, nil
}

// CommissionRate returns the marketplace commission for a category, served
// from cache while the TTL holds.
func (c *MarketplaceClient) CommissionRate(ctx context.Context, systemCode, category string) (decimal.Decimal, error) {
	if category == "" {
		return decimal.Zero, errors.New("category is required")
	}

	var cacheKey string
	if c.rates != nil {
		cacheKey = c.rates.CommissionRateKey(systemCode, category)
		if cached, err := c.rates.Get(ctx, cacheKey); err == nil && cached != "" {
			if rate, perr := decimal.NewFromString(cached); perr == nil {
				return rate, nil
			}
		}
	}

	path := "/v1/commissions/" + category
	resp, err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+path,
		c.signedHeaders(http.MethodGet, path, nil), nil)
	if err != nil {
		return decimal.Zero, transportError("MARKETPLACE", err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return decimal.Zero, upstreamError("marketplace", resp)
	}

	var body struct {
		Rate string `json:"rate"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Rate == "" {
		return decimal.Zero, fmt.Errorf("commission response missing rate")
	}
	rate, err := decimal.NewFromString(body.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing commission rate %q: %w", body.Rate, err)
	}

	if c.rates != nil {
		if err := c.rates.Set(ctx, cacheKey, rate.String(), c.rateTTL); err != nil {
			c.logger.Warn(ctx, "caching commission rate failed")
		}
	}
	return rate, nil
}

// signedHeaders computes the request signature:
// HMAC-SHA256(method \n path \n unix-timestamp \n hex(sha256(body))).
func (c *MarketplaceClient) signedHeaders(method, path string, body []byte) map[string]string {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	digest := sha256.Sum256(body)

	mac := hmac.New(sha256.New, c.secretKey)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", method, path, timestamp, hex.EncodeToString(digest[:]))

	return map[string]string{
		"X-Access-Key": c.accessKey,
		"X-Timestamp":  timestamp,
		"X-Signature":  hex.EncodeToString(mac.Sum(nil)),
	}
}
