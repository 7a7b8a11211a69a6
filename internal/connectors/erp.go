package connectors

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

// TokenCache stores minted connector access tokens between calls. Backed by
// the shared redis client in production; the cache is injected, never a
// package singleton, so tests own their instance.
type TokenCache interface {
	GetConnectorToken(ctx context.Context, systemCode string) (string, error)
	StoreConnectorToken(ctx context.Context, systemCode, token string, ttl time.Duration) error
}

var (
	errERPBaseURLRequired  = errors.New("erp base url is required")
	errERPTokenURLRequired = errors.New("erp token url is required")
	errERPClientIDRequired = errors.New("erp client id is required")
	errERPKeyRequired      = errors.New("erp private key is required")
)

// ERPClient posts accounting documents to the ERP. Authentication uses the
// OAuth2 client-credentials grant with a signed JWT client assertion.
type ERPClient struct {
	http       httpDoer
	baseURL    string
	tokenURL   string
	clientID   string
	signingKey *rsa.PrivateKey
	cache      TokenCache
	cacheTTL   time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// NewERPClient validates the connector configuration and parses the signing key.
func NewERPClient(cfg config.ERPConfig, cache TokenCache, logg *logger.Logger) (*ERPClient, error) {
	if logg == nil {
		return nil, errors.New("erp logger is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errERPBaseURLRequired
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errERPTokenURLRequired
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errERPClientIDRequired
	}
	if strings.TrimSpace(cfg.PrivateKeyPEM) == "" {
		return nil, errERPKeyRequired
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parsing erp private key: %w", err)
	}
	return &ERPClient{
		http:       newHTTPClient(cfg.Timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:   cfg.TokenURL,
		clientID:   cfg.ClientID,
		signingKey: key,
		cache:      cache,
		cacheTTL:   cfg.TokenCacheTTL,
		logger:     logg,
		now:        time.Now,
	}, nil
}

// PostDocument submits one accounting document and returns the document
// number the ERP minted for it.
func (c *ERPClient) PostDocument(ctx context.Context, systemCode string, payload json.RawMessage) (*syncengine.CallResult, error) {
	token, err := c.accessToken(ctx, systemCode)
	if err != nil {
		return nil, err
	}

	logCtx := c.logger.WithFields(ctx, map[string]any{
		"connector":   "erp",
		"system_code": systemCode,
	})
	c.logger.Info(logCtx, "posting document")

	resp, err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/v1/documents",
		map[string]string{"Authorization": "Bearer " + token}, payload)
	if err != nil {
		c.logger.Error(logCtx, "erp unreachable", err)
		return nil, transportError("ERP", err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		callErr := upstreamError("erp", resp)
		c.logger.Warn(c.logger.WithField(logCtx, "error_code", callErr.Code), "erp rejected document")
		return nil, callErr
	}

	var body struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.DocumentID == "" {
		return nil, &syncengine.CallError{
			Code:    "ERP_MALFORMED_RESPONSE",
			Message: "document accepted but no document_id returned",
		}
	}
	c.logger.Info(c.logger.WithField(logCtx, "document_id", body.DocumentID), "document posted")
	return &syncengine.CallResult{ExternalRef: body.DocumentID, ResponsePayload: resp.Body}, nil
}

func (c *ERPClient) accessToken(ctx context.Context, systemCode string) (string, error) {
	if c.cache != nil {
		if token, err := c.cache.GetConnectorToken(ctx, systemCode); err == nil && token != "" {
			return token, nil
		}
	}

	assertion, err := c.clientAssertion()
	if err != nil {
		return "", err
	}
	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := doRaw(c.http, req)
	if err != nil {
		return "", transportError("ERP_AUTH", err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return "", upstreamError("erp token endpoint", resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.AccessToken == "" {
		return "", &syncengine.CallError{Code: "ERP_AUTH_MALFORMED", Message: "token response missing access_token"}
	}

	if c.cache != nil {
		ttl := c.cacheTTL
		if body.ExpiresIn > 0 {
			// Refresh well before the upstream expiry.
			granted := time.Duration(body.ExpiresIn) * time.Second * 5 / 6
			if ttl <= 0 || granted < ttl {
				ttl = granted
			}
		}
		if err := c.cache.StoreConnectorToken(ctx, systemCode, body.AccessToken, ttl); err != nil {
			c.logger.Warn(ctx, "caching erp token failed")
		}
	}
	return body.AccessToken, nil
}

// clientAssertion builds the short-lived signed JWT identifying this client
// to the token endpoint.
func (c *ERPClient) clientAssertion() (string, error) {
	now := c.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    c.clientID,
		Subject:   c.clientID,
		Audience:  jwt.ClaimStrings{c.tokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}
	return signed, nil
}
