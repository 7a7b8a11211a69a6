package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

var (
	errCarrierBaseURLRequired = errors.New("carrier base url is required")
	errCarrierAPIKeyRequired  = errors.New("carrier api key is required")
)

// CarrierClient requests shipping labels from the carrier API.
type CarrierClient struct {
	http    httpDoer
	baseURL string
	apiKey  string
	logger  *logger.Logger
}

func NewCarrierClient(cfg config.CarrierConfig, logg *logger.Logger) (*CarrierClient, error) {
	if logg == nil {
		return nil, errors.New("carrier logger is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errCarrierBaseURLRequired
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errCarrierAPIKeyRequired
	}
	return &CarrierClient{
		http:    newHTTPClient(cfg.Timeout),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logg,
	}, nil
}

// IssueLabel books one shipment and returns the carrier's label identifier.
func (c *CarrierClient) IssueLabel(ctx context.Context, systemCode string, payload json.RawMessage) (*syncengine.CallResult, error) {
	logCtx := c.logger.WithFields(ctx, map[string]any{
		"connector":   "carrier",
		"system_code": systemCode,
	})
	c.logger.Info(logCtx, "requesting shipping label")

	resp, err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/v2/labels",
		map[string]string{"X-Api-Key": c.apiKey}, payload)
	if err != nil {
		c.logger.Error(logCtx, "carrier unreachable", err)
		return nil, transportError("CARRIER", err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		callErr := upstreamError("carrier", resp)
		c.logger.Warn(c.logger.WithField(logCtx, "error_code", callErr.Code), "carrier rejected label request")
		return nil, callErr
	}

	var body struct {
		LabelID        string `json:"label_id"`
		TrackingNumber string `json:"tracking_number"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.LabelID == "" {
		return nil, &syncengine.CallError{
			Code:    "CARRIER_MALFORMED_RESPONSE",
			Message: "label issued but no label_id returned",
		}
	}
	c.logger.Info(c.logger.WithFields(logCtx, map[string]any{
		"label_id":        body.LabelID,
		"tracking_number": body.TrackingNumber,
	}), "label issued")
	return &syncengine.CallResult{ExternalRef: body.LabelID, ResponsePayload: resp.Body}, nil
}
