package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
)

func testCarrierConfig() config.CarrierConfig {
	return config.CarrierConfig{
		BaseURL: "https://carrier.example.test",
		APIKey:  "carrier-key",
	}
}

func TestNewCarrierClient_Validation(t *testing.T) {
	cfg := testCarrierConfig()

	_, err := NewCarrierClient(cfg, nil)
	assert.Error(t, err)

	broken := cfg
	broken.APIKey = ""
	_, err = NewCarrierClient(broken, testLogger())
	assert.ErrorIs(t, err, errCarrierAPIKeyRequired)

	_, err = NewCarrierClient(cfg, testLogger())
	assert.NoError(t, err)
}

func TestIssueLabel_Success(t *testing.T) {
	client, err := NewCarrierClient(testCarrierConfig(), testLogger())
	require.NoError(t, err)

	doer := &stubDoer{responses: []stubResponse{
		{status: 201, body: `{"label_id":"LBL-1","tracking_number":"DHL123"}`},
	}}
	client.http = doer

	result, err := client.IssueLabel(context.Background(), "carrier-dhl", json.RawMessage(`{"reference":"SO-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "LBL-1", result.ExternalRef)
	assert.Contains(t, string(result.ResponsePayload), "DHL123")

	require.Len(t, doer.calls, 1)
	req := doer.calls[0]
	assert.Equal(t, "https://carrier.example.test/v2/labels", req.URL.String())
	assert.Equal(t, "carrier-key", req.Header.Get("X-Api-Key"))
}

func TestIssueLabel_UpstreamRejection(t *testing.T) {
	client, err := NewCarrierClient(testCarrierConfig(), testLogger())
	require.NoError(t, err)
	client.http = &stubDoer{responses: []stubResponse{
		{status: 400, body: `{"code":"ADDRESS_INVALID","message":"postal code unknown"}`},
	}}

	_, err = client.IssueLabel(context.Background(), "carrier-dhl", json.RawMessage(`{}`))
	var callErr *syncengine.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "ADDRESS_INVALID", callErr.Code)
	assert.Equal(t, "postal code unknown", callErr.Message)
}

func TestIssueLabel_MalformedResponse(t *testing.T) {
	client, err := NewCarrierClient(testCarrierConfig(), testLogger())
	require.NoError(t, err)
	client.http = &stubDoer{responses: []stubResponse{
		{status: 200, body: `{"tracking_number":"DHL123"}`},
	}}

	_, err = client.IssueLabel(context.Background(), "carrier-dhl", json.RawMessage(`{}`))
	var callErr *syncengine.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "CARRIER_MALFORMED_RESPONSE", callErr.Code)
}

func TestIssueLabel_TransportFailure(t *testing.T) {
	client, err := NewCarrierClient(testCarrierConfig(), testLogger())
	require.NoError(t, err)
	client.http = &stubDoer{err: errors.New("context deadline exceeded")}

	_, err = client.IssueLabel(context.Background(), "carrier-dhl", json.RawMessage(`{}`))
	var callErr *syncengine.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "CARRIER_UNREACHABLE", callErr.Code)
}
