/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/model"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://gateway.test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient(config.GatewayConfig{
		BaseURL:     baseURL,
		APIKey:      "sk_test",
		CallbackURL: "https://api.test/callbacks/deep-link",
		ReturnURL:   "app://payment-success",
		Currency:    "ETB",
		Timeout:     time.Second,
		RetryDelay:  time.Millisecond,
	}, DefaultMapping())
}

func initiateRequest() InitiateRequest {
	return InitiateRequest{
		OrderID: "ORDER_1",
		Amount:  decimal.NewFromInt(100),
		Payer:   model.Payer{Name: "Abebe Kebede", Phone: "0911000000", Email: "abebe@example.com"},
	}
}

func TestInitiate_Success(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/pay", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer sk_test", req.Header.Get("Authorization"))
		var payload map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		assert.Equal(t, "100.00", payload["amount"])
		assert.Equal(t, "ORDER_1", payload["tx_ref"])
		assert.Equal(t, "Abebe", payload["first_name"])
		assert.Equal(t, "Kebede", payload["last_name"])
		assert.Equal(t, "abebe@example.com", payload["email"])
		assert.Equal(t, "app://payment-success?orderId=ORDER_1", payload["return_url"])
		return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"checkout_url": "https://pay.test/c/ORDER_1", "status": "pending"},
		})
	})

	checkout, err := client.Initiate(context.Background(), initiateRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/c/ORDER_1", checkout.CheckoutURL)
	assert.Equal(t, model.PaymentPending, checkout.Status)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestInitiate_RetriesOnceOnServerError(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/pay", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusBadGateway, "bad gateway"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"checkout_url": "https://pay.test/c/ORDER_1"},
		})
	})

	checkout, err := client.Initiate(context.Background(), initiateRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/c/ORDER_1", checkout.CheckoutURL)
	assert.Equal(t, 2, calls)
}

func TestInitiate_GivesUpAfterSingleRetry(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/pay", httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	_, err := client.Initiate(context.Background(), initiateRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
}

func TestInitiate_TransportErrorIsTransient(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/pay", httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	_, err := client.Initiate(context.Background(), initiateRequest())
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestInitiate_ClientErrorIsRejectedWithoutRetry(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/pay", httpmock.NewStringResponder(http.StatusBadRequest, `{"message":"invalid email"}`))

	_, err := client.Initiate(context.Background(), initiateRequest())
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestInitiate_SuccessFalseIsRejected(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/pay", httpmock.NewStringResponder(http.StatusOK, `{"success":false,"message":"merchant disabled"}`))

	_, err := client.Initiate(context.Background(), initiateRequest())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "merchant disabled")
}

func TestInitiate_ValidatesInput(t *testing.T) {
	client := newTestClient(t)
	req := initiateRequest()
	req.Amount = decimal.Zero

	_, err := client.Initiate(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestVerify_NormalizesResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.PaymentStatus
	}{
		{"top level", `{"success":true,"status":"SUCCESS"}`, model.PaymentSuccess},
		{"nested", `{"success":true,"data":{"status":"completed"}}`, model.PaymentSuccess},
		{"upper keys", `{"Data":{"Status":"Failed"}}`, model.PaymentFailed},
		{"payment_status", `{"payment_status":"canceled"}`, model.PaymentCancelled},
		{"transaction", `{"data":{"transaction":{"status":"PAID"}}}`, model.PaymentSuccess},
		{"envelope does not mask", `{"status":"success","data":{"status":"pending"}}`, model.PaymentPending},
		{"unknown value", `{"status":"processing"}`, model.PaymentPending},
		{"non string", `{"status":true}`, model.PaymentPending},
		{"missing", `{"success":true}`, model.PaymentPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)
			httpmock.RegisterResponder(http.MethodPost, baseURL+"/verify", httpmock.NewStringResponder(http.StatusOK, tt.body))

			v, err := client.Verify(context.Background(), "ORDER_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Status)
			assert.Equal(t, "ORDER_1", v.OrderID)
		})
	}
}

func TestVerify_IsIdempotent(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/verify", func(req *http.Request) (*http.Response, error) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		assert.Equal(t, "ORDER_1", payload["tx_ref"])
		return httpmock.NewStringResponse(http.StatusOK, `{"success":true,"data":{"status":"SUCCESS","reference":"CHX-1"}}`), nil
	})

	var first *Verification
	for i := 0; i < 5; i++ {
		v, err := client.Verify(context.Background(), "ORDER_1")
		require.NoError(t, err)
		if first == nil {
			first = v
			continue
		}
		assert.Equal(t, first.Status, v.Status)
		assert.Equal(t, first.GatewayRef, v.GatewayRef)
		assert.Equal(t, first.RawStatus, v.RawStatus)
	}
	assert.Equal(t, model.PaymentSuccess, first.Status)
	assert.Equal(t, "CHX-1", first.GatewayRef)
	assert.Equal(t, 5, httpmock.GetTotalCallCount())
}

func TestVerify_CancelledContext(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, baseURL+"/verify", httpmock.NewStringResponder(http.StatusOK, `{}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Verify(ctx, "ORDER_1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, httpmock.GetTotalCallCount(), "nothing is sent on a cancelled context")
}

func TestLoadMappingFromBytes(t *testing.T) {
	m, err := LoadMappingFromBytes([]byte(`
status_fields:
  - result.state
success_values:
  - approved
`))
	require.NoError(t, err)

	status, raw := m.Normalize(map[string]interface{}{
		"result": map[string]interface{}{"state": "APPROVED"},
	})
	assert.Equal(t, model.PaymentSuccess, status)
	assert.Equal(t, "APPROVED", raw)
	assert.Equal(t, DefaultMapping().FailedValues, m.FailedValues)
}

func TestLoadMapping_EmptyPathUsesDefaults(t *testing.T) {
	m, err := LoadMapping("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMapping(), m)
}

func TestLoadMapping_InvalidYAML(t *testing.T) {
	_, err := LoadMappingFromBytes([]byte("status_fields: [unterminated"))
	assert.Error(t, err)
}
