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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/internal/request"
	"github.com/blnkfinance/checkout/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// InitiateRequest carries what the gateway needs to open a hosted checkout.
type InitiateRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Payer    model.Payer
}

// Checkout is the gateway's answer to an initiate call.
type Checkout struct {
	OrderID     string
	CheckoutURL string
	Status      model.PaymentStatus
}

// Verification is one normalized verify result.
type Verification struct {
	OrderID    string
	Status     model.PaymentStatus
	RawStatus  string
	GatewayRef string
	CheckedAt  time.Time
}

// Client talks to the hosted payment gateway.
type Client struct {
	cfg        config.GatewayConfig
	mapping    StatusMapping
	httpClient *http.Client
}

func NewClient(cfg config.GatewayConfig, mapping StatusMapping) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		mapping:    mapping,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type initiatePayload struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	TxRef       string `json:"tx_ref"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
}

type verifyPayload struct {
	TxRef string `json:"tx_ref"`
}

// Initiate opens a hosted checkout for the order. Transient failures are retried once.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	if req.OrderID == "" {
		return nil, rejected("initiate", 0, "order id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, rejected("initiate", 0, "amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	payload := initiatePayload{
		Amount:      req.Amount.StringFixed(2),
		Currency:    currency,
		Email:       req.Payer.Email,
		FirstName:   req.Payer.FirstName(),
		LastName:    req.Payer.LastName(),
		PhoneNumber: req.Payer.Phone,
		TxRef:       req.OrderID,
		CallbackURL: c.cfg.CallbackURL,
		ReturnURL:   c.returnURL(req.OrderID),
	}

	body, err := c.call(ctx, "initiate", "/pay", payload)
	if err != nil {
		return nil, err
	}

	if success, ok := body["success"].(bool); ok && !success {
		msg, _ := body["message"].(string)
		return nil, rejected("initiate", http.StatusOK, msg)
	}
	checkoutURL, _ := getNestedValue(body, "data.checkout_url").(string)
	if checkoutURL == "" {
		return nil, rejected("initiate", http.StatusOK, "response carries no checkout url")
	}

	status := model.PaymentPending
	if raw, ok := getNestedValue(body, "data.status").(string); ok {
		status = c.mapping.MapStatus(raw)
	}

	logrus.WithFields(logrus.Fields{"order_id": req.OrderID}).Info("gateway checkout initiated")
	return &Checkout{OrderID: req.OrderID, CheckoutURL: checkoutURL, Status: status}, nil
}

// Verify queries the payment status for the order. It has no side effects upstream.
func (c *Client) Verify(ctx context.Context, orderID string) (*Verification, error) {
	body, err := c.call(ctx, "verify", "/verify", verifyPayload{TxRef: orderID})
	if err != nil {
		return nil, err
	}
	status, raw := c.mapping.Normalize(body)
	return &Verification{
		OrderID:    orderID,
		Status:     status,
		RawStatus:  raw,
		GatewayRef: c.mapping.Reference(body),
		CheckedAt:  time.Now().UTC(),
	}, nil
}

// call posts payload to path with at most one retry on a transient failure.
func (c *Client) call(ctx context.Context, op, path string, payload interface{}) (map[string]interface{}, error) {
	var body map[string]interface{}
	attempt := 0

	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := request.Do(ctx, c.httpClient, http.MethodPost, c.cfg.BaseURL+path, payload, c.headers())
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return transient(op, 0, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return transient(op, resp.StatusCode, errors.New(strings.TrimSpace(string(resp.Body))))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(rejected(op, resp.StatusCode, strings.TrimSpace(string(resp.Body))))
		}
		var decoded map[string]interface{}
		if err := resp.Decode(&decoded); err != nil {
			return backoff.Permanent(rejected(op, resp.StatusCode, fmt.Sprintf("malformed response: %v", err)))
		}
		body = decoded
		return nil
	}

	delay := c.cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), 1), ctx)
	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{"op": op, "attempt": attempt, "retry_in": wait}).
			Warnf("gateway call failed, retrying: %v", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) headers() map[string]string {
	if c.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func (c *Client) returnURL(orderID string) string {
	if c.cfg.ReturnURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(c.cfg.ReturnURL, "?") {
		sep = "&"
	}
	return c.cfg.ReturnURL + sep + "orderId=" + orderID
}
