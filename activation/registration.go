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

package activation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/internal/request"
)

var (
	// ErrTransient marks registration failures worth retrying.
	ErrTransient = errors.New("registration service transient error")
	// ErrDuplicateAccount means the account already exists. Activation treats it as success.
	ErrDuplicateAccount = errors.New("account already registered")
	// ErrPermanent marks registration failures that retrying cannot fix.
	ErrPermanent = errors.New("registration rejected")
)

const registerPath = "/api/auth/register/student"

// Registration is the payload of the account registration call.
type Registration struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Grade       string `json:"grade"`
	PhoneNumber string `json:"phoneNumber"`
	Plan        string `json:"Plan"`
}

// RegistrationClient calls the account registration service.
type RegistrationClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRegistrationClient(cfg config.ActivationConfig) *RegistrationClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RegistrationClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Register creates the account. The idempotency key lets the service recognise a replay.
func (c *RegistrationClient) Register(ctx context.Context, idempotencyKey string, r Registration) error {
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	resp, err := request.Do(ctx, c.httpClient, http.MethodPost, c.baseURL+registerPath, r, headers)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return classify(resp)
}

func classify(resp *request.Response) error {
	body := strings.TrimSpace(string(resp.Body))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrDuplicateAccount
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, body)
	case resp.StatusCode >= 400 && looksDuplicate(body):
		return ErrDuplicateAccount
	default:
		return fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, body)
	}
}

func looksDuplicate(body string) bool {
	b := strings.ToLower(body)
	for _, marker := range []string{"already", "exists", "duplicate", "taken"} {
		if strings.Contains(b, marker) {
			return true
		}
	}
	return false
}
