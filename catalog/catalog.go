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

// Package catalog reads the selectable subscription plans from the plan catalog service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/internal/cache"
	"github.com/blnkfinance/checkout/internal/request"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	plansPath = "/api/plans"
	cacheKey  = "catalog:plans"
)

var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrUnavailable  = errors.New("plan catalog unavailable")
)

// Plan is a subscription plan as offered by the catalog.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency,omitempty"`
	DurationDays int             `json:"duration_days"`
}

// Paid reports whether the plan requires a checkout.
func (p Plan) Paid() bool {
	return p.Price.IsPositive()
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	ttl        time.Duration
}

// NewClient builds a catalog client. c may be nil, in which case every call goes to the service.
func NewClient(cfg config.CatalogConfig, c cache.Cache) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      c,
		ttl:        cfg.CacheTTL,
	}
}

// Plans lists the catalog, serving from cache while the entry is fresh.
func (c *Client) Plans(ctx context.Context) ([]Plan, error) {
	if c.cache != nil {
		var raw []byte
		err := c.cache.Get(ctx, cacheKey, &raw)
		if err == nil {
			if plans, err := decodePlans(raw); err == nil {
				return plans, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.Warnf("plan cache read failed: %v", err)
		}
	}

	raw, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	plans, err := decodePlans(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(ctx, cacheKey, raw, c.ttl); err != nil {
			logrus.Warnf("plan cache write failed: %v", err)
		}
	}
	return plans, nil
}

// Plan returns a single plan by id.
func (c *Client) Plan(ctx context.Context, id string) (Plan, error) {
	plans, err := c.Plans(ctx)
	if err != nil {
		return Plan{}, err
	}
	for _, p := range plans {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
}

// Invalidate drops the cached catalog.
func (c *Client) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, cacheKey)
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	resp, err := request.Do(ctx, c.httpClient, http.MethodGet, c.baseURL+plansPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return resp.Body, nil
}

// decodePlans accepts either a bare array or a {"data": [...]} envelope.
func decodePlans(raw []byte) ([]Plan, error) {
	var plans []Plan
	if err := json.Unmarshal(raw, &plans); err == nil {
		return plans, nil
	}
	var envelope struct {
		Data []Plan `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, errors.New("catalog response has no plans")
	}
	return envelope.Data, nil
}
