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

package signals

import (
	"context"
	"strings"
	"time"

	"github.com/blnkfinance/checkout/model"
	"github.com/sirupsen/logrus"
)

// RedirectPatterns are substrings matched against the checkout page URL.
type RedirectPatterns struct {
	Success []string
	Failure []string
	Cancel  []string
}

// DefaultRedirectPatterns are the patterns used when none are configured. They stick to
// page markers; bare words such as "cancel" or "error" also occur in query parameter names.
func DefaultRedirectPatterns() RedirectPatterns {
	return RedirectPatterns{
		Success: []string{"payment-success", "completed"},
		Failure: []string{"payment-failed", "failed", "/error"},
		Cancel:  []string{"cancelled", "canceled"},
	}
}

// Match classifies a URL. Cancel and failure patterns are checked before success so a
// URL that mentions both never reads as a success.
func (p RedirectPatterns) Match(rawURL string) model.PaymentStatus {
	u := strings.ToLower(rawURL)
	switch {
	case containsAny(u, p.Cancel):
		return model.PaymentCancelled
	case containsAny(u, p.Failure):
		return model.PaymentFailed
	case containsAny(u, p.Success):
		return model.PaymentSuccess
	default:
		return model.PaymentPending
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// RedirectObserver turns checkout page navigations reported by the presentation layer into
// tentative events. One observer serves every order.
type RedirectObserver struct {
	patterns RedirectPatterns
	orders   *registry
}

func NewRedirectObserver(patterns RedirectPatterns) *RedirectObserver {
	return &RedirectObserver{patterns: patterns, orders: newRegistry()}
}

func (r *RedirectObserver) Kind() model.SignalSource {
	return model.SourceRedirect
}

func (r *RedirectObserver) Start(ctx context.Context, orderID string, emit Emitter) CancelFunc {
	return r.orders.register(ctx, orderID, emit)
}

// Observe matches a navigation for the order. It returns the matched status and whether an
// event was accepted. Navigations for orders not being watched are ignored.
func (r *RedirectObserver) Observe(orderID, rawURL string) (model.PaymentStatus, bool) {
	log := logrus.WithFields(logrus.Fields{"order_id": orderID, "source": model.SourceRedirect})

	status := r.patterns.Match(rawURL)
	if !status.IsTerminal() {
		return status, false
	}

	w, ok := r.orders.take(orderID)
	if !ok {
		log.Warn("navigation for an order that is not being watched, ignoring")
		return status, false
	}

	accepted := w.emit(model.SignalEvent{
		Source:     model.SourceRedirect,
		OrderID:    orderID,
		RawStatus:  rawURL,
		Status:     status,
		Confidence: model.ConfidenceTentative,
		ObservedAt: time.Now().UTC(),
	})
	if !accepted {
		log.Warn("redirect event refused, session already decided")
	}
	return status, accepted
}

// Watching reports whether the order is currently registered.
func (r *RedirectObserver) Watching(orderID string) bool {
	_, ok := r.orders.lookup(orderID)
	return ok
}
