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
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/checkout/model"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownOrder is returned when a deep link names an order nobody is watching.
	ErrUnknownOrder = errors.New("deep link for an order that is not being watched")
	// ErrMalformedLink is returned when a deep link cannot be parsed.
	ErrMalformedLink = errors.New("malformed deep link")
	// ErrRefused is returned when the session no longer accepts the delivered event.
	ErrRefused = errors.New("deep link refused, session already decided")
)

// DeepLink is a parsed platform callback such as app://payment-success?orderId=ORDER_1.
type DeepLink struct {
	OrderID    string
	Status     model.PaymentStatus
	Action     string
	GatewayRef string
}

var deepLinkActions = map[string]model.PaymentStatus{
	"payment-success":   model.PaymentSuccess,
	"success":           model.PaymentSuccess,
	"payment-failed":    model.PaymentFailed,
	"payment-failure":   model.PaymentFailed,
	"failed":            model.PaymentFailed,
	"payment-cancelled": model.PaymentCancelled,
	"payment-canceled":  model.PaymentCancelled,
	"cancelled":         model.PaymentCancelled,
}

// ParseDeepLink parses a callback URL. The action comes from the host or, when the host is
// empty or unknown, from the first path segment. An empty scheme accepts any scheme.
func ParseDeepLink(rawURL, scheme string) (DeepLink, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return DeepLink{}, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if scheme != "" && !strings.EqualFold(u.Scheme, scheme) {
		return DeepLink{}, fmt.Errorf("%w: unexpected scheme %q", ErrMalformedLink, u.Scheme)
	}

	q := u.Query()
	link := DeepLink{OrderID: firstParam(q, "orderId", "order_id", "tx_ref")}
	if link.OrderID == "" {
		return DeepLink{}, fmt.Errorf("%w: no order id", ErrMalformedLink)
	}
	link.GatewayRef = firstParam(q, "reference", "ref", "trx_ref")

	candidates := []string{strings.ToLower(u.Host)}
	if segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/"); segment != "" {
		candidates = append(candidates, strings.ToLower(segment))
	}
	for _, c := range candidates {
		if status, ok := deepLinkActions[c]; ok {
			link.Action, link.Status = c, status
			return link, nil
		}
	}
	return DeepLink{}, fmt.Errorf("%w: unknown action in %q", ErrMalformedLink, rawURL)
}

func firstParam(q url.Values, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(q.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

// DeepLinkListener receives platform callbacks. Each watched order accepts a single delivery.
type DeepLinkListener struct {
	scheme string
	orders *registry
}

func NewDeepLinkListener(scheme string) *DeepLinkListener {
	return &DeepLinkListener{scheme: scheme, orders: newRegistry()}
}

func (l *DeepLinkListener) Kind() model.SignalSource {
	return model.SourceDeepLink
}

func (l *DeepLinkListener) Start(ctx context.Context, orderID string, emit Emitter) CancelFunc {
	return l.orders.register(ctx, orderID, emit)
}

// Deliver parses the callback and hands it to the watcher of its order.
func (l *DeepLinkListener) Deliver(rawURL string) (model.SignalEvent, error) {
	link, err := ParseDeepLink(rawURL, l.scheme)
	if err != nil {
		return model.SignalEvent{}, err
	}
	log := logrus.WithFields(logrus.Fields{"order_id": link.OrderID, "source": model.SourceDeepLink})

	w, ok := l.orders.take(link.OrderID)
	if !ok {
		log.Warn("deep link for an order that is not being watched")
		return model.SignalEvent{}, ErrUnknownOrder
	}

	event := model.SignalEvent{
		Source:     model.SourceDeepLink,
		OrderID:    link.OrderID,
		RawStatus:  link.Action,
		Status:     link.Status,
		Confidence: model.ConfidenceConfirmed,
		GatewayRef: link.GatewayRef,
		ObservedAt: time.Now().UTC(),
	}
	if !w.emit(event) {
		log.Warn("deep link refused, session already decided")
		return event, ErrRefused
	}
	log.Info("deep link delivered")
	return event, nil
}

// Watching reports whether the order can currently receive a deep link.
func (l *DeepLinkListener) Watching(orderID string) bool {
	_, ok := l.orders.lookup(orderID)
	return ok
}
