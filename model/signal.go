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

package model

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus is the normalized status of a payment as reported by any source.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether the status ends the wait for an outcome.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentSuccess || p == PaymentFailed || p == PaymentCancelled
}

// SignalSource names the channel an event came from.
type SignalSource string

const (
	SourcePoller   SignalSource = "POLLER"
	SourceRedirect SignalSource = "REDIRECT"
	SourceDeepLink SignalSource = "DEEP_LINK"
)

// ParseSignalSource parses a source name case-insensitively.
func ParseSignalSource(s string) (SignalSource, error) {
	switch SignalSource(strings.ToUpper(strings.TrimSpace(s))) {
	case SourcePoller:
		return SourcePoller, nil
	case SourceRedirect:
		return SourceRedirect, nil
	case SourceDeepLink, "DEEPLINK":
		return SourceDeepLink, nil
	}
	return "", fmt.Errorf("unknown signal source %q", s)
}

// Confidence is how much a source trusts its own observation.
type Confidence string

const (
	ConfidenceConfirmed Confidence = "CONFIRMED"
	ConfidenceTentative Confidence = "TENTATIVE"
)

// SignalEvent is one observation of a payment outcome. Events are never persisted.
type SignalEvent struct {
	Source     SignalSource  `json:"source"`
	OrderID    string        `json:"order_id"`
	RawStatus  string        `json:"raw_status"`
	Status     PaymentStatus `json:"status"`
	Confidence Confidence    `json:"confidence"`
	GatewayRef string        `json:"gateway_ref,omitempty"`
	ObservedAt time.Time     `json:"observed_at"`
}
