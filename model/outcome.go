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

import "time"

// OutcomeKind is the terminal result of arbitration.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "SUCCEEDED"
	OutcomeFailed    OutcomeKind = "FAILED"
	OutcomeTimedOut  OutcomeKind = "TIMED_OUT"
)

// Outcome is the write-once decision recorded for a session.
type Outcome struct {
	Kind       OutcomeKind  `json:"kind"`
	GatewayRef string       `json:"gateway_ref,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Source     SignalSource `json:"source,omitempty"`
	DecidedAt  time.Time    `json:"decided_at"`
}

// Succeeded builds a successful outcome carrying the gateway reference.
func Succeeded(gatewayRef string, source SignalSource, at time.Time) Outcome {
	return Outcome{Kind: OutcomeSucceeded, GatewayRef: gatewayRef, Source: source, DecidedAt: at.UTC()}
}

// Failed builds a failed outcome with a reason.
func Failed(reason string, source SignalSource, at time.Time) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Source: source, DecidedAt: at.UTC()}
}

// TimedOut builds the outcome used when no source reported in time.
func TimedOut(at time.Time) Outcome {
	return Outcome{Kind: OutcomeTimedOut, Reason: "no payment outcome observed before the session timeout", DecidedAt: at.UTC()}
}

// OutcomeFromStatus maps a terminal payment status to an outcome. Pending has no outcome.
func OutcomeFromStatus(ev SignalEvent) (Outcome, bool) {
	switch ev.Status {
	case PaymentSuccess:
		ref := ev.GatewayRef
		if ref == "" {
			ref = ev.OrderID
		}
		return Succeeded(ref, ev.Source, ev.ObservedAt), true
	case PaymentFailed:
		return Failed("payment failed", ev.Source, ev.ObservedAt), true
	case PaymentCancelled:
		return Failed("payment cancelled", ev.Source, ev.ObservedAt), true
	default:
		return Outcome{}, false
	}
}
