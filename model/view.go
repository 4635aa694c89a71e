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

// Action is what the presentation layer should offer next.
type Action string

const (
	ActionNone            Action = "none"
	ActionOpenCheckout    Action = "open_checkout"
	ActionRetryPayment    Action = "retry_payment"
	ActionCheckStatus     Action = "check_status"
	ActionRetryActivation Action = "retry_activation"
)

// SessionView is the read-only projection handed to the presentation layer.
type SessionView struct {
	OrderID     string        `json:"order_id"`
	PlanID      string        `json:"plan_id"`
	Amount      string        `json:"amount"`
	Status      SessionStatus `json:"status"`
	Outcome     OutcomeKind   `json:"outcome,omitempty"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	Message     string        `json:"message"`
	Action      Action        `json:"action"`
	Attempts    int           `json:"activation_attempts,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	ActivatedAt *time.Time    `json:"activated_at,omitempty"`
}

// View projects the session for display. Activation failures are never worded as payment failures.
func (s *CheckoutSession) View() SessionView {
	v := SessionView{
		OrderID:     s.OrderID,
		PlanID:      s.PlanID,
		Amount:      s.Amount.String(),
		Status:      s.Status,
		Outcome:     s.OutcomeKind(),
		CheckoutURL: s.CheckoutURL,
		CreatedAt:   s.CreatedAt,
		ResolvedAt:  s.ResolvedAt,
		ActivatedAt: s.ActivatedAt,
		Action:      ActionNone,
	}
	if s.Activation != nil {
		v.Attempts = s.Activation.AttemptCount
	}

	switch s.Status {
	case StatusInitiated:
		v.Message = "Preparing checkout"
	case StatusAwaitingOutcome:
		v.Message = "Waiting for payment confirmation"
		v.Action = ActionOpenCheckout
	case StatusResolved:
		switch s.OutcomeKind() {
		case OutcomeSucceeded:
			v.Message = "Payment received, activating your account"
		case OutcomeFailed:
			v.Message = "Payment was not completed"
			if s.Outcome.Reason != "" {
				v.Message = "Payment was not completed: " + s.Outcome.Reason
			}
			v.Action = ActionRetryPayment
		case OutcomeTimedOut:
			v.Message = "We could not confirm your payment yet. Check the status again later"
			v.Action = ActionCheckStatus
		}
	case StatusActivated:
		v.Message = "Payment received and account activated"
	case StatusActivationFailed:
		v.Message = "Payment succeeded but activation failed. Retry activation"
		v.Action = ActionRetryActivation
	case StatusArchived:
		v.Message = "Session closed"
	}
	return v
}
