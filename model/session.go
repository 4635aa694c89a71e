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
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	StatusInitiated        SessionStatus = "INITIATED"
	StatusAwaitingOutcome  SessionStatus = "AWAITING_OUTCOME"
	StatusResolved         SessionStatus = "RESOLVED"
	StatusActivated        SessionStatus = "ACTIVATED"
	StatusActivationFailed SessionStatus = "ACTIVATION_FAILED"
	StatusArchived         SessionStatus = "ARCHIVED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []SessionStatus{
	StatusInitiated,
	StatusAwaitingOutcome,
	StatusResolved,
	StatusActivated,
	StatusActivationFailed,
	StatusArchived,
}

// Rank orders statuses along the lifecycle. Unknown statuses rank below everything.
func (s SessionStatus) Rank() int {
	switch s {
	case StatusInitiated:
		return 1
	case StatusAwaitingOutcome:
		return 2
	case StatusResolved:
		return 3
	case StatusActivated, StatusActivationFailed:
		return 4
	case StatusArchived:
		return 5
	default:
		return 0
	}
}

// IsValid reports whether s is one of the known statuses.
func (s SessionStatus) IsValid() bool {
	return s.Rank() > 0
}

// IsDecided reports whether an outcome has been recorded for the session.
func (s SessionStatus) IsDecided() bool {
	return s.Rank() >= StatusResolved.Rank()
}

// CanMoveTo reports whether a session in status s may be moved to next.
// A decided session can never go back to INITIATED or AWAITING_OUTCOME, and nothing leaves ARCHIVED.
// ACTIVATION_FAILED may move back to RESOLVED so a retried activation can record its attempts.
func (s SessionStatus) CanMoveTo(next SessionStatus) bool {
	if !next.IsValid() || !s.IsValid() {
		return false
	}
	if s == StatusArchived {
		return false
	}
	if s.IsDecided() && !next.IsDecided() {
		return false
	}
	if s == StatusActivated && next != StatusActivated && next != StatusArchived {
		return false
	}
	return true
}

// Payer is the person paying for the plan, as captured at initiation.
type Payer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// FirstName returns the first word of the payer's name.
func (p Payer) FirstName() string {
	first, _ := splitName(p.Name)
	return first
}

// LastName returns everything after the first word of the payer's name.
func (p Payer) LastName() string {
	_, last := splitName(p.Name)
	return last
}

// Account carries the registration profile used when the account is activated.
// Password holds a sealed token, never the plain text.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Grade    string `json:"grade"`
}

// CheckoutSession is the orchestration state for one order.
type CheckoutSession struct {
	OrderID     string            `json:"order_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	PlanID      string            `json:"plan_id"`
	Payer       Payer             `json:"payer"`
	Account     Account           `json:"account"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
	Status      SessionStatus     `json:"status"`
	Outcome     *Outcome          `json:"outcome,omitempty"`
	Activation  *ActivationRecord `json:"activation,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	ActivatedAt *time.Time        `json:"activated_at,omitempty"`
	ArchivedAt  *time.Time        `json:"archived_at,omitempty"`
}

// Clone returns a deep copy so callers can never mutate stored state through a shared pointer.
func (s *CheckoutSession) Clone() *CheckoutSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Outcome != nil {
		o := *s.Outcome
		c.Outcome = &o
	}
	if s.Activation != nil {
		a := *s.Activation
		if s.Activation.LastAttemptAt != nil {
			a.LastAttemptAt = timePtr(*s.Activation.LastAttemptAt)
		}
		c.Activation = &a
	}
	if s.ResolvedAt != nil {
		c.ResolvedAt = timePtr(*s.ResolvedAt)
	}
	if s.ActivatedAt != nil {
		c.ActivatedAt = timePtr(*s.ActivatedAt)
	}
	if s.ArchivedAt != nil {
		c.ArchivedAt = timePtr(*s.ArchivedAt)
	}
	return &c
}

// OutcomeKind returns the kind of the recorded outcome, or an empty kind when undecided.
func (s *CheckoutSession) OutcomeKind() OutcomeKind {
	if s.Outcome == nil {
		return ""
	}
	return s.Outcome.Kind
}

// PendingActivation reports whether the payment succeeded but the account is not yet active.
func (s *CheckoutSession) PendingActivation() bool {
	if s.OutcomeKind() != OutcomeSucceeded {
		return false
	}
	if s.Activation != nil && s.Activation.Succeeded {
		return false
	}
	return s.Status == StatusResolved || s.Status == StatusActivationFailed
}

// Transition describes the change applied by a compare-and-set on a session.
// Nil fields leave the stored value untouched.
type Transition struct {
	Status      SessionStatus
	Outcome     *Outcome
	Activation  *ActivationRecord
	CheckoutURL string
	// ExpectOutcome, when set, additionally requires the stored outcome to be of this kind.
	ExpectOutcome OutcomeKind
	At            time.Time
}

// Apply writes the transition onto s. Callers must have checked the guard first.
func (t Transition) Apply(s *CheckoutSession) {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	s.Status = t.Status
	s.UpdatedAt = at.UTC()
	if t.CheckoutURL != "" {
		s.CheckoutURL = t.CheckoutURL
	}
	if t.Outcome != nil {
		o := *t.Outcome
		s.Outcome = &o
		s.ResolvedAt = timePtr(at)
	}
	if t.Activation != nil {
		a := *t.Activation
		s.Activation = &a
	}
	switch t.Status {
	case StatusActivated:
		if s.ActivatedAt == nil {
			s.ActivatedAt = timePtr(at)
		}
	case StatusArchived:
		s.ArchivedAt = timePtr(at)
	}
}

// Matches reports whether the stored session satisfies the transition guard.
func (t Transition) Matches(s *CheckoutSession, expected SessionStatus) bool {
	if s.Status != expected {
		return false
	}
	if t.ExpectOutcome != "" && s.OutcomeKind() != t.ExpectOutcome {
		return false
	}
	return true
}

// Allowed reports whether the transition respects status monotonicity from the stored state.
func (t Transition) Allowed(s *CheckoutSession) bool {
	return s.Status.CanMoveTo(t.Status)
}

func splitName(name string) (string, string) {
	first, rest, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(rest)
}
