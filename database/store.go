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

package database

import (
	"context"
	"errors"

	"github.com/blnkfinance/checkout/model"
)

var (
	// ErrNotFound is returned when no session exists for an order.
	ErrNotFound = errors.New("checkout session not found")
	// ErrExists is returned by Put when the order already has a session.
	ErrExists = errors.New("checkout session already exists")
	// ErrInvalidTransition is returned when a compare-and-set would move a session backwards.
	ErrInvalidTransition = errors.New("invalid checkout session transition")
)

// SessionStore persists checkout sessions. CompareAndSetStatus is the only way a stored
// session changes after creation.
type SessionStore interface {
	// Put creates a new session record.
	Put(ctx context.Context, session *model.CheckoutSession) error
	Get(ctx context.Context, orderID string) (*model.CheckoutSession, error)
	// CompareAndSetStatus applies t only if the stored status equals expected (and the stored
	// outcome kind equals t.ExpectOutcome when set). It reports whether the write happened.
	CompareAndSetStatus(ctx context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error)
	ListByStatus(ctx context.Context, status model.SessionStatus) ([]*model.CheckoutSession, error)
}

// guard evaluates a compare-and-set against the current record.
func guard(current *model.CheckoutSession, expected model.SessionStatus, t model.Transition) (bool, error) {
	if !t.Matches(current, expected) {
		return false, nil
	}
	if !t.Allowed(current) {
		return false, ErrInvalidTransition
	}
	return true, nil
}

func validateNew(session *model.CheckoutSession) error {
	if session == nil || session.OrderID == "" {
		return errors.New("checkout session requires an order id")
	}
	if !session.Status.IsValid() {
		return ErrInvalidTransition
	}
	return nil
}
