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

package mocks

import (
	"context"

	"github.com/blnkfinance/checkout/model"
	"github.com/stretchr/testify/mock"
)

// MockSessionStore is a mock implementation of database.SessionStore.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Put(ctx context.Context, session *model.CheckoutSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionStore) Get(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	args := m.Called(ctx, orderID)
	if s, ok := args.Get(0).(*model.CheckoutSession); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) CompareAndSetStatus(ctx context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error) {
	args := m.Called(ctx, orderID, expected, t)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionStore) ListByStatus(ctx context.Context, status model.SessionStatus) ([]*model.CheckoutSession, error) {
	args := m.Called(ctx, status)
	if s, ok := args.Get(0).([]*model.CheckoutSession); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
