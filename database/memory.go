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
	"sort"
	"sync"

	"github.com/blnkfinance/checkout/model"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.CheckoutSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.CheckoutSession)}
}

func (m *MemoryStore) Put(_ context.Context, session *model.CheckoutSession) error {
	if err := validateNew(session); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.OrderID]; ok {
		return ErrExists
	}
	m.sessions[session.OrderID] = session.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, orderID string) (*model.CheckoutSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) CompareAndSetStatus(_ context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[orderID]
	if !ok {
		return false, ErrNotFound
	}
	swap, err := guard(current, expected, t)
	if !swap || err != nil {
		return false, err
	}
	next := current.Clone()
	t.Apply(next)
	m.sessions[orderID] = next
	return true, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status model.SessionStatus) ([]*model.CheckoutSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CheckoutSession
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
