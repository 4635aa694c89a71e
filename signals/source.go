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
	"sync"

	"github.com/blnkfinance/checkout/model"
)

// Emitter hands an event to whoever watches the order. It returns false when the session
// no longer accepts events; a source stops emitting once refused.
type Emitter func(event model.SignalEvent) bool

// CancelFunc stops a started source. It is safe to call more than once.
type CancelFunc func()

// Source observes one channel for the outcome of an order.
type Source interface {
	Kind() model.SignalSource
	Start(ctx context.Context, orderID string, emit Emitter) CancelFunc
}

type watch struct {
	ctx  context.Context
	emit Emitter
}

// registry tracks the orders a long-lived source currently watches.
type registry struct {
	mu      sync.Mutex
	watches map[string]*watch
}

func newRegistry() *registry {
	return &registry{watches: make(map[string]*watch)}
}

func (r *registry) register(ctx context.Context, orderID string, emit Emitter) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	w := &watch{ctx: ctx, emit: emit}

	r.mu.Lock()
	r.watches[orderID] = w
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			r.remove(orderID, w)
		})
	}
}

func (r *registry) remove(orderID string, w *watch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watches[orderID] == w {
		delete(r.watches, orderID)
	}
}

// lookup returns the live watch for the order, dropping it when its context has ended.
func (r *registry) lookup(orderID string) (*watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[orderID]
	if !ok {
		return nil, false
	}
	if w.ctx.Err() != nil {
		delete(r.watches, orderID)
		return nil, false
	}
	return w, true
}

// take removes and returns the live watch for the order.
func (r *registry) take(orderID string) (*watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[orderID]
	if !ok {
		return nil, false
	}
	delete(r.watches, orderID)
	if w.ctx.Err() != nil {
		return nil, false
	}
	return w, true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}
