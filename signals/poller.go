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
	"time"

	"github.com/blnkfinance/checkout/gateway"
	"github.com/blnkfinance/checkout/model"
	"github.com/sirupsen/logrus"
)

// Verifier is the part of the gateway client the poller needs.
type Verifier interface {
	Verify(ctx context.Context, orderID string) (*gateway.Verification, error)
}

// Poller asks the gateway for the payment status on a fixed interval.
type Poller struct {
	verifier Verifier
	interval time.Duration
	ceiling  time.Duration
}

// NewPoller returns a poller. A zero ceiling polls until cancelled.
func NewPoller(verifier Verifier, interval, ceiling time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{verifier: verifier, interval: interval, ceiling: ceiling}
}

func (p *Poller) Kind() model.SignalSource {
	return model.SourcePoller
}

// Start polls immediately and then on every tick until a terminal status is emitted,
// the emitter refuses an event, the ceiling elapses or the watch is cancelled.
func (p *Poller) Start(ctx context.Context, orderID string, emit Emitter) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go p.run(ctx, orderID, emit)

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (p *Poller) run(ctx context.Context, orderID string, emit Emitter) {
	log := logrus.WithFields(logrus.Fields{"order_id": orderID, "source": model.SourcePoller})
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var deadline time.Time
	if p.ceiling > 0 {
		deadline = time.Now().Add(p.ceiling)
	}

	log.Debugf("poller started with interval: %v", p.interval)
	if p.poll(ctx, orderID, emit, log) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug("poller stopped")
			return
		case <-ticker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				log.Info("poller reached its ceiling without a terminal status")
				return
			}
			if p.poll(ctx, orderID, emit, log) {
				return
			}
		}
	}
}

// poll runs one verify and reports whether polling should stop.
func (p *Poller) poll(ctx context.Context, orderID string, emit Emitter, log *logrus.Entry) bool {
	v, err := p.verifier.Verify(ctx, orderID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		log.Errorf("verify failed, will retry on next tick: %v", err)
		return false
	}
	if !v.Status.IsTerminal() {
		log.Debugf("payment still pending (raw status %q)", v.RawStatus)
		return false
	}

	observedAt := v.CheckedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	accepted := emit(model.SignalEvent{
		Source:     model.SourcePoller,
		OrderID:    orderID,
		RawStatus:  v.RawStatus,
		Status:     v.Status,
		Confidence: model.ConfidenceConfirmed,
		GatewayRef: v.GatewayRef,
		ObservedAt: observedAt,
	})
	if !accepted {
		log.Warn("poller event refused, session already decided")
	}
	return true
}
