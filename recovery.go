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

package checkout

import (
	"context"
	"time"

	"github.com/blnkfinance/checkout/activation"
	"github.com/blnkfinance/checkout/arbiter"
	"github.com/blnkfinance/checkout/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResumeReport counts what Resume picked up.
type ResumeReport struct {
	Watching   int `json:"watching"`
	Activating int `json:"activating"`
}

// Resume picks up sessions left unfinished by a previous process. Undecided sessions get a
// poller-only watch, since deep links and redirects do not survive a restart. Paid sessions
// that never reached ACTIVATED are activated again.
func (o *Orchestrator) Resume(ctx context.Context) (ResumeReport, error) {
	ctx, span := tracer.Start(ctx, "Resuming sessions")
	defer span.End()

	var report ResumeReport

	initiated, err := o.store.ListByStatus(ctx, model.StatusInitiated)
	if err != nil {
		return report, err
	}
	for _, s := range initiated {
		ok, err := o.store.CompareAndSetStatus(ctx, s.OrderID, model.StatusInitiated, model.Transition{
			Status: model.StatusAwaitingOutcome,
			At:     time.Now(),
		})
		if err != nil {
			logrus.WithField("order_id", s.OrderID).Errorf("failed to resume initiated session: %v", err)
			continue
		}
		if ok {
			s.Status = model.StatusAwaitingOutcome
		}
	}

	awaiting, err := o.store.ListByStatus(ctx, model.StatusAwaitingOutcome)
	if err != nil {
		return report, err
	}
	for _, s := range awaiting {
		if o.watch(s, arbiter.ModeAwait, o.poller) {
			report.Watching++
			logrus.WithField("order_id", s.OrderID).Info("resumed watch with poller only")
		}
	}

	resolved, err := o.store.ListByStatus(ctx, model.StatusResolved)
	if err != nil {
		return report, err
	}
	for _, s := range resolved {
		if !s.PendingActivation() {
			continue
		}
		orderID := s.OrderID
		if o.spawn(orderID, func(ctx context.Context) { o.activate(ctx, orderID) }) {
			report.Activating++
			logrus.WithField("order_id", orderID).Info("resumed pending activation")
		}
	}

	span.SetAttributes(attribute.Int("watching", report.Watching), attribute.Int("activating", report.Activating))
	return report, nil
}

// CheckStatus re-attaches the poller to a timed out session without charging again. A verified
// outcome replaces the timeout; if the gateway still reports nothing the timeout stands.
func (o *Orchestrator) CheckStatus(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	_, span := tracer.Start(ctx, "Checking payment status", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	s, err := o.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Status == model.StatusAwaitingOutcome:
		return s, nil
	case s.Status == model.StatusResolved && s.OutcomeKind() == model.OutcomeTimedOut:
	default:
		return s, ErrNotTimedOut
	}

	if !o.watch(s, arbiter.ModeRecheck, o.poller) && o.isClosed() {
		return s, ErrShuttingDown
	}
	logrus.WithField("order_id", orderID).Info("status recheck started")
	return s, nil
}

// RetryActivation runs activation again for a paid session whose activation failed. It blocks
// until the new attempts finish.
func (o *Orchestrator) RetryActivation(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "Retrying activation", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	s, err := o.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.Status == model.StatusActivated {
		return s, nil
	}
	if !s.PendingActivation() {
		return s, activation.ErrNotEligible
	}
	if o.Busy(orderID) {
		return s, activation.ErrInProgress
	}

	_, err = o.activator.Retry(ctx, orderID)
	o.reportActivation(ctx, orderID, err)

	current, gerr := o.store.Get(ctx, orderID)
	if gerr != nil {
		return nil, gerr
	}
	return current, err
}

// Sweep archives terminal sessions untouched for longer than the retention window. Sessions
// whose paid activation is still pending, or that are still undecided, are kept.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Sweeping sessions")
	defer span.End()

	cutoff := now.Add(-o.cfg.Retention)
	archived := 0
	for _, status := range []model.SessionStatus{model.StatusActivated, model.StatusResolved} {
		sessions, err := o.store.ListByStatus(ctx, status)
		if err != nil {
			return archived, err
		}
		for _, s := range sessions {
			if s.PendingActivation() || s.UpdatedAt.After(cutoff) {
				continue
			}
			if err := o.archive(ctx, s); err != nil {
				logrus.WithField("order_id", s.OrderID).Warnf("sweep skipped session: %v", err)
				continue
			}
			archived++
		}
	}
	span.SetAttributes(attribute.Int("archived", archived))
	if archived > 0 {
		logrus.Infof("retention sweep archived %d sessions", archived)
	}
	return archived, nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
