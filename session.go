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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/checkout/arbiter"
	"github.com/blnkfinance/checkout/gateway"
	"github.com/blnkfinance/checkout/internal/notification"
	"github.com/blnkfinance/checkout/model"
	"github.com/blnkfinance/checkout/signals"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventSucceeded        = "session.succeeded"
	EventFailed           = "session.failed"
	EventTimedOut         = "session.timed_out"
	EventActivated        = "session.activated"
	EventActivationFailed = "session.activation_failed"
)

// BeginRequest starts the purchase of a plan. Amount and Currency are only used when no
// plan catalog is configured.
type BeginRequest struct {
	PlanID   string
	Amount   decimal.Decimal
	Currency string
	Payer    model.Payer
	Account  model.Account
}

func (r BeginRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.PlanID) == "" {
		missing = append(missing, "plan_id")
	}
	if strings.TrimSpace(r.Payer.Name) == "" {
		missing = append(missing, "payer.name")
	}
	if strings.TrimSpace(r.Payer.Phone) == "" {
		missing = append(missing, "payer.phone")
	}
	if strings.TrimSpace(r.Payer.Email) == "" {
		missing = append(missing, "payer.email")
	}
	if strings.TrimSpace(r.Account.Username) == "" {
		missing = append(missing, "account.username")
	}
	if r.Account.Password == "" {
		missing = append(missing, "account.password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Begin persists a new session, opens the hosted checkout and starts watching for the outcome.
// The session is stored as INITIATED before the gateway is called so a crash in between is
// recoverable. A gateway failure resolves the session as FAILED and returns ErrCheckoutFailed.
func (o *Orchestrator) Begin(ctx context.Context, req BeginRequest) (*model.CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "Beginning checkout")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	amount, currency := req.Amount, req.Currency
	if o.catalog != nil {
		plan, err := o.catalog.Plan(ctx, req.PlanID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		amount, currency = plan.Price, plan.Currency
	}
	if !amount.IsPositive() {
		return nil, ErrFreePlan
	}
	if currency == "" {
		currency = o.cfg.Currency
	}

	account := req.Account
	if o.sealer != nil {
		sealed, err := o.sealer.Seal(account.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to seal account password: %w", err)
		}
		account.Password = sealed
	}

	now := time.Now().UTC()
	session := &model.CheckoutSession{
		OrderID:   model.GenerateOrderID(now),
		Amount:    amount,
		Currency:  currency,
		PlanID:    req.PlanID,
		Payer:     req.Payer,
		Account:   account,
		Status:    model.StatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("order_id", session.OrderID))
	log := logrus.WithField("order_id", session.OrderID)

	if err := o.store.Put(ctx, session); err != nil {
		span.RecordError(err)
		return nil, err
	}
	log.WithField("plan_id", req.PlanID).Info("checkout session created")

	co, err := o.gateway.Initiate(ctx, gateway.InitiateRequest{
		OrderID:  session.OrderID,
		Amount:   amount,
		Currency: currency,
		Payer:    req.Payer,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.failInitiation(ctx, session, err)
	}

	ok, err := o.store.CompareAndSetStatus(ctx, session.OrderID, model.StatusInitiated, model.Transition{
		Status:      model.StatusAwaitingOutcome,
		CheckoutURL: co.CheckoutURL,
		At:          time.Now(),
	})
	if err != nil {
		return nil, err
	}
	current, err := o.store.Get(ctx, session.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Cancelled while the gateway call was in flight.
		return current, nil
	}
	log.Info("hosted checkout opened, awaiting payment outcome")

	o.watch(current, arbiter.ModeAwait, o.poller, o.redirect, o.deepLink)
	return current, nil
}

func (o *Orchestrator) failInitiation(ctx context.Context, s *model.CheckoutSession, cause error) (*model.CheckoutSession, error) {
	reason := "payment gateway unavailable"
	if errors.Is(cause, gateway.ErrRejected) {
		reason = "payment gateway rejected the checkout"
	}
	outcome := model.Failed(reason, "", time.Now())
	ok, err := o.store.CompareAndSetStatus(ctx, s.OrderID, model.StatusInitiated, model.Transition{
		Status:  model.StatusResolved,
		Outcome: &outcome,
		At:      time.Now(),
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("order_id", s.OrderID).Errorf("checkout initiation failed: %v", cause)

	current, err := o.store.Get(ctx, s.OrderID)
	if err != nil {
		return nil, err
	}
	if ok {
		o.notify(ctx, EventFailed, current)
	}
	return current, fmt.Errorf("%w: %s", ErrCheckoutFailed, reason)
}

// watch runs an arbitration for the session in the background and activates on success.
func (o *Orchestrator) watch(s *model.CheckoutSession, mode arbiter.Mode, sources ...signals.Source) bool {
	started := o.spawn(s.OrderID, func(ctx context.Context) {
		res, err := o.arbiter.Run(ctx, arbiter.Watch{Session: s, Sources: sources, Mode: mode})
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithField("order_id", s.OrderID).Errorf("arbitration failed: %v", err)
			}
			return
		}
		o.afterResolve(ctx, res)
	})
	if !started {
		logrus.WithField("order_id", s.OrderID).Warn("session already being watched in this process")
	}
	return started
}

func (o *Orchestrator) afterResolve(ctx context.Context, res arbiter.Result) {
	if res.Session == nil {
		return
	}
	if res.Won {
		switch res.Outcome.Kind {
		case model.OutcomeSucceeded:
			o.notify(ctx, EventSucceeded, res.Session)
		case model.OutcomeFailed:
			o.notify(ctx, EventFailed, res.Session)
		case model.OutcomeTimedOut:
			o.notify(ctx, EventTimedOut, res.Session)
		}
	}
	if res.Session.Status == model.StatusResolved && res.Outcome.Kind == model.OutcomeSucceeded {
		o.activate(ctx, res.Session.OrderID)
	}
}

func (o *Orchestrator) activate(ctx context.Context, orderID string) {
	_, err := o.activator.Activate(ctx, orderID)
	o.reportActivation(ctx, orderID, err)
}

func (o *Orchestrator) reportActivation(ctx context.Context, orderID string, err error) {
	log := logrus.WithField("order_id", orderID)
	if err != nil && ctx.Err() != nil {
		log.Warn("activation interrupted, it resumes on the next start")
		return
	}
	current, gerr := o.store.Get(ctx, orderID)
	if gerr != nil {
		log.Errorf("failed to read session after activation: %v", gerr)
		return
	}
	switch current.Status {
	case model.StatusActivated:
		o.notify(ctx, EventActivated, current)
	case model.StatusActivationFailed:
		o.notify(ctx, EventActivationFailed, current)
		if err != nil {
			notification.NotifyError(fmt.Errorf("order %s: %w", orderID, err))
		}
	}
	if err != nil {
		log.Errorf("activation did not complete: %v", err)
	}
}

// Get returns the stored session.
func (o *Orchestrator) Get(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	return o.store.Get(ctx, orderID)
}

// View returns the presentation projection of the session.
func (o *Orchestrator) View(ctx context.Context, orderID string) (model.SessionView, error) {
	s, err := o.store.Get(ctx, orderID)
	if err != nil {
		return model.SessionView{}, err
	}
	return s.View(), nil
}

// ObserveNavigation feeds a checkout page navigation to the redirect observer.
func (o *Orchestrator) ObserveNavigation(ctx context.Context, orderID, rawURL string) (model.PaymentStatus, bool, error) {
	if _, err := o.store.Get(ctx, orderID); err != nil {
		return "", false, err
	}
	status, accepted := o.redirect.Observe(orderID, rawURL)
	return status, accepted, nil
}

// DeliverDeepLink hands a platform callback to the deep link listener.
func (o *Orchestrator) DeliverDeepLink(ctx context.Context, rawURL string) (model.SignalEvent, error) {
	_, span := tracer.Start(ctx, "Delivering deep link")
	defer span.End()
	ev, err := o.deepLink.Deliver(rawURL)
	if err != nil {
		span.RecordError(err)
	}
	return ev, err
}

// Watching reports whether the order can currently receive navigations and deep links.
func (o *Orchestrator) Watching(orderID string) bool {
	return o.deepLink.Watching(orderID) && o.redirect.Watching(orderID)
}

// Cancel aborts a checkout on behalf of the user. The session is moved away from awaiting
// first so no source can resolve it afterwards; then the watch is stopped.
func (o *Orchestrator) Cancel(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "Cancelling checkout", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	outcome := model.Failed("cancelled by user", "", time.Now())
	// Lifecycle order: a miss on INITIATED means the session already moved on to awaiting.
	for _, expected := range []model.SessionStatus{model.StatusInitiated, model.StatusAwaitingOutcome} {
		ok, err := o.store.CompareAndSetStatus(ctx, orderID, expected, model.Transition{
			Status:  model.StatusResolved,
			Outcome: &outcome,
			At:      time.Now(),
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		o.halt(orderID)
		logrus.WithField("order_id", orderID).Info("checkout cancelled by user")
		current, err := o.store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		o.notify(ctx, EventFailed, current)
		return current, nil
	}

	current, err := o.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return current, ErrAlreadyDecided
}

// Acknowledge archives a session whose result the user has seen. Timed out sessions and paid
// sessions still waiting for activation cannot be acknowledged.
func (o *Orchestrator) Acknowledge(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	s, err := o.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.Status == model.StatusArchived {
		return s, nil
	}
	acknowledgeable := s.Status == model.StatusActivated ||
		s.Status == model.StatusActivationFailed ||
		(s.Status == model.StatusResolved && s.OutcomeKind() == model.OutcomeFailed)
	if !acknowledgeable {
		return s, ErrNotAcknowledgeable
	}
	if err := o.archive(ctx, s); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, orderID)
}

func (o *Orchestrator) archive(ctx context.Context, s *model.CheckoutSession) error {
	ok, err := o.store.CompareAndSetStatus(ctx, s.OrderID, s.Status, model.Transition{
		Status:        model.StatusArchived,
		ExpectOutcome: s.OutcomeKind(),
		At:            time.Now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session changed while archiving", ErrAlreadyDecided)
	}
	logrus.WithFields(logrus.Fields{"order_id": s.OrderID, "from": s.Status}).Info("session archived")
	return nil
}
