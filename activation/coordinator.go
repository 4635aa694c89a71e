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

package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/internal/tokenization"
	"github.com/blnkfinance/checkout/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("checkout.activation")

var (
	// ErrActivationFailed is returned once the attempt budget is spent. The payment itself succeeded.
	ErrActivationFailed = errors.New("payment succeeded but activation failed, retry activation")
	// ErrNotEligible is returned for sessions without a successful payment.
	ErrNotEligible = errors.New("session has no successful payment to activate")
	// ErrInProgress is returned when another process holds the activation lock.
	ErrInProgress = errors.New("activation already in progress")
)

// Registrar performs the account registration call.
type Registrar interface {
	Register(ctx context.Context, idempotencyKey string, r Registration) error
}

// Opener unseals stored credentials.
type Opener interface {
	Open(token string) (string, error)
}

// Lock guards activation of one order across processes.
type Lock interface {
	Lock(ctx context.Context, ttl time.Duration) error
	Unlock(ctx context.Context) error
	// ExtendLock pushes the expiry out by ttl. It fails once another holder owns the lock.
	ExtendLock(ctx context.Context, ttl time.Duration) error
}

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	LockTTL        time.Duration
}

type Option func(*Coordinator)

// WithLocks makes the coordinator take a distributed lock per order.
func WithLocks(newLock func(orderID string) Lock) Option {
	return func(c *Coordinator) { c.newLock = newLock }
}

// WithOpener sets how sealed passwords are opened.
func WithOpener(o Opener) Option {
	return func(c *Coordinator) { c.opener = o }
}

// Coordinator performs the activate-account side effect at most once per order.
type Coordinator struct {
	store     database.SessionStore
	registrar Registrar
	opener    Opener
	newLock   func(orderID string) Lock
	cfg       Config
	group     singleflight.Group
}

func NewCoordinator(store database.SessionStore, registrar Registrar, cfg Config, opts ...Option) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	c := &Coordinator{store: store, registrar: registrar, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate registers the account for a successfully paid order. Concurrent calls for the same
// order share one run; an already activated order returns its record without calling out.
func (c *Coordinator) Activate(ctx context.Context, orderID string) (*model.ActivationRecord, error) {
	v, err, _ := c.group.Do(orderID, func() (interface{}, error) {
		return c.activate(ctx, orderID)
	})
	rec, _ := v.(*model.ActivationRecord)
	return rec, err
}

// Retry moves an ACTIVATION_FAILED session back to RESOLVED and activates it with a fresh
// attempt budget. The attempt counter keeps counting.
func (c *Coordinator) Retry(ctx context.Context, orderID string) (*model.ActivationRecord, error) {
	s, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.Status == model.StatusActivationFailed {
		_, err := c.store.CompareAndSetStatus(ctx, orderID, model.StatusActivationFailed, model.Transition{
			Status:        model.StatusResolved,
			ExpectOutcome: model.OutcomeSucceeded,
			At:            time.Now(),
		})
		if err != nil {
			return nil, err
		}
	}
	return c.Activate(ctx, orderID)
}

func (c *Coordinator) activate(ctx context.Context, orderID string) (*model.ActivationRecord, error) {
	ctx, span := tracer.Start(ctx, "Activating account")
	span.SetAttributes(attribute.String("order_id", orderID))
	defer span.End()

	log := logrus.WithField("order_id", orderID)

	s, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec, done := activated(s); done {
		log.Info("account already activated, skipping registration")
		return rec, nil
	}
	if err := eligible(s); err != nil {
		return s.Activation, err
	}

	var lock Lock
	if c.newLock != nil {
		lock = c.newLock(orderID)
		if err := lock.Lock(ctx, c.cfg.LockTTL); err != nil {
			log.Warnf("activation lock not acquired: %v", err)
			return s.Activation, ErrInProgress
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				log.Warnf("activation lock release failed: %v", err)
			}
		}()

		// Another process may have finished while we waited for the lock.
		if s, err = c.store.Get(ctx, orderID); err != nil {
			return nil, err
		}
		if rec, done := activated(s); done {
			return rec, nil
		}
		if err := eligible(s); err != nil {
			return s.Activation, err
		}
	}

	registration, err := c.registration(s)
	if err != nil {
		span.RecordError(err)
		return s.Activation, err
	}

	record := s.Activation
	var lastErr error
	attempt := 0
	operation := func() error {
		attempt++
		// The lock has to outlive the backoff waits.
		if lock != nil && attempt > 1 {
			if err := lock.ExtendLock(ctx, c.cfg.LockTTL); err != nil {
				log.Warnf("activation lock lost: %v", err)
				return backoff.Permanent(errLockLost)
			}
		}

		next := record.NextAttempt(orderID, time.Now())
		if lastErr != nil {
			next.LastError = lastErr.Error()
		}
		ok, err := c.store.CompareAndSetStatus(ctx, orderID, model.StatusResolved, model.Transition{
			Status:        model.StatusResolved,
			Activation:    &next,
			ExpectOutcome: model.OutcomeSucceeded,
			At:            time.Now(),
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return backoff.Permanent(errStateChanged)
		}
		record = &next

		log.WithField("attempt", next.AttemptCount).Info("calling account registration")
		err = c.registrar.Register(ctx, orderID, registration)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrDuplicateAccount):
			log.Info("account already registered upstream, treating as activated")
			return nil
		case errors.Is(err, ErrTransient):
			lastErr = err
			return err
		default:
			lastErr = err
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = c.cfg.InitialBackoff * 8
	policy.MaxElapsedTime = 0
	policy.Reset()
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx)

	err = backoff.RetryNotify(operation, retry, func(err error, wait time.Duration) {
		log.WithField("retry_in", wait).Warnf("account registration failed: %v", err)
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, errStateChanged) {
		// Leave the session RESOLVED so a resumed process can finish the activation.
		return record, ctx.Err()
	}

	if errors.Is(err, errLockLost) {
		return record, ErrInProgress
	}

	if errors.Is(err, errStateChanged) {
		current, gerr := c.store.Get(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		if rec, done := activated(current); done {
			return rec, nil
		}
		return current.Activation, fmt.Errorf("activation interrupted: session moved to %s", current.Status)
	}

	if err == nil {
		return c.finish(ctx, orderID, record)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return c.fail(ctx, orderID, record, err)
}

var (
	errStateChanged = errors.New("session changed during activation")
	errLockLost     = errors.New("activation lock lost")
)

func (c *Coordinator) finish(ctx context.Context, orderID string, record *model.ActivationRecord) (*model.ActivationRecord, error) {
	final := *record
	final.Succeeded = true
	final.LastError = ""
	ok, err := c.store.CompareAndSetStatus(ctx, orderID, model.StatusResolved, model.Transition{
		Status:        model.StatusActivated,
		Activation:    &final,
		ExpectOutcome: model.OutcomeSucceeded,
		At:            time.Now(),
	})
	if err != nil {
		return record, err
	}
	if !ok {
		current, err := c.store.Get(ctx, orderID)
		if err != nil {
			return record, err
		}
		return current.Activation, nil
	}
	logrus.WithFields(logrus.Fields{"order_id": orderID, "attempts": final.AttemptCount}).Info("account activated")
	return &final, nil
}

func (c *Coordinator) fail(ctx context.Context, orderID string, record *model.ActivationRecord, cause error) (*model.ActivationRecord, error) {
	final := model.ActivationRecord{OrderID: orderID}
	if record != nil {
		final = *record
	}
	final.LastError = cause.Error()
	_, err := c.store.CompareAndSetStatus(ctx, orderID, model.StatusResolved, model.Transition{
		Status:        model.StatusActivationFailed,
		Activation:    &final,
		ExpectOutcome: model.OutcomeSucceeded,
		At:            time.Now(),
	})
	if err != nil {
		return &final, err
	}
	logrus.WithFields(logrus.Fields{"order_id": orderID, "attempts": final.AttemptCount}).
		Errorf("account activation failed: %v", cause)
	return &final, fmt.Errorf("%w: %v", ErrActivationFailed, cause)
}

func (c *Coordinator) registration(s *model.CheckoutSession) (Registration, error) {
	password := s.Account.Password
	if tokenization.IsSealed(password) {
		if c.opener == nil {
			return Registration{}, errors.New("sealed password without an opener")
		}
		plain, err := c.opener.Open(password)
		if err != nil {
			return Registration{}, fmt.Errorf("failed to open sealed password: %w", err)
		}
		password = plain
	}
	return Registration{
		Name:        s.Payer.Name,
		Username:    s.Account.Username,
		Password:    password,
		Grade:       s.Account.Grade,
		PhoneNumber: s.Payer.Phone,
		Plan:        s.PlanID,
	}, nil
}

func activated(s *model.CheckoutSession) (*model.ActivationRecord, bool) {
	if s.Status == model.StatusActivated || (s.Activation != nil && s.Activation.Succeeded) {
		return s.Activation, true
	}
	return nil, false
}

func eligible(s *model.CheckoutSession) error {
	if s.OutcomeKind() != model.OutcomeSucceeded {
		return ErrNotEligible
	}
	switch s.Status {
	case model.StatusResolved:
		return nil
	case model.StatusActivationFailed:
		return ErrActivationFailed
	default:
		return ErrNotEligible
	}
}
