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

package arbiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blnkfinance/checkout/model"
	"github.com/blnkfinance/checkout/signals"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("checkout.arbiter")

// Store is the slice of the session store the arbiter relies on.
type Store interface {
	Get(ctx context.Context, orderID string) (*model.CheckoutSession, error)
	CompareAndSetStatus(ctx context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error)
}

// Config tunes arbitration.
type Config struct {
	// GraceWindow holds a non top-trust terminal event so a more trusted one can supersede it.
	GraceWindow time.Duration
	// TrustOrder lists sources from most to least trusted.
	TrustOrder []model.SignalSource
	// Timeout is measured from the session creation time.
	Timeout time.Duration
	// MinRemaining is the least time a watch gets from start, so resumed sessions get a poll in.
	MinRemaining time.Duration
}

// Mode selects what a watch is allowed to overwrite.
type Mode int

const (
	// ModeAwait resolves a session that is awaiting its outcome.
	ModeAwait Mode = iota
	// ModeRecheck replaces a timed out outcome with an observed one. A second timeout writes nothing.
	ModeRecheck
)

// Watch is one arbitration run for an order.
type Watch struct {
	Session *model.CheckoutSession
	Sources []signals.Source
	Mode    Mode
}

// Result is the outcome stored for the session once Run returns. Won reports whether this run
// wrote it.
type Result struct {
	Outcome model.Outcome
	Won     bool
	Session *model.CheckoutSession
}

type Arbiter struct {
	store Store
	cfg   Config
	rank  map[model.SignalSource]int
}

func New(store Store, cfg Config) *Arbiter {
	if len(cfg.TrustOrder) == 0 {
		cfg.TrustOrder = []model.SignalSource{model.SourceDeepLink, model.SourcePoller, model.SourceRedirect}
	}
	rank := make(map[model.SignalSource]int, len(cfg.TrustOrder))
	for i, s := range cfg.TrustOrder {
		rank[s] = i
	}
	return &Arbiter{store: store, cfg: cfg, rank: rank}
}

func (a *Arbiter) trust(s model.SignalSource) int {
	if r, ok := a.rank[s]; ok {
		return r
	}
	return len(a.rank)
}

func (w Watch) expected() (model.SessionStatus, model.OutcomeKind) {
	if w.Mode == ModeRecheck {
		return model.StatusResolved, model.OutcomeTimedOut
	}
	return model.StatusAwaitingOutcome, ""
}

func (w Watch) accepts(s *model.CheckoutSession) bool {
	status, kind := w.expected()
	if s.Status != status {
		return false
	}
	return kind == "" || s.OutcomeKind() == kind
}

// Deadline returns when the watch times out.
func (a *Arbiter) Deadline(s *model.CheckoutSession, now time.Time) time.Time {
	deadline := s.CreatedAt.Add(a.cfg.Timeout)
	if floor := now.Add(a.cfg.MinRemaining); deadline.Before(floor) {
		deadline = floor
	}
	return deadline
}

// Run starts the sources and blocks until the session is decided by this run or by a racer,
// the deadline passes or ctx ends. All sources are stopped before it returns.
func (a *Arbiter) Run(ctx context.Context, w Watch) (Result, error) {
	if w.Session == nil {
		return Result{}, errors.New("arbiter: watch without a session")
	}
	orderID := w.Session.OrderID
	ctx, span := tracer.Start(ctx, "Arbitrating payment outcome", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.Int("mode", int(w.Mode)),
	))
	defer span.End()

	log := logrus.WithField("order_id", orderID)
	watchCtx, cancel := context.WithCancel(ctx)
	events := make(chan model.SignalEvent, len(w.Sources)+1)
	var mu sync.Mutex
	closed := false
	late := func(e model.SignalEvent) {
		log.WithField("source", e.Source).Warnf("late %s signal discarded", e.Status)
	}

	emit := func(e model.SignalEvent) bool {
		mu.Lock()
		isClosed := closed
		mu.Unlock()
		if isClosed {
			late(e)
			return false
		}
		current, err := a.store.Get(watchCtx, orderID)
		if err != nil || !w.accepts(current) {
			log.WithField("source", e.Source).Warnf("%s signal discarded, session no longer awaiting it", e.Status)
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			late(e)
			return false
		}
		select {
		case events <- e:
			return true
		default:
			late(e)
			return false
		}
	}

	stops := make([]signals.CancelFunc, 0, len(w.Sources))
	for _, src := range w.Sources {
		stops = append(stops, src.Start(watchCtx, orderID, emit))
	}
	defer func() {
		mu.Lock()
		closed = true
		for drained := false; !drained; {
			select {
			case e := <-events:
				late(e)
			default:
				drained = true
			}
		}
		mu.Unlock()
		cancel()
		for _, stop := range stops {
			stop()
		}
	}()

	timeout := time.NewTimer(time.Until(a.Deadline(w.Session, time.Now())))
	defer timeout.Stop()

	var candidate *model.SignalEvent
	var grace *time.Timer
	var graceC <-chan time.Time
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	for {
		select {
		case e := <-events:
			if !e.Status.IsTerminal() {
				continue
			}
			log.WithFields(logrus.Fields{"source": e.Source, "status": e.Status}).Info("terminal signal received")
			if a.trust(e.Source) == 0 || a.cfg.GraceWindow <= 0 {
				return a.resolve(ctx, w, e)
			}
			if candidate == nil {
				ev := e
				candidate = &ev
				grace = time.NewTimer(a.cfg.GraceWindow)
				graceC = grace.C
				continue
			}
			if a.trust(e.Source) < a.trust(candidate.Source) {
				ev := e
				candidate = &ev
			}

		case <-graceC:
			return a.resolve(ctx, w, *candidate)

		case <-timeout.C:
			if candidate != nil {
				return a.resolve(ctx, w, *candidate)
			}
			return a.timeOut(ctx, w)

		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func (a *Arbiter) resolve(ctx context.Context, w Watch, e model.SignalEvent) (Result, error) {
	outcome, _ := model.OutcomeFromStatus(e)
	return a.commit(ctx, w, outcome)
}

func (a *Arbiter) timeOut(ctx context.Context, w Watch) (Result, error) {
	if w.Mode == ModeRecheck {
		logrus.WithField("order_id", w.Session.OrderID).Info("status recheck found no outcome, keeping timed out result")
		return a.current(ctx, w.Session.OrderID, false)
	}
	return a.commit(ctx, w, model.TimedOut(time.Now()))
}

func (a *Arbiter) commit(ctx context.Context, w Watch, outcome model.Outcome) (Result, error) {
	orderID := w.Session.OrderID
	expected, kind := w.expected()
	won, err := a.store.CompareAndSetStatus(ctx, orderID, expected, model.Transition{
		Status:        model.StatusResolved,
		Outcome:       &outcome,
		ExpectOutcome: kind,
		At:            time.Now(),
	})
	if err != nil {
		return Result{}, err
	}

	log := logrus.WithFields(logrus.Fields{"order_id": orderID, "outcome": outcome.Kind, "source": outcome.Source})
	if won {
		log.Info("payment outcome resolved")
	} else {
		log.Info("payment outcome already resolved elsewhere, discarding")
	}
	return a.current(ctx, orderID, won)
}

func (a *Arbiter) current(ctx context.Context, orderID string, won bool) (Result, error) {
	stored, err := a.store.Get(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Won: won, Session: stored}
	if stored.Outcome != nil {
		res.Outcome = *stored.Outcome
	}
	return res, nil
}
