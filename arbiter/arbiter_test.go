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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/model"
	"github.com/blnkfinance/checkout/signals"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualSource lets a test fire events by hand.
type manualSource struct {
	kind      model.SignalSource
	mu        sync.Mutex
	emit      signals.Emitter
	started   chan struct{}
	cancelled bool
}

func newManualSource(kind model.SignalSource) *manualSource {
	return &manualSource{kind: kind, started: make(chan struct{})}
}

func (m *manualSource) Kind() model.SignalSource { return m.kind }

func (m *manualSource) Start(_ context.Context, _ string, emit signals.Emitter) signals.CancelFunc {
	m.mu.Lock()
	m.emit = emit
	m.mu.Unlock()
	close(m.started)
	return func() {
		m.mu.Lock()
		m.cancelled = true
		m.mu.Unlock()
	}
}

func (m *manualSource) fire(orderID string, status model.PaymentStatus) bool {
	<-m.started
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	confidence := model.ConfidenceConfirmed
	if m.kind == model.SourceRedirect {
		confidence = model.ConfidenceTentative
	}
	return emit(model.SignalEvent{
		Source:     m.kind,
		OrderID:    orderID,
		RawStatus:  string(status),
		Status:     status,
		Confidence: confidence,
		ObservedAt: time.Now(),
	})
}

func (m *manualSource) wasCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func awaitingSession(t *testing.T, store database.SessionStore) *model.CheckoutSession {
	t.Helper()
	now := time.Now().UTC()
	s := &model.CheckoutSession{
		OrderID:   model.GenerateOrderID(now),
		Amount:    decimal.NewFromInt(100),
		Status:    model.StatusAwaitingOutcome,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Put(context.Background(), s))
	return s
}

func testConfig() Config {
	return Config{
		GraceWindow: 100 * time.Millisecond,
		TrustOrder:  []model.SignalSource{model.SourceDeepLink, model.SourcePoller, model.SourceRedirect},
		Timeout:     2 * time.Second,
	}
}

type runResult struct {
	res Result
	err error
}

func runAsync(a *Arbiter, ctx context.Context, w Watch) chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		res, err := a.Run(ctx, w)
		ch <- runResult{res, err}
	}()
	return ch
}

func wait(t *testing.T, ch chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("arbiter did not return")
		return runResult{}
	}
}

func TestRun_TopTrustResolvesImmediately(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	deepLink := newManualSource(model.SourceDeepLink)
	cfg := testConfig()
	cfg.GraceWindow = time.Second
	a := New(store, cfg)

	start := time.Now()
	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{deepLink}})
	assert.True(t, deepLink.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.res.Won)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
	assert.Equal(t, model.SourceDeepLink, r.res.Outcome.Source)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, deepLink.wasCancelled())

	stored, err := store.Get(context.Background(), s.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, stored.Status)
}

func TestRun_DeepLinkSupersedesRedirectInsideGrace(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	redirect := newManualSource(model.SourceRedirect)
	deepLink := newManualSource(model.SourceDeepLink)
	a := New(store, testConfig())

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{redirect, deepLink}})
	assert.True(t, redirect.fire(s.OrderID, model.PaymentFailed))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, deepLink.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
	assert.Equal(t, model.SourceDeepLink, r.res.Outcome.Source)
}

func TestRun_DeepLinkBeatsPollerFailureInsideGrace(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	poller := newManualSource(model.SourcePoller)
	deepLink := newManualSource(model.SourceDeepLink)
	a := New(store, testConfig())

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{poller, deepLink}})
	assert.True(t, poller.fire(s.OrderID, model.PaymentFailed))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, deepLink.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
}

func TestRun_PollerOutranksRedirect(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	poller := newManualSource(model.SourcePoller)
	redirect := newManualSource(model.SourceRedirect)
	a := New(store, testConfig())

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{poller, redirect}})
	assert.True(t, redirect.fire(s.OrderID, model.PaymentSuccess))
	assert.True(t, poller.fire(s.OrderID, model.PaymentFailed))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeFailed, r.res.Outcome.Kind)
	assert.Equal(t, model.SourcePoller, r.res.Outcome.Source)
}

func TestRun_RedirectAcceptedAfterGrace(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	redirect := newManualSource(model.SourceRedirect)
	a := New(store, testConfig())

	start := time.Now()
	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{redirect}})
	assert.True(t, redirect.fire(s.OrderID, model.PaymentFailed))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeFailed, r.res.Outcome.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRun_EqualTrustKeepsEarliest(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	first := newManualSource(model.SourceRedirect)
	second := newManualSource(model.SourceRedirect)
	a := New(store, testConfig())

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{first, second}})
	assert.True(t, first.fire(s.OrderID, model.PaymentCancelled))
	assert.True(t, second.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeFailed, r.res.Outcome.Kind)
	assert.Equal(t, "payment cancelled", r.res.Outcome.Reason)
}

func TestRun_TimesOutDistinctFromFailure(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	poller := newManualSource(model.SourcePoller)
	cfg := testConfig()
	cfg.Timeout = 80 * time.Millisecond
	a := New(store, cfg)

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{poller}})
	assert.True(t, poller.fire(s.OrderID, model.PaymentPending))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.res.Won)
	assert.Equal(t, model.OutcomeTimedOut, r.res.Outcome.Kind)
	assert.NotEqual(t, model.OutcomeFailed, r.res.Outcome.Kind)
}

func TestRun_CandidateBeatsTimeout(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	redirect := newManualSource(model.SourceRedirect)
	cfg := testConfig()
	cfg.Timeout = 60 * time.Millisecond
	cfg.GraceWindow = time.Second
	a := New(store, cfg)

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{redirect}})
	assert.True(t, redirect.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
}

func TestRun_NoResurrection(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	deepLink := newManualSource(model.SourceDeepLink)
	poller := newManualSource(model.SourcePoller)
	a := New(store, testConfig())

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{deepLink, poller}})
	assert.True(t, deepLink.fire(s.OrderID, model.PaymentFailed))
	r := wait(t, ch)
	require.NoError(t, r.err)

	assert.False(t, poller.fire(s.OrderID, model.PaymentSuccess))
	stored, err := store.Get(context.Background(), s.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, stored.Status)
	assert.Equal(t, model.OutcomeFailed, stored.Outcome.Kind)
}

func TestRun_LostRaceReturnsStoredOutcome(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	poller := newManualSource(model.SourcePoller)
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	a := New(store, cfg)

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{poller}})
	<-poller.started

	racer := model.Succeeded("racer", model.SourceDeepLink, time.Now())
	ok, err := store.CompareAndSetStatus(context.Background(), s.OrderID, model.StatusAwaitingOutcome, model.Transition{
		Status:  model.StatusResolved,
		Outcome: &racer,
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, poller.fire(s.OrderID, model.PaymentFailed))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.False(t, r.res.Won)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
	assert.Equal(t, "racer", r.res.Outcome.GatewayRef)
}

func TestRun_RecheckReplacesTimedOut(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	timedOut := model.TimedOut(time.Now())
	ok, err := store.CompareAndSetStatus(context.Background(), s.OrderID, model.StatusAwaitingOutcome, model.Transition{
		Status: model.StatusResolved, Outcome: &timedOut,
	})
	require.NoError(t, err)
	require.True(t, ok)

	poller := newManualSource(model.SourcePoller)
	cfg := testConfig()
	cfg.GraceWindow = 10 * time.Millisecond
	a := New(store, cfg)

	stored, _ := store.Get(context.Background(), s.OrderID)
	ch := runAsync(a, context.Background(), Watch{Session: stored, Sources: []signals.Source{poller}, Mode: ModeRecheck})
	assert.True(t, poller.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.res.Won)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
}

func TestRun_RecheckTimeoutKeepsRecord(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	timedOut := model.TimedOut(time.Now())
	_, err := store.CompareAndSetStatus(context.Background(), s.OrderID, model.StatusAwaitingOutcome, model.Transition{
		Status: model.StatusResolved, Outcome: &timedOut,
	})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Timeout = 0
	cfg.MinRemaining = 50 * time.Millisecond
	a := New(store, cfg)

	before, _ := store.Get(context.Background(), s.OrderID)
	r := wait(t, runAsync(a, context.Background(), Watch{Session: before, Sources: []signals.Source{newManualSource(model.SourcePoller)}, Mode: ModeRecheck}))
	require.NoError(t, r.err)
	assert.False(t, r.res.Won)
	assert.Equal(t, model.OutcomeTimedOut, r.res.Outcome.Kind)
	assert.Equal(t, before.UpdatedAt, r.res.Session.UpdatedAt)
}

func TestRun_ContextCancelStopsSources(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	poller := newManualSource(model.SourcePoller)
	a := New(store, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	ch := runAsync(a, ctx, Watch{Session: s, Sources: []signals.Source{poller}})
	<-poller.started
	cancel()

	r := wait(t, ch)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.True(t, poller.wasCancelled())
}

func TestRun_ConfigurableTrustOrder(t *testing.T) {
	store := database.NewMemoryStore()
	s := awaitingSession(t, store)
	poller := newManualSource(model.SourcePoller)
	cfg := testConfig()
	cfg.GraceWindow = time.Second
	cfg.TrustOrder = []model.SignalSource{model.SourcePoller, model.SourceDeepLink, model.SourceRedirect}
	a := New(store, cfg)

	start := time.Now()
	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{poller}})
	assert.True(t, poller.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDeadline(t *testing.T) {
	a := New(database.NewMemoryStore(), Config{Timeout: 5 * time.Minute, MinRemaining: 5 * time.Second})
	now := time.Now()

	fresh := &model.CheckoutSession{CreatedAt: now}
	assert.Equal(t, now.Add(5*time.Minute), a.Deadline(fresh, now))

	stale := &model.CheckoutSession{CreatedAt: now.Add(-time.Hour)}
	assert.Equal(t, now.Add(5*time.Second), a.Deadline(stale, now))
}

// committingStore runs beforeCommit once, just before the resolving write lands.
type committingStore struct {
	database.SessionStore
	once         sync.Once
	beforeCommit func()
}

func (s *committingStore) CompareAndSetStatus(ctx context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error) {
	if t.Status == model.StatusResolved {
		s.once.Do(s.beforeCommit)
	}
	return s.SessionStore.CompareAndSetStatus(ctx, orderID, expected, t)
}

func TestRun_SignalDuringCommitIsDiscarded(t *testing.T) {
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)

	mem := database.NewMemoryStore()
	s := awaitingSession(t, mem)
	deepLink := newManualSource(model.SourceDeepLink)
	poller := newManualSource(model.SourcePoller)
	var acceptedMidCommit bool
	store := &committingStore{SessionStore: mem, beforeCommit: func() {
		acceptedMidCommit = poller.fire(s.OrderID, model.PaymentFailed)
	}}
	a := New(store, testConfig())

	ch := runAsync(a, context.Background(), Watch{Session: s, Sources: []signals.Source{deepLink, poller}})
	assert.True(t, deepLink.fire(s.OrderID, model.PaymentSuccess))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeSucceeded, r.res.Outcome.Kind)
	require.True(t, acceptedMidCommit, "the session was still awaiting when the poller fired")

	var discarded int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.HasPrefix(entry.Message, "late ") {
			discarded++
		}
	}
	assert.Equal(t, 1, discarded, "the buffered poller event is logged as discarded")

	assert.False(t, poller.fire(s.OrderID, model.PaymentFailed))
}
