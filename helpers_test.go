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
	"sync"
	"testing"
	"time"

	"github.com/blnkfinance/checkout/activation"
	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/gateway"
	"github.com/blnkfinance/checkout/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers Verify from a script; the last entry repeats once the script runs out.
type fakeGateway struct {
	mu        sync.Mutex
	initErr   error
	script    []model.PaymentStatus
	verifies  int
	initiated []gateway.InitiateRequest
}

func (g *fakeGateway) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiated = append(g.initiated, req)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.Checkout{
		OrderID:     req.OrderID,
		CheckoutURL: "https://pay.test/checkout/" + req.OrderID,
		Status:      model.PaymentPending,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, orderID string) (*gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := model.PaymentPending
	if len(g.script) > 0 {
		i := g.verifies
		if i >= len(g.script) {
			i = len(g.script) - 1
		}
		status = g.script[i]
	}
	g.verifies++
	return &gateway.Verification{
		OrderID:    orderID,
		Status:     status,
		RawStatus:  string(status),
		GatewayRef: "CHK_" + orderID,
		CheckedAt:  time.Now().UTC(),
	}, nil
}

func (g *fakeGateway) setScript(statuses ...model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = statuses
	g.verifies = 0
}

func (g *fakeGateway) verifyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifies
}

type fakeRegistrar struct {
	mu    sync.Mutex
	errs  []error
	calls []activation.Registration
}

func (r *fakeRegistrar) Register(_ context.Context, _ string, reg activation.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reg)
	if n := len(r.calls); n <= len(r.errs) {
		return r.errs[n-1]
	}
	return nil
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, _ model.SessionView) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type harness struct {
	o        *Orchestrator
	store    *database.MemoryStore
	gw       *fakeGateway
	reg      *fakeRegistrar
	notifier *recordingNotifier
}

func testConfig() Config {
	return Config{
		SessionTimeout: 2 * time.Second,
		GraceWindow:    300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		DeepLinkScheme: "app",
		Retention:      time.Hour,
	}
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    database.NewMemoryStore(),
		gw:       &fakeGateway{},
		reg:      &fakeRegistrar{},
		notifier: &recordingNotifier{},
	}
	coordinator := activation.NewCoordinator(h.store, h.reg, activation.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		LockTTL:        time.Second,
	})
	opts = append([]Option{WithNotifier(h.notifier)}, opts...)
	h.o = New(h.store, h.gw, coordinator, cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.o.Shutdown(ctx)
	})
	return h
}

func beginRequest() BeginRequest {
	return BeginRequest{
		PlanID: "plan_gold",
		Amount: decimal.NewFromInt(100),
		Payer: model.Payer{
			Name:  gofakeit.FirstName() + " " + gofakeit.LastName(),
			Phone: gofakeit.Phone(),
			Email: gofakeit.Email(),
		},
		Account: model.Account{Username: gofakeit.Username(), Password: "pa55word", Grade: "11"},
	}
}

func (h *harness) waitForStatus(t *testing.T, orderID string, want model.SessionStatus) *model.CheckoutSession {
	t.Helper()
	var last *model.CheckoutSession
	require.Eventually(t, func() bool {
		s, err := h.store.Get(context.Background(), orderID)
		if err != nil {
			return false
		}
		last = s
		return s.Status == want && !h.o.Busy(orderID)
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
	return last
}

func (h *harness) putSession(t *testing.T, status model.SessionStatus, outcome *model.Outcome, age time.Duration) *model.CheckoutSession {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	s := &model.CheckoutSession{
		OrderID:   model.GenerateOrderID(created),
		Amount:    decimal.NewFromInt(100),
		Currency:  "ETB",
		PlanID:    "plan_gold",
		Payer:     model.Payer{Name: gofakeit.Name(), Phone: gofakeit.Phone(), Email: gofakeit.Email()},
		Account:   model.Account{Username: gofakeit.Username(), Password: "pw", Grade: "9"},
		Status:    status,
		Outcome:   outcome,
		CreatedAt: created,
		UpdatedAt: created,
	}
	if outcome != nil {
		s.ResolvedAt = &created
	}
	require.NoError(t, h.store.Put(context.Background(), s))
	return s
}
