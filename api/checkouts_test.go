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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/activation"
	"github.com/blnkfinance/checkout/api/middleware"
	"github.com/blnkfinance/checkout/catalog"
	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/gateway"
	"github.com/blnkfinance/checkout/model"
)

type TestRequest struct {
	Payload  io.Reader
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
	Router   *gin.Engine
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		if err := json.NewDecoder(resp.Body).Decode(s.Response); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

type stubGateway struct {
	mu      sync.Mutex
	status  model.PaymentStatus
	initErr error
}

func (g *stubGateway) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.Checkout, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.Checkout{OrderID: req.OrderID, CheckoutURL: "https://pay.test/" + req.OrderID, Status: model.PaymentPending}, nil
}

func (g *stubGateway) Verify(_ context.Context, orderID string) (*gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.status
	if status == "" {
		status = model.PaymentPending
	}
	return &gateway.Verification{OrderID: orderID, Status: status, RawStatus: string(status), CheckedAt: time.Now().UTC()}, nil
}

func (g *stubGateway) set(status model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = status
}

type stubRegistrar struct{}

func (stubRegistrar) Register(context.Context, string, activation.Registration) error { return nil }

type stubPlans []catalog.Plan

func (p stubPlans) Plans(context.Context) ([]catalog.Plan, error) { return p, nil }

type testServer struct {
	router *gin.Engine
	o      *checkout.Orchestrator
	store  *database.MemoryStore
	gw     *stubGateway
}

func setupRouter(t *testing.T, conf *config.Configuration, plans PlanLister) *testServer {
	t.Helper()
	store := database.NewMemoryStore()
	gw := &stubGateway{}
	coordinator := activation.NewCoordinator(store, stubRegistrar{}, activation.Config{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		LockTTL:        time.Second,
	})
	o := checkout.New(store, gw, coordinator, checkout.Config{
		SessionTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		DeepLinkScheme: "app",
		Retention:      time.Hour,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	if conf == nil {
		conf = &config.Configuration{ProjectName: "checkout"}
	}
	return &testServer{router: NewAPI(o, plans, conf).Router(), o: o, store: store, gw: gw}
}

func checkoutPayload(t *testing.T) io.Reader {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"plan_id": "plan_gold",
		"amount":  decimal.NewFromInt(300),
		"payer": map[string]string{
			"name":  gofakeit.FirstName() + " " + gofakeit.LastName(),
			"phone": "0911223344",
			"email": gofakeit.Email(),
		},
		"account": map[string]string{
			"username": gofakeit.Username(),
			"password": "pa55word",
			"grade":    "10",
		},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func (s *testServer) begin(t *testing.T) model.SessionView {
	t.Helper()
	var view model.SessionView
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  checkoutPayload(t),
		Response: &view,
		Method:   http.MethodPost,
		Route:    "/checkouts",
		Router:   s.router,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Code)
	return view
}

func (s *testServer) waitForStatus(t *testing.T, orderID string, want model.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := s.store.Get(context.Background(), orderID)
		return err == nil && got.Status == want && !s.o.Busy(orderID)
	}, 5*time.Second, 5*time.Millisecond)
}

func (s *testServer) post(t *testing.T, route string, payload interface{}, response interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	resp, err := SetUpTestRequest(TestRequest{Payload: body, Response: response, Method: http.MethodPost, Route: route, Router: s.router})
	require.NoError(t, err)
	return resp
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	s := setupRouter(t, nil, nil)
	var body string
	resp, err := SetUpTestRequest(TestRequest{Response: &body, Method: http.MethodGet, Route: "/", Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "server running...", body)
}

func TestBeginCheckoutAndPollToActivation(t *testing.T) {
	s := setupRouter(t, nil, nil)
	view := s.begin(t)
	assert.Equal(t, model.StatusAwaitingOutcome, view.Status)
	assert.Equal(t, model.ActionOpenCheckout, view.Action)
	assert.Equal(t, "https://pay.test/"+view.OrderID, view.CheckoutURL)

	s.gw.set(model.PaymentSuccess)
	s.waitForStatus(t, view.OrderID, model.StatusActivated)

	var got model.SessionView
	resp, err := SetUpTestRequest(TestRequest{Response: &got, Method: http.MethodGet, Route: "/checkouts/" + view.OrderID, Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusActivated, got.Status)
	assert.Equal(t, model.OutcomeSucceeded, got.Outcome)
}

func TestBeginCheckoutInvalidPayload(t *testing.T) {
	s := setupRouter(t, nil, nil)
	var body map[string]interface{}
	resp := s.post(t, "/checkouts", map[string]interface{}{"plan_id": "plan_gold"}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, body["errors"], "payer")
}

func TestBeginCheckoutGatewayDown(t *testing.T) {
	s := setupRouter(t, nil, nil)
	s.gw.initErr = gateway.ErrTransient

	var body struct {
		Error   struct{ Code string } `json:"error"`
		Session model.SessionView     `json:"session"`
	}
	resp, err := SetUpTestRequest(TestRequest{Payload: checkoutPayload(t), Response: &body, Method: http.MethodPost, Route: "/checkouts", Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	assert.Equal(t, model.StatusResolved, body.Session.Status)
	assert.Equal(t, model.OutcomeFailed, body.Session.Outcome)
}

func TestGetCheckoutNotFound(t *testing.T) {
	s := setupRouter(t, nil, nil)
	var body errorBody
	resp, err := SetUpTestRequest(TestRequest{Response: &body, Method: http.MethodGet, Route: "/checkouts/missing", Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestDeepLinkResolvesCheckout(t *testing.T) {
	s := setupRouter(t, nil, nil)
	view := s.begin(t)
	require.Eventually(t, func() bool { return s.o.Watching(view.OrderID) }, time.Second, time.Millisecond)

	var event model.SignalEvent
	resp := s.post(t, "/callbacks/deep-link", map[string]string{"url": "app://payment-success?orderId=" + view.OrderID}, &event)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, model.SourceDeepLink, event.Source)
	assert.Equal(t, model.PaymentSuccess, event.Status)

	s.waitForStatus(t, view.OrderID, model.StatusActivated)
}

func TestDeepLinkMalformed(t *testing.T) {
	s := setupRouter(t, nil, nil)
	var body errorBody
	resp := s.post(t, "/callbacks/deep-link", map[string]string{"url": "app://payment-success"}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "INVALID_INPUT", body.Error.Code)
}

func TestNavigation(t *testing.T) {
	s := setupRouter(t, nil, nil)
	view := s.begin(t)
	require.Eventually(t, func() bool { return s.o.Watching(view.OrderID) }, time.Second, time.Millisecond)

	var body struct {
		Matched bool                `json:"matched"`
		Status  model.PaymentStatus `json:"status"`
	}
	resp := s.post(t, "/checkouts/"+view.OrderID+"/navigation", map[string]string{"url": "https://shop.test/checkout/step-2"}, &body)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, body.Matched)

	var missing errorBody
	resp = s.post(t, "/checkouts/unknown/navigation", map[string]string{"url": "https://shop.test/payment-success"}, &missing)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCancelCheckout(t *testing.T) {
	s := setupRouter(t, nil, nil)
	view := s.begin(t)

	var cancelled model.SessionView
	resp := s.post(t, "/checkouts/"+view.OrderID+"/cancel", nil, &cancelled)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusResolved, cancelled.Status)
	assert.Equal(t, model.OutcomeFailed, cancelled.Outcome)
	assert.Equal(t, model.ActionRetryPayment, cancelled.Action)

	var again errorBody
	resp = s.post(t, "/checkouts/"+view.OrderID+"/cancel", nil, &again)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "CONFLICT", again.Error.Code)

	var acked model.SessionView
	resp = s.post(t, "/checkouts/"+view.OrderID+"/acknowledge", nil, &acked)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusArchived, acked.Status)
}

func TestConflictsOnUndecidedSession(t *testing.T) {
	s := setupRouter(t, nil, nil)
	view := s.begin(t)

	for _, route := range []string{"/acknowledge", "/retry-activation"} {
		var body errorBody
		resp := s.post(t, "/checkouts/"+view.OrderID+route, nil, &body)
		assert.Equal(t, http.StatusConflict, resp.Code, route)
	}

	var awaiting model.SessionView
	resp := s.post(t, "/checkouts/"+view.OrderID+"/check-status", nil, &awaiting)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, model.StatusAwaitingOutcome, awaiting.Status)
}

func TestListPlans(t *testing.T) {
	s := setupRouter(t, nil, nil)
	var body errorBody
	resp, err := SetUpTestRequest(TestRequest{Response: &body, Method: http.MethodGet, Route: "/plans", Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	s = setupRouter(t, nil, stubPlans{
		{ID: "plan_gold", Name: "Gold", Price: decimal.NewFromInt(300), Currency: "ETB", DurationDays: 30},
	})
	var plans []catalog.Plan
	resp, err = SetUpTestRequest(TestRequest{Response: &plans, Method: http.MethodGet, Route: "/plans", Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, plans, 1)
	assert.Equal(t, "plan_gold", plans[0].ID)
	assert.True(t, plans[0].Price.Equal(decimal.NewFromInt(300)))
}

func TestSecureMode(t *testing.T) {
	s := setupRouter(t, &config.Configuration{
		ProjectName: "checkout",
		Server:      config.ServerConfig{Secure: true, SecretKey: "top-secret"},
	}, nil)

	var denied map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Response: &denied, Method: http.MethodGet, Route: "/checkouts/any", Router: s.router})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	var body errorBody
	resp, err = SetUpTestRequest(TestRequest{
		Response: &body,
		Method:   http.MethodGet,
		Route:    "/checkouts/any",
		Header:   map[string]string{middleware.SecretKeyHeader: "top-secret"},
		Router:   s.router,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
