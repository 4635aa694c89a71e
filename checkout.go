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
	"embed"
	"errors"
	"sync"
	"time"

	"github.com/blnkfinance/checkout/activation"
	"github.com/blnkfinance/checkout/arbiter"
	"github.com/blnkfinance/checkout/catalog"
	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/gateway"
	"github.com/blnkfinance/checkout/internal/cache"
	redlock "github.com/blnkfinance/checkout/internal/lock"
	"github.com/blnkfinance/checkout/internal/tokenization"
	"github.com/blnkfinance/checkout/model"
	"github.com/blnkfinance/checkout/signals"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("checkout")

var (
	ErrInvalidRequest     = errors.New("invalid checkout request")
	ErrFreePlan           = errors.New("plan does not require a payment")
	ErrCheckoutFailed     = errors.New("checkout could not be started")
	ErrAlreadyDecided     = errors.New("session outcome already decided")
	ErrNotTimedOut        = errors.New("session has not timed out")
	ErrNotAcknowledgeable = errors.New("session result cannot be acknowledged yet")
	ErrShuttingDown       = errors.New("orchestrator is shutting down")
)

// Gateway is the payment gateway as the orchestrator uses it.
type Gateway interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Checkout, error)
	Verify(ctx context.Context, orderID string) (*gateway.Verification, error)
}

// Activator performs account activation for paid sessions.
type Activator interface {
	Activate(ctx context.Context, orderID string) (*model.ActivationRecord, error)
	Retry(ctx context.Context, orderID string) (*model.ActivationRecord, error)
}

// PlanCatalog resolves the plan a checkout is for.
type PlanCatalog interface {
	Plan(ctx context.Context, id string) (catalog.Plan, error)
}

// Sealer protects credentials before they are stored.
type Sealer interface {
	Seal(value string) (string, error)
}

// Notifier tells the presentation layer about terminal session events.
type Notifier interface {
	Notify(ctx context.Context, event string, view model.SessionView) error
}

type Config struct {
	Currency         string
	SessionTimeout   time.Duration
	GraceWindow      time.Duration
	TrustOrder       []model.SignalSource
	PollInterval     time.Duration
	PollCeiling      time.Duration
	DeepLinkScheme   string
	RedirectPatterns signals.RedirectPatterns
	Retention        time.Duration
}

// ConfigFrom reads the orchestrator settings out of the service configuration.
func ConfigFrom(cnf *config.Configuration) Config {
	order := make([]model.SignalSource, 0, len(cnf.Signals.TrustOrder))
	for _, s := range cnf.Signals.TrustOrder {
		if src, err := model.ParseSignalSource(s); err == nil {
			order = append(order, src)
		}
	}
	return Config{
		Currency:       cnf.Gateway.Currency,
		SessionTimeout: cnf.Signals.SessionTimeout,
		GraceWindow:    cnf.Signals.GraceWindow,
		TrustOrder:     order,
		PollInterval:   cnf.Signals.PollInterval,
		PollCeiling:    cnf.Signals.PollCeiling,
		DeepLinkScheme: cnf.Signals.DeepLinkScheme,
		RedirectPatterns: signals.RedirectPatterns{
			Success: cnf.Signals.SuccessPatterns,
			Failure: cnf.Signals.FailurePatterns,
			Cancel:  cnf.Signals.CancelPatterns,
		},
		Retention: cnf.Queue.Retention,
	}
}

type Option func(*Orchestrator)

func WithCatalog(c PlanCatalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

func WithSealer(s Sealer) Option {
	return func(o *Orchestrator) { o.sealer = s }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// Orchestrator drives checkout sessions from initiation to activation. All session state lives
// in the store; the orchestrator only tracks which watches this process is running.
type Orchestrator struct {
	store     database.SessionStore
	gateway   Gateway
	activator Activator
	catalog   PlanCatalog
	sealer    Sealer
	notifier  Notifier
	cfg       Config

	arbiter  *arbiter.Arbiter
	poller   *signals.Poller
	redirect *signals.RedirectObserver
	deepLink *signals.DeepLinkListener

	ctx     context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	running map[string]*task
	closed  bool
	wg      sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store database.SessionStore, gw Gateway, activator Activator, cfg Config, opts ...Option) *Orchestrator {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 72 * time.Hour
	}
	if cfg.Currency == "" {
		cfg.Currency = "ETB"
	}
	if len(cfg.RedirectPatterns.Success) == 0 && len(cfg.RedirectPatterns.Failure) == 0 && len(cfg.RedirectPatterns.Cancel) == 0 {
		cfg.RedirectPatterns = signals.DefaultRedirectPatterns()
	}

	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:     store,
		gateway:   gw,
		activator: activator,
		cfg:       cfg,
		arbiter: arbiter.New(store, arbiter.Config{
			GraceWindow:  cfg.GraceWindow,
			TrustOrder:   cfg.TrustOrder,
			Timeout:      cfg.SessionTimeout,
			MinRemaining: 3 * cfg.PollInterval,
		}),
		poller:   signals.NewPoller(gw, cfg.PollInterval, cfg.PollCeiling),
		redirect: signals.NewRedirectObserver(cfg.RedirectPatterns),
		deepLink: signals.NewDeepLinkListener(cfg.DeepLinkScheme),
		ctx:      ctx,
		stop:     stop,
		running:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig builds the orchestrator and its real collaborators. rc may be nil when the
// memory or postgres store runs without Redis; activation locks and the plan cache are then off.
func NewFromConfig(cnf *config.Configuration, store database.SessionStore, rc redis.UniversalClient, notifier Notifier) (*Orchestrator, error) {
	mapping, err := gateway.LoadMapping(cnf.Gateway.MappingFile)
	if err != nil {
		return nil, err
	}
	gw := gateway.NewClient(cnf.Gateway, mapping)

	var tokens *tokenization.TokenizationService
	if cnf.Activation.SealingKey != "" {
		tokens = tokenization.NewTokenizationService(cnf.Activation.SealingKey)
	} else {
		logrus.Warn("no activation sealing key configured, passwords are stored unsealed")
	}

	coordOpts := []activation.Option{}
	if tokens != nil {
		coordOpts = append(coordOpts, activation.WithOpener(tokens))
	}
	if rc != nil {
		prefix := cnf.Redis.KeyPrefix
		coordOpts = append(coordOpts, activation.WithLocks(func(orderID string) activation.Lock {
			return redlock.NewActivationLocker(rc, prefix, orderID)
		}))
	}
	coordinator := activation.NewCoordinator(store, activation.NewRegistrationClient(cnf.Activation), activation.Config{
		MaxAttempts:    cnf.Activation.MaxAttempts,
		InitialBackoff: cnf.Activation.InitialBackoff,
		LockTTL:        cnf.Activation.LockTTL,
	}, coordOpts...)

	opts := []Option{}
	if tokens != nil {
		opts = append(opts, WithSealer(tokens))
	}
	if notifier != nil {
		opts = append(opts, WithNotifier(notifier))
	}
	if cnf.Catalog.BaseURL != "" {
		var c cache.Cache
		if rc != nil {
			c = cache.NewRedisCache(rc, time.Minute)
		}
		opts = append(opts, WithCatalog(catalog.NewClient(cnf.Catalog, c)))
	}

	return New(store, gw, coordinator, ConfigFrom(cnf), opts...), nil
}

// Store returns the session store the orchestrator writes to.
func (o *Orchestrator) Store() database.SessionStore {
	return o.store
}

// Plans lists the plans of the configured catalog.
func (o *Orchestrator) Plans(ctx context.Context) ([]catalog.Plan, error) {
	lister, ok := o.catalog.(interface {
		Plans(ctx context.Context) ([]catalog.Plan, error)
	})
	if !ok {
		return nil, catalog.ErrUnavailable
	}
	return lister.Plans(ctx)
}

// spawn runs fn for the order in the background unless a task for it is already running.
func (o *Orchestrator) spawn(orderID string, fn func(ctx context.Context)) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if _, busy := o.running[orderID]; busy {
		o.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(o.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.running[orderID] = t
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer close(t.done)
		defer func() {
			o.mu.Lock()
			if o.running[orderID] == t {
				delete(o.running, orderID)
			}
			o.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

// halt cancels the running task for the order and waits for it to finish.
func (o *Orchestrator) halt(orderID string) {
	o.mu.Lock()
	t, ok := o.running[orderID]
	o.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Busy reports whether this process is watching or activating the order.
func (o *Orchestrator) Busy(orderID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[orderID]
	return ok
}

// Shutdown stops every watch and waits for background work until ctx ends. Sessions stay
// in the store and are picked up by Resume on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) notify(ctx context.Context, event string, s *model.CheckoutSession) {
	if o.notifier == nil || s == nil {
		return
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), event, s.View()); err != nil {
		logrus.WithField("order_id", s.OrderID).Errorf("failed to queue %s notification: %v", event, err)
	}
}
