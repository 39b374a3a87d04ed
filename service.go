package mailroom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-mailroom/adapters/gologger"
	"github.com/goliatone/go-mailroom/core"
	"github.com/goliatone/go-mailroom/guard"
	"github.com/goliatone/go-mailroom/ingest"
	"github.com/goliatone/go-mailroom/ledger"
	"github.com/goliatone/go-mailroom/poller"
	"github.com/goliatone/go-mailroom/queue"
	"github.com/goliatone/go-mailroom/ratelimit"
	"github.com/goliatone/go-mailroom/subscription"
	"github.com/goliatone/go-mailroom/webhook"
)

// EnvelopeTransport is the raw-notification queue boundary the service wires
// between the webhook receiver and the notification processor.
type EnvelopeTransport interface {
	core.EnvelopeEnqueuer
	core.EnvelopeDequeuer
}

// DeadLetterReplayer re-enqueues an archived envelope for a fresh attempt
// cycle. The in-memory queue implements it; distributed transports can too.
type DeadLetterReplayer interface {
	ReplayDeadLetter(ctx context.Context, letter core.DeadLetter) error
}

// guardedPublisher routes downstream publishes through the enrichment
// breaker. An open breaker surfaces as a publish error, so the envelope is
// nacked and redelivered rather than lost.
type guardedPublisher struct {
	guard core.CallGuard
	next  core.DownstreamPublisher
}

func (p guardedPublisher) Publish(ctx context.Context, item core.InboundItem) error {
	return p.guard.Do(ctx, func(ctx context.Context) error {
		return p.next.Publish(ctx, item)
	})
}

type settings struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	provider       core.MailProvider
	publisher      core.DownstreamPublisher
	subscriptions  core.SubscriptionStore
	processedItems core.ProcessedItemStore
	counters       core.CounterStore
	deadLetters    core.DeadLetterStore
	transport      EnvelopeTransport
	replayer       DeadLetterReplayer
	now            func() time.Time
}

type Option func(*settings)

func WithLogger(logger core.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(s *settings) { s.loggerProvider = provider }
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(s *settings) { s.metrics = metrics }
}

func WithProvider(provider core.MailProvider) Option {
	return func(s *settings) { s.provider = provider }
}

func WithDownstreamPublisher(publisher core.DownstreamPublisher) Option {
	return func(s *settings) { s.publisher = publisher }
}

func WithSubscriptionStore(store core.SubscriptionStore) Option {
	return func(s *settings) { s.subscriptions = store }
}

func WithProcessedItemStore(store core.ProcessedItemStore) Option {
	return func(s *settings) { s.processedItems = store }
}

func WithCounterStore(store core.CounterStore) Option {
	return func(s *settings) { s.counters = store }
}

func WithDeadLetterStore(store core.DeadLetterStore) Option {
	return func(s *settings) { s.deadLetters = store }
}

// WithEnvelopeTransport swaps the in-memory queue for an external transport.
// When the transport also implements DeadLetterReplayer it is used for
// replay as well.
func WithEnvelopeTransport(transport EnvelopeTransport) Option {
	return func(s *settings) {
		s.transport = transport
		if replayer, ok := transport.(DeadLetterReplayer); ok {
			s.replayer = replayer
		}
	}
}

func WithDeadLetterReplayer(replayer DeadLetterReplayer) Option {
	return func(s *settings) { s.replayer = replayer }
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Service assembles the full inbound pipeline: subscription lifecycle,
// webhook receiver, queue-backed processor, fallback poller, and the dead
// letter replay path. It is the command layer's MutatingService.
type Service struct {
	config      core.Config
	observer    *core.Observer
	guards      *guard.Registry
	manager     *subscription.Manager
	receiver    *webhook.Receiver
	processor   *ingest.Processor
	scanner     *poller.Scanner
	checker     *ledger.Checker
	limiter     *ratelimit.FixedWindowLimiter
	transport   EnvelopeTransport
	replayer    DeadLetterReplayer
	deadLetters core.DeadLetterStore
}

func NewService(cfg core.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := settings{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&deps)
	}
	if deps.provider == nil {
		return nil, fmt.Errorf("mailroom: mail provider is required")
	}
	if deps.publisher == nil {
		return nil, fmt.Errorf("mailroom: downstream publisher is required")
	}

	_, logger := gologger.Resolve(cfg.ServiceName, deps.loggerProvider, deps.logger)
	observer := core.NewObserver(logger, deps.metrics, cfg.ServiceName)
	guards := guard.NewRegistry(cfg.Breakers, observer)

	if deps.subscriptions == nil {
		deps.subscriptions = subscription.NewMemoryStore()
	}
	if deps.processedItems == nil {
		deps.processedItems = ledger.NewMemoryItemStore()
	}
	if deps.counters == nil {
		deps.counters = ratelimit.NewMemoryCounterStore()
	}
	if deps.deadLetters == nil {
		deps.deadLetters = queue.NewMemoryDeadLetterStore()
	}
	if deps.transport == nil {
		memQueue := queue.NewMemoryQueue(queue.Config{
			VisibilityTimeout: cfg.Queue.Visibility(),
			MaxAttempts:       cfg.Queue.EffectiveMaxAttempts(),
			DeadLetters:       deps.deadLetters,
			Observer:          observer,
			Now:               deps.now,
		})
		deps.transport = memQueue
		if deps.replayer == nil {
			deps.replayer = memQueue
		}
	}

	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
		Limit:    cfg.RateLimit.EffectiveLimit(),
		Window:   cfg.RateLimit.Window(),
		Store:    deps.counters,
		Observer: observer,
		Now:      deps.now,
	})
	if err != nil {
		return nil, err
	}

	checker, err := ledger.NewChecker(ledger.Config{
		Lookback:   cfg.Ledger.Lookback(),
		HashFields: cfg.Ledger.ContentHashFields,
		Store:      deps.processedItems,
		Guard:      guards.For(guard.DependencyStorage),
		Observer:   observer,
		Now:        deps.now,
	})
	if err != nil {
		return nil, err
	}

	filters := ingest.DefaultFilters(cfg.OutboundIdentity, cfg.OutboundSubjectMarker)
	providerGuard := guards.For(guard.DependencyProvider)
	publisher := guardedPublisher{
		guard: guards.For(guard.DependencyEnrichment),
		next:  deps.publisher,
	}

	receiver, err := webhook.NewReceiver(webhook.Config{
		ClientState: cfg.WebhookClientState,
		Enqueuer:    deps.transport,
		Limiter:     limiter,
		Observer:    observer,
		Now:         deps.now,
	})
	if err != nil {
		return nil, err
	}

	processor, err := ingest.NewProcessor(ingest.Config{
		Provider:  deps.provider,
		Guard:     providerGuard,
		Checker:   checker,
		Publisher: publisher,
		Filters:   filters,
		Observer:  observer,
		Now:       deps.now,
	})
	if err != nil {
		return nil, err
	}

	resources := watchedResources(cfg)

	scanner, err := poller.NewScanner(poller.Config{
		Interval:  cfg.Poller.Interval(),
		BatchSize: cfg.Poller.EffectiveBatchSize(),
		Resources: resources,
		Provider:  deps.provider,
		Guard:     providerGuard,
		Checker:   checker,
		Publisher: publisher,
		Filters:   filters,
		Observer:  observer,
		Now:       deps.now,
	})
	if err != nil {
		return nil, err
	}

	manager, err := subscription.NewManager(subscription.Config{
		CallbackURL:    cfg.Subscription.CallbackURL,
		ClientState:    cfg.WebhookClientState,
		MaxLifetime:    cfg.Subscription.MaxLifetime(),
		RenewThreshold: cfg.Subscription.RenewThreshold(),
		TickInterval:   cfg.Subscription.TickInterval(),
		Resources:      resources,
		Provider:       deps.provider,
		Store:          deps.subscriptions,
		Guard:          providerGuard,
		Observer:       observer,
		Now:            deps.now,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		config:      cfg,
		observer:    observer,
		guards:      guards,
		manager:     manager,
		receiver:    receiver,
		processor:   processor,
		scanner:     scanner,
		checker:     checker,
		limiter:     limiter,
		transport:   deps.transport,
		replayer:    deps.replayer,
		deadLetters: deps.deadLetters,
	}, nil
}

func watchedResources(cfg core.Config) []string {
	ref := strings.TrimSpace(cfg.Subscription.ResourceRef)
	if ref == "" {
		return nil
	}
	return []string{ref}
}

func (s *Service) EnsureSubscription(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if s == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("mailroom: service is not initialized")
	}
	return s.manager.EnsureActive(ctx, resourceRef)
}

func (s *Service) RenewSubscription(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if s == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("mailroom: service is not initialized")
	}
	return s.manager.RenewActive(ctx, resourceRef)
}

func (s *Service) ValidateSubscription(ctx context.Context, subscriptionID string) error {
	if s == nil {
		return fmt.Errorf("mailroom: service is not initialized")
	}
	return s.manager.MarkValidated(ctx, subscriptionID)
}

func (s *Service) CancelSubscription(ctx context.Context, resourceRef string) error {
	if s == nil {
		return fmt.Errorf("mailroom: service is not initialized")
	}
	return s.manager.Cancel(ctx, resourceRef)
}

func (s *Service) RunPollScan(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("mailroom: service is not initialized")
	}
	return s.scanner.ScanOnce(ctx)
}

// ReplayDeadLetter looks up an archived envelope by ID and hands it back to
// the transport for a fresh attempt cycle.
func (s *Service) ReplayDeadLetter(ctx context.Context, envelopeID string) error {
	if s == nil {
		return fmt.Errorf("mailroom: service is not initialized")
	}
	if s.replayer == nil {
		return fmt.Errorf("mailroom: transport does not support dead letter replay")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return fmt.Errorf("mailroom: envelope id is required")
	}

	letter, err := s.findDeadLetter(ctx, envelopeID)
	if err != nil {
		return err
	}
	return s.replayer.ReplayDeadLetter(ctx, letter)
}

func (s *Service) findDeadLetter(ctx context.Context, envelopeID string) (core.DeadLetter, error) {
	const scanPage = 500
	letters, err := s.deadLetters.List(ctx, scanPage)
	if err != nil {
		return core.DeadLetter{}, fmt.Errorf("mailroom: list dead letters: %w", err)
	}
	for _, letter := range letters {
		if letter.Envelope.ID == envelopeID {
			return letter, nil
		}
	}
	return core.DeadLetter{}, fmt.Errorf("mailroom: dead letter %q: %w", envelopeID, core.ErrItemNotFound)
}

// Run starts the long-lived loops: subscription lifecycle ticks, the queue
// consumer, and the fallback poll scanner. It blocks until the context ends
// or one loop fails, then reports the first error.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("mailroom: service is not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	launch := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("mailroom: %s loop: %w", name, err)
				cancel()
			}
		}()
	}

	launch("subscription", s.manager.Run)
	launch("processor", func(ctx context.Context) error {
		return s.processor.Run(ctx, s.transport)
	})
	launch("poller", s.scanner.Run)

	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return err
	}
	return ctx.Err()
}

// Receiver is the HTTP handler for the provider webhook endpoint.
func (s *Service) Receiver() *webhook.Receiver {
	if s == nil {
		return nil
	}
	return s.receiver
}

func (s *Service) Manager() *subscription.Manager {
	if s == nil {
		return nil
	}
	return s.manager
}

func (s *Service) Processor() *ingest.Processor {
	if s == nil {
		return nil
	}
	return s.processor
}

func (s *Service) Scanner() *poller.Scanner {
	if s == nil {
		return nil
	}
	return s.scanner
}

func (s *Service) Guards() *guard.Registry {
	if s == nil {
		return nil
	}
	return s.guards
}

func (s *Service) Transport() EnvelopeTransport {
	if s == nil {
		return nil
	}
	return s.transport
}

func (s *Service) DeadLetters() core.DeadLetterStore {
	if s == nil {
		return nil
	}
	return s.deadLetters
}

func (s *Service) Config() core.Config {
	if s == nil {
		return core.Config{}
	}
	return s.config
}

func (s *Service) Observer() *core.Observer {
	if s == nil {
		return nil
	}
	return s.observer
}
