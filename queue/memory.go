// Package queue provides the raw-notification transport between the webhook
// receiver and the notification processor. Delivery is at-least-once: a
// message that is dequeued but not acked becomes visible again after the
// visibility timeout, and after the attempt budget is exhausted it is
// archived to the dead letter store instead of being dropped.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-mailroom/core"
)

type Config struct {
	// VisibilityTimeout is how long a dequeued message stays invisible
	// before it is considered abandoned and redelivered.
	VisibilityTimeout time.Duration
	// MaxAttempts bounds deliveries per message before dead-lettering.
	MaxAttempts int
	DeadLetters core.DeadLetterStore
	Observer    *core.Observer
	Now         func() time.Time
}

type message struct {
	envelope  core.NotificationEnvelope
	attempts  int
	visibleAt time.Time
	inflight  bool
	done      bool
}

// MemoryQueue is a process-local queue used by tests and single-node
// deployments. The go-job backed transport offers the same contract for
// distributed setups.
type MemoryQueue struct {
	mu          sync.Mutex
	messages    []*message
	visibility  time.Duration
	maxAttempts int
	deadLetters core.DeadLetterStore
	observer    *core.Observer
	now         func() time.Time
	wake        chan struct{}
}

func NewMemoryQueue(cfg Config) *MemoryQueue {
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryQueue{
		visibility:  visibility,
		maxAttempts: maxAttempts,
		deadLetters: cfg.DeadLetters,
		observer:    cfg.Observer,
		now:         now,
		wake:        make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, env core.NotificationEnvelope) error {
	if q == nil {
		return fmt.Errorf("queue: queue is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	q.mu.Lock()
	q.messages = append(q.messages, &message{
		envelope:  env,
		visibleAt: q.now(),
	})
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue blocks until a visible message exists or ctx ends. The returned
// delivery must be acked or nacked; an abandoned delivery is redelivered
// after the visibility timeout.
func (q *MemoryQueue) Dequeue(ctx context.Context) (core.EnvelopeDelivery, error) {
	if q == nil {
		return nil, fmt.Errorf("queue: queue is not configured")
	}
	for {
		if delivery, ok := q.tryDequeue(); ok {
			return delivery, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-time.After(q.pollInterval()):
		}
	}
}

func (q *MemoryQueue) tryDequeue() (core.EnvelopeDelivery, bool) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, msg := range q.messages {
		if msg.done || now.Before(msg.visibleAt) {
			continue
		}
		// Either a fresh message or an abandoned delivery whose
		// visibility expired.
		msg.inflight = true
		msg.attempts++
		msg.visibleAt = now.Add(q.visibility)
		env := msg.envelope
		env.Attempt = msg.attempts
		return &memoryDelivery{queue: q, msg: msg, envelope: env}, true
	}
	return nil, false
}

func (q *MemoryQueue) pollInterval() time.Duration {
	interval := q.visibility / 4
	if interval <= 0 || interval > 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	return interval
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Depth reports pending (not yet completed) messages, for tests and health
// checks.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := 0
	for _, msg := range q.messages {
		if !msg.done {
			depth++
		}
	}
	return depth
}

func (q *MemoryQueue) ack(msg *message) {
	q.mu.Lock()
	msg.done = true
	msg.inflight = false
	q.mu.Unlock()
	q.compact()
}

func (q *MemoryQueue) nack(ctx context.Context, msg *message, opts core.NackOptions) error {
	q.mu.Lock()
	msg.inflight = false

	// Anything that cannot be requeued is archived rather than dropped.
	exhausted := msg.attempts >= q.maxAttempts
	if opts.DeadLetter || exhausted || !opts.Requeue {
		msg.done = true
		env := msg.envelope
		env.Attempt = msg.attempts
		q.mu.Unlock()
		q.compact()
		return q.archive(ctx, env, opts.Reason)
	}

	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	msg.visibleAt = q.now().Add(delay)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *MemoryQueue) archive(ctx context.Context, env core.NotificationEnvelope, reason string) error {
	if q.observer != nil {
		q.observer.LogWarn(ctx, "envelope dead lettered", map[string]any{
			"envelope_id": env.ID,
			"item_ref":    env.ItemRef,
			"attempt":     env.Attempt,
			"reason":      reason,
		})
	}
	if q.deadLetters == nil {
		return nil
	}
	return q.deadLetters.Archive(ctx, core.DeadLetter{
		Envelope:   env,
		Reason:     reason,
		ArchivedAt: q.now(),
	})
}

func (q *MemoryQueue) compact() {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.messages[:0]
	for _, msg := range q.messages {
		if !msg.done {
			kept = append(kept, msg)
		}
	}
	q.messages = kept
}

// ReplayDeadLetter re-enqueues an archived envelope with a fresh attempt
// budget.
func (q *MemoryQueue) ReplayDeadLetter(ctx context.Context, letter core.DeadLetter) error {
	env := letter.Envelope
	env.Attempt = 0
	return q.Enqueue(ctx, env)
}

type memoryDelivery struct {
	queue    *MemoryQueue
	msg      *message
	envelope core.NotificationEnvelope
}

func (d *memoryDelivery) Envelope() core.NotificationEnvelope {
	return d.envelope
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.queue.ack(d.msg)
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts core.NackOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.queue.nack(ctx, d.msg, opts)
}

var (
	_ core.EnvelopeEnqueuer = (*MemoryQueue)(nil)
	_ core.EnvelopeDequeuer = (*MemoryQueue)(nil)
	_ core.EnvelopeDelivery = (*memoryDelivery)(nil)
)
