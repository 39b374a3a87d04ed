// Package guard wraps outbound dependency calls in per-dependency circuit
// breakers. Breaker state is process-local: each worker detects and reacts to
// an outage independently within one detection interval.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"

	"github.com/goliatone/go-mailroom/core"
)

var ErrOpen = errors.New("guard: circuit is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type Settings struct {
	// FailMax consecutive failures trip the breaker open.
	FailMax int
	// ResetTimeout is how long the breaker stays open before permitting
	// exactly one half-open probe.
	ResetTimeout time.Duration
	// CallTimeout bounds each wrapped call; expiry counts as a failure.
	CallTimeout time.Duration
	Observer    *core.Observer
	Now         func() time.Time
}

// Breaker guards one named external dependency. While open, Do fails
// immediately with ErrOpen and the wrapped operation is never invoked.
type Breaker struct {
	name        string
	callTimeout time.Duration
	observer    *core.Observer
	cb          *gobreaker.CircuitBreaker
}

func NewBreaker(name string, settings Settings) *Breaker {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "dependency"
	}
	failMax := settings.FailMax
	if failMax <= 0 {
		failMax = 5
	}
	resetTimeout := settings.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	callTimeout := settings.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	observer := settings.Observer
	breaker := &Breaker{
		name:        name,
		callTimeout: callTimeout,
		observer:    observer,
	}
	breaker.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// Exactly one probe is permitted while half-open.
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= failMax
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if observer == nil {
				return
			}
			observer.LogWarn(context.Background(), "circuit state changed", map[string]any{
				"dependency": name,
				"from":       mapState(from),
				"to":         mapState(to),
			})
		},
	})
	return breaker
}

func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

func (b *Breaker) State() State {
	if b == nil || b.cb == nil {
		return StateClosed
	}
	return mapState(b.cb.State())
}

func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if b == nil || b.cb == nil {
		return fmt.Errorf("guard: breaker is not configured")
	}
	if op == nil {
		return fmt.Errorf("guard: operation is required")
	}

	_, err := b.cb.Execute(func() (any, error) {
		callCtx := ctx
		if b.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}
		return nil, op(callCtx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return b.openError()
	}
	return err
}

func (b *Breaker) openError() error {
	return goerrors.Wrap(
		ErrOpen,
		goerrors.CategoryExternal,
		fmt.Sprintf("guard: circuit %s is open", b.name),
	).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(core.MailroomErrorCircuitOpen).
		WithMetadata(map[string]any{"dependency": b.name})
}

func mapState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

var _ core.CallGuard = (*Breaker)(nil)
