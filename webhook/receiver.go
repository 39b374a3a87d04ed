// Package webhook exposes the inbound change-notification endpoint. The
// provider imposes a short acknowledgement deadline, so the receiver only
// validates, enqueues, and returns; all real work happens off the request
// path in the notification processor.
package webhook

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-mailroom/core"
	"github.com/goliatone/go-mailroom/ratelimit"
)

const validationTokenParam = "validationToken"

const defaultMaxBodyBytes int64 = 1 << 20 // 1 MiB

type Config struct {
	// ClientState is the shared secret every delivery entry must carry.
	ClientState string
	Enqueuer    core.EnvelopeEnqueuer
	Limiter     core.InboundRateLimiter
	Observer    *core.Observer
	// ClientKey resolves the rate-limit key from the request. Defaults to
	// the caller IP.
	ClientKey    func(r *http.Request) string
	MaxBodyBytes int64
	Now          func() time.Time
}

type Receiver struct {
	clientState  string
	enqueuer     core.EnvelopeEnqueuer
	limiter      core.InboundRateLimiter
	observer     *core.Observer
	clientKey    func(r *http.Request) string
	maxBodyBytes int64
	now          func() time.Time
}

func NewReceiver(cfg Config) (*Receiver, error) {
	if cfg.Enqueuer == nil {
		return nil, fmt.Errorf("webhook: envelope enqueuer is required")
	}
	if strings.TrimSpace(cfg.ClientState) == "" {
		return nil, fmt.Errorf("webhook: client state secret is required")
	}
	clientKey := cfg.ClientKey
	if clientKey == nil {
		clientKey = ratelimit.ClientKeyFromRequest
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Receiver{
		clientState:  cfg.ClientState,
		enqueuer:     cfg.Enqueuer,
		limiter:      cfg.Limiter,
		observer:     cfg.Observer,
		clientKey:    clientKey,
		maxBodyBytes: maxBodyBytes,
		now:          now,
	}, nil
}

func (rcv *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rcv == nil {
		http.Error(w, "receiver unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if rcv.limiter != nil {
		if err := rcv.limiter.Allow(ctx, rcv.clientKey(r)); err != nil {
			if rcv.observer != nil {
				rcv.observer.LogWarn(ctx, "webhook caller throttled", map[string]any{
					"client_key": rcv.clientKey(r),
				})
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	// Handshake mode: echo the token as plain text and do nothing else.
	if token := r.URL.Query().Get(validationTokenParam); strings.TrimSpace(token) != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, token)
		if rcv.observer != nil {
			rcv.observer.LogInfo(ctx, "handshake token echoed", nil)
		}
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, rcv.maxBodyBytes))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	payload, err := DecodeDeliveryPayload(body)
	if err != nil {
		if rcv.observer != nil {
			rcv.observer.LogWarn(ctx, "malformed delivery payload dropped", map[string]any{
				"error": err.Error(),
			})
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	receivedAt := rcv.now()
	accepted := 0
	for _, entry := range payload.Value {
		if subtle.ConstantTimeCompare([]byte(entry.ClientState), []byte(rcv.clientState)) != 1 {
			// Only a short prefix of the presented secret is ever
			// logged.
			if rcv.observer != nil {
				rcv.observer.LogWarn(ctx, "delivery entry dropped on secret mismatch", map[string]any{
					"subscription_id": entry.SubscriptionID,
					"presented":       core.SecretPrefix(entry.ClientState),
				})
			}
			continue
		}

		envelope := core.NotificationEnvelope{
			ID:             uuid.NewString(),
			SubscriptionID: strings.TrimSpace(entry.SubscriptionID),
			ResourceRef:    core.NormalizeResourceRef(entry.Resource),
			ItemRef:        entry.ItemRef(),
			ChangeType:     strings.TrimSpace(entry.ChangeType),
			ReceivedAt:     receivedAt,
		}
		if err := rcv.enqueuer.Enqueue(ctx, envelope); err != nil {
			// A failed enqueue would lose the notification; a non-2xx
			// makes the provider redeliver the batch.
			if rcv.observer != nil {
				rcv.observer.LogError(ctx, "envelope enqueue failed", map[string]any{
					"subscription_id": envelope.SubscriptionID,
					"item_ref":        envelope.ItemRef,
					"error":           err.Error(),
				})
			}
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		accepted++
	}

	if rcv.observer != nil {
		rcv.observer.Observe(ctx, receivedAt, "webhook.deliver", nil, map[string]any{
			"source": core.ItemSourceWebhook,
		})
		rcv.observer.LogInfo(ctx, "delivery batch accepted", map[string]any{
			"entries":  len(payload.Value),
			"accepted": accepted,
		})
	}
	w.WriteHeader(http.StatusAccepted)
}

var _ http.Handler = (*Receiver)(nil)
