package core

import (
	"fmt"
	"strings"
	"time"
)

type SubscriptionConfig struct {
	ResourceRef       string `koanf:"resource_ref" mapstructure:"resource_ref"`
	CallbackURL       string `koanf:"callback_url" mapstructure:"callback_url"`
	MaxLifetimeHours  int    `koanf:"max_lifetime_hours" mapstructure:"max_lifetime_hours"`
	RenewThresholdHrs int    `koanf:"renew_threshold_hours" mapstructure:"renew_threshold_hours"`
	TickIntervalHours int    `koanf:"tick_interval_hours" mapstructure:"tick_interval_hours"`
}

func (c SubscriptionConfig) MaxLifetime() time.Duration {
	if c.MaxLifetimeHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.MaxLifetimeHours) * time.Hour
}

func (c SubscriptionConfig) RenewThreshold() time.Duration {
	if c.RenewThresholdHrs <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(c.RenewThresholdHrs) * time.Hour
}

func (c SubscriptionConfig) TickInterval() time.Duration {
	if c.TickIntervalHours <= 0 {
		return 6 * 24 * time.Hour
	}
	return time.Duration(c.TickIntervalHours) * time.Hour
}

// LedgerConfig exposes the secondary content-hash dedup as tunables: the
// collision granularity is a deliberate availability/precision trade-off,
// not a settled algorithm.
type LedgerConfig struct {
	LookbackDays      int      `koanf:"lookback_days" mapstructure:"lookback_days"`
	ContentHashFields []string `koanf:"content_hash_fields" mapstructure:"content_hash_fields"`
}

func (c LedgerConfig) Lookback() time.Duration {
	if c.LookbackDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

type RateLimitConfig struct {
	Limit         int `koanf:"limit" mapstructure:"limit"`
	WindowSeconds int `koanf:"window_seconds" mapstructure:"window_seconds"`
}

func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c RateLimitConfig) EffectiveLimit() int {
	if c.Limit <= 0 {
		return 100
	}
	return c.Limit
}

type BreakerConfig struct {
	FailMax           int `koanf:"fail_max" mapstructure:"fail_max"`
	ResetTimeoutSecs  int `koanf:"reset_timeout_seconds" mapstructure:"reset_timeout_seconds"`
	CallTimeoutSecs   int `koanf:"call_timeout_seconds" mapstructure:"call_timeout_seconds"`
}

func (c BreakerConfig) ResetTimeout() time.Duration {
	if c.ResetTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ResetTimeoutSecs) * time.Second
}

func (c BreakerConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// BreakersConfig tunes one breaker per external dependency. The enrichment
// breaker trips faster than the provider breaker: losing a non-critical
// enrichment call is cheaper than losing the mail path.
type BreakersConfig struct {
	Provider   BreakerConfig `koanf:"provider" mapstructure:"provider"`
	Storage    BreakerConfig `koanf:"storage" mapstructure:"storage"`
	Enrichment BreakerConfig `koanf:"enrichment" mapstructure:"enrichment"`
}

type QueueConfig struct {
	VisibilitySeconds int `koanf:"visibility_seconds" mapstructure:"visibility_seconds"`
	MaxAttempts       int `koanf:"max_attempts" mapstructure:"max_attempts"`
}

func (c QueueConfig) Visibility() time.Duration {
	if c.VisibilitySeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.VisibilitySeconds) * time.Second
}

func (c QueueConfig) EffectiveMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 5
	}
	return c.MaxAttempts
}

type PollerConfig struct {
	IntervalMinutes int `koanf:"interval_minutes" mapstructure:"interval_minutes"`
	BatchSize       int `koanf:"batch_size" mapstructure:"batch_size"`
}

func (c PollerConfig) Interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c PollerConfig) EffectiveBatchSize() int {
	if c.BatchSize <= 0 {
		return 50
	}
	return c.BatchSize
}

type Config struct {
	ServiceName           string             `koanf:"service_name" mapstructure:"service_name"`
	WebhookClientState    string             `koanf:"webhook_client_state" mapstructure:"webhook_client_state"`
	OutboundIdentity      string             `koanf:"outbound_identity" mapstructure:"outbound_identity"`
	OutboundSubjectMarker string             `koanf:"outbound_subject_marker" mapstructure:"outbound_subject_marker"`
	Subscription          SubscriptionConfig `koanf:"subscription" mapstructure:"subscription"`
	Ledger                LedgerConfig       `koanf:"ledger" mapstructure:"ledger"`
	RateLimit             RateLimitConfig    `koanf:"rate_limit" mapstructure:"rate_limit"`
	Breakers              BreakersConfig     `koanf:"breakers" mapstructure:"breakers"`
	Queue                 QueueConfig        `koanf:"queue" mapstructure:"queue"`
	Poller                PollerConfig       `koanf:"poller" mapstructure:"poller"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "mailroom",
		Subscription: SubscriptionConfig{
			MaxLifetimeHours:  7 * 24,
			RenewThresholdHrs: 48,
			TickIntervalHours: 6 * 24,
		},
		Ledger: LedgerConfig{
			LookbackDays:      90,
			ContentHashFields: []string{"sender", "subject", "date"},
		},
		RateLimit: RateLimitConfig{
			Limit:         100,
			WindowSeconds: 60,
		},
		Breakers: BreakersConfig{
			Provider:   BreakerConfig{FailMax: 5, ResetTimeoutSecs: 60, CallTimeoutSecs: 30},
			Storage:    BreakerConfig{FailMax: 5, ResetTimeoutSecs: 30, CallTimeoutSecs: 10},
			Enrichment: BreakerConfig{FailMax: 3, ResetTimeoutSecs: 120, CallTimeoutSecs: 10},
		},
		Queue: QueueConfig{
			VisibilitySeconds: 30,
			MaxAttempts:       5,
		},
		Poller: PollerConfig{
			IntervalMinutes: 15,
			BatchSize:       50,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Subscription.RenewThreshold() >= c.Subscription.MaxLifetime() {
		return fmt.Errorf("core: renew threshold must be below the subscription max lifetime")
	}
	if c.Subscription.TickInterval() >= c.Subscription.MaxLifetime() {
		return fmt.Errorf("core: subscription tick interval must leave a renewal safety buffer")
	}
	return nil
}
