package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(_ context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded config < runtime overrides via a
// go-options stack and re-validates the merged result.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			layer[key] = value
		}
	}
	setString("service_name", cfg.ServiceName)
	setString("webhook_client_state", cfg.WebhookClientState)
	setString("outbound_identity", cfg.OutboundIdentity)
	setString("outbound_subject_marker", cfg.OutboundSubjectMarker)

	if sub := subscriptionLayer(cfg.Subscription, includeZero); len(sub) > 0 {
		layer["subscription"] = sub
	}
	if ledger := ledgerLayer(cfg.Ledger, includeZero); len(ledger) > 0 {
		layer["ledger"] = ledger
	}
	if rate := intLayer(map[string]int{
		"limit":          cfg.RateLimit.Limit,
		"window_seconds": cfg.RateLimit.WindowSeconds,
	}, includeZero); len(rate) > 0 {
		layer["rate_limit"] = rate
	}
	if breakers := breakersLayer(cfg.Breakers, includeZero); len(breakers) > 0 {
		layer["breakers"] = breakers
	}
	if queue := intLayer(map[string]int{
		"visibility_seconds": cfg.Queue.VisibilitySeconds,
		"max_attempts":       cfg.Queue.MaxAttempts,
	}, includeZero); len(queue) > 0 {
		layer["queue"] = queue
	}
	if poller := intLayer(map[string]int{
		"interval_minutes": cfg.Poller.IntervalMinutes,
		"batch_size":       cfg.Poller.BatchSize,
	}, includeZero); len(poller) > 0 {
		layer["poller"] = poller
	}
	return layer
}

func subscriptionLayer(cfg SubscriptionConfig, includeZero bool) map[string]any {
	out := intLayer(map[string]int{
		"max_lifetime_hours":    cfg.MaxLifetimeHours,
		"renew_threshold_hours": cfg.RenewThresholdHrs,
		"tick_interval_hours":   cfg.TickIntervalHours,
	}, includeZero)
	if includeZero || strings.TrimSpace(cfg.ResourceRef) != "" {
		out["resource_ref"] = cfg.ResourceRef
	}
	if includeZero || strings.TrimSpace(cfg.CallbackURL) != "" {
		out["callback_url"] = cfg.CallbackURL
	}
	return out
}

func ledgerLayer(cfg LedgerConfig, includeZero bool) map[string]any {
	out := intLayer(map[string]int{
		"lookback_days": cfg.LookbackDays,
	}, includeZero)
	if includeZero || len(cfg.ContentHashFields) > 0 {
		out["content_hash_fields"] = append([]string(nil), cfg.ContentHashFields...)
	}
	return out
}

func breakersLayer(cfg BreakersConfig, includeZero bool) map[string]any {
	out := map[string]any{}
	if provider := breakerLayer(cfg.Provider, includeZero); len(provider) > 0 {
		out["provider"] = provider
	}
	if storage := breakerLayer(cfg.Storage, includeZero); len(storage) > 0 {
		out["storage"] = storage
	}
	if enrichment := breakerLayer(cfg.Enrichment, includeZero); len(enrichment) > 0 {
		out["enrichment"] = enrichment
	}
	return out
}

func breakerLayer(cfg BreakerConfig, includeZero bool) map[string]any {
	return intLayer(map[string]int{
		"fail_max":              cfg.FailMax,
		"reset_timeout_seconds": cfg.ResetTimeoutSecs,
		"call_timeout_seconds":  cfg.CallTimeoutSecs,
	}, includeZero)
}

func intLayer(values map[string]int, includeZero bool) map[string]any {
	out := map[string]any{}
	for key, value := range values {
		if includeZero || value > 0 {
			out[key] = value
		}
	}
	return out
}
