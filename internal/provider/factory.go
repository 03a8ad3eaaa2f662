package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Factory builds a provider from a validated config.
type Factory func(ctx context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error)

// Registry maps backend names to factories. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry holding every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := map[string]Factory{
		"stdout": func(_ context.Context, cfg ProviderConfig, _ HTTPClient) (Provider, error) {
			return NewStdout(cfg), nil
		},
		"file": func(_ context.Context, cfg ProviderConfig, _ HTTPClient) (Provider, error) {
			return NewFile(cfg), nil
		},
		"smtp": func(_ context.Context, cfg ProviderConfig, _ HTTPClient) (Provider, error) {
			return NewSMTP(cfg), nil
		},
		"sendgrid": func(_ context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
			return NewSendGrid(cfg, client), nil
		},
		"mailgun": func(_ context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
			return NewMailgun(cfg, client), nil
		},
		"postmark": func(_ context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
			return NewPostmark(cfg, client), nil
		},
		"sendpulse": func(_ context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
			return NewSendPulse(cfg, client), nil
		},
		"ses": func(ctx context.Context, cfg ProviderConfig, _ HTTPClient) (Provider, error) {
			return NewSES(ctx, cfg)
		},
		"resend": func(_ context.Context, cfg ProviderConfig, _ HTTPClient) (Provider, error) {
			return NewResend(cfg), nil
		},
	}
	for name, f := range builtins {
		// Built-in names are distinct, so registration cannot fail.
		_ = r.Register(name, validated(f), false)
	}
	return r
}

// validated runs ProviderConfig.Validate before f.
func validated(f Factory) Factory {
	return func(ctx context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid provider config: %w", err)
		}
		if client == nil {
			client = NewHTTPClient(cfg.Timeout)
		}
		return f(ctx, cfg, client)
	}
}

// Register adds a factory. Registering a name twice fails unless override
// is set.
func (r *Registry) Register(name string, f Factory, override bool) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("provider name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[key]; ok && !override {
		return fmt.Errorf("provider %q already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Unregister removes a factory if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, strings.ToLower(strings.TrimSpace(name)))
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create builds the provider registered under cfg.Type. Built-in factories
// validate cfg first; custom factories are handed cfg as-is.
func (r *Registry) Create(ctx context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", key)
	}
	return f(ctx, cfg, client)
}

// NewProvider creates a built-in provider from the given config and HTTP client.
func NewProvider(ctx context.Context, cfg ProviderConfig, client HTTPClient) (Provider, error) {
	return DefaultRegistry().Create(ctx, cfg, client)
}
