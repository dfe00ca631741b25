package journey

import (
	"time"

	"github.com/prospectiq/journey-go/journey/emit"
)

// Options configures an Engine. Use the With* functional options via
// NewEngine; zero values fall back to the defaults below.
type Options struct {
	// MaxConcurrentSteps bounds the number of step handlers executing
	// simultaneously. Default 4.
	MaxConcurrentSteps int

	// DefaultStepTimeout applies to any node without its own Timeout.
	// Zero means no timeout.
	DefaultStepTimeout time.Duration

	// Retry is the handler-level retry policy applied to every step
	// attempt. Workflow-level retry (the fallback strategy) composes on
	// top of this.
	Retry RetryOptions

	// AllowMultiple enables fan-out: every matching transition from a
	// completed node fires instead of only the highest-priority one.
	AllowMultiple bool

	// Fallbacks maps step ID to the chain consulted when that step
	// fails. Steps without an entry use DefaultFallbackChain.
	Fallbacks map[string]FallbackChain

	// TenantID stamps persisted instances for multi-tenant stores.
	TenantID string

	Emitter emit.Emitter
	Store   Store
	Metrics *Metrics
	Flags   FlagResolver

	// Clock is the time source for preconditions and timestamps.
	// Injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Option mutates engine Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxConcurrentSteps: 4,
		Emitter:            &emit.NullEmitter{},
		Clock:              time.Now,
	}
}

// WithMaxConcurrentSteps bounds parallel step execution.
func WithMaxConcurrentSteps(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConcurrentSteps = n
		}
	}
}

// WithDefaultStepTimeout sets the timeout for nodes that do not declare
// their own.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultStepTimeout = d }
}

// WithRetryPolicy sets the handler-level retry policy for all steps.
func WithRetryPolicy(r RetryOptions) Option {
	return func(o *Options) { o.Retry = r }
}

// WithAllowMultiple enables fan-out transition selection.
func WithAllowMultiple() Option {
	return func(o *Options) { o.AllowMultiple = true }
}

// WithFallback attaches a fallback chain to a step.
func WithFallback(stepID string, chain FallbackChain) Option {
	return func(o *Options) {
		if o.Fallbacks == nil {
			o.Fallbacks = make(map[string]FallbackChain)
		}
		o.Fallbacks[stepID] = chain
	}
}

// WithTenant stamps persisted instances with a tenant ID.
func WithTenant(tenantID string) Option {
	return func(o *Options) { o.TenantID = tenantID }
}

// WithEmitter sets the event emitter. Nil restores the null emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(o *Options) {
		if e == nil {
			e = &emit.NullEmitter{}
		}
		o.Emitter = e
	}
}

// WithStore enables checkpoint and instance persistence.
func WithStore(s Store) Option {
	return func(o *Options) { o.Store = s }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithFlagResolver sets the feature flag backend for preconditions.
func WithFlagResolver(r FlagResolver) Option {
	return func(o *Options) { o.Flags = r }
}

// WithClock injects a time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}
