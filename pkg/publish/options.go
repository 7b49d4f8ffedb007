package publish

import (
	"log/slog"
	"time"
)

type queuerOptions struct {
	strategy     Strategy
	logger       *slog.Logger
	idleInterval time.Duration
	errorBackoff time.Duration
}

// QueuerOption configures a Queuer.
type QueuerOption func(*queuerOptions)

// WithStrategy binds a publish strategy; DefaultStrategy applies otherwise.
func WithStrategy(strategy Strategy) QueuerOption {
	return func(o *queuerOptions) {
		o.strategy = strategy
	}
}

// WithLogger sets the logger used by the queuer and its workers.
func WithLogger(logger *slog.Logger) QueuerOption {
	return func(o *queuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIdleInterval sets how long an idle worker sleeps when the queue is
// empty or the pacing interval has not elapsed. Tests shrink this.
func WithIdleInterval(d time.Duration) QueuerOption {
	return func(o *queuerOptions) {
		if d > 0 {
			o.idleInterval = d
		}
	}
}

// WithErrorBackoff sets how long a worker waits after a transient store
// error before continuing its loop.
func WithErrorBackoff(d time.Duration) QueuerOption {
	return func(o *queuerOptions) {
		if d > 0 {
			o.errorBackoff = d
		}
	}
}

type registryOptions struct {
	logger     *slog.Logger
	defaults   map[string]Strategy
	queuerOpts []QueuerOption
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

// WithRegistryLogger sets the logger passed down to every queuer.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDefaultStrategy pre-binds a strategy applied when the platform is
// later registered without an explicit one.
func WithDefaultStrategy(platform string, strategy Strategy) RegistryOption {
	return func(o *registryOptions) {
		o.defaults[platform] = strategy
	}
}

// WithQueuerOptions appends options applied to every queuer the registry
// constructs, such as WithIdleInterval in tests.
func WithQueuerOptions(opts ...QueuerOption) RegistryOption {
	return func(o *registryOptions) {
		o.queuerOpts = append(o.queuerOpts, opts...)
	}
}
