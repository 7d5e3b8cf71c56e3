package wrcgw

import (
	"context"
	"time"
)

const (
	// DefaultDisconnectTimeout is how long without a received packet before
	// a wrench context is considered Disconnected.
	DefaultDisconnectTimeout = 20 * time.Second
	// DefaultReconnectGrace is how recently last_recv must have ticked for a
	// Disconnected context to be considered reconnecting rather than dead.
	DefaultReconnectGrace = 5 * time.Second
	// DefaultHeartbeatExpiry bounds how long an unbound (probe-only) MAC
	// entry survives in the registry before being reaped.
	DefaultHeartbeatExpiry = 35 * time.Second
	// DefaultReportInterval is how often a Connected/Working wrench is
	// polled for battery/telemetry and a BasicStatus is emitted.
	DefaultReportInterval = 120 * time.Second
	// DefaultPollInterval is how often GetJointData is sent to an active wrench.
	DefaultPollInterval = 5 * time.Second
	// DefaultTickInterval is the minimum cadence of the per-wrench periodic tick.
	DefaultTickInterval = 1 * time.Second

	// DefaultPortOpenRetry is the backoff before retrying a failed serial
	// device open.
	DefaultPortOpenRetry = 1 * time.Second
	// DefaultReconnectFast is the fast interval AdaptivePoll starts at.
	DefaultReconnectFast = 1 * time.Second
	// DefaultBrokerReconnect is the backoff before retrying a failed broker
	// subscribe/publish connection.
	DefaultBrokerReconnect = 1 * time.Second
	// DefaultDiscoverInterval is the default for Config's discover
	// interval. The supervisor does not re-enumerate serial ports: it starts
	// every configured port once (see Gateway.Run) and no code reads this value.
	DefaultDiscoverInterval = 1 * time.Second

	// DefaultSerialBaud is the baud rate every port is opened at (spec.md §6).
	DefaultSerialBaud = 115200
	// DefaultSerialReadTimeout bounds a single blocking read on the port.
	DefaultSerialReadTimeout = 1 * time.Second
)

// Option configures a Gateway at construction time.
type Option func(*Config)

// Config holds runtime tuning knobs. Zero value yields sane defaults via
// defaultConfig(); callers modify it through functional options.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	metrics Metrics

	disconnectTimeout time.Duration
	reconnectGrace    time.Duration
	heartbeatExpiry   time.Duration
	reportInterval    time.Duration
	pollInterval      time.Duration
	tickInterval      time.Duration

	portOpenRetry    time.Duration
	brokerReconnect  time.Duration
	discoverInterval time.Duration

	serialBaud        int
	serialReadTimeout time.Duration
}

// Validate checks the configuration is internally sane.
func (c *Config) Validate() error {
	if c.reconnectGrace >= c.disconnectTimeout {
		return ErrInvalidConfig
	}
	if c.serialBaud <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:               ctx,
		cancel:            cancel,
		metrics:           NewDefaultMetrics(),
		disconnectTimeout: DefaultDisconnectTimeout,
		reconnectGrace:    DefaultReconnectGrace,
		heartbeatExpiry:   DefaultHeartbeatExpiry,
		reportInterval:    DefaultReportInterval,
		pollInterval:      DefaultPollInterval,
		tickInterval:      DefaultTickInterval,
		portOpenRetry:     DefaultPortOpenRetry,
		brokerReconnect:   DefaultBrokerReconnect,
		discoverInterval:  DefaultDiscoverInterval,
		serialBaud:        DefaultSerialBaud,
		serialReadTimeout: DefaultSerialReadTimeout,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// NewConfig builds a Config from the given options, applying defaults for
// everything not overridden. The returned Config is not yet validated;
// callers should call Validate before using it.
func NewConfig(opts ...Option) *Config {
	return applyConfig(opts)
}

// WithContext stores a cancellable copy of ctx in the Config. Gateway.Run
// and the broker reader/writer run under the context passed to their Run
// methods, not this one.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithMetrics sets a custom metrics implementation. If not provided, a
// default implementation with atomic counters is used.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithDisconnectTimeout sets how long without a received packet before a
// wrench is considered Disconnected.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.disconnectTimeout = d
		}
	}
}

// WithReconnectGrace sets the grace window within which a Disconnected
// wrench's next packet is treated as a reconnect rather than a cold start.
func WithReconnectGrace(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.reconnectGrace = d
		}
	}
}

// WithHeartbeatExpiry sets how long an unbound MAC probe survives in the registry.
func WithHeartbeatExpiry(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.heartbeatExpiry = d
		}
	}
}

// WithReportInterval sets how often telemetry (BasicStatus) is emitted per wrench.
func WithReportInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.reportInterval = d
		}
	}
}

// WithPollInterval sets how often GetJointData is sent to an active wrench.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPortOpenRetry sets the backoff between failed serial port open attempts.
func WithPortOpenRetry(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.portOpenRetry = d
		}
	}
}

// WithBrokerReconnect sets the backoff between failed broker connection attempts.
func WithBrokerReconnect(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.brokerReconnect = d
		}
	}
}

// WithDiscoverInterval sets the stored discover interval. The supervisor
// does not enumerate serial ports, so the value has no effect on Gateway.Run.
func WithDiscoverInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.discoverInterval = d
		}
	}
}
