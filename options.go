package dagflow

import "github.com/sirupsen/logrus"

// Config is the executor's configuration surface: the per-edge channel
// capacity and the filesystem root under which every stateful node's
// checkpoint env is created.
type Config struct {
	// ChannelBufSz is the bounded capacity of every edge channel. A sender
	// blocks once a channel is full; this is the kernel's only backpressure
	// mechanism.
	ChannelBufSz int
	// BasePath is the root directory for all per-node checkpoint envs.
	BasePath string
	// Logger receives structured execution logs. Defaults to a package
	// logger at warn level when nil.
	Logger *logrus.Logger
}

// Option configures a Config via the functional-options pattern, matching
// the teacher's Option/merge idiom (options.go in the machine package).
type Option func(*Config)

// WithChannelBufSz sets the per-edge bounded channel capacity.
func WithChannelBufSz(n int) Option {
	return func(c *Config) { c.ChannelBufSz = n }
}

// WithBasePath sets the root directory for per-node checkpoint envs.
func WithBasePath(path string) Option {
	return func(c *Config) { c.BasePath = path }
}

// WithLogger overrides the default executor logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// NewConfig builds a Config from functional options, defaulting
// ChannelBufSz to 0 (unbuffered) and Logger to the package default.
func NewConfig(opts ...Option) *Config {
	c := &Config{Logger: defaultLogger}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = defaultLogger
	}
	return c
}
