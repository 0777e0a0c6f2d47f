package netcore

import "github.com/QYUbit/axnet/pkg/axlog"

type options struct {
	logger axlog.Logger
}

// Option configures a Client or Server.
type Option func(*options)

// WithLogger sets the logger used for diagnostics. Defaults to axlog.Nop().
func WithLogger(logger axlog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = axlog.OrNop(o.logger)
	return o
}
