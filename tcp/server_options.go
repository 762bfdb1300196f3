package tcp

import (
	"log/slog"
	"time"

	"github.com/edgelink/rtnet/counter"
)

type ServerOptions struct {
	logger *slog.Logger

	keepAlivePeriod time.Duration
	keepAliveCount  int

	recvCounter counter.Counter
	sendCounter counter.Counter
}

type ServerOption func(opts *ServerOptions)

func newServerOptions(opts ...ServerOption) *ServerOptions {
	opt := &ServerOptions{}
	for _, o := range opts {
		o(opt)
	}

	if opt.logger == nil {
		opt.logger = slog.Default()
	}

	return opt
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(opts *ServerOptions) {
		opts.logger = logger
	}
}

func WithKeepAlivePeriod(period time.Duration) ServerOption {
	return func(opts *ServerOptions) {
		opts.keepAlivePeriod = period
	}
}

func WithKeepAliveCount(count int) ServerOption {
	return func(opts *ServerOptions) {
		opts.keepAliveCount = count
	}
}

func WithReceiveCounter(c counter.Counter) ServerOption {
	return func(opts *ServerOptions) {
		opts.recvCounter = c
	}
}

func WithSendCounter(c counter.Counter) ServerOption {
	return func(opts *ServerOptions) {
		opts.sendCounter = c
	}
}
