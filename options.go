package redarchlog

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/redarch/logging-go/event"
	"github.com/redarch/logging-go/transport"
)

// Option customises how a logger is wired. The defaults — HTTP transport,
// HS256 JWT credentials, unregistered metrics — suit production use; options
// exist for tests and for deployments with their own transport or credential
// scheme.
type Option func(*settings)

type settings struct {
	transport  transport.Transport
	auth       transport.AuthProvider
	registerer prometheus.Registerer
	onReject   func(batch []event.Event, outcome transport.Outcome)
}

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(s *settings) { s.transport = t }
}

// WithAuthProvider replaces the JWT credential provider.
func WithAuthProvider(a transport.AuthProvider) Option {
	return func(s *settings) { s.auth = a }
}

// WithRegisterer registers the delivery metrics on reg (for example
// prometheus.DefaultRegisterer). Without it the metrics still count but are
// not exposed.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithRejectHook installs a callback invoked with every batch the endpoint
// refused as non-retryable, after it has been written to the audit file.
// The hook runs on the worker goroutine and must not block.
func WithRejectHook(fn func(batch []event.Event, outcome transport.Outcome)) Option {
	return func(s *settings) { s.onReject = fn }
}

func applyOptions(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
