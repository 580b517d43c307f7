package smt

import (
	"hash"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// config holds the optional parameters of a Tree, configurable through
// Option values passed to New.
type config struct {
	newHash  func() hash.Hash
	log      zerolog.Logger
	registry prometheus.Registerer
}

// DefaultConfig is used for any option left unset by the caller.
var DefaultConfig = config{
	newHash:  NewKeccak256Hasher(),
	log:      zerolog.Nop(),
	registry: nil,
}

// Option configures optional parameters of a Tree at construction time.
type Option func(*config)

// WithHasher selects the hash constructor used for paths, leaves, and
// internal nodes. Defaults to Keccak-256.
func WithHasher(newHash func() hash.Hash) Option {
	return func(c *config) {
		c.newHash = newHash
	}
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log.With().Str("component", "smt").Logger()
	}
}

// WithMetricsRegisterer registers the tree's Prometheus collectors against
// reg. Left unset, a Tree records no metrics.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registry = reg
	}
}
