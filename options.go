package hashring

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultReplicas is used when NewHashRing is given a non-positive replica count.
const DefaultReplicas = 3

// CollisionPolicy decides what happens when a virtual node hashes onto a
// position that is already taken.
type CollisionPolicy uint8

const (
	// CollisionProbe moves the virtual node to the next free position.
	CollisionProbe CollisionPolicy = iota
	// CollisionReject fails the add with ErrPositionCollision and leaves the
	// ring untouched.
	CollisionReject
)

// String returns a string representation of the CollisionPolicy.
func (p CollisionPolicy) String() string {
	switch p {
	case CollisionProbe:
		return "probe"
	case CollisionReject:
		return "reject"
	default:
		return fmt.Sprintf("CollisionPolicy(%d)", p)
	}
}

type HashRingOptions struct {
	replicas   int
	encryptor  Encryptor
	collisions CollisionPolicy
	migrator   Migrator
	logger     log.Logger
	registerer prometheus.Registerer
}

type Option func(opts *HashRingOptions)

// WithEncryptor sets the hash function used for both node positions and keys.
func WithEncryptor(e Encryptor) Option {
	return func(opts *HashRingOptions) {
		opts.encryptor = e
	}
}

func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(opts *HashRingOptions) {
		opts.collisions = p
	}
}

// WithMigrator registers a callback that is told which arcs of the hash space
// changed owner after every successful AddNode or RemoveNode. The arcs are
// handed over in one batch per source node.
func WithMigrator(m Migrator) Option {
	return func(opts *HashRingOptions) {
		opts.migrator = m
	}
}

func WithLogger(l log.Logger) Option {
	return func(opts *HashRingOptions) {
		opts.logger = l
	}
}

// WithRegisterer registers the ring's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *HashRingOptions) {
		opts.registerer = reg
	}
}

func repair(opts *HashRingOptions) {
	if opts.replicas <= 0 {
		opts.replicas = DefaultReplicas
	}

	if opts.encryptor == nil {
		opts.encryptor = NewCRC32Hasher()
	}

	if opts.collisions > CollisionReject {
		opts.collisions = CollisionProbe
	}

	if opts.logger == nil {
		opts.logger = log.NewNopLogger()
	}
}
