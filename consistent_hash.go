// Package hashring implements a consistent hashing ring with virtual nodes.
//
// Every node is placed on a 32-bit circular hash space at a fixed number of
// positions. A key is owned by the node holding the first position at or
// clockwise after the key's hash, wrapping past the largest position back to
// the smallest one. Adding or removing a node only remaps the keys that fall
// on the arcs next to that node's positions.
package hashring

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
)

// HashRing maps keys onto a dynamic set of nodes. HashRing is goroutine safe:
// lookups share a read lock and membership changes hold the write lock.
type HashRing struct {
	mut sync.RWMutex

	// Virtual node positions and their owners.
	ring *ring
	// Positions owned by each node, in replica order. Kept consistent with
	// ring so that removal never scans the whole ring.
	nodes map[string][]uint32

	opts    HashRingOptions
	metrics *metrics
}

// NewHashRing returns an empty ring placing replicas virtual nodes per node.
// A non-positive replicas falls back to DefaultReplicas.
func NewHashRing(replicas int, opts ...Option) *HashRing {
	h := HashRing{
		ring:  newRing(),
		nodes: make(map[string][]uint32),
	}
	h.opts.replicas = replicas

	for _, opt := range opts {
		opt(&h.opts)
	}
	repair(&h.opts)

	h.metrics = newMetrics(h.opts)
	if h.opts.registerer != nil {
		if err := h.opts.registerer.Register(h.metrics); err != nil {
			level.Warn(h.opts.logger).Log("msg", "failed to register hash ring metrics", "err", err)
		}
	}
	return &h
}

// AddNode places replicas virtual nodes for nodeID on the ring. Re-adding a
// registered node fails with ErrNodeExists.
//
// If a Migrator is configured it is called with the arcs that moved to nodeID,
// once per previous owner, before AddNode returns. A migrator failure is
// returned, but the node stays on the ring.
func (h *HashRing) AddNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("add node: empty node id: %w", ErrInvalidArgument)
	}

	migrations, err := h.addNode(nodeID)
	if err != nil {
		return err
	}
	return h.batchExecuteMigrator(ctx, migrations)
}

func (h *HashRing) addNode(nodeID string) ([]Migration, error) {
	h.mut.Lock()
	defer h.mut.Unlock()

	if _, ok := h.nodes[nodeID]; ok {
		return nil, fmt.Errorf("add node %q: %w", nodeID, ErrNodeExists)
	}

	wasEmpty := h.ring.Len() == 0

	positions := make([]uint32, 0, h.opts.replicas)
	for i := 1; i <= h.opts.replicas; i++ {
		score := h.opts.encryptor.Encrypt(h.getRawNodeKey(nodeID, i))
		placed, err := h.place(score, nodeID)
		if err != nil {
			for _, p := range positions {
				h.ring.Rem(p)
			}
			return nil, err
		}
		positions = append(positions, placed)
	}
	h.nodes[nodeID] = positions
	h.updateGauges()

	level.Debug(h.opts.logger).Log("msg", "added node", "node", nodeID, "positions", len(positions), "ring_size", h.ring.Len())

	if wasEmpty || h.opts.migrator == nil {
		return nil, nil
	}
	return h.migrateIn(nodeID, positions), nil
}

// place puts nodeID at score, applying the collision policy when score is
// taken. It returns the position actually used.
func (h *HashRing) place(score uint32, nodeID string) (uint32, error) {
	for !h.ring.Add(score, nodeID) {
		owner, _ := h.ring.Node(score)
		h.metrics.collisionsTotal.Inc()

		if h.opts.collisions == CollisionReject {
			return 0, fmt.Errorf("add node %q: position %d owned by %q: %w", nodeID, score, owner, ErrPositionCollision)
		}

		level.Warn(h.opts.logger).Log("msg", "virtual node collision, probing next position", "node", nodeID, "position", score, "owner", owner)
		// Wraps to 0 past the top of the space.
		score++
	}
	return score, nil
}

// RemoveNode takes every virtual node of nodeID off the ring.
//
// If a Migrator is configured it is called once with every arc that moved
// away from nodeID, unless the ring is left empty.
func (h *HashRing) RemoveNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("remove node: empty node id: %w", ErrInvalidArgument)
	}

	migrations, err := h.removeNode(nodeID)
	if err != nil {
		return err
	}
	return h.batchExecuteMigrator(ctx, migrations)
}

func (h *HashRing) removeNode(nodeID string) ([]Migration, error) {
	h.mut.Lock()
	defer h.mut.Unlock()

	positions, ok := h.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("remove node %q: %w", nodeID, ErrNodeNotFound)
	}

	// Arcs have to be computed while nodeID is still on the ring.
	var migrations []Migration
	if h.opts.migrator != nil && len(h.nodes) > 1 {
		migrations = h.migrateOut(nodeID, positions)
	}

	for _, p := range positions {
		h.ring.Rem(p)
	}
	delete(h.nodes, nodeID)
	h.updateGauges()

	level.Debug(h.opts.logger).Log("msg", "removed node", "node", nodeID, "positions", len(positions), "ring_size", h.ring.Len())
	return migrations, nil
}

// Lookup returns the node owning key.
func (h *HashRing) Lookup(key string) (string, error) {
	if key == "" {
		h.metrics.lookupsInvalid.Inc()
		return "", fmt.Errorf("lookup: empty key: %w", ErrInvalidArgument)
	}

	score := h.opts.encryptor.Encrypt(key)

	h.mut.RLock()
	defer h.mut.RUnlock()

	ceilingScore, ok := h.ring.Ceiling(score)
	if !ok {
		h.metrics.lookupsEmpty.Inc()
		return "", ErrEmptyRing
	}

	nodeID, _ := h.ring.Node(ceilingScore)
	h.metrics.lookupsSuccess.Inc()
	return nodeID, nil
}

// Hash returns the position of key on the ring.
func (h *HashRing) Hash(key string) uint32 {
	return h.opts.encryptor.Encrypt(key)
}

// Nodes returns the registered nodes in lexicographic order.
func (h *HashRing) Nodes() []string {
	h.mut.RLock()
	defer h.mut.RUnlock()

	res := make([]string, 0, len(h.nodes))
	for nodeID := range h.nodes {
		res = append(res, nodeID)
	}
	sort.Strings(res)
	return res
}

// Positions returns the positions owned by nodeID in replica order.
func (h *HashRing) Positions(nodeID string) ([]uint32, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("positions: empty node id: %w", ErrInvalidArgument)
	}

	h.mut.RLock()
	defer h.mut.RUnlock()

	positions, ok := h.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("positions of %q: %w", nodeID, ErrNodeNotFound)
	}
	return append([]uint32(nil), positions...), nil
}

// Len returns the number of virtual node positions on the ring.
func (h *HashRing) Len() int {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return h.ring.Len()
}

// Replicas returns the number of virtual nodes placed per node.
func (h *HashRing) Replicas() int { return h.opts.replicas }

func (h *HashRing) updateGauges() {
	h.metrics.nodes.Set(float64(len(h.nodes)))
	h.metrics.positions.Set(float64(h.ring.Len()))
}

func (h *HashRing) getRawNodeKey(nodeID string, index int) string {
	return nodeID + strconv.Itoa(index)
}

// batchExecuteMigrator groups the arcs by the node they leave and runs one
// migrator call per source node concurrently, waiting for all of them.
func (h *HashRing) batchExecuteMigrator(ctx context.Context, migrations []Migration) error {
	if len(migrations) == 0 {
		return nil
	}

	var (
		sources  []string
		bySource = make(map[string][]Migration)
	)
	for _, m := range migrations {
		if _, ok := bySource[m.From]; !ok {
			sources = append(sources, m.From)
		}
		bySource[m.From] = append(bySource[m.From], m)
	}

	var (
		wg     sync.WaitGroup
		errMut sync.Mutex
		errs   *multierror.Error
	)

	appendErr := func(err error) {
		errMut.Lock()
		defer errMut.Unlock()
		errs = multierror.Append(errs, err)
	}

	for _, from := range sources {
		from, arcs := from, bySource[from]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					level.Error(h.opts.logger).Log("msg", "migrator panicked", "from", from, "arcs", len(arcs), "panic", r)
					appendErr(fmt.Errorf("migrate from %s: panic: %v", from, r))
				}
			}()

			if err := h.opts.migrator(ctx, arcs); err != nil {
				appendErr(fmt.Errorf("migrate from %s: %w", from, err))
			}
		}()
	}
	wg.Wait()

	h.metrics.migrationsTotal.Add(float64(len(migrations)))

	if err := errs.ErrorOrNil(); err != nil {
		level.Warn(h.opts.logger).Log("msg", "migration failed", "err", err)
		return fmt.Errorf("ring updated but migration failed: %w", err)
	}
	return nil
}
