// Package redis moves cache entries between Redis servers when the owner of a
// hash ring arc changes. Node ids on the ring name the Redis servers.
package redis

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/demdxx/gocast"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pule1234/hashring"
	"github.com/xiaoxuxiansheng/redis_lock"
)

const lockKeyPrefix = "redis:consistent_hash:migrate:lock:"

// heldLockKeyPrefix prefixes the key redis_lock writes to the source server
// while a migration holds the lock. Those keys never leave the source.
const heldLockKeyPrefix = redis_lock.RedisLockKeyPrefix + lockKeyPrefix

type MigratorOptions struct {
	scanCount         int
	timeout           time.Duration
	lockExpireSeconds int64
	lockWaitSeconds   int64
	logger            log.Logger
}

type MigratorOption func(opts *MigratorOptions)

// WithScanCount sets the COUNT hint of every SCAN issued against the source.
func WithScanCount(count int) MigratorOption {
	return func(opts *MigratorOptions) {
		opts.scanCount = count
	}
}

// WithMigrateTimeout bounds each MIGRATE round trip to the destination.
func WithMigrateTimeout(timeout time.Duration) MigratorOption {
	return func(opts *MigratorOptions) {
		opts.timeout = timeout
	}
}

func WithLockExpireSeconds(seconds int64) MigratorOption {
	return func(opts *MigratorOptions) {
		opts.lockExpireSeconds = seconds
	}
}

func WithLockWaitSeconds(seconds int64) MigratorOption {
	return func(opts *MigratorOptions) {
		opts.lockWaitSeconds = seconds
	}
}

func WithMigratorLogger(l log.Logger) MigratorOption {
	return func(opts *MigratorOptions) {
		opts.logger = l
	}
}

func repairMigrator(opts *MigratorOptions) {
	if opts.scanCount <= 0 {
		opts.scanCount = 100
	}
	if opts.timeout <= 0 {
		opts.timeout = 5 * time.Second
	}
	if opts.lockExpireSeconds <= 0 {
		opts.lockExpireSeconds = 30
	}
	if opts.lockWaitSeconds <= 0 {
		opts.lockWaitSeconds = 10
	}
	if opts.logger == nil {
		opts.logger = log.NewNopLogger()
	}
}

// keyMover is the part of *Client the Migrator depends on.
type keyMover interface {
	redis_lock.LockClient

	Address() string
	Password() string
	Scan(ctx context.Context, cursor int64, count int) (int64, []string, error)
	Migrate(ctx context.Context, host string, port int, password string, keys []string, timeout time.Duration) error
}

var _ keyMover = (*Client)(nil)

// Migrator relocates the keys of migrated arcs from the source server to the
// destination servers. Pass Migrate to hashring.WithMigrator, using the same
// Encryptor as the ring.
type Migrator struct {
	encryptor hashring.Encryptor
	clients   map[string]keyMover
	opts      MigratorOptions
}

func NewMigrator(encryptor hashring.Encryptor, clients map[string]*Client, opts ...MigratorOption) *Migrator {
	movers := make(map[string]keyMover, len(clients))
	for nodeID, c := range clients {
		movers[nodeID] = c
	}
	return newMigrator(encryptor, movers, opts...)
}

func newMigrator(encryptor hashring.Encryptor, clients map[string]keyMover, opts ...MigratorOption) *Migrator {
	m := Migrator{
		encryptor: encryptor,
		clients:   clients,
	}

	for _, opt := range opts {
		opt(&m.opts)
	}
	repairMigrator(&m.opts)
	return &m
}

var _ hashring.Migrator = (*Migrator)(nil).Migrate

// Migrate moves every key whose ring position lies on one of the arcs to the
// arc's destination. Each source server is scanned once per call under its
// migration lock, so only one migration per source server runs at a time.
func (m *Migrator) Migrate(ctx context.Context, migrations []hashring.Migration) error {
	var (
		sources  []string
		bySource = make(map[string][]hashring.Migration)
	)
	for _, mig := range migrations {
		if _, ok := bySource[mig.From]; !ok {
			sources = append(sources, mig.From)
		}
		bySource[mig.From] = append(bySource[mig.From], mig)
	}

	if len(sources) == 1 {
		return m.migrateFrom(ctx, sources[0], bySource[sources[0]])
	}

	var (
		wg     sync.WaitGroup
		errMut sync.Mutex
		errs   *multierror.Error
	)
	for _, from := range sources {
		from, arcs := from, bySource[from]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.migrateFrom(ctx, from, arcs); err != nil {
				errMut.Lock()
				errs = multierror.Append(errs, err)
				errMut.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// destination is a server receiving keys during one migration.
type destination struct {
	host     string
	port     int
	password string
}

func (m *Migrator) migrateFrom(ctx context.Context, from string, arcs []hashring.Migration) (err error) {
	src, ok := m.clients[from]
	if !ok {
		return fmt.Errorf("no redis client for node %q", from)
	}

	dests := make(map[string]destination)
	for _, mig := range arcs {
		if _, ok := dests[mig.To]; ok {
			continue
		}
		to, ok := m.clients[mig.To]
		if !ok {
			return fmt.Errorf("no redis client for node %q", mig.To)
		}
		host, port, err := splitAddress(to.Address())
		if err != nil {
			return err
		}
		dests[mig.To] = destination{host: host, port: port, password: to.Password()}
	}

	idx := newArcIndex(arcs)

	lock := redis_lock.NewRedisLock(m.getLockKey(from), src,
		redis_lock.WithExpireSeconds(m.opts.lockExpireSeconds),
		redis_lock.WithBlock(),
		redis_lock.WithBlockWaitingSeconds(m.opts.lockWaitSeconds),
	)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("redis migrator lock %s failed, err: %w", from, err)
	}
	defer func() {
		if uerr := lock.Unlock(ctx); uerr != nil {
			level.Warn(m.opts.logger).Log("msg", "failed to release migration lock", "from", from, "err", uerr)
			if err == nil {
				err = fmt.Errorf("redis migrator unlock %s failed, err: %w", from, uerr)
			}
		}
	}()

	var (
		cursor int64
		pages  int
		moved  int
	)
	for {
		next, keys, err := src.Scan(ctx, cursor, m.opts.scanCount)
		if err != nil {
			return fmt.Errorf("redis migrator scan %s failed, err: %w", from, err)
		}
		pages++

		for to, batch := range m.groupKeys(keys, idx) {
			dest := dests[to]
			if err := src.Migrate(ctx, dest.host, dest.port, dest.password, batch, m.opts.timeout); err != nil {
				return fmt.Errorf("redis migrator migrate %s->%s failed, err: %w", from, to, err)
			}
			moved += len(batch)
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	level.Debug(m.opts.logger).Log("msg", "migrated arcs", "from", from, "arcs", len(arcs), "destinations", len(dests), "keys", moved, "scan_pages", pages)
	return nil
}

// groupKeys assigns every key lying on an arc of idx to the arc's destination.
// Keys outside every arc and held lock keys are left out.
func (m *Migrator) groupKeys(keys []string, idx arcIndex) map[string][]string {
	res := make(map[string][]string)
	for _, key := range keys {
		if strings.HasPrefix(key, heldLockKeyPrefix) {
			continue
		}
		if mig, ok := idx.find(m.encryptor.Encrypt(key)); ok {
			res[mig.To] = append(res[mig.To], key)
		}
	}
	return res
}

// arcIndex looks up the arc holding a position. The arcs of one membership
// change never overlap.
type arcIndex []hashring.Migration

func newArcIndex(arcs []hashring.Migration) arcIndex {
	idx := append(arcIndex(nil), arcs...)
	sort.Slice(idx, func(i, j int) bool { return idx[i].End < idx[j].End })
	return idx
}

func (a arcIndex) find(pos uint32) (hashring.Migration, bool) {
	if len(a) == 0 {
		return hashring.Migration{}, false
	}

	i := sort.Search(len(a), func(i int) bool { return a[i].End >= pos })
	if i < len(a) && a[i].Contains(pos) {
		return a[i], true
	}
	// Only the arc wrapping past the top of the space can hold pos here; it
	// has the smallest End.
	if a[0].Contains(pos) {
		return a[0], true
	}
	return hashring.Migration{}, false
}

func (m *Migrator) getLockKey(nodeID string) string {
	return lockKeyPrefix + nodeID
}

func splitAddress(address string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid redis address %q: %w", address, err)
	}

	port := gocast.ToInt(rawPort)
	if port <= 0 {
		return "", 0, fmt.Errorf("invalid redis port in %q", address)
	}
	return host, port, nil
}
