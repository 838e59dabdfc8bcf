package hashring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/pule1234/hashring/internal/testlogger"
	"github.com/stretchr/testify/require"
)

func TestMigration_Contains(t *testing.T) {
	tt := []struct {
		name   string
		m      Migration
		pos    uint32
		expect bool
	}{
		{name: "inside", m: Migration{Start: 10, End: 20}, pos: 15, expect: true},
		{name: "end is inclusive", m: Migration{Start: 10, End: 20}, pos: 20, expect: true},
		{name: "start is exclusive", m: Migration{Start: 10, End: 20}, pos: 10, expect: false},
		{name: "outside", m: Migration{Start: 10, End: 20}, pos: 25, expect: false},
		{name: "wrapped top", m: Migration{Start: 30, End: 10}, pos: math.MaxUint32, expect: true},
		{name: "wrapped bottom", m: Migration{Start: 30, End: 10}, pos: 5, expect: true},
		{name: "wrapped outside", m: Migration{Start: 30, End: 10}, pos: 20, expect: false},
		{name: "full circle", m: Migration{Start: 10, End: 10}, pos: 42, expect: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, tc.m.Contains(tc.pos))
		})
	}
}

// recorder collects the migrations handed to it.
type recorder struct {
	mut        sync.Mutex
	calls      int
	migrations []Migration
}

func (r *recorder) Migrate(_ context.Context, ms []Migration) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.calls++
	r.migrations = append(r.migrations, ms...)
	return nil
}

func (r *recorder) Calls() int {
	r.mut.Lock()
	defer r.mut.Unlock()

	calls := r.calls
	r.calls = 0
	return calls
}

func (r *recorder) Take() []Migration {
	r.mut.Lock()
	defer r.mut.Unlock()

	res := r.migrations
	r.migrations = nil
	sort.Slice(res, func(i, j int) bool { return res[i].End < res[j].End })
	return res
}

func TestHashRing_MigrationScenario(t *testing.T) {
	var rec recorder
	h := newABCRing(t, WithMigrator(rec.Migrate))

	// A was added to an empty ring; B took (10, 20] from A; C took (20, 30]
	// from A.
	require.Equal(t, []Migration{
		{From: "A", To: "B", Start: 10, End: 20},
		{From: "A", To: "C", Start: 20, End: 30},
	}, rec.Take())

	require.NoError(t, h.RemoveNode(context.Background(), "B"))
	require.Equal(t, []Migration{
		{From: "B", To: "C", Start: 10, End: 20},
	}, rec.Take())

	// A's arc wraps past the top of the space.
	require.NoError(t, h.RemoveNode(context.Background(), "A"))
	require.Equal(t, []Migration{
		{From: "A", To: "C", Start: 30, End: 10},
	}, rec.Take())

	// Nothing is left to migrate to.
	require.NoError(t, h.RemoveNode(context.Background(), "C"))
	require.Empty(t, rec.Take())
}

// TestHashRing_MigrationsMatchRemappedKeys enforces that the reported arcs
// cover exactly the keys whose owner changed.
func TestHashRing_MigrationsMatchRemappedKeys(t *testing.T) {
	ctx := context.Background()

	var rec recorder
	h := NewHashRing(32, WithMigrator(rec.Migrate), WithLogger(testlogger.New(t)))
	for n := 0; n < 4; n++ {
		require.NoError(t, h.AddNode(ctx, fmt.Sprintf("node-%d", n)))
	}
	rec.Take()

	keys := make([]string, 5000)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	check := func(change func()) {
		t.Helper()

		before := make(map[string]string, len(keys))
		for _, key := range keys {
			owner, err := h.Lookup(key)
			require.NoError(t, err)
			before[key] = owner
		}

		change()
		migrations := rec.Take()
		require.NotEmpty(t, migrations)

		for _, key := range keys {
			after, err := h.Lookup(key)
			require.NoError(t, err)

			var arc *Migration
			for i := range migrations {
				if migrations[i].Contains(h.Hash(key)) {
					arc = &migrations[i]
					break
				}
			}

			if arc == nil {
				require.Equal(t, before[key], after, "key %s outside every arc changed owner", key)
				continue
			}
			require.Equal(t, arc.From, before[key], "key %s", key)
			require.Equal(t, arc.To, after, "key %s", key)
		}
	}

	check(func() { require.NoError(t, h.AddNode(ctx, "node-new")) })
	check(func() { require.NoError(t, h.RemoveNode(ctx, "node-1")) })
}

func TestHashRing_MigratorErrors(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	h := NewHashRing(4,
		WithLogger(testlogger.New(t)),
		WithMigrator(func(ctx context.Context, ms []Migration) error {
			for _, m := range ms {
				if m.To == "node-b" {
					return errBoom
				}
				if m.From == "node-b" {
					panic("migrator blew up")
				}
			}
			return nil
		}),
	)
	require.NoError(t, h.AddNode(ctx, "node-a"))

	err := h.AddNode(ctx, "node-b")
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, []string{"node-a", "node-b"}, h.Nodes(), "membership change must stay committed")

	err = h.RemoveNode(ctx, "node-b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "migrator blew up")
	require.Equal(t, []string{"node-a"}, h.Nodes())
}

func TestHashRing_MigratorCalledOncePerSource(t *testing.T) {
	ctx := context.Background()

	var rec recorder
	h := NewHashRing(100, WithMigrator(rec.Migrate))
	require.NoError(t, h.AddNode(ctx, "node-a"))
	require.NoError(t, h.AddNode(ctx, "node-b"))
	rec.Calls()
	rec.Take()

	// All of node-b's arcs leave one node, so they arrive in one call.
	require.NoError(t, h.RemoveNode(ctx, "node-b"))
	require.Equal(t, 1, rec.Calls())

	migrations := rec.Take()
	require.Len(t, migrations, 100)
	for _, m := range migrations {
		require.Equal(t, "node-b", m.From)
		require.Equal(t, "node-a", m.To)
	}

	// A new node takes arcs from both existing owners: one call per owner.
	require.NoError(t, h.AddNode(ctx, "node-b"))
	require.NoError(t, h.AddNode(ctx, "node-c"))
	rec.Calls()
	rec.Take()
	require.NoError(t, h.AddNode(ctx, "node-d"))

	sources := make(map[string]struct{})
	for _, m := range rec.Take() {
		sources[m.From] = struct{}{}
	}
	require.Equal(t, len(sources), rec.Calls())
}
