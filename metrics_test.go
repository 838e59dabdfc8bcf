package hashring

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestHashRing_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	migrations := atomic.NewInt64(0)
	h := NewHashRing(3,
		WithRegisterer(reg),
		WithMigrator(func(_ context.Context, ms []Migration) error {
			migrations.Add(int64(len(ms)))
			return nil
		}),
	)
	require.Equal(t, float64(3), testutil.ToFloat64(h.metrics.replicas))

	require.NoError(t, h.AddNode(ctx, "node-a"))
	require.NoError(t, h.AddNode(ctx, "node-b"))
	require.Equal(t, float64(2), testutil.ToFloat64(h.metrics.nodes))
	require.Equal(t, float64(6), testutil.ToFloat64(h.metrics.positions))

	_, err := h.Lookup("some-key")
	require.NoError(t, err)
	_, err = h.Lookup("")
	require.Error(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.lookupsSuccess))
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.lookupsInvalid))

	require.NoError(t, h.RemoveNode(ctx, "node-a"))
	require.NoError(t, h.RemoveNode(ctx, "node-b"))
	_, err = h.Lookup("some-key")
	require.ErrorIs(t, err, ErrEmptyRing)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.lookupsEmpty))
	require.Equal(t, float64(0), testutil.ToFloat64(h.metrics.positions))

	// node-b's three arcs on add plus node-a's three arcs on remove.
	require.Equal(t, int64(6), migrations.Load())
	require.Equal(t, float64(6), testutil.ToFloat64(h.metrics.migrationsTotal))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "hashring_lookups_total")
	require.Contains(t, names, "hashring_nodes")
}

func TestHashRing_MetricsCollisions(t *testing.T) {
	h := NewHashRing(2, WithEncryptor(EncryptFunc(func(string) uint32 { return 7 })))
	require.NoError(t, h.AddNode(context.Background(), "node-a"))

	positions, err := h.Positions("node-a")
	require.NoError(t, err)
	require.Equal(t, []uint32{7, 8}, positions)
	require.Equal(t, float64(1), testutil.ToFloat64(h.metrics.collisionsTotal))
}
