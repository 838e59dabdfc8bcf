// Command ringdemo spreads random keys across a hash ring and prints how many
// keys each node received.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pule1234/hashring"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
)

type demoConfig struct {
	replicas int
	nodes    []string
	remove   string
	hasher   string
	keys     int
	workers  int
	samples  int
	logLevel string
}

func main() {
	var cfg demoConfig

	cmd := &cobra.Command{
		Use:   "ringdemo",
		Short: "Tally random key lookups per node of a consistent hash ring",
		Run: func(cmd *cobra.Command, args []string) {
			l := newLogger(cfg.logLevel)
			if err := runHits(cmd.Context(), l, cfg); err != nil {
				level.Error(l).Log("msg", "demo failed", "err", err)
				os.Exit(1)
			}
		},
	}

	cmd.PersistentFlags().IntVar(&cfg.replicas, "replicas", 1000, "Virtual nodes per node")
	cmd.PersistentFlags().StringSliceVar(&cfg.nodes, "nodes", []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"}, "Nodes to add to the ring")
	cmd.PersistentFlags().StringVar(&cfg.remove, "remove", "", "Node to remove after all nodes were added")
	cmd.PersistentFlags().StringVar(&cfg.hasher, "hasher", "crc32", "Hash function: crc32, murmur3 or xxhash")
	cmd.PersistentFlags().IntVar(&cfg.keys, "keys", 100000, "Number of random keys to look up")
	cmd.PersistentFlags().StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().IntVar(&cfg.workers, "workers", 4, "Goroutines performing lookups")
	cmd.Flags().IntVar(&cfg.samples, "samples", 5, "Sample lookups to print at the end")

	cmd.AddCommand(cmdCache(&cfg))

	_ = cmd.ExecuteContext(context.Background())
}

func newLogger(lvl string) log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC)

	switch lvl {
	case "debug":
		return level.NewFilter(l, level.AllowDebug())
	case "warn":
		return level.NewFilter(l, level.AllowWarn())
	case "error":
		return level.NewFilter(l, level.AllowError())
	default:
		return level.NewFilter(l, level.AllowInfo())
	}
}

// buildRing constructs a ring from cfg and adds every configured node.
func buildRing(ctx context.Context, l log.Logger, cfg demoConfig, opts ...hashring.Option) (*hashring.HashRing, error) {
	encryptor, err := hashring.NewEncryptor(cfg.hasher)
	if err != nil {
		return nil, err
	}

	opts = append([]hashring.Option{
		hashring.WithEncryptor(encryptor),
		hashring.WithLogger(l),
	}, opts...)
	r := hashring.NewHashRing(cfg.replicas, opts...)

	for _, node := range cfg.nodes {
		if err := r.AddNode(ctx, node); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func runHits(ctx context.Context, l log.Logger, cfg demoConfig) error {
	r, err := buildRing(ctx, l, cfg)
	if err != nil {
		return err
	}

	// Nodes are tallied even after removal so the output shows them at zero.
	hits := make(map[string]*atomic.Int64, len(cfg.nodes))
	for _, node := range cfg.nodes {
		hits[node] = atomic.NewInt64(0)
	}

	if cfg.remove != "" {
		if err := r.RemoveNode(ctx, cfg.remove); err != nil {
			return err
		}
		level.Info(l).Log("msg", "removed node", "node", cfg.remove)
	}

	workers := cfg.workers
	if workers <= 0 {
		workers = 1
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		lookErr error
	)
	for w := 0; w < workers; w++ {
		n := cfg.keys / workers
		if w < cfg.keys%workers {
			n++
		}

		wg.Add(1)
		go func(seed int64, n int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < n; i++ {
				node, err := r.Lookup(randomKey(rnd))
				if err != nil {
					errOnce.Do(func() { lookErr = err })
					return
				}
				hits[node].Inc()
			}
		}(time.Now().UnixNano()+int64(w), n)
	}
	wg.Wait()
	if lookErr != nil {
		return lookErr
	}

	total := r.Len()
	names := make([]string, 0, len(hits))
	for node := range hits {
		names = append(names, node)
	}
	sort.Strings(names)

	for _, node := range names {
		var expected float64
		if positions, err := r.Positions(node); err == nil && total > 0 {
			expected = 100 * float64(len(positions)) / float64(total)
		}
		got := 100 * float64(hits[node].Load()) / float64(cfg.keys)
		fmt.Printf("%-20s hits=%-8d share=%5.1f%% expected=%5.1f%%\n", node, hits[node].Load(), got, expected)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.samples; i++ {
		node, err := r.Lookup(randomKey(rnd))
		if err != nil {
			return err
		}
		fmt.Println("Save on:" + node)
	}
	return nil
}

func randomKey(rnd *rand.Rand) string {
	return strconv.Itoa(rnd.Intn(10000)) + strconv.FormatInt(time.Now().Unix(), 10) + strconv.Itoa(rnd.Int())
}
