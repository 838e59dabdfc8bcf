package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pule1234/hashring"
	"github.com/pule1234/hashring/redis"
	"github.com/spf13/cobra"
)

func cmdCache(cfg *demoConfig) *cobra.Command {
	var (
		password string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Write keys to the Redis servers named by --nodes and migrate them when --remove drops a server",
		Run: func(cmd *cobra.Command, args []string) {
			l := newLogger(cfg.logLevel)
			if err := runCache(cmd.Context(), l, *cfg, password, wait); err != nil {
				level.Error(l).Log("msg", "cache demo failed", "err", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password of the Redis servers")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a free pooled connection instead of failing when the pool is exhausted")

	return cmd
}

func runCache(ctx context.Context, l log.Logger, cfg demoConfig, password string, wait bool) (err error) {
	var clientOpts []redis.ClientOption
	if wait {
		clientOpts = append(clientOpts, redis.WithWaitMode())
	}

	clients := make(map[string]*redis.Client, len(cfg.nodes))
	for _, node := range cfg.nodes {
		clients[node] = redis.NewClient("tcp", node, password, clientOpts...)
	}
	defer func() {
		var errs *multierror.Error
		for _, c := range clients {
			errs = multierror.Append(errs, c.Close())
		}
		if cerr := errs.ErrorOrNil(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	encryptor, err := hashring.NewEncryptor(cfg.hasher)
	if err != nil {
		return err
	}
	migrator := redis.NewMigrator(encryptor, clients, redis.WithMigratorLogger(l))

	r, err := buildRing(ctx, l, cfg, hashring.WithMigrator(migrator.Migrate))
	if err != nil {
		return err
	}

	for i := 0; i < cfg.keys; i++ {
		key := "ringdemo:" + strconv.Itoa(i)
		node, err := r.Lookup(key)
		if err != nil {
			return err
		}
		if err := clients[node].Set(ctx, key, strconv.Itoa(i)); err != nil {
			return fmt.Errorf("set %s on %s: %w", key, node, err)
		}
	}
	level.Info(l).Log("msg", "wrote keys", "keys", cfg.keys)

	if cfg.remove == "" {
		return nil
	}
	if err := r.RemoveNode(ctx, cfg.remove); err != nil {
		return err
	}

	var missing int
	for i := 0; i < cfg.keys; i++ {
		key := "ringdemo:" + strconv.Itoa(i)
		node, err := r.Lookup(key)
		if err != nil {
			return err
		}
		if _, err := clients[node].Get(ctx, key); err != nil {
			missing++
		}
	}
	fmt.Printf("removed %s: %d of %d keys readable from their new owner\n", cfg.remove, cfg.keys-missing, cfg.keys)
	return nil
}
