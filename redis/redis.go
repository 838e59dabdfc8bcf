package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/demdxx/gocast"
	"github.com/gomodule/redigo/redis"
)

// Client is a pooled connection to a single Redis server.
type Client struct {
	opts *ClientOptions
	pool *redis.Pool
}

func NewClient(network, address, password string, opts ...ClientOption) *Client {
	c := Client{
		opts: &ClientOptions{
			network:  network,
			address:  address,
			password: password,
		},
	}

	for _, opt := range opts {
		opt(c.opts)
	}
	repairClient(c.opts)

	c.pool = c.getRedisPool()
	return &c
}

// Address returns the address the client dials.
func (c *Client) Address() string { return c.opts.address }

// Password returns the password other servers need to write to this one.
func (c *Client) Password() string { return c.opts.password }

func (c *Client) Close() error { return c.pool.Close() }

func (c *Client) getRedisPool() *redis.Pool {
	return &redis.Pool{
		MaxIdle:     c.opts.maxIdle,
		IdleTimeout: time.Duration(c.opts.idleTimeoutSeconds) * time.Second,
		Dial: func() (redis.Conn, error) {
			c, err := c.getRedisConn()
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		MaxActive: c.opts.maxActive,
		Wait:      c.opts.wait,
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}
}

func (c *Client) getRedisConn() (redis.Conn, error) {
	if c.opts.address == "" {
		return nil, errors.New("redis address is empty")
	}

	var dialOpts []redis.DialOption
	if len(c.opts.password) > 0 {
		dialOpts = append(dialOpts, redis.DialPassword(c.opts.password))
	}
	conn, err := redis.DialContext(context.Background(),
		c.opts.network, c.opts.address, dialOpts...)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

// Scan runs one SCAN iteration starting at cursor. The returned cursor is 0
// once the whole keyspace was visited.
func (c *Client) Scan(ctx context.Context, cursor int64, count int) (int64, []string, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	raws, err := redis.Values(conn.Do("SCAN", cursor, "COUNT", count))
	if err != nil {
		return 0, nil, err
	}

	if len(raws) != 2 {
		return 0, nil, fmt.Errorf("invalid scan reply len: %d", len(raws))
	}

	keys, err := redis.Strings(raws[1], nil)
	if err != nil {
		return 0, nil, err
	}
	return gocast.ToInt64(gocast.ToString(raws[0])), keys, nil
}

// Migrate atomically moves keys to the Redis server at host:port, replacing
// any existing value there. Keys missing on this server are skipped.
func (c *Client) Migrate(ctx context.Context, host string, port int, password string, keys []string, timeout time.Duration) error {
	if len(keys) == 0 {
		return nil
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := redis.String(conn.Do("MIGRATE", migrateArgs(host, port, password, keys, timeout)...))
	if err != nil {
		return err
	}
	if reply != "OK" && reply != "NOKEY" {
		return fmt.Errorf("unexpected migrate reply: %s", reply)
	}
	return nil
}

// migrateArgs builds the arguments of a multi-key MIGRATE into database 0.
func migrateArgs(host string, port int, password string, keys []string, timeout time.Duration) []interface{} {
	args := make([]interface{}, 0, 9+len(keys))
	args = append(args, host, port, "", 0, timeout.Milliseconds(), "REPLACE")
	if password != "" {
		args = append(args, "AUTH", password)
	}
	args = append(args, "KEYS")
	for _, key := range keys {
		args = append(args, key)
	}
	return args
}

func (c *Client) Set(ctx context.Context, key, val string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("SET", key, val)
	return err
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return redis.String(conn.Do("GET", key))
}

func (c *Client) Del(ctx context.Context, key string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("DEL", key)
	return err
}

// Eval runs a Lua script on the server.
func (c *Client) Eval(ctx context.Context, src string, keyCount int, keysAndArgs []interface{}) (interface{}, error) {
	args := make([]interface{}, 2+len(keysAndArgs))
	args[0] = src
	args[1] = keyCount
	copy(args[2:], keysAndArgs)
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return -1, err
	}
	defer conn.Close()

	return conn.Do("EVAL", args...)
}

func (c *Client) SetNEX(ctx context.Context, key, value string, expireSeconds int64) (int64, error) {
	if key == "" || value == "" {
		return -1, errors.New("redis SET keyNX or value can't be empty")
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return -1, err
	}
	defer conn.Close()

	reply, err := conn.Do("SET", key, value, "EX", expireSeconds, "NX")
	if err != nil {
		return -1, err
	}
	if respStr, ok := reply.(string); ok && strings.ToLower(respStr) == "ok" {
		return 1, nil
	}

	return redis.Int64(reply, err)
}
