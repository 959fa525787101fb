package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/devsync-core/internal/infrastructure/config"
)

var (
	ErrDisabled         = errors.New("influxdb: mirror disabled")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
)

const (
	pingTimeout = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second

	// nodeTag is attached to every point so several cores can share a bucket.
	nodeTag = "node_id"
)

// Client is the time-series mirror. A nil *Client is valid and drops
// every write, so callers need no enabled checks.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed      atomic.Bool
	writeErrors atomic.Int64

	mu      sync.RWMutex
	onError func(error)
}

// Connect pings the server and starts the batched write API. It returns
// ErrDisabled when cfg.Enabled is false and wraps ErrConnectionFailed when
// the server is unreachable or unhealthy.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, nodeID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(positiveOr(cfg.BatchSize, fallbackBatchSize))). // #nosec G115 -- positive by construction
		SetFlushInterval(uint(flushInterval(cfg.FlushInterval).Milliseconds()))
	if nodeID != "" {
		opts.AddDefaultTag(nodeTag, nodeID)
	}
	ic := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := ic.Ping(pingCtx)
	switch {
	case err != nil:
		ic.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	case !ok:
		ic.Close()
		return nil, fmt.Errorf("%w: %s reports unhealthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{client: ic, writeAPI: ic.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// flushInterval converts the configured seconds to a duration.
func flushInterval(seconds int) time.Duration {
	if seconds <= 0 {
		return fallbackFlushInterval
	}
	return time.Duration(seconds) * time.Second
}

// drainErrors runs until the write API closes its error channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrors.Add(1)
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers a callback for asynchronous batch write failures.
func (c *Client) SetOnError(fn func(error)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// WriteErrors is the number of failed batch writes since Connect.
func (c *Client) WriteErrors() int64 {
	if c == nil {
		return 0
	}
	return c.writeErrors.Load()
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := c.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !ok {
		return errors.New("influxdb ping: server unhealthy")
	}
	return nil
}

// Flush blocks until buffered points have been sent.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes and releases the client. Later calls are no-ops.
func (c *Client) Close() error {
	if c == nil || c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
