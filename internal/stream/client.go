// Package stream wraps the append-only stream store behind a reconnecting
// client. Entries are cursor-addressed: IDs are opaque, totally ordered and
// monotonically increasing within a stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/tanklink/tankbridge/internal/platform/retry"
)

const (
	connectAttempts   = 5
	connectBackoff    = 200 * time.Millisecond
	connectBackoffCap = time.Second
	commandRetries    = 5
	commandBackoff    = 8 * time.Millisecond
	commandBackoffCap = time.Second
)

// Entry is one stream record.
type Entry struct {
	ID     string
	Values map[string]any
}

// Client is a reconnecting handle to the stream store. The live connection
// is swapped atomically on reset; resets are serialized so a connection-loss
// storm across many callers produces one reconnect, not N.
type Client struct {
	url   string
	clock clockwork.Clock

	mu  sync.Mutex // guards rdb and gen
	rdb *redis.Client
	gen uint64

	resetMu sync.Mutex // serializes Reset
}

// New dials the store and verifies it with a ping round-trip. A failed ping
// tears the half-open connection down; the whole handshake retries under a
// bounded exponential backoff budget before giving up.
func New(ctx context.Context, url string, clock clockwork.Clock) (*Client, error) {
	c := &Client{url: url, clock: clock}

	policy := retry.Policy{
		MaxAttempts:    connectAttempts,
		InitialBackoff: connectBackoff,
		MaxBackoff:     connectBackoffCap,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Stream store connection failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	rdb, err := retry.Do(ctx, clock, policy, classifyDial, func() (*redis.Client, error) {
		return c.dial(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to stream store: %w", err)
	}

	c.rdb = rdb
	return c, nil
}

func classifyDial(err error) retry.Action {
	var permanent *permanentDialError
	if errors.As(err, &permanent) {
		return retry.Stop
	}
	return retry.Retry
}

type permanentDialError struct{ err error }

func (e *permanentDialError) Error() string { return e.err.Error() }
func (e *permanentDialError) Unwrap() error { return e.err }

// dialOptions parses the store URL and applies the per-command retry budget.
func dialOptions(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, &permanentDialError{err: fmt.Errorf("parse store URL: %w", err)}
	}
	opts.MaxRetries = commandRetries
	opts.MinRetryBackoff = commandBackoff
	opts.MaxRetryBackoff = commandBackoffCap
	return opts, nil
}

func (c *Client) dial(ctx context.Context) (*redis.Client, error) {
	opts, err := dialOptions(c.url)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping stream store: %w", err)
	}
	return rdb, nil
}

func (c *Client) current() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Reset replaces the live connection. Callers that raced the same failure
// coalesce onto one reconnect: whoever acquires the reset first performs it,
// and everyone who queued behind finds the fresh connection healthy and
// returns without dialing again.
func (c *Client) Reset(ctx context.Context) error {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()

	if err := c.current().Ping(ctx).Err(); err == nil {
		return nil
	}

	rdb, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("reset stream store client: %w", err)
	}

	c.mu.Lock()
	old := c.rdb
	c.rdb = rdb
	c.gen++
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	slog.Info("Stream store client reset")
	return nil
}

// ReadFrom returns up to count entries after cursor, waiting up to block for
// new ones. An exhausted wait yields an empty result, not an error.
func (c *Client) ReadFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.current().XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q from %q: %w", stream, cursor, err)
	}

	var entries []Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Values: msg.Values})
		}
	}
	return entries, nil
}

// Append adds an entry to the stream. A positive maxLen caps the stream as a
// bounded buffer: oldest entries are dropped (approximately) once exceeded.
func (c *Client) Append(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := c.current().XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("append to %q: %w", stream, err)
	}
	return id, nil
}

// TrimOlderThan drops entries older than age, returning the trimmed count.
func (c *Client) TrimOlderThan(ctx context.Context, stream string, age time.Duration) (int64, error) {
	threshold := c.clock.Now().Add(-age).UnixMilli()
	minID := strconv.FormatInt(threshold, 10) + "-0"

	trimmed, err := c.current().XTrimMinIDApprox(ctx, stream, minID, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("trim %q below %s: %w", stream, minID, err)
	}
	return trimmed, nil
}

// Delete removes one entry by id.
func (c *Client) Delete(ctx context.Context, stream, id string) error {
	if err := c.current().XDel(ctx, stream, id).Err(); err != nil {
		return fmt.Errorf("delete %s from %q: %w", id, stream, err)
	}
	return nil
}

// Ping verifies the live connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.current().Ping(ctx).Err()
}

// Close closes the live connection.
func (c *Client) Close() error {
	return c.current().Close()
}

// IsConnectionError reports whether err is an I/O-level connection failure,
// as opposed to a store-side error like a failed delete.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
