// Package engine is the adapter over the external download engine's
// JSON-RPC surface. It owns one persistent WebSocket connection to
// aria2 and reconnects with bounded retry when a call fails, surfacing
// ErrEngineUnavailable instead of failing silently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

const (
	defaultMaxRedials = 3
	defaultRedialWait = 500 * time.Millisecond
)

// URLForPort returns the engine's RPC endpoint for a local port.
func URLForPort(port int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/jsonrpc", port)
}

// Client is the handle to one engine instance. It is safe for
// concurrent use; calls share the single underlying connection.
type Client struct {
	url string
	log logger.Logger

	maxRedials int
	redialWait time.Duration

	mu   sync.Mutex
	cli  *jrpc2.Client
	conn *cws.Conn
}

// NewClient creates a client for the engine rooted at url. No
// connection is made until the first call.
func NewClient(url string, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Client{
		url:        url,
		log:        log,
		maxRedials: defaultMaxRedials,
		redialWait: defaultRedialWait,
	}
}

// ensure returns the live jrpc2 client, dialing if necessary.
func (c *Client) ensure(ctx context.Context) (*jrpc2.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil {
		return c.cli, nil
	}
	conn, _, err := cws.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine at %s: %w", c.url, err)
	}
	c.conn = conn
	c.cli = jrpc2.NewClient(&wsChannel{conn: conn, ctx: context.Background()}, nil)
	return c.cli, nil
}

// drop discards the current connection so the next call redials.
func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil {
		c.cli.Close()
		c.cli = nil
		c.conn = nil
	}
}

// Close shuts the connection down. The client can still be reused; the
// next call redials.
func (c *Client) Close() error {
	c.drop()
	return nil
}

// call performs one JSON-RPC round trip. RPC-level errors from the
// engine are returned as-is; transport failures trigger a redial, up
// to maxRedials, before degrading to ErrEngineUnavailable.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRedials; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.redialWait):
			}
		}
		cli, err := c.ensure(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		err = cli.CallResult(ctx, method, params, result)
		if err == nil {
			return nil
		}
		var rpcErr *jrpc2.Error
		if errors.As(err, &rpcErr) {
			// The engine answered; the request itself was rejected.
			return fmt.Errorf("%s: %w", method, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warning("engine call %s failed, redialing: %v", method, err)
		lastErr = err
		c.drop()
	}
	return fmt.Errorf("%s: %w: %v", method, ErrEngineUnavailable, lastErr)
}

// Version returns the engine's release version. Used as the
// connectivity probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	var res struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "aria2.getVersion", nil, &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// AddURI submits a download and returns the GID the engine assigned.
func (c *Client) AddURI(ctx context.Context, uris []string, opts Options) (string, error) {
	params := []interface{}{uris}
	if len(opts) > 0 {
		params = append(params, opts)
	}
	var gid string
	if err := c.call(ctx, "aria2.addUri", params, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

// TellActive returns the raw status of every active task, projected to
// the fields the translator consumes.
func (c *Client) TellActive(ctx context.Context) ([]RawStatus, error) {
	var res []RawStatus
	if err := c.call(ctx, "aria2.tellActive", []interface{}{statusKeys}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// TellStatus returns the raw status of one task by GID.
func (c *Client) TellStatus(ctx context.Context, gid string) (RawStatus, error) {
	var res RawStatus
	if err := c.call(ctx, "aria2.tellStatus", []interface{}{gid, statusKeys}, &res); err != nil {
		return RawStatus{}, err
	}
	return res, nil
}

// ActiveGIDs returns the identifiers of all active tasks.
func (c *Client) ActiveGIDs(ctx context.Context) ([]string, error) {
	var res []struct {
		GID string `json:"gid"`
	}
	if err := c.call(ctx, "aria2.tellActive", []interface{}{[]string{"gid"}}, &res); err != nil {
		return nil, err
	}
	gids := make([]string, 0, len(res))
	for _, r := range res {
		gids = append(gids, r.GID)
	}
	return gids, nil
}

// Pause pauses one task.
func (c *Client) Pause(ctx context.Context, gid string) error {
	var res string
	return c.call(ctx, "aria2.pause", []interface{}{gid}, &res)
}

// Unpause resumes one paused task.
func (c *Client) Unpause(ctx context.Context, gid string) error {
	var res string
	return c.call(ctx, "aria2.unpause", []interface{}{gid}, &res)
}

// SetSpeedLimit applies a per-task download rate cap. The limit is
// normalized to kilobyte units first; the engine's option protocol
// rejects fractional byte-scale values.
func (c *Client) SetSpeedLimit(ctx context.Context, gid, limit string) error {
	normalized, err := NormalizeSpeedLimit(limit)
	if err != nil {
		return err
	}
	var res string
	return c.call(ctx, "aria2.changeOption",
		[]interface{}{gid, map[string]string{"max-download-limit": normalized}}, &res)
}

// Shutdown asks the engine process to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	var res string
	if err := c.call(ctx, "aria2.shutdown", nil, &res); err != nil {
		return err
	}
	c.log.Info("engine shutdown: %s", res)
	return nil
}
