package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// defaultHandshakeTimeout bounds the WebSocket opening handshake.
const defaultHandshakeTimeout = 10 * time.Second

// notifBuffer is the bound on queued push notifications per connection.
const notifBuffer = 64

// Session is one live server connection as seen by the connection manager
// and its dependents.
type Session interface {
	// Call invokes a remote procedure and unmarshals the result into
	// result (discarded when nil).
	Call(ctx context.Context, method string, params, result interface{}) error

	// Notifications delivers server-pushed events until the session ends.
	Notifications() <-chan Notification

	// Done is closed when the session has ended for any reason.
	Done() <-chan struct{}

	// Err returns the terminal error after Done, nil for a local Close.
	Err() error

	// Close tears the session down.
	Close() error
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcError is an error returned by the server.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// frame is any incoming message: a call response (ID set) or a pushed
// notification (Method set).
type frame struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Conn is a JSON-RPC 2.0 session over a single WebSocket. Responses are
// matched to calls by id; a response arriving after its call was abandoned
// is discarded.
type Conn struct {
	ws  *websocket.Conn
	url string
	log zerolog.Logger

	writeMu sync.Mutex // gorilla permits one concurrent writer

	mu      sync.Mutex
	pending map[uint64]chan *frame
	err     error // terminal error, set once before done closes

	nextID atomic.Uint64
	notifs chan Notification
	done   chan struct{}
	once   sync.Once
}

// Compile-time interface check.
var _ Session = (*Conn)(nil)

// Dial opens a WebSocket session to the given server URL.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, url, err)
	}

	c := &Conn{
		ws:      ws,
		url:     url,
		log:     log.With().Str("server", url).Logger(),
		pending: make(map[uint64]chan *frame),
		notifs:  make(chan Notification, notifBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call invokes a remote procedure.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	id := c.nextID.Add(1)
	ch := make(chan *frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return fmt.Errorf("%w: session closed", ErrConnectionFailed)
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("%w: write %s: %w", ErrConnectionFailed, method, err)
	}

	select {
	case <-ctx.Done():
		// Abandon the call; a late response finds no waiter and is
		// discarded by the read loop.
		c.unregister(id)
		return fmt.Errorf("network: call %s: %w", method, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%w: session closed during %s", ErrConnectionFailed, method)
	case f := <-ch:
		if f.Error != nil {
			return fmt.Errorf("network: rpc error %d: %s", f.Error.Code, truncateErrText(f.Error.Message))
		}
		if result != nil && f.Result != nil {
			if err := json.Unmarshal(f.Result, result); err != nil {
				return fmt.Errorf("%w: unmarshal %s result: %w", ErrInvalidResponse, method, err)
			}
		}
		return nil
	}
}

// Notifications delivers server-pushed events.
func (c *Conn) Notifications() <-chan Notification { return c.notifs }

// Done is closed when the session has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the terminal error, nil for a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the session down locally.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// shutdown ends the session once: records the terminal error, closes the
// socket and wakes every waiter.
func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[uint64]chan *frame)
		c.mu.Unlock()

		_ = c.ws.Close()
		close(c.done)
	})
}

// readLoop dispatches incoming frames until the socket fails or closes.
// It is the only sender on notifs and closes it on exit.
func (c *Conn) readLoop() {
	defer close(c.notifs)
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.shutdown(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
			return
		}

		switch {
		case f.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*f.ID]
			if ok {
				delete(c.pending, *f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- &f
			} else {
				c.log.Debug().Uint64("id", *f.ID).Msg("discarding response to superseded call")
			}

		case f.Method == methodSubscribe:
			var params [2]string
			if err := json.Unmarshal(f.Params, &params); err != nil {
				c.log.Warn().Err(err).Msg("malformed status notification")
				continue
			}
			n := Notification{ScriptID: params[0], Status: params[1]}
			select {
			case c.notifs <- n:
			default:
				c.log.Warn().Str("script", n.ScriptID).Msg("notification buffer full, dropping")
			}

		default:
			c.log.Debug().Str("method", f.Method).Msg("ignoring unknown notification")
		}
	}
}
