package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
)

// Handler serves incoming requests and notifications. For notifications the
// result is discarded.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// Conn handles JSON-RPC 2.0 communication over a byte stream using the LSP
// base protocol (Content-Length headers).
//
// Incoming messages are handled one at a time in arrival order, so document
// notifications are applied in the order the client sent them. Handlers must
// not wait on Call synchronously; replies are only read between handlers.
type Conn struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	log    *logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  atomic.Int64
	pending map[string]chan *message

	closed atomic.Bool
	done   chan struct{}
}

// message is the union of request, notification and response.
type message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCError        `json:"error,omitempty"`
}

func (m *message) isResponse() bool {
	return m.ID != nil && m.Method == ""
}

type outgoing struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type resultResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type errorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithConnLogger sets the logger.
func WithConnLogger(l *logging.Logger) ConnOption {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// NewConn creates a connection over r and w. c, when non-nil, is closed by Close.
func NewConn(r io.Reader, w io.Writer, c io.Closer, opts ...ConnOption) *Conn {
	conn := &Conn{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		closer:  c,
		log:     logging.Default().WithComponent("lsp"),
		pending: make(map[string]chan *message),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Serve reads messages until the stream ends, ctx is canceled or the
// connection is closed. It returns nil on a clean end of stream.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		data, err := c.readMessage()
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			if errors.Is(err, errFraming) {
				c.log.Warn("dropping malformed message: %v", err)
				continue
			}
			return err
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("invalid JSON-RPC message: %v", err)
			_ = c.reply(json.RawMessage("null"), nil, NewError(CodeParseError, "parse error: %v", err))
			continue
		}

		if msg.isResponse() {
			c.handleResponse(&msg)
			continue
		}
		c.handle(ctx, h, &msg)
	}
}

// handle runs the handler for a request or notification.
func (c *Conn) handle(ctx context.Context, h Handler, msg *message) {
	result, err := c.call(ctx, h, msg)
	if msg.ID == nil {
		if err != nil && !errors.Is(err, ErrMethodNotFound) {
			c.log.WithField("method", msg.Method).Error("notification failed: %v", err)
		}
		return
	}
	if err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			err = NewError(CodeMethodNotFound, "method not found: %s", msg.Method)
		}
		_ = c.reply(*msg.ID, nil, toRPCError(err))
		return
	}
	if err := c.reply(*msg.ID, result, nil); err != nil {
		c.log.WithField("method", msg.Method).Error("write reply: %v", err)
	}
}

func (c *Conn) call(ctx context.Context, h Handler, msg *message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic in %s: %v", msg.Method, r)
		}
	}()
	return h.Handle(ctx, msg.Method, msg.Params)
}

func (c *Conn) reply(id json.RawMessage, result any, rpcErr *RPCError) error {
	if rpcErr != nil {
		return c.send(&errorResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
	}
	return c.send(&resultResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// Close closes the connection and releases resources.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	// Waiters observe c.done; the channels are left open.
	c.mu.Lock()
	c.pending = make(map[string]chan *message)
	c.mu.Unlock()

	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Call sends a request to the client and waits for the response.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	if c.closed.Load() {
		return ErrShutdown
	}

	id := c.nextID.Add(1)
	key := strconv.FormatInt(id, 10)
	ch := make(chan *message, 1)

	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.send(&outgoing{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(&outgoing{JSONRPC: "2.0", Method: method, Params: params})
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// send writes a message with LSP content-length header.
func (c *Conn) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := io.WriteString(c.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

var errFraming = errors.New("framing error")

// readMessage reads a single LSP message.
func (c *Conn) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header %q", errFraming, line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad Content-Length %q", errFraming, value)
			}
			contentLength = n
		}
		// Ignore Content-Type and other headers
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", errFraming)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// handleResponse routes a response to its waiting caller.
func (c *Conn) handleResponse(resp *message) {
	if c.closed.Load() {
		return
	}
	key := strings.Trim(string(*resp.ID), `"`)

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}
