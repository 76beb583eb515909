// Package kernel owns the WebSocket connection to a single Jupyter kernel:
// sending execute_request/interrupt_request and assembling the iopub/shell
// reply stream back into a single result.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/lecoder-dev/lecoder/internal/kernelerr"
	"github.com/lecoder-dev/lecoder/internal/wire"
)

// ErrDisconnected is returned by Execute (wrapped) when the kernel
// WebSocket drops before the execute_reply/status:idle pair completes. The
// ExecuteResult returned alongside it is non-nil and carries whatever
// stdout/stderr the kernel had streamed before the drop.
var ErrDisconnected = errors.New("kernel: connection dropped during execute")

// MaxOutputBytes is the per-stream cap on stdout/stderr bytes a single
// Execute call will retain; output beyond this is dropped and
// StdoutTruncated/StderrTruncated is set on the result.
const MaxOutputBytes = 1 << 20 // 1 MiB

// ExecuteOptions tunes a single Execute call. The zero value blocks until
// the kernel replies with no caller-side timeout.
type ExecuteOptions struct {
	Timeout time.Duration
}

// ExecuteResult is the assembled outcome of one execute_request.
type ExecuteResult struct {
	Status         string
	Stdout         string
	Stderr         string
	ExecutionCount int
	Exception      *kernelerr.Exception
	StdoutTruncated bool
	StderrTruncated bool
}

// Client owns one kernel WebSocket connection. Only one Execute call may be
// in flight at a time; callers must serialize or rely on the internal
// execution mutex (which blocks, it does not reject, concurrent callers).
type Client struct {
	conn    *websocket.Conn
	session string

	writeMu sync.Mutex
	execMu  sync.Mutex

	mu        sync.Mutex
	pending   map[string]*pendingExec
	statusSubs map[int]chan wire.StatusContent
	nextSubID int
	closed    bool
	closeErr  error
	done      chan struct{}

	OnDisconnected func(error)
	OnError        func(kernelerr.Exception)
}

type pendingExec struct {
	mu             sync.Mutex
	stdout         strings.Builder
	stderr         strings.Builder
	stdoutTrunc    bool
	stderrTrunc    bool
	executionCount int
	exception      *kernelerr.Exception
	status         string
	gotReply       bool
	gotIdle        bool
	disconnectErr  error
	done           chan struct{}
	closeOnce      sync.Once
}

func (p *pendingExec) finish() {
	p.closeOnce.Do(func() { close(p.done) })
}

// abort marks p as finished by a connection drop rather than a normal
// execute_reply/status:idle pair, so Execute can tell the two apart even if
// it wakes on p.done before observing c.done closed.
func (p *pendingExec) abort(err error) {
	p.mu.Lock()
	p.disconnectErr = err
	p.mu.Unlock()
	p.finish()
}

// partialResult builds an ExecuteResult carrying whatever output p had
// accumulated before it was aborted by a connection drop.
func partialResult(p *pendingExec) *ExecuteResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &ExecuteResult{
		Status:          "abort",
		Stdout:          p.stdout.String(),
		Stderr:          p.stderr.String(),
		ExecutionCount:  p.executionCount,
		Exception:       p.exception,
		StdoutTruncated: p.stdoutTrunc,
		StderrTruncated: p.stderrTrunc,
	}
}

// Connect dials the kernel's WebSocket channel endpoint and starts the read
// loop. clientSession is this client's stable Jupyter session id, used as
// the `session` field on every outgoing header.
func Connect(ctx context.Context, wsURL string, header http.Header, clientSession string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("kernel: dial %s: %w", wsURL, err)
	}

	c := &Client{
		conn:       conn,
		session:    clientSession,
		pending:    make(map[string]*pendingExec),
		statusSubs: make(map[int]chan wire.StatusContent),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// subscribeStatus registers a buffered channel that receives every status
// message the kernel broadcasts, independent of any pending execution. Used
// by the connection state machine to detect the readiness status:idle.
func (c *Client) subscribeStatus() (<-chan wire.StatusContent, func()) {
	ch := make(chan wire.StatusContent, 8)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.statusSubs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.statusSubs, id)
		c.mu.Unlock()
	}
}

// AwaitIdle blocks until the kernel broadcasts a status:idle message or ctx
// is done. It is the sole readiness signal: callers must never substitute a
// REST poll of kernel execution_state for this wait.
func (c *Client) AwaitIdle(ctx context.Context) error {
	ch, unsubscribe := c.subscribeStatus()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.disconnectErr()
		case status := <-ch:
			if status.ExecutionState == "idle" {
				return nil
			}
		}
	}
}

func (c *Client) disconnectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return fmt.Errorf("kernel: connection closed")
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.closeErr = fmt.Errorf("kernel: read: %w", err)
			closeErr := c.closeErr
			pending := make([]*pendingExec, 0, len(c.pending))
			for _, p := range c.pending {
				pending = append(pending, p)
			}
			c.mu.Unlock()

			for _, p := range pending {
				p.abort(closeErr)
			}
			if c.OnDisconnected != nil {
				c.OnDisconnected(err)
			}
			return
		}

		msg, err := wire.Decode(raw)
		if err != nil {
			klog.Errorf("kernel: dropping undecodable frame: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg wire.Message) {
	switch msg.Header.MsgType {
	case wire.MsgStatus:
		status := wire.AsStatus(msg.Content)
		c.broadcastStatus(status)
		c.feedExec(msg.ParentHeader.MsgID, func(p *pendingExec) {
			if status.ExecutionState == "idle" {
				p.gotIdle = true
			}
		})
	case wire.MsgStream:
		stream := wire.AsStream(msg.Content)
		c.feedExec(msg.ParentHeader.MsgID, func(p *pendingExec) {
			appendCapped(&p.stdout, &p.stdoutTrunc, stream, "stdout")
			appendCapped(&p.stderr, &p.stderrTrunc, stream, "stderr")
		})
	case wire.MsgExecuteResult, wire.MsgDisplayData:
		dd := wire.AsDisplayData(msg.Content)
		c.feedExec(msg.ParentHeader.MsgID, func(p *pendingExec) {
			if text, ok := dd.Data["text/plain"].(string); ok {
				writeCapped(&p.stdout, &p.stdoutTrunc, text+"\n")
			}
			if dd.ExecutionCount != nil {
				p.executionCount = *dd.ExecutionCount
			}
		})
	case wire.MsgError:
		exc := wire.AsError(msg.Content)
		c.feedExec(msg.ParentHeader.MsgID, func(p *pendingExec) {
			e := kernelerr.Exception{EName: exc.EName, EValue: exc.EValue, Traceback: exc.Traceback}
			p.exception = &e
		})
		if c.OnError != nil {
			c.OnError(kernelerr.Exception{EName: exc.EName, EValue: exc.EValue, Traceback: exc.Traceback})
		}
	case wire.MsgExecuteReply:
		reply := wire.AsExecuteReply(msg.Content)
		c.feedExec(msg.ParentHeader.MsgID, func(p *pendingExec) {
			p.gotReply = true
			p.executionCount = reply.ExecutionCount
			if reply.Status == "error" && p.exception == nil {
				e := kernelerr.Exception{EName: reply.EName, EValue: reply.EValue, Traceback: reply.Traceback}
				p.exception = &e
			}
			if p.status == "" {
				p.status = reply.Status
			}
		})
	case wire.MsgKernelInfoReply:
		c.feedExec(msg.ParentHeader.MsgID, func(p *pendingExec) {
			p.finish()
		})
	}

	c.maybeComplete(msg.ParentHeader.MsgID)
}

func (c *Client) broadcastStatus(status wire.StatusContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.statusSubs {
		select {
		case ch <- status:
		default:
		}
	}
}

func (c *Client) feedExec(msgID string, fn func(*pendingExec)) {
	if msgID == "" {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[msgID]
	c.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	fn(p)
	p.mu.Unlock()
}

// maybeComplete finishes a pending execution once both execute_reply and
// status:idle have been observed for its msg_id, in either order, matching the
// documented completion rule: either signal alone is insufficient.
func (c *Client) maybeComplete(msgID string) {
	if msgID == "" {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[msgID]
	c.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	done := p.gotReply && p.gotIdle
	p.mu.Unlock()

	if done {
		p.finish()
	}
}

func appendCapped(b *strings.Builder, truncated *bool, stream wire.StreamContent, name string) {
	if stream.Name != name {
		return
	}
	writeCapped(b, truncated, stream.Text)
}

func writeCapped(b *strings.Builder, truncated *bool, text string) {
	if *truncated {
		return
	}
	remaining := MaxOutputBytes - b.Len()
	if remaining <= 0 {
		*truncated = true
		return
	}
	if len(text) > remaining {
		b.WriteString(text[:remaining])
		b.WriteString("\n[output truncated at 1 MiB]\n")
		*truncated = true
		return
	}
	b.WriteString(text)
}

// Execute submits code for execution and blocks until the kernel reports
// completion (execute_reply and status:idle both observed), ctx is done, or
// opts.Timeout elapses. Only one Execute call runs at a time per Client.
func (c *Client) Execute(ctx context.Context, code string, opts ExecuteOptions) (*ExecuteResult, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := wire.NewExecuteRequest(code, c.session)
	msgID := req.Header.MsgID

	p := &pendingExec{done: make(chan struct{})}
	c.mu.Lock()
	c.pending[msgID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msgID)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("kernel: execute timed out: %w", ctx.Err())
		}
		return nil, ctx.Err()
	case <-c.done:
		return partialResult(p), fmt.Errorf("%w: %v", ErrDisconnected, c.disconnectErr())
	case <-p.done:
		p.mu.Lock()
		dropped := p.disconnectErr
		p.mu.Unlock()
		if dropped != nil {
			return partialResult(p), fmt.Errorf("%w: %v", ErrDisconnected, dropped)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	status := p.status
	if status == "" {
		status = "ok"
	}
	if p.exception != nil {
		status = "error"
	}

	return &ExecuteResult{
		Status:          status,
		Stdout:          p.stdout.String(),
		Stderr:          p.stderr.String(),
		ExecutionCount:  p.executionCount,
		Exception:       p.exception,
		StdoutTruncated: p.stdoutTrunc,
		StderrTruncated: p.stderrTrunc,
	}, nil
}

// KernelInfo sends a kernel_info_request and waits for the matching reply,
// confirming the shell channel round-trips before the caller trusts the
// connection for execution.
func (c *Client) KernelInfo(ctx context.Context) error {
	req := wire.NewKernelInfoRequest(c.session)
	msgID := req.Header.MsgID

	p := &pendingExec{done: make(chan struct{})}
	c.mu.Lock()
	c.pending[msgID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msgID)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return err
	}

	// kernel_info_reply carries no status:idle handshake of its own; a bare
	// reply on the shell channel is sufficient here.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.disconnectErr()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("kernel: kernel_info_request timed out")
	case <-p.done:
		return nil
	}
}

// Interrupt sends an interrupt_request over the control channel. Completion
// of the in-flight Execute call still depends on the kernel observing the
// interrupt and replying normally; Interrupt does not itself unblock
// Execute.
func (c *Client) Interrupt(ctx context.Context) error {
	msg := wire.Message{
		Channel:      wire.ChannelControl,
		Header:       wire.NewHeader(wire.MsgInterruptRequest, c.session),
		ParentHeader: wire.Header{},
		Metadata:     map[string]any{},
		Content:      map[string]any{},
		Buffers:      []any{},
	}
	return c.send(msg)
}

func (c *Client) send(msg wire.Message) error {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("kernel: encode %s: %w", msg.Header.MsgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		return fmt.Errorf("kernel: write %s: %w", msg.Header.MsgType, err)
	}
	return nil
}

// Close terminates the WebSocket connection and stops the read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}
