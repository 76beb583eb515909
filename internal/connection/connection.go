// Package connection implements the Connection state machine that turns a
// Colab runtime assignment into a live, reconnecting kernel session.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/lecoder-dev/lecoder/internal/colabapi"
	"github.com/lecoder-dev/lecoder/internal/kernel"
	"github.com/lecoder-dev/lecoder/internal/kernelerr"
	"github.com/lecoder-dev/lecoder/internal/wire"
)

// State is one point in the Connection's lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

const (
	firstConnectTimeout = 60 * time.Second
	reconnectTimeout    = 30 * time.Second
	maxReconnectAttempts = 5
	backoffMin          = 1 * time.Second
	backoffMax          = 16 * time.Second
)

// Connection owns one kernel's lifecycle against a single Colab runtime
// assignment: establishing the Jupyter session and WebSocket, and
// recovering from drops with bounded exponential backoff.
type Connection struct {
	api        *colabapi.Client
	endpoint   string
	sessionPath string
	kernelName string

	mu          sync.Mutex
	state       State
	kernelID    string
	jupyterSess string
	client      *kernel.Client
	lastErr     error

	initGroup singleflight.Group

	OnStateChange func(State)
}

// New creates a Connection bound to a Colab runtime endpoint. sessionPath
// and kernelName select the Jupyter session to create or reuse (the spec's
// notebook path and kernel spec name, e.g. "python3").
func New(api *colabapi.Client, endpoint, sessionPath, kernelName string) *Connection {
	return &Connection{
		api:         api,
		endpoint:    endpoint,
		sessionPath: sessionPath,
		kernelName:  kernelName,
		state:       StateDisconnected,
	}
}

// Endpoint returns the Colab runtime endpoint this Connection is bound to.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	cb := c.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// EnsureConnected brings the Connection to CONNECTED, dialing fresh if
// DISCONNECTED or reusing the live kernel client if already CONNECTED. A
// FAILED Connection is not redialed; it returns the reconnect-exhausted
// error. Concurrent callers collapse onto a single in-flight attempt.
func (c *Connection) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected && c.client != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.initGroup.Do("initialize", func() (any, error) {
		return nil, c.initialize(ctx)
	})
	return err
}

func (c *Connection) initialize(ctx context.Context) error {
	c.mu.Lock()
	alreadyConnected := c.state == StateConnected && c.client != nil
	attempt := c.state == StateReconnecting
	failed := c.state == StateFailed
	lastErr := c.lastErr
	c.mu.Unlock()
	if alreadyConnected {
		return nil
	}
	if failed {
		return fmt.Errorf("%s: %w", kernelerr.ReconnectExhausted().Description, lastErr)
	}

	if attempt {
		return c.reconnectLoop(ctx)
	}

	c.setState(StateConnecting)
	timeout := firstConnectTimeout
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.dial(connectCtx); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return c.reconnectLoop(ctx)
	}

	c.setState(StateConnected)
	return nil
}

// dial performs one readiness attempt: refresh proxy credentials, create or
// confirm the Jupyter session and kernel, open the kernel WebSocket, and
// wait for the kernel's status:idle broadcast. Readiness is never inferred
// from a REST poll of kernel execution_state.
func (c *Connection) dial(ctx context.Context) error {
	proxy, err := c.api.RefreshConnection(ctx, c.endpoint)
	if err != nil {
		return fmt.Errorf("connection: refresh proxy credentials: %w", err)
	}

	session, err := c.api.CreateSession(ctx, *proxy, c.sessionPath, c.kernelName)
	if err != nil {
		return fmt.Errorf("connection: create session: %w", err)
	}

	if _, err := c.api.GetKernel(ctx, *proxy, session.Kernel.ID); err != nil {
		if !isStaleKernel(err) {
			return fmt.Errorf("connection: verify kernel %s: %w", session.Kernel.ID, err)
		}

		freshPath := freshNotebookPath()
		klog.Infof("connection: kernel %s from cached session is stale, retrying under %s", session.Kernel.ID, freshPath)
		session, err = c.api.CreateSession(ctx, *proxy, freshPath, c.kernelName)
		if err != nil {
			return fmt.Errorf("connection: create session under fresh path %s: %w", freshPath, err)
		}
		if _, err := c.api.GetKernel(ctx, *proxy, session.Kernel.ID); err != nil {
			return fmt.Errorf("connection: verify kernel %s after fresh-path retry: %w", session.Kernel.ID, err)
		}
	}

	wsURL := kernelWebSocketURL(*proxy, session.Kernel.ID, session.ID)
	header := wire.ProxyWebSocketHeader(proxy.Token, proxy.URL)
	kc, err := kernel.Connect(ctx, wsURL, header, session.ID)
	if err != nil {
		return fmt.Errorf("connection: dial kernel websocket: %w", err)
	}

	if err := kc.AwaitIdle(ctx); err != nil {
		kc.Close()
		return fmt.Errorf("connection: awaiting status:idle: %w", err)
	}

	c.mu.Lock()
	c.client = kc
	c.kernelID = session.Kernel.ID
	c.jupyterSess = session.ID
	c.mu.Unlock()

	kc.OnDisconnected = func(err error) {
		klog.Warningf("connection: kernel %s disconnected: %v", c.kernelID, err)
		c.mu.Lock()
		c.lastErr = err
		c.client = nil
		c.mu.Unlock()
		c.setState(StateReconnecting)
	}

	return nil
}

// kernelWebSocketURL builds the kernel channels URL:
// wss://<proxyUrl>/api/kernels/<kernelId>/channels?session_id=<clientSession>&authuser=0.
// The proxy token travels as a header (see wire.ProxyWebSocketHeader), not a
// query parameter.
func kernelWebSocketURL(proxy colabapi.ProxyCredentials, kernelID, clientSession string) string {
	u, err := url.Parse(proxy.URL)
	if err != nil {
		// proxy.URL is always a well-formed URL from the Colab API; a parse
		// failure here means the call site can't do anything useful with a
		// partially-built string either, so fail loud via an obviously
		// invalid scheme rather than silently dialing the wrong host.
		return "ws://invalid-proxy-url/" + kernelID
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + kernelID + "/channels"
	q := u.Query()
	q.Set("session_id", clientSession)
	q.Set("authuser", "0")
	u.RawQuery = q.Encode()
	return u.String()
}

// isStaleKernel reports whether err is the documented stale-session-cache
// signal: a 404 from getKernel.
func isStaleKernel(err error) bool {
	var apiErr *colabapi.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// freshNotebookPath returns a unique notebook path for the stale-session
// recovery retry.
func freshNotebookPath() string {
	return fmt.Sprintf("/content/lecoder-%d.ipynb", time.Now().UnixNano())
}

// reconnectLoop retries dialing with 1000*2^n ms backoff capped at 16s, up
// to maxReconnectAttempts, refreshing proxy credentials before every
// attempt. Exhausting the cap transitions to FAILED permanently; callers
// must start a new runtime rather than retry further.
func (c *Connection) reconnectLoop(ctx context.Context) error {
	c.setState(StateReconnecting)

	b := &backoff.Backoff{Min: backoffMin, Max: backoffMax, Factor: 2, Jitter: false}

	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			klog.Infof("connection: reconnect attempt %d in %s", attempt+1, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, reconnectTimeout)
		err := c.dial(attemptCtx)
		cancel()
		if err == nil {
			c.setState(StateConnected)
			return nil
		}
		lastErr = err
		klog.Warningf("connection: reconnect attempt %d failed: %v", attempt+1, err)
	}

	c.mu.Lock()
	c.lastErr = lastErr
	c.mu.Unlock()
	c.setState(StateFailed)

	cls := kernelerr.ReconnectExhausted()
	return fmt.Errorf("%s: %w", cls.Description, lastErr)
}

// Execute runs code on the connected kernel, first ensuring the Connection
// is CONNECTED.
func (c *Connection) Execute(ctx context.Context, code string, opts kernel.ExecuteOptions) (*kernel.ExecuteResult, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("connection: no live kernel client")
	}
	return client.Execute(ctx, code, opts)
}

// Interrupt sends both the REST interrupt and the control-channel
// interrupt_request, mirroring what a live Jupyter frontend does; either
// path alone is accepted by different kernel versions.
func (c *Connection) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	kernelID := c.kernelID
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("connection: no live kernel client")
	}

	proxy, err := c.api.RefreshConnection(ctx, c.endpoint)
	if err == nil {
		if restErr := c.api.Interrupt(ctx, *proxy, kernelID); restErr != nil {
			klog.Warningf("connection: REST interrupt failed, falling back to control channel: %v", restErr)
		}
	}
	return client.Interrupt(ctx)
}

// Close tears down the kernel WebSocket without deleting the remote kernel.
func (c *Connection) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if client == nil {
		return nil
	}
	return client.Close()
}

// LastError returns the most recently observed connect/reconnect error, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// KernelID returns the id of the currently bound kernel, if connected.
func (c *Connection) KernelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kernelID
}
