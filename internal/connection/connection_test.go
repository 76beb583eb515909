package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/lecoder-dev/lecoder/internal/colabapi"
	"github.com/lecoder-dev/lecoder/internal/kernel"
	"github.com/lecoder-dev/lecoder/internal/wire"
)

func TestBackoffDelaySequence(t *testing.T) {
	b := &backoff.Backoff{Min: backoffMin, Max: backoffMax, Factor: 2, Jitter: false}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 16 * time.Second}
	for i, w := range want {
		got := b.Duration()
		if got != w {
			t.Fatalf("attempt %d: got %s want %s", i, got, w)
		}
	}
}

func TestKernelWebSocketURLSchemeTranslation(t *testing.T) {
	proxy := colabapi.ProxyCredentials{URL: "https://runtime.example.com/", Token: "tok"}
	got := kernelWebSocketURL(proxy, "kernel-1", "sess-1")
	if got != "wss://runtime.example.com/api/kernels/kernel-1/channels?authuser=0&session_id=sess-1" {
		t.Fatalf("got %q", got)
	}
}

func TestInitialStateIsDisconnected(t *testing.T) {
	c := New(nil, "endpoint-1", "lecoder.ipynb", "python3")
	if c.State() != StateDisconnected {
		t.Fatalf("expected initial state disconnected, got %s", c.State())
	}
}

func TestStateChangeCallbackFires(t *testing.T) {
	c := New(nil, "endpoint-1", "lecoder.ipynb", "python3")
	var seen []State
	c.OnStateChange = func(s State) { seen = append(seen, s) }
	c.setState(StateConnecting)
	c.setState(StateConnected)
	if len(seen) != 2 || seen[0] != StateConnecting || seen[1] != StateConnected {
		t.Fatalf("unexpected state sequence: %v", seen)
	}
}

func TestCloseReleasesKernelClientAndReturnsToDisconnected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	kc, err := kernel.Connect(context.Background(), wsURL, nil, "sess")
	if err != nil {
		t.Fatalf("kernel.Connect: %v", err)
	}

	c := New(nil, "endpoint-1", "lecoder.ipynb", "python3")
	c.mu.Lock()
	c.client = kc
	c.state = StateConnected
	c.mu.Unlock()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client != nil {
		t.Fatalf("expected Close to release the kernel client reference")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected state disconnected after Close, got %s", c.State())
	}
}

// TestDialRecoversStaleSessionUnderFreshNotebookPath exercises the
// documented stale-session-cache recovery: a 404 from getKernel on the
// first cached session must trigger a retry under a fresh notebook path,
// and the eventual kernel WebSocket handshake must carry the proxy-token
// and Origin headers with session_id/authuser query params, not a token
// query param.
func TestDialRecoversStaleSessionUnderFreshNotebookPath(t *testing.T) {
	var sessionCalls int32
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	var proxyURL string

	mux.HandleFunc("/tun/m/runtime-proxy-token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"url": proxyURL, "token": "proxy-tok", "tokenExpiresInSeconds": 3600,
		})
	})

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&sessionCalls, 1)
		kernelID := "stale-kernel"
		if n > 1 {
			kernelID = "fresh-kernel"
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": fmt.Sprintf("sess-%d", n), "path": "x", "name": "", "type": "notebook",
			"kernel": map[string]any{"id": kernelID, "name": "python3", "execution_state": "starting"},
		})
	})

	mux.HandleFunc("/api/kernels/stale-kernel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("/api/kernels/fresh-kernel", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "fresh-kernel", "name": "python3", "execution_state": "starting"})
	})

	mux.HandleFunc("/api/kernels/fresh-kernel/channels", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Colab-Runtime-Proxy-Token"); got != "proxy-tok" {
			t.Errorf("expected proxy token header on WS handshake, got %q", got)
		}
		if got := r.Header.Get("Origin"); got != proxyURL {
			t.Errorf("expected Origin %q on WS handshake, got %q", proxyURL, got)
		}
		if got := r.URL.Query().Get("session_id"); got == "" {
			t.Errorf("expected session_id query param on WS handshake")
		}
		if got := r.URL.Query().Get("authuser"); got != "0" {
			t.Errorf("expected authuser=0 query param on WS handshake, got %q", got)
		}
		if got := r.URL.Query().Get("token"); got != "" {
			t.Errorf("expected no token query param on WS handshake, got %q", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		encoded, err := wire.Encode(wire.Message{
			Channel: wire.ChannelIOPub, Header: wire.NewHeader(wire.MsgStatus, "server"),
			ParentHeader: wire.Header{}, Metadata: map[string]any{}, Buffers: []any{},
			Content: map[string]any{"execution_state": "idle"},
		})
		if err != nil {
			t.Errorf("encode status: %v", err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, encoded)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	proxyURL = srv.URL

	api := colabapi.New(srv.URL, "access-tok")
	c := New(api, "endpoint-1", "/content/lecoder-orig.ipynb", "python3")

	if err := c.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected StateConnected, got %s", c.State())
	}
	if atomic.LoadInt32(&sessionCalls) != 2 {
		t.Fatalf("expected session create to be retried once under a fresh path, got %d calls", sessionCalls)
	}
}
