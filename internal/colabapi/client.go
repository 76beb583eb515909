package colabapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"k8s.io/klog/v2"

	"github.com/lecoder-dev/lecoder/internal/wire"
)

// Client issues requests to the Colab API host and, once a runtime is
// known, the per-runtime proxy host. The access token is fixed at
// construction (WithAccessToken returns a copy carrying another one);
// proxy credentials are supplied by the caller on each proxy-host call.
type Client struct {
	httpClient  *http.Client
	apiHost     string
	accessToken string
}

// New creates a Client for the given Colab API host base URL
// (e.g. "https://colab.research.google.com") and access token.
func New(apiHost, accessToken string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiHost:    strings.TrimRight(apiHost, "/"),
		accessToken: accessToken,
	}
}

// WithAccessToken returns a shallow copy of the Client using a refreshed
// access token, for after the out-of-scope OAuth flow rotates it.
func (c *Client) WithAccessToken(accessToken string) *Client {
	cp := *c
	cp.accessToken = accessToken
	return &cp
}

func (c *Client) doAPI(ctx context.Context, method, path string, query url.Values, tunnel bool) ([]byte, *http.Response, error) {
	u := c.apiHost + path
	if len(query) > 0 {
		query.Set("authuser", "0")
		u += "?" + query.Encode()
	} else {
		u += "?authuser=0"
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("colabapi: build request: %w", err)
	}
	wire.SetColabAPIHeaders(req, c.accessToken, tunnel)

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, *http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		klog.Errorf("colabapi: %s %s failed after %s: %v", req.Method, req.URL.Path, elapsed, err)
		return nil, nil, fmt.Errorf("colabapi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("colabapi: read body for %s %s: %w", req.Method, req.URL.Path, err)
	}

	klog.Infof("colabapi: %s %s status=%d elapsed=%s", req.Method, req.URL.Path, resp.StatusCode, elapsed)
	return body, resp, nil
}

// GetCCUInfo fetches the account's compute-credit-unit entitlements, used
// to infer subscription tier.
func (c *Client) GetCCUInfo(ctx context.Context) (*CCUInfo, error) {
	body, resp, err := c.doAPI(ctx, http.MethodGet, "/tun/m/ccu-info", nil, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: "/tun/m/ccu-info", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var info CCUInfo
	if err := json.Unmarshal(wire.StripXSSIPrefix(body), &info); err != nil {
		return nil, fmt.Errorf("colabapi: decode ccu-info: %w", err)
	}
	return &info, nil
}

// assignOutcome mirrors the documented assign() failure outcomes.
type assignOutcome struct {
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	XSRFToken   string `json:"xsrfToken"`
	Assignment  *Assignment
}

// Assign creates or returns an existing assignment for the requested
// variant/accelerator. notebookHash is a client-chosen stable UUID used
// only as an assignment cache key.
func (c *Client) Assign(ctx context.Context, notebookHash string, variant Variant, accelerator string) (*Assignment, error) {
	nbh := base64.RawURLEncoding.EncodeToString([]byte(notebookHash))

	query := url.Values{"nbh": {nbh}, "variant": {string(variant)}}
	if accelerator != "" {
		query.Set("accelerator", accelerator)
	}

	body, resp, err := c.doAPI(ctx, http.MethodGet, "/tun/m/assign", query, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPreconditionFailed {
		return nil, &TooManyAssignmentsError{&APIError{Method: http.MethodGet, Path: "/tun/m/assign", StatusCode: resp.StatusCode, Body: string(body)}}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: "/tun/m/assign", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var outcome assignOutcome
	if err := json.Unmarshal(wire.StripXSSIPrefix(body), &outcome); err != nil {
		return nil, fmt.Errorf("colabapi: decode assign GET response: %w", err)
	}

	if err := classifyAssignOutcome(outcome, http.MethodGet, string(body), resp.StatusCode); err != nil {
		return nil, err
	}
	if outcome.Assignment != nil {
		return outcome.Assignment, nil
	}
	if outcome.XSRFToken == "" {
		return nil, fmt.Errorf("colabapi: assign GET returned neither an assignment nor an XSRF token")
	}

	return c.finalizeAssign(ctx, nbh, variant, accelerator, outcome.XSRFToken)
}

func (c *Client) finalizeAssign(ctx context.Context, nbh string, variant Variant, accelerator, xsrfToken string) (*Assignment, error) {
	query := url.Values{"nbh": {nbh}, "variant": {string(variant)}}
	if accelerator != "" {
		query.Set("accelerator", accelerator)
	}
	query.Set("authuser", "0")

	u := c.apiHost + "/tun/m/assign?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("colabapi: build assign POST: %w", err)
	}
	wire.SetColabAPIHeaders(req, c.accessToken, true)
	req.Header.Set("X-Colab-Xsrf-Token", xsrfToken)

	body, resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPreconditionFailed {
		return nil, &TooManyAssignmentsError{&APIError{Method: http.MethodPost, Path: "/tun/m/assign", StatusCode: resp.StatusCode, Body: string(body)}}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodPost, Path: "/tun/m/assign", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var outcome assignOutcome
	if err := json.Unmarshal(wire.StripXSSIPrefix(body), &outcome); err != nil {
		return nil, fmt.Errorf("colabapi: decode assign POST response: %w", err)
	}
	if err := classifyAssignOutcome(outcome, http.MethodPost, string(body), resp.StatusCode); err != nil {
		return nil, err
	}
	if outcome.Assignment == nil {
		return nil, fmt.Errorf("colabapi: assign POST did not return an assignment")
	}
	return outcome.Assignment, nil
}

func classifyAssignOutcome(outcome assignOutcome, method, body string, statusCode int) error {
	switch outcome.Status {
	case "QUOTA_DENIED_REQUESTED_VARIANTS", "QUOTA_EXCEEDED_USAGE_TIME":
		return &InsufficientQuotaError{
			APIError: &APIError{Method: method, Path: "/tun/m/assign", StatusCode: statusCode, Body: body},
			Reason:   outcome.Status,
		}
	case "DENYLISTED":
		return &DenylistedError{&APIError{Method: method, Path: "/tun/m/assign", StatusCode: statusCode, Body: body}}
	default:
		return nil
	}
}

// ListAssignments returns current assignments across all variants.
func (c *Client) ListAssignments(ctx context.Context) ([]Assignment, error) {
	body, resp, err := c.doAPI(ctx, http.MethodGet, "/tun/m/assignments", nil, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: "/tun/m/assignments", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Assignments []Assignment `json:"assignments"`
	}
	if err := json.Unmarshal(wire.StripXSSIPrefix(body), &result); err != nil {
		return nil, fmt.Errorf("colabapi: decode assignments: %w", err)
	}
	return result.Assignments, nil
}

// RefreshConnection fetches fresh proxy credentials for the given runtime
// endpoint. Callers must refresh before every reconnect.
func (c *Client) RefreshConnection(ctx context.Context, endpoint string) (*ProxyCredentials, error) {
	query := url.Values{"endpoint": {endpoint}, "port": {"8080"}}
	body, resp, err := c.doAPI(ctx, http.MethodGet, "/tun/m/runtime-proxy-token", query, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: "/tun/m/runtime-proxy-token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var creds ProxyCredentials
	if err := json.Unmarshal(wire.StripXSSIPrefix(body), &creds); err != nil {
		return nil, fmt.Errorf("colabapi: decode proxy credentials: %w", err)
	}
	creds.FetchedAt = time.Now()
	return &creds, nil
}

// SendKeepAlive pokes Colab to prevent idle eviction of the given runtime.
// Idempotent; safe to call every 60s while a kernel REPL is open.
func (c *Client) SendKeepAlive(ctx context.Context, endpoint string) error {
	path := fmt.Sprintf("/tun/m/%s/keep-alive/", endpoint)
	body, resp, err := c.doAPI(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// --- Proxy host (Jupyter REST) ---

func (c *Client) proxyRequest(ctx context.Context, proxy ProxyCredentials, method, path string, body []byte) ([]byte, *http.Response, error) {
	u := strings.TrimRight(proxy.URL, "/") + path
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("colabapi: build proxy request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	wire.SetProxyHeaders(req, proxy.Token, proxy.URL)

	return c.do(req)
}

// sessionCreateBackoff yields the retry delays (1s, 2s, 4s) applied only
// to proxy-host session creation on 502/503/504.
func sessionCreateBackoff() *backoff.Backoff {
	return &backoff.Backoff{Min: 1 * time.Second, Max: 4 * time.Second, Factor: 2, Jitter: false}
}

// CreateSession creates a Jupyter session with an embedded kernel on the
// runtime, retrying transport-level 502/503/504 up to three times with
// 1s/2s/4s delays. All other statuses fail immediately.
func (c *Client) CreateSession(ctx context.Context, proxy ProxyCredentials, path, kernelName string) (*JupyterSession, error) {
	reqBody, err := json.Marshal(map[string]any{
		"path": path,
		"name": "",
		"type": "notebook",
		"kernel": map[string]string{
			"name": kernelName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("colabapi: marshal session create request: %w", err)
	}

	b := sessionCreateBackoff()
	const maxAttempts = 4 // 1 initial + 3 retries

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			klog.Infof("colabapi: retrying session create (attempt %d) after %s", attempt+1, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, resp, err := c.proxyRequest(ctx, proxy, http.MethodPost, "/api/sessions", reqBody)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
			var session JupyterSession
			if err := json.Unmarshal(body, &session); err != nil {
				return nil, fmt.Errorf("colabapi: decode session: %w", err)
			}
			return &session, nil
		}

		apiErr := &APIError{Method: http.MethodPost, Path: "/api/sessions", StatusCode: resp.StatusCode, Body: string(body)}
		if isRetryableStatus(resp.StatusCode) {
			lastErr = apiErr
			continue
		}
		return nil, apiErr
	}

	return nil, fmt.Errorf("colabapi: session create exhausted retries: %w", lastErr)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// GetSession fetches a Jupyter session by id.
func (c *Client) GetSession(ctx context.Context, proxy ProxyCredentials, id string) (*JupyterSession, error) {
	path := "/api/sessions/" + id
	body, resp, err := c.proxyRequest(ctx, proxy, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	var session JupyterSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("colabapi: decode session: %w", err)
	}
	return &session, nil
}

// GetKernel fetches a kernel by id. Returns an *APIError with StatusCode
// 404 when the kernel no longer exists (stale session cache).
func (c *Client) GetKernel(ctx context.Context, proxy ProxyCredentials, id string) (*JupyterKernel, error) {
	path := "/api/kernels/" + id
	body, resp, err := c.proxyRequest(ctx, proxy, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	var kernel JupyterKernel
	if err := json.Unmarshal(body, &kernel); err != nil {
		return nil, fmt.Errorf("colabapi: decode kernel: %w", err)
	}
	return &kernel, nil
}

// ListKernels lists all kernels on the runtime.
func (c *Client) ListKernels(ctx context.Context, proxy ProxyCredentials) ([]JupyterKernel, error) {
	body, resp, err := c.proxyRequest(ctx, proxy, http.MethodGet, "/api/kernels", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: http.MethodGet, Path: "/api/kernels", StatusCode: resp.StatusCode, Body: string(body)}
	}
	var kernels []JupyterKernel
	if err := json.Unmarshal(body, &kernels); err != nil {
		return nil, fmt.Errorf("colabapi: decode kernels: %w", err)
	}
	return kernels, nil
}

// DeleteKernel deletes a kernel by id.
func (c *Client) DeleteKernel(ctx context.Context, proxy ProxyCredentials, id string) error {
	path := "/api/kernels/" + id
	body, resp, err := c.proxyRequest(ctx, proxy, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &APIError{Method: http.MethodDelete, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// Interrupt posts to the kernel's REST interrupt endpoint.
func (c *Client) Interrupt(ctx context.Context, proxy ProxyCredentials, kernelID string) error {
	path := fmt.Sprintf("/api/kernels/%s/interrupt", kernelID)
	body, resp, err := c.proxyRequest(ctx, proxy, http.MethodPost, path, []byte("{}"))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &APIError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
