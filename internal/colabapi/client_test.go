package colabapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetCCUInfoParsesProTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tun/m/ccu-info" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok123" {
			t.Fatalf("missing bearer auth header: %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(")]}'\n" + `{"eligibleGpus":["A100"],"assignmentsCount":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok123")
	info, err := c.GetCCUInfo(context.Background())
	if err != nil {
		t.Fatalf("GetCCUInfo: %v", err)
	}
	if !info.IsProTier() {
		t.Fatalf("expected pro tier from A100 entitlement")
	}
}

func TestAssignReturnsExistingAssignmentWithoutPost(t *testing.T) {
	posted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posted = true
		}
		w.Write([]byte(`{"assignment":{"endpoint":"abc","accelerator":"","variant":"DEFAULT"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	a, err := c.Assign(context.Background(), "nb-1", VariantDefault, "")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Endpoint != "abc" {
		t.Fatalf("endpoint: got %q", a.Endpoint)
	}
	if posted {
		t.Fatalf("should not have POSTed when GET already returned an assignment")
	}
}

func TestAssignFinalizesWithXSRFToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"xsrfToken":"xsrf-1"}`))
		case http.MethodPost:
			if r.Header.Get("X-Colab-Xsrf-Token") != "xsrf-1" {
				t.Fatalf("missing xsrf token on finalize POST")
			}
			w.Write([]byte(`{"assignment":{"endpoint":"def","accelerator":"T4","variant":"GPU"}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	a, err := c.Assign(context.Background(), "nb-2", VariantGPU, "T4")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Endpoint != "def" {
		t.Fatalf("endpoint: got %q", a.Endpoint)
	}
}

func TestAssignTooManyAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		w.Write([]byte(`precondition failed`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.Assign(context.Background(), "nb-3", VariantDefault, "")
	if _, ok := err.(*TooManyAssignmentsError); !ok {
		t.Fatalf("expected *TooManyAssignmentsError, got %T: %v", err, err)
	}
}

func TestAssignQuotaDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "QUOTA_DENIED_REQUESTED_VARIANTS"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.Assign(context.Background(), "nb-4", VariantGPU, "")
	if _, ok := err.(*InsufficientQuotaError); !ok {
		t.Fatalf("expected *InsufficientQuotaError, got %T: %v", err, err)
	}
}

func TestCreateSessionRetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(JupyterSession{ID: "sess-1", Path: "lecoder.ipynb"})
	}))
	defer srv.Close()

	c := New("https://unused", "tok")
	proxy := ProxyCredentials{URL: srv.URL, Token: "ptok", TokenExpiresInSeconds: 600}
	session, err := c.CreateSession(context.Background(), proxy, "lecoder.ipynb", "python3")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID != "sess-1" {
		t.Fatalf("session id: got %q", session.ID)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCreateSessionFailsImmediatelyOnNonRetryableStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("https://unused", "tok")
	proxy := ProxyCredentials{URL: srv.URL, Token: "ptok", TokenExpiresInSeconds: 600}
	_, err := c.CreateSession(context.Background(), proxy, "lecoder.ipynb", "python3")
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("should not retry a 400, got %d attempts", attempts)
	}
}

func TestGetKernelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("https://unused", "tok")
	proxy := ProxyCredentials{URL: srv.URL, Token: "ptok", TokenExpiresInSeconds: 600}
	_, err := c.GetKernel(context.Background(), proxy, "k1")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d", apiErr.StatusCode)
	}
}

func TestProxyCredentialsExpired(t *testing.T) {
	creds := ProxyCredentials{TokenExpiresInSeconds: 0}
	if !creds.Expired(creds.FetchedAt) {
		t.Fatalf("zero-ttl credentials should be expired")
	}
}
