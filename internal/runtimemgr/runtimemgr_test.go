package runtimemgr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lecoder-dev/lecoder/internal/colabapi"
)

func TestAssignRuntimeReusesMatchingVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/assignments"):
			json.NewEncoder(w).Encode(map[string]any{
				"assignments": []colabapi.Assignment{{Endpoint: "ep-gpu", Accelerator: "T4", Variant: colabapi.VariantGPU}},
			})
		case strings.HasSuffix(r.URL.Path, "/runtime-proxy-token"):
			json.NewEncoder(w).Encode(colabapi.ProxyCredentials{URL: "https://runtime.example", Token: "tok", TokenExpiresInSeconds: 600})
		}
	}))
	defer srv.Close()

	api := colabapi.New(srv.URL, "token")
	m := New(api, "nb-hash")

	runtime, err := m.AssignRuntime(context.Background(), Request{Variant: colabapi.VariantGPU})
	if err != nil {
		t.Fatalf("AssignRuntime: %v", err)
	}
	if runtime.Endpoint != "ep-gpu" {
		t.Fatalf("endpoint: got %q", runtime.Endpoint)
	}
	if runtime.Label != "GPU-T4" {
		t.Fatalf("label: got %q", runtime.Label)
	}
}

func TestAssignRuntimeRejectsVariantMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"assignments": []colabapi.Assignment{{Endpoint: "ep-tpu", Accelerator: "", Variant: colabapi.VariantTPU}},
		})
	}))
	defer srv.Close()

	api := colabapi.New(srv.URL, "token")
	m := New(api, "nb-hash")

	_, err := m.AssignRuntime(context.Background(), Request{Variant: colabapi.VariantGPU})
	if _, ok := err.(*VariantMismatchError); !ok {
		t.Fatalf("expected *VariantMismatchError, got %T: %v", err, err)
	}
}

func TestAssignRuntimeCreatesFreshWhenNoneExist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/assignments"):
			json.NewEncoder(w).Encode(map[string]any{"assignments": []colabapi.Assignment{}})
		case strings.HasSuffix(r.URL.Path, "/assign"):
			json.NewEncoder(w).Encode(map[string]any{
				"assignment": colabapi.Assignment{Endpoint: "ep-new", Accelerator: "none", Variant: colabapi.VariantDefault},
			})
		case strings.HasSuffix(r.URL.Path, "/runtime-proxy-token"):
			json.NewEncoder(w).Encode(colabapi.ProxyCredentials{URL: "https://runtime.example", Token: "tok", TokenExpiresInSeconds: 600})
		}
	}))
	defer srv.Close()

	api := colabapi.New(srv.URL, "token")
	m := New(api, "nb-hash")

	runtime, err := m.AssignRuntime(context.Background(), Request{Variant: colabapi.VariantDefault, ForceNew: true})
	if err != nil {
		t.Fatalf("AssignRuntime: %v", err)
	}
	if runtime.Endpoint != "ep-new" {
		t.Fatalf("endpoint: got %q", runtime.Endpoint)
	}
}
