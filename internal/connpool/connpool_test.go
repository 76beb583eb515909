package connpool

import (
	"testing"

	"github.com/lecoder-dev/lecoder/internal/connection"
)

func TestTierMaxSessions(t *testing.T) {
	if TierFree.MaxSessions() != 1 {
		t.Fatalf("free tier cap: got %d", TierFree.MaxSessions())
	}
	if TierPro.MaxSessions() != 5 {
		t.Fatalf("pro tier cap: got %d", TierPro.MaxSessions())
	}
}

func TestPutGetRemove(t *testing.T) {
	p := New(TierFree)
	if p.Get("s1") != nil {
		t.Fatalf("expected no connection for unseen session")
	}
	if p.Size() != 0 {
		t.Fatalf("expected empty pool")
	}

	p.Put("s1", nil)
	if p.Size() != 1 {
		t.Fatalf("expected size 1 after put")
	}

	p.Remove("s1")
	if p.Size() != 0 {
		t.Fatalf("expected size 0 after remove")
	}
}

func TestEndpointsDedupesAcrossSessions(t *testing.T) {
	p := New(TierFree)
	p.Put("s1", connection.New(nil, "ep-1", "/content/a.ipynb", "python3"))
	p.Put("s2", connection.New(nil, "ep-1", "/content/b.ipynb", "python3"))
	p.Put("s3", connection.New(nil, "ep-2", "/content/c.ipynb", "python3"))

	got := map[string]bool{}
	for _, ep := range p.Endpoints() {
		got[ep] = true
	}
	if len(got) != 2 || !got["ep-1"] || !got["ep-2"] {
		t.Fatalf("expected deduped endpoints {ep-1, ep-2}, got %v", p.Endpoints())
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatalf("Default() should return the same pool instance")
	}
}
