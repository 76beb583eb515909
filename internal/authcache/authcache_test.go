package authcache

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": exp.Unix(), "sub": "test-account"}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("irrelevant-since-unverified"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNeedsRefreshEmptyCache(t *testing.T) {
	var c Cache
	if !c.NeedsRefresh(time.Now()) {
		t.Fatalf("empty cache should always need refresh")
	}
}

func TestNeedsRefreshBeforeAndAfterMargin(t *testing.T) {
	var c Cache
	now := time.Now()
	tok := signedToken(t, now.Add(time.Hour))
	c.Set(tok)

	if c.NeedsRefresh(now) {
		t.Fatalf("token valid for an hour should not need refresh yet")
	}
	if c.Token() != tok {
		t.Fatalf("Token() mismatch")
	}

	withinMargin := now.Add(time.Hour - 10*time.Second)
	if !c.NeedsRefresh(withinMargin) {
		t.Fatalf("token within refresh margin of expiry should need refresh")
	}
}

func TestNeedsRefreshUnparseableToken(t *testing.T) {
	var c Cache
	c.Set("not-a-jwt-at-all")
	if !c.NeedsRefresh(time.Now()) {
		t.Fatalf("unparseable token should always need refresh")
	}
}
