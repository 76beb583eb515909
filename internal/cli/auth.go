package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lecoder-dev/lecoder/internal/authcache"
)

// ErrReauthRequired is returned when the cached access token is missing or
// past its refresh watermark. Obtaining a new token is the OAuth flow's
// concern, external to this core; the caller is expected to run whatever
// login helper populates the auth envelope and retry.
var ErrReauthRequired = errors.New("cli: re-authentication required")

// authEnvelope is the on-disk shape of state/auth.json, written by the
// external OAuth login helper.
type authEnvelope struct {
	AccessToken  string `json:"accessToken"`
	AccountLabel string `json:"accountLabel"`
}

// LoadAccessToken resolves the access token for this invocation.
// LECODER_ACCESS_TOKEN, when set, always wins (useful for scripted and test
// invocations that bypass the login helper entirely). Otherwise it reads
// state/auth.json and uses authcache to decide whether the cached token is
// still within its refresh watermark.
func LoadAccessToken(stateDir string, forceLogin bool) (string, error) {
	if tok := os.Getenv("LECODER_ACCESS_TOKEN"); tok != "" {
		return tok, nil
	}

	if forceLogin {
		return "", fmt.Errorf("%w: --force-login requires an external login helper to refresh state/auth.json", ErrReauthRequired)
	}

	path := filepath.Join(stateDir, "auth.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrReauthRequired, path)
	}

	var env authEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("cli: parse %s: %w", path, err)
	}

	var cache authcache.Cache
	cache.Set(env.AccessToken)
	if cache.NeedsRefresh(time.Now()) {
		return "", fmt.Errorf("%w: cached token in %s is expired or unparseable", ErrReauthRequired, path)
	}

	return env.AccessToken, nil
}
