// Package cli wires the core packages into the lecoder command tree.
package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/lecoder-dev/lecoder/internal/colabapi"
	"github.com/lecoder-dev/lecoder/internal/config"
	"github.com/lecoder-dev/lecoder/internal/connection"
	"github.com/lecoder-dev/lecoder/internal/connpool"
	"github.com/lecoder-dev/lecoder/internal/debuglog"
	"github.com/lecoder-dev/lecoder/internal/history"
	"github.com/lecoder-dev/lecoder/internal/runtimemgr"
	"github.com/lecoder-dev/lecoder/internal/sessionmgr"
)

// kernelSpecName is the Jupyter kernel spec every Connection requests.
const kernelSpecName = "python3"

// App bundles every long-lived dependency a command needs. It holds no
// cobra-specific state so its methods can be exercised directly in tests.
type App struct {
	StateDir string
	Config   config.Config

	Log      *debuglog.Logger
	API      *colabapi.Client
	Runtimes *runtimemgr.Manager
	Pool     *connpool.Pool
	Sessions *sessionmgr.Manager
	History  *history.Store

	// AccessToken is the caller-supplied OAuth bearer token; obtaining it is
	// an external collaborator's concern (see config.Config.OAuthClientID).
	AccessToken string
}

// NewApp constructs an App rooted at stateDir, using accessToken to
// authenticate against the Colab API host named in cfg.
func NewApp(stateDir string, cfg config.Config, accessToken string) *App {
	api := colabapi.New(cfg.APIHost, accessToken)
	pool := connpool.New(connpool.TierFree)
	runtimes := runtimemgr.New(api, notebookHashFor(stateDir))
	sessions := sessionmgr.New(filepath.Join(stateDir, "sessions.json"), runtimes, pool)
	hist := history.New(filepath.Join(stateDir, "history.jsonl"))
	log := debuglog.New(filepath.Join(stateDir, "logs"))

	return &App{
		StateDir:    stateDir,
		Config:      cfg,
		Log:         log,
		API:         api,
		Runtimes:    runtimes,
		Pool:        pool,
		Sessions:    sessions,
		History:     hist,
		AccessToken: accessToken,
	}
}

// notebookHashFor derives a stable per-install cache key for Colab
// assignment reuse: a name-based UUID of the state directory path, so
// repeat runs against the same local install land on the same Colab
// assignment-cache entry.
func notebookHashFor(stateDir string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(filepath.Clean(stateDir))).String()
}

// DetectTier queries the Colab API host once and records the account's
// subscription tier on the Pool, used afterward for concurrency caps.
func (a *App) DetectTier(ctx context.Context) (connpool.Tier, error) {
	info, err := a.API.GetCCUInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("cli: detect tier: %w", err)
	}
	tier := connpool.TierFree
	if info.IsProTier() {
		tier = connpool.TierPro
	}
	a.Pool.SetTier(tier)
	return tier, nil
}

// liveEndpoints fetches the account's current assignments as a membership
// set, used to detect stale Session Records.
func (a *App) liveEndpoints(ctx context.Context) (map[string]bool, error) {
	assignments, err := a.API.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("cli: list assignments: %w", err)
	}
	live := make(map[string]bool, len(assignments))
	for _, asn := range assignments {
		live[asn.Endpoint] = true
	}
	return live, nil
}

// variantFor maps the mutually-exclusive --tpu/--cpu flags to a requested
// Variant. Neither flag set requests GPU, the common Colab workload.
func variantFor(tpu, cpu bool) colabapi.Variant {
	switch {
	case tpu:
		return colabapi.VariantTPU
	case cpu:
		return colabapi.VariantDefault
	default:
		return colabapi.VariantGPU
	}
}

// ResolveSession resolves the target Session Record for this invocation,
// creating one via the Runtime Manager if necessary.
func (a *App) ResolveSession(ctx context.Context, targetID string, tpu, cpu, forceNew bool) (*sessionmgr.Record, error) {
	req := runtimemgr.Request{
		Variant:     variantFor(tpu, cpu),
		ForceNew:    forceNew,
		Accelerator: a.Config.DefaultAccelerator,
	}
	rec, err := a.Sessions.GetOrCreateSession(ctx, targetID, req, a.Pool.Tier().MaxSessions())
	if err != nil {
		return nil, err
	}
	a.Log.Infof("session", "resolved session %s (runtime=%s)", rec.ID, rec.RuntimeEndpoint)
	return rec, nil
}

// EnsureConnection returns the pooled live Connection for rec, dialing a
// fresh one if none is pooled yet.
func (a *App) EnsureConnection(ctx context.Context, rec *sessionmgr.Record) (*connection.Connection, error) {
	if conn := a.Pool.Get(rec.ID); conn != nil {
		return conn, nil
	}

	sessionPath := fmt.Sprintf("/content/lecoder-%s.ipynb", rec.ID)
	conn := connection.New(a.API, rec.RuntimeEndpoint, sessionPath, kernelSpecName)
	conn.OnStateChange = func(s connection.State) {
		a.Log.Infof("connection", "session %s state -> %s", rec.ID, s)
	}

	if err := conn.EnsureConnected(ctx); err != nil {
		return nil, fmt.Errorf("cli: connect session %s: %w", rec.ID, err)
	}
	a.Pool.Put(rec.ID, conn)
	return conn, nil
}

// KeepAliveInterval returns the configured keep-alive period, falling back
// to the documented 60s default.
func (a *App) KeepAliveInterval() time.Duration {
	if a.Config.KeepAliveIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(a.Config.KeepAliveIntervalSeconds) * time.Second
}

// StartKeepAlive launches the process-wide keep-alive ticker (spec §5):
// every KeepAliveInterval, poke the Colab API host for each endpoint with a
// live pooled Connection, preventing idle eviction during a long-running
// REPL. The returned func stops the ticker; callers must invoke it when the
// interactive session ends.
func (a *App) StartKeepAlive(ctx context.Context) func() {
	ticker := time.NewTicker(a.KeepAliveInterval())
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, endpoint := range a.Pool.Endpoints() {
					if err := a.API.SendKeepAlive(ctx, endpoint); err != nil {
						a.Log.Error("keepalive", "poke failed for "+endpoint, err)
					}
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { close(done) }
}

// Close releases resources the App owns that outlive a single command
// (currently only the debug log's open file handle).
func (a *App) Close() {
	if err := a.Log.Close(); err != nil {
		klog.Warningf("cli: closing debug log: %v", err)
	}
}
