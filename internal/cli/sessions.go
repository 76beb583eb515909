package cli

import (
	"context"

	"github.com/lecoder-dev/lecoder/internal/sessionmgr"
)

// ListSessions enriches durable Records with live connected/stale state.
func (a *App) ListSessions(ctx context.Context) ([]sessionmgr.EnrichedRecord, error) {
	live, err := a.liveEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	return a.Sessions.ListSessions(live)
}

// SwitchSession makes the Record matching id the active one.
func (a *App) SwitchSession(id string) (*sessionmgr.Record, error) {
	return a.Sessions.SwitchSession(id)
}

// CloseSession deletes the Record matching id and shuts down any pooled
// Connection for it.
func (a *App) CloseSession(id string) error {
	return a.Sessions.DeleteSession(id)
}

// CleanSessions removes every Record whose runtime assignment no longer
// exists, returning the deleted ids.
func (a *App) CleanSessions(ctx context.Context) ([]string, error) {
	live, err := a.liveEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	return a.Sessions.CleanStaleSessions(live)
}
