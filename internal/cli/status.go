package cli

import (
	"context"

	"github.com/lecoder-dev/lecoder/internal/output"
)

// Status reports auth, detected tier, and session summary.
func (a *App) Status(ctx context.Context) (output.StatusReport, error) {
	tier, err := a.DetectTier(ctx)
	if err != nil {
		return output.StatusReport{Authenticated: false}, nil
	}

	live, err := a.liveEndpoints(ctx)
	if err != nil {
		return output.StatusReport{}, err
	}

	stats, err := a.Sessions.GetStats(tier, live)
	if err != nil {
		return output.StatusReport{}, err
	}

	return output.StatusReport{
		Authenticated: true,
		Tier:          stats.Tier,
		Total:         stats.Total,
		Active:        stats.Active,
		Connected:     stats.Connected,
		Stale:         stats.Stale,
		Max:           stats.Max,
	}, nil
}
