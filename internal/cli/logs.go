package cli

import (
	"github.com/lecoder-dev/lecoder/internal/history"
)

// QueryLogs filters and returns history entries back-to-front.
func (a *App) QueryLogs(filters history.Filters) ([]history.Entry, error) {
	return a.History.Query(filters)
}

// LogStats aggregates the full execution history.
func (a *App) LogStats() (history.Stats, error) {
	return a.History.GetStats()
}

// ClearLogs truncates the execution history.
func (a *App) ClearLogs() error {
	return a.History.Clear()
}
