// Package sessionmgr maintains durable Session Records, resolving the
// "target session" for every CLI invocation and enforcing tier-aware
// concurrency caps.
package sessionmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/lecoder-dev/lecoder/internal/connpool"
	"github.com/lecoder-dev/lecoder/internal/runtimemgr"
)

var (
	// ErrSessionNotFound indicates no Record matches the requested id or prefix.
	ErrSessionNotFound = errors.New("sessionmgr: session not found")

	// ErrAmbiguousPrefix indicates the supplied id prefix is too short or
	// matches more than one Record.
	ErrAmbiguousPrefix = errors.New("sessionmgr: ambiguous session id")

	// ErrCapExceeded indicates the account's tier concurrency cap would be
	// exceeded by creating another Record.
	ErrCapExceeded = errors.New("sessionmgr: session cap exceeded")

	// minPrefixLen is the shortest id prefix getOrCreateSession/switchSession
	// will resolve; anything shorter is rejected as ambiguous even with a
	// single match, since a 1-3 char prefix is too likely to collide with a
	// session created moments later.
	minPrefixLen = 4
)

// Manager resolves, creates, and retires Session Records backed by a single
// JSON file with advisory locking.
type Manager struct {
	path     string
	runtimes *runtimemgr.Manager
	pool     *connpool.Pool
}

// New creates a Manager persisting Records to path (typically
// state/sessions.json under the user's config directory).
func New(path string, runtimes *runtimemgr.Manager, pool *connpool.Pool) *Manager {
	return &Manager{path: path, runtimes: runtimes, pool: pool}
}

func (m *Manager) lock() (*flock.Flock, error) {
	lk := flock.New(m.path + ".lock")
	if err := lk.Lock(); err != nil {
		return nil, fmt.Errorf("sessionmgr: acquire lock: %w", err)
	}
	return lk, nil
}

func (m *Manager) load() (file, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return file{}, nil
	}
	if err != nil {
		return file{}, fmt.Errorf("sessionmgr: read %s: %w", m.path, err)
	}
	if len(data) == 0 {
		return file{}, nil
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return file{}, fmt.Errorf("sessionmgr: parse %s: %w", m.path, err)
	}
	return f, nil
}

func (m *Manager) save(f file) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("sessionmgr: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionmgr: marshal sessions: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("sessionmgr: write temp sessions file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("sessionmgr: rename sessions file: %w", err)
	}
	return nil
}

// resolve finds the Record matching id by exact match first, then by
// unique prefix of at least minPrefixLen characters.
func resolve(records []Record, id string) (int, error) {
	for i, r := range records {
		if r.ID == id {
			return i, nil
		}
	}

	if len(id) < minPrefixLen {
		return -1, fmt.Errorf("%w: %q is shorter than %d characters", ErrAmbiguousPrefix, id, minPrefixLen)
	}

	var matches []int
	for i, r := range records {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, i)
		}
	}
	switch len(matches) {
	case 0:
		return -1, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	case 1:
		return matches[0], nil
	default:
		var ids []string
		for _, i := range matches {
			ids = append(ids, records[i].ID)
		}
		return -1, fmt.Errorf("%w: %q matches %s", ErrAmbiguousPrefix, id, strings.Join(ids, ", "))
	}
}

func activeIndex(records []Record) int {
	for i, r := range records {
		if r.IsActive {
			return i
		}
	}
	return -1
}

// GetOrCreateSession is the central session-resolution entry point. If
// targetID is non-empty it resolves an existing Record by id or unique
// prefix. Otherwise it returns the currently active Record, or creates one
// via the Runtime Manager when none is suitable, enforcing the tier cap.
func (m *Manager) GetOrCreateSession(ctx context.Context, targetID string, req runtimemgr.Request, tierCap int) (*Record, error) {
	lk, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer lk.Unlock()

	f, err := m.load()
	if err != nil {
		return nil, err
	}

	if targetID != "" {
		idx, err := resolve(f.Records, targetID)
		if err != nil {
			return nil, err
		}
		f.Records[idx].LastUsedAt = time.Now().UTC()
		if err := m.save(f); err != nil {
			return nil, err
		}
		rec := f.Records[idx]
		return &rec, nil
	}

	if idx := activeIndex(f.Records); idx >= 0 {
		f.Records[idx].LastUsedAt = time.Now().UTC()
		if err := m.save(f); err != nil {
			return nil, err
		}
		rec := f.Records[idx]
		return &rec, nil
	}

	if len(f.Records) >= tierCap {
		return nil, fmt.Errorf("%w: %d session(s) already exist against a cap of %d", ErrCapExceeded, len(f.Records), tierCap)
	}

	runtime, err := m.runtimes.AssignRuntime(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sessionmgr: assign runtime for new session: %w", err)
	}

	now := time.Now().UTC()
	rec := Record{
		ID:              uuid.NewString(),
		Label:           runtime.Label,
		Variant:         string(runtime.Variant),
		Accelerator:     runtime.Accelerator,
		RuntimeEndpoint: runtime.Endpoint,
		CreatedAt:       now,
		LastUsedAt:      now,
		IsActive:        true,
	}
	for i := range f.Records {
		f.Records[i].IsActive = false
	}
	f.Records = append(f.Records, rec)

	if err := m.save(f); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SwitchSession atomically flips isActive to the Record matching id.
func (m *Manager) SwitchSession(id string) (*Record, error) {
	lk, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer lk.Unlock()

	f, err := m.load()
	if err != nil {
		return nil, err
	}

	idx, err := resolve(f.Records, id)
	if err != nil {
		return nil, err
	}
	for i := range f.Records {
		f.Records[i].IsActive = i == idx
	}
	f.Records[idx].LastUsedAt = time.Now().UTC()

	if err := m.save(f); err != nil {
		return nil, err
	}
	rec := f.Records[idx]
	return &rec, nil
}

// DeleteSession removes the Record matching id, shutting down any live
// pooled Connection first.
func (m *Manager) DeleteSession(id string) error {
	lk, err := m.lock()
	if err != nil {
		return err
	}
	defer lk.Unlock()

	f, err := m.load()
	if err != nil {
		return err
	}

	idx, err := resolve(f.Records, id)
	if err != nil {
		return err
	}
	deletedID := f.Records[idx].ID

	f.Records = append(f.Records[:idx], f.Records[idx+1:]...)
	if err := m.save(f); err != nil {
		return err
	}

	if m.pool != nil {
		m.pool.Remove(deletedID)
	}
	return nil
}

// ListSessions enriches durable Records with live connected/stale state.
// A Record is stale when its RuntimeEndpoint no longer appears in
// liveEndpoints (the current listAssignments result, fetched from the
// Colab API and passed in by the caller).
func (m *Manager) ListSessions(liveEndpoints map[string]bool) ([]EnrichedRecord, error) {
	f, err := m.load()
	if err != nil {
		return nil, err
	}

	out := make([]EnrichedRecord, 0, len(f.Records))
	for _, r := range f.Records {
		enriched := EnrichedRecord{
			Record:    r,
			Stale:     !liveEndpoints[r.RuntimeEndpoint],
			Connected: m.pool != nil && m.pool.Get(r.ID) != nil,
		}
		out = append(out, enriched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CleanStaleSessions removes every Record whose endpoint does not appear in
// liveEndpoints, returning the deleted ids.
func (m *Manager) CleanStaleSessions(liveEndpoints map[string]bool) ([]string, error) {
	lk, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer lk.Unlock()

	f, err := m.load()
	if err != nil {
		return nil, err
	}

	var kept []Record
	var deleted []string
	for _, r := range f.Records {
		if liveEndpoints[r.RuntimeEndpoint] {
			kept = append(kept, r)
			continue
		}
		deleted = append(deleted, r.ID)
		if m.pool != nil {
			m.pool.Remove(r.ID)
		}
	}
	f.Records = kept

	if err := m.save(f); err != nil {
		return nil, err
	}
	return deleted, nil
}

// GetStats aggregates totals, active/connected/stale counts, and the
// tier's cap.
func (m *Manager) GetStats(tier connpool.Tier, liveEndpoints map[string]bool) (Stats, error) {
	records, err := m.ListSessions(liveEndpoints)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Tier: string(tier), Max: tier.MaxSessions(), Total: len(records)}
	for _, r := range records {
		if r.IsActive {
			stats.Active++
		}
		if r.Connected {
			stats.Connected++
		}
		if r.Stale {
			stats.Stale++
		}
	}
	return stats, nil
}
