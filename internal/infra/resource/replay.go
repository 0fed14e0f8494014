package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// ReplaySnapshotter plays back recorded snapshots in order, wrapping around
// at the end. Used for deterministic demos and tests.
type ReplaySnapshotter struct {
	mu    sync.Mutex
	snaps []domain.HostSnapshot
	next  int
}

// NewReplay creates a replay over in-memory snapshots.
func NewReplay(snaps []domain.HostSnapshot) (*ReplaySnapshotter, error) {
	if len(snaps) == 0 {
		return nil, domain.ErrReplayEmpty
	}
	cp := make([]domain.HostSnapshot, len(snaps))
	copy(cp, snaps)
	return &ReplaySnapshotter{snaps: cp}, nil
}

// LoadReplay reads a JSON array of snapshots from path.
func LoadReplay(path string) (*ReplaySnapshotter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", path, err)
	}
	var snaps []domain.HostSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("parse replay %s: %w", path, err)
	}
	r, err := NewReplay(snaps)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return r, nil
}

// Snapshot returns the next recorded snapshot.
func (r *ReplaySnapshotter) Snapshot(ctx context.Context) (domain.HostSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.HostSnapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snaps[r.next]
	r.next = (r.next + 1) % len(r.snaps)

	samples := make([]domain.HostSample, len(snap.Samples))
	copy(samples, snap.Samples)
	snap.Samples = samples
	return snap, nil
}

// Len returns the number of recorded snapshots.
func (r *ReplaySnapshotter) Len() int {
	return len(r.snaps)
}
