// Package asset implements the recording asset registry (C7): finished
// audio files handed off from the platform recorder, registered under an
// opaque id so the pipeline's Record stage can claim one without touching
// the filesystem directly. Unlike session.Registry, assets do carry a
// lease: an unconsumed file past its lease is reclaimed by a background
// sweeper, since a forgotten temp recording should not accumulate forever
// on disk (a concern original_source leaves to OS temp-dir GC, tightened
// here per spec.md §4.7).
package asset

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"typevoice/internal/corerr"
	"typevoice/internal/domain"
)

// DefaultLease is how long a registered asset stays claimable before the
// sweeper considers it abandoned.
const DefaultLease = 10 * time.Minute

// Registry tracks recording assets in memory, mirroring session.Registry's
// shape but adding lease-based reclamation.
type Registry struct {
	mu     sync.Mutex
	assets map[string]*domain.RecordingAsset
	lease  time.Duration
	remove func(path string) error
	now    func() time.Time
}

// New builds a registry with the default lease and real OS file removal.
func New() *Registry {
	return &Registry{
		assets: make(map[string]*domain.RecordingAsset),
		lease:  DefaultLease,
		remove: os.Remove,
		now:    time.Now,
	}
}

// NewForTests builds a registry with injectable lease/remove/clock,
// following the teacher's *ForTests constructor convention.
func NewForTests(lease time.Duration, remove func(path string) error, now func() time.Time) *Registry {
	return &Registry{assets: make(map[string]*domain.RecordingAsset), lease: lease, remove: remove, now: now}
}

// Register records a finished audio file at path with the given extension,
// returning its opaque asset id and lease deadline.
func (r *Registry) Register(path, ext string) *domain.RecordingAsset {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := &domain.RecordingAsset{
		ID:        uuid.NewString(),
		Path:      path,
		Ext:       ext,
		LeaseTill: r.now().Add(r.lease),
		State:     domain.AssetStatePending,
	}
	r.assets[a.ID] = a
	return a
}

// Consume claims an asset for a task, marking it consumed so no other
// caller (and no later sweep) can touch it. The caller owns cleanup of the
// file after use.
func (r *Registry) Consume(assetID string) (domain.RecordingAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[assetID]
	if !ok {
		return domain.RecordingAsset{}, corerr.New("E_RECORDING_ASSET_NOT_FOUND", "recording asset not found: "+assetID)
	}
	if a.State != domain.AssetStatePending {
		return domain.RecordingAsset{}, corerr.New("E_RECORDING_ASSET_ALREADY_CONSUMED", "recording asset already consumed: "+assetID)
	}
	if r.now().After(a.LeaseTill) {
		delete(r.assets, assetID)
		return domain.RecordingAsset{}, corerr.New("E_RECORDING_ASSET_EXPIRED", "recording asset lease expired: "+assetID)
	}

	a.State = domain.AssetStateConsumed
	return *a, nil
}

// Abort releases an asset and removes its backing file, used when a task
// fails before the Record stage can claim the asset.
func (r *Registry) Abort(assetID string) error {
	r.mu.Lock()
	a, ok := r.assets[assetID]
	if ok {
		delete(r.assets, assetID)
	}
	r.mu.Unlock()

	if !ok {
		return corerr.New("E_RECORDING_ASSET_NOT_FOUND", "recording asset not found: "+assetID)
	}
	if err := r.remove(a.Path); err != nil && !os.IsNotExist(err) {
		return corerr.Wrap("E_RECORDING_ASSET_CLEANUP_FAILED", "failed to remove recording asset file", err)
	}
	return nil
}

// Sweep removes every pending asset whose lease has expired, returning the
// ids reclaimed. Intended to run on a periodic ticker from bootstrap.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	now := r.now()
	var expired []*domain.RecordingAsset
	for id, a := range r.assets {
		if a.State == domain.AssetStatePending && now.After(a.LeaseTill) {
			expired = append(expired, a)
			delete(r.assets, id)
		}
	}
	r.mu.Unlock()

	var swept []string
	for _, a := range expired {
		_ = r.remove(a.Path)
		swept = append(swept, a.ID)
	}
	return swept
}
