// Package cache holds the current index snapshot, expires it after a TTL and serializes rebuilds.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/metrics"
)

// State is the lifecycle position of an IndexCache.
type State string

const (
	// StateEmpty means no snapshot has been built yet.
	StateEmpty State = "empty"
	// StateBuilding means a build is in flight.
	StateBuilding State = "building"
	// StateValid means a snapshot younger than the TTL is held.
	StateValid State = "valid"
	// StateStale means the held snapshot is older than the TTL.
	StateStale State = "stale"

	// DefaultTTL is the age after which a snapshot is considered stale.
	DefaultTTL = 24 * time.Hour
)

// ErrNoSnapshot is returned by Current when nothing has been built yet.
var ErrNoSnapshot = errors.New("index is not built yet")

// BuildFunc produces a new snapshot.
type BuildFunc func(ctx context.Context) (*index.Snapshot, error)

// Clock returns the current time.
type Clock func() time.Time

// Options configures an IndexCache.
type Options struct {
	TTL    time.Duration
	Clock  Clock
	Logger *zap.Logger
	// BaseContext scopes builds. Builds are shared by all waiting callers, so a caller's own
	// context only bounds its wait, never the build.
	BaseContext context.Context
}

// Status is a point-in-time view of the cache.
type Status struct {
	State      State     `json:"state"`
	IsValid    bool      `json:"is_valid"`
	IsBuilding bool      `json:"is_building"`
	BuiltAt    time.Time `json:"built_at"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// RebuildResult reports whether ForceRebuild started a build.
type RebuildResult struct {
	Accepted bool `json:"accepted"`
}

type published struct {
	snapshot *index.Snapshot
	builtAt  time.Time
}

type buildCall struct {
	done     chan struct{}
	snapshot *index.Snapshot
	err      error
}

// IndexCache owns the current snapshot. Readers load it through an atomic pointer and never
// wait on a build unless they asked for a fresh snapshot and none is held.
type IndexCache struct {
	build       BuildFunc
	ttl         time.Duration
	clock       Clock
	logger      *zap.Logger
	baseContext context.Context

	current   atomic.Pointer[published]
	building  atomic.Bool
	lastError atomic.Pointer[string]

	mutex    sync.Mutex
	inflight *buildCall
}

// New returns an empty cache that builds snapshots with build.
func New(build BuildFunc, options Options) *IndexCache {
	indexCache := &IndexCache{
		build:       build,
		ttl:         options.TTL,
		clock:       options.Clock,
		logger:      options.Logger,
		baseContext: options.BaseContext,
	}
	if indexCache.ttl <= 0 {
		indexCache.ttl = DefaultTTL
	}
	if indexCache.clock == nil {
		indexCache.clock = time.Now
	}
	if indexCache.logger == nil {
		indexCache.logger = zap.NewNop()
	}
	if indexCache.baseContext == nil {
		indexCache.baseContext = context.Background()
	}
	return indexCache
}

// GetOrBuild returns the held snapshot while it is valid, even when a forced rebuild is
// running. Otherwise it starts a build, or joins the one in flight, and waits for it. ctx
// only bounds the wait.
func (indexCache *IndexCache) GetOrBuild(ctx context.Context) (*index.Snapshot, error) {
	if snapshot := indexCache.freshSnapshot(); snapshot != nil {
		return snapshot, nil
	}
	snapshot, call := indexCache.ensureBuild()
	if snapshot != nil {
		return snapshot, nil
	}
	select {
	case <-call.done:
		return call.snapshot, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Current returns the most recently built snapshot, valid or not, without waiting. When the
// cache is not valid and no build is running, a build is started in the background.
func (indexCache *IndexCache) Current() (*index.Snapshot, Status, error) {
	if indexCache.freshSnapshot() == nil {
		indexCache.ensureBuild()
	}
	status := indexCache.Status()
	held := indexCache.current.Load()
	if held == nil {
		return nil, status, ErrNoSnapshot
	}
	return held.snapshot, status, nil
}

// ForceRebuild starts a build unless one is already running. It never waits for the build.
func (indexCache *IndexCache) ForceRebuild() RebuildResult {
	_, started := indexCache.startBuild()
	metrics.RecordRebuildRequest(started)
	if !started {
		indexCache.logger.Debug("rebuild rejected, already building")
	}
	return RebuildResult{Accepted: started}
}

// Wait blocks until no build is in flight and returns the error of the build it observed.
func (indexCache *IndexCache) Wait(ctx context.Context) error {
	indexCache.mutex.Lock()
	call := indexCache.inflight
	indexCache.mutex.Unlock()
	if call == nil {
		return nil
	}
	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State derives the lifecycle state; staleness is detected lazily from the clock.
func (indexCache *IndexCache) State() State {
	if indexCache.building.Load() {
		return StateBuilding
	}
	if indexCache.current.Load() == nil {
		return StateEmpty
	}
	if indexCache.freshSnapshot() == nil {
		return StateStale
	}
	return StateValid
}

// Status reports validity without blocking or triggering work. A snapshot stays valid while
// a rebuild runs; IsBuilding reports the rebuild.
func (indexCache *IndexCache) Status() Status {
	state := indexCache.State()
	status := Status{
		State:      state,
		IsValid:    indexCache.freshSnapshot() != nil,
		IsBuilding: state == StateBuilding,
	}
	if held := indexCache.current.Load(); held != nil {
		status.BuiltAt = held.builtAt
		status.SnapshotID = held.snapshot.ID
	}
	if lastError := indexCache.lastError.Load(); lastError != nil {
		status.LastError = *lastError
	}
	return status
}

// freshSnapshot returns the held snapshot when it is no older than the TTL.
func (indexCache *IndexCache) freshSnapshot() *index.Snapshot {
	held := indexCache.current.Load()
	if held == nil || indexCache.clock().Sub(held.builtAt) > indexCache.ttl {
		return nil
	}
	return held.snapshot
}

// ensureBuild re-checks freshness under the lock so a caller racing a publication does not
// start a redundant build. It returns either the fresh snapshot or the build to wait on.
func (indexCache *IndexCache) ensureBuild() (*index.Snapshot, *buildCall) {
	indexCache.mutex.Lock()
	defer indexCache.mutex.Unlock()
	if snapshot := indexCache.freshSnapshot(); snapshot != nil {
		return snapshot, nil
	}
	call, _ := indexCache.startBuildLocked()
	return nil, call
}

func (indexCache *IndexCache) startBuild() (*buildCall, bool) {
	indexCache.mutex.Lock()
	defer indexCache.mutex.Unlock()
	return indexCache.startBuildLocked()
}

func (indexCache *IndexCache) startBuildLocked() (*buildCall, bool) {
	if indexCache.inflight != nil {
		return indexCache.inflight, false
	}
	call := &buildCall{done: make(chan struct{})}
	indexCache.inflight = call
	indexCache.building.Store(true)
	metrics.SetIndexBuilding(true)
	go indexCache.run(call)
	return call, true
}

func (indexCache *IndexCache) run(call *buildCall) {
	startedAt := indexCache.clock()
	snapshot, buildErr := indexCache.build(indexCache.baseContext)
	if buildErr == nil && snapshot == nil {
		buildErr = errors.New("build returned no snapshot")
	}
	finishedAt := indexCache.clock()

	indexCache.mutex.Lock()
	if buildErr == nil {
		indexCache.current.Store(&published{snapshot: snapshot, builtAt: finishedAt})
		indexCache.lastError.Store(nil)
	} else {
		message := buildErr.Error()
		indexCache.lastError.Store(&message)
	}
	indexCache.inflight = nil
	indexCache.building.Store(false)
	indexCache.mutex.Unlock()
	metrics.SetIndexBuilding(false)

	if buildErr != nil {
		metrics.RecordIndexBuild(finishedAt.Sub(startedAt), 0, 0, buildErr)
		indexCache.logger.Error("index build failed", zap.Error(buildErr))
	} else {
		metrics.RecordIndexBuild(finishedAt.Sub(startedAt), snapshot.Files, snapshot.Directories, nil)
		indexCache.logger.Info("index built",
			zap.String("snapshot", snapshot.ID),
			zap.Int("files", snapshot.Files),
			zap.Int("directories", snapshot.Directories),
			zap.Duration("duration", finishedAt.Sub(startedAt)),
		)
	}

	call.snapshot = snapshot
	call.err = buildErr
	close(call.done)
}
