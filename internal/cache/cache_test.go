package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/ctxserve/internal/cache"
	"github.com/temirov/ctxserve/internal/index"
)

type manualClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newManualClock() *manualClock {
	return &manualClock{current: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

// countingBuilder produces numbered snapshots; when gate is set each build waits on it.
type countingBuilder struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	failAt  int32
}

func (builder *countingBuilder) Build(ctx context.Context) (*index.Snapshot, error) {
	call := builder.calls.Add(1)
	if builder.started != nil {
		builder.started <- struct{}{}
	}
	if builder.gate != nil {
		select {
		case <-builder.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if builder.failAt == call {
		return nil, fmt.Errorf("%w: /missing", index.ErrRootNotFound)
	}
	root := &index.Node{Kind: index.KindDirectory}
	return index.NewSnapshot(fmt.Sprintf("snapshot-%d", call), root, "/project", time.Time{}, 0), nil
}

func TestConcurrentGetOrBuildTriggersOneBuild(t *testing.T) {
	builder := &countingBuilder{gate: make(chan struct{})}
	indexCache := cache.New(builder.Build, cache.Options{})

	const callers = 32
	results := make([]*index.Snapshot, callers)
	errs := make([]error, callers)
	var group sync.WaitGroup
	for callerIndex := 0; callerIndex < callers; callerIndex++ {
		group.Add(1)
		go func(slot int) {
			defer group.Done()
			results[slot], errs[slot] = indexCache.GetOrBuild(context.Background())
		}(callerIndex)
	}

	require.Eventually(t, func() bool { return indexCache.Status().IsBuilding }, time.Second, time.Millisecond)
	close(builder.gate)
	group.Wait()

	require.Equal(t, int32(1), builder.calls.Load())
	for callerIndex := 0; callerIndex < callers; callerIndex++ {
		require.NoError(t, errs[callerIndex])
		require.Same(t, results[0], results[callerIndex])
	}
}

func TestStatusExpiresAfterTTL(t *testing.T) {
	clock := newManualClock()
	builder := &countingBuilder{}
	indexCache := cache.New(builder.Build, cache.Options{Clock: clock.Now})

	require.Equal(t, cache.StateEmpty, indexCache.State())
	first, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)

	status := indexCache.Status()
	require.True(t, status.IsValid)
	require.Equal(t, clock.Now(), status.BuiltAt)
	require.Equal(t, "snapshot-1", status.SnapshotID)

	clock.Advance(24 * time.Hour)
	require.True(t, indexCache.Status().IsValid, "a snapshot exactly one TTL old is still valid")
	again, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)
	require.Same(t, first, again)

	clock.Advance(time.Nanosecond)
	require.False(t, indexCache.Status().IsValid)
	require.Equal(t, cache.StateStale, indexCache.State())

	rebuilt, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)
	require.Equal(t, "snapshot-2", rebuilt.ID)
	require.Equal(t, int32(2), builder.calls.Load())
	require.True(t, indexCache.Status().IsValid)
}

func TestForceRebuildWhileBuildingIsRejected(t *testing.T) {
	builder := &countingBuilder{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	indexCache := cache.New(builder.Build, cache.Options{})

	require.True(t, indexCache.ForceRebuild().Accepted)
	<-builder.started
	require.False(t, indexCache.ForceRebuild().Accepted)
	require.Equal(t, cache.StateBuilding, indexCache.State())
	require.False(t, indexCache.Status().IsValid)

	close(builder.gate)
	require.NoError(t, indexCache.Wait(context.Background()))
	require.Equal(t, int32(1), builder.calls.Load())
	require.True(t, indexCache.Status().IsValid)
}

func TestFailedBuildKeepsPriorSnapshot(t *testing.T) {
	builder := &countingBuilder{failAt: 2}
	indexCache := cache.New(builder.Build, cache.Options{})

	first, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)

	require.True(t, indexCache.ForceRebuild().Accepted)
	require.Eventually(t, func() bool {
		status := indexCache.Status()
		return !status.IsBuilding && status.LastError != ""
	}, time.Second, time.Millisecond)

	status := indexCache.Status()
	require.True(t, status.IsValid)
	require.Equal(t, first.ID, status.SnapshotID)
	require.Contains(t, status.LastError, "root directory not found")

	current, _, currentErr := indexCache.Current()
	require.NoError(t, currentErr)
	require.Same(t, first, current)
}

func TestGetOrBuildKeepsValidSnapshotDuringFailingRebuild(t *testing.T) {
	builder := &countingBuilder{failAt: 2}
	indexCache := cache.New(builder.Build, cache.Options{})
	first, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)

	builder.gate = make(chan struct{})
	builder.started = make(chan struct{}, 1)
	require.True(t, indexCache.ForceRebuild().Accepted)
	<-builder.started

	status := indexCache.Status()
	require.True(t, status.IsValid)
	require.True(t, status.IsBuilding)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	during, err := indexCache.GetOrBuild(ctx)
	require.NoError(t, err, "a valid snapshot must be served without waiting on the rebuild")
	require.Same(t, first, during)

	close(builder.gate)
	require.ErrorIs(t, indexCache.Wait(context.Background()), index.ErrRootNotFound)

	after, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)
	require.Same(t, first, after)
	require.True(t, indexCache.Status().IsValid)
	require.Equal(t, int32(2), builder.calls.Load())
}

func TestFailedFirstBuildStaysEmpty(t *testing.T) {
	builder := &countingBuilder{failAt: 1}
	indexCache := cache.New(builder.Build, cache.Options{})

	_, err := indexCache.GetOrBuild(context.Background())
	require.True(t, errors.Is(err, index.ErrRootNotFound))
	require.Equal(t, cache.StateEmpty, indexCache.State())
	require.False(t, indexCache.Status().IsValid)
}

func TestCurrentTriggersBackgroundBuild(t *testing.T) {
	builder := &countingBuilder{gate: make(chan struct{})}
	indexCache := cache.New(builder.Build, cache.Options{})

	snapshot, status, err := indexCache.Current()
	require.ErrorIs(t, err, cache.ErrNoSnapshot)
	require.Nil(t, snapshot)
	require.True(t, status.IsBuilding)

	close(builder.gate)
	require.NoError(t, indexCache.Wait(context.Background()))

	snapshot, status, err = indexCache.Current()
	require.NoError(t, err)
	require.True(t, status.IsValid)
	require.Equal(t, "snapshot-1", snapshot.ID)
}

func TestReadersKeepSnapshotUntilRebuildCompletes(t *testing.T) {
	builder := &countingBuilder{}
	indexCache := cache.New(builder.Build, cache.Options{})
	first, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)

	builder.gate = make(chan struct{})
	require.True(t, indexCache.ForceRebuild().Accepted)
	during, _, err := indexCache.Current()
	require.NoError(t, err)
	require.Same(t, first, during)

	close(builder.gate)
	require.NoError(t, indexCache.Wait(context.Background()))
	after, _, err := indexCache.Current()
	require.NoError(t, err)
	require.Equal(t, "snapshot-2", after.ID)
}

func TestCanceledWaiterDoesNotCancelBuild(t *testing.T) {
	builder := &countingBuilder{gate: make(chan struct{})}
	indexCache := cache.New(builder.Build, cache.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := indexCache.GetOrBuild(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, indexCache.Status().IsBuilding)

	close(builder.gate)
	snapshot, err := indexCache.GetOrBuild(context.Background())
	require.NoError(t, err)
	require.Equal(t, "snapshot-1", snapshot.ID)
}
