package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/elfmagic/internal/buildexec"
	"github.com/vk/elfmagic/internal/cache"
	"github.com/vk/elfmagic/internal/catalog"
)

// fakeExecutor writes a real artifact file per build so cache hits can be
// verified against the filesystem, and counts invocations per target.
type fakeExecutor struct {
	dir   string
	delay time.Duration
	fail  map[string]bool

	mu     sync.Mutex
	counts map[string]int
}

func newFakeExecutor(t *testing.T) *fakeExecutor {
	t.Helper()
	return &fakeExecutor{dir: t.TempDir(), fail: map[string]bool{}, counts: map[string]int{}}
}

func (f *fakeExecutor) Build(ctx context.Context, c catalog.Candidate) (string, error) {
	f.mu.Lock()
	f.counts[c.TargetName]++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", &buildexec.BuildError{Target: c.TargetName, Err: ctx.Err()}
		}
	}
	if f.fail[c.TargetName] {
		return "", &buildexec.BuildError{Target: c.TargetName, Err: errors.New("compiler exploded")}
	}

	artifact := filepath.Join(f.dir, c.ArtifactName+".so")
	if err := os.WriteFile(artifact, []byte{0x7f, 'E', 'L', 'F'}, 0o644); err != nil {
		return "", err
	}
	return artifact, nil
}

func (f *fakeExecutor) count(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[target]
}

// writeCandidate lays out a real package dir so fingerprinting works.
func writeCandidate(t *testing.T, target string, wsIdx, discIdx int) catalog.Candidate {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \""+target+"\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte("// "+target), 0o644))
	return catalog.Candidate{
		TargetName:   target,
		PackageName:  target,
		ManifestPath: filepath.Join(dir, "Cargo.toml"),
		PackageDir:   dir,
		ArtifactName: target,
		WorkspaceIdx: wsIdx,
		DiscoveryIdx: discIdx,
	}
}

func TestRunBuildsEverythingOnColdCache(t *testing.T) {
	exec := newFakeExecutor(t)
	o := New(exec, cache.NewMemoryStore(), 4, 0)

	candidates := []catalog.Candidate{
		writeCandidate(t, "token_manager", 0, 0),
		writeCandidate(t, "governance", 0, 1),
	}
	outcomes := o.Run(context.Background(), candidates)

	require.Len(t, outcomes, 2)
	for _, out := range outcomes {
		assert.Equal(t, StatusBuilt, out.Status)
		assert.FileExists(t, out.ArtifactPath)
	}
	assert.Equal(t, 1, exec.count("token_manager"))
	assert.Equal(t, 1, exec.count("governance"))
}

func TestRunSkipsCachedCandidates(t *testing.T) {
	exec := newFakeExecutor(t)
	store := cache.NewMemoryStore()
	o := New(exec, store, 2, 0)

	candidates := []catalog.Candidate{
		writeCandidate(t, "token_manager", 0, 0),
		writeCandidate(t, "governance", 0, 1),
	}

	first := o.Run(context.Background(), candidates)
	require.Len(t, first, 2)

	second := o.Run(context.Background(), candidates)
	require.Len(t, second, 2)
	for _, out := range second {
		assert.Equal(t, StatusSkipped, out.Status)
		assert.FileExists(t, out.ArtifactPath)
	}
	// One build each, never a second.
	assert.Equal(t, 1, exec.count("token_manager"))
	assert.Equal(t, 1, exec.count("governance"))
}

func TestRunSourceChangeInvalidatesOneEntry(t *testing.T) {
	exec := newFakeExecutor(t)
	store := cache.NewMemoryStore()
	o := New(exec, store, 2, 0)

	tm := writeCandidate(t, "token_manager", 0, 0)
	gov := writeCandidate(t, "governance", 0, 1)
	candidates := []catalog.Candidate{tm, gov}

	o.Run(context.Background(), candidates)
	require.NoError(t, os.WriteFile(filepath.Join(tm.PackageDir, "src", "lib.rs"), []byte("// edited"), 0o644))

	outcomes := o.Run(context.Background(), candidates)
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusBuilt, outcomes[0].Status)
	assert.Equal(t, StatusSkipped, outcomes[1].Status)
	assert.Equal(t, 2, exec.count("token_manager"))
	assert.Equal(t, 1, exec.count("governance"))
}

func TestRunToleratesPartialFailure(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.fail["governance"] = true
	o := New(exec, cache.NewMemoryStore(), 2, 0)

	candidates := []catalog.Candidate{
		writeCandidate(t, "token_manager", 0, 0),
		writeCandidate(t, "governance", 0, 1),
		writeCandidate(t, "registry", 0, 2),
	}
	outcomes := o.Run(context.Background(), candidates)

	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusBuilt, outcomes[0].Status)
	assert.Equal(t, StatusFailed, outcomes[1].Status)
	assert.Equal(t, StatusBuilt, outcomes[2].Status)

	var buildErr *buildexec.BuildError
	require.ErrorAs(t, outcomes[1].Err, &buildErr)
	assert.Equal(t, "governance", buildErr.Target)
}

func TestRunFailureIsRetriedNextRun(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.fail["governance"] = true
	store := cache.NewMemoryStore()
	o := New(exec, store, 1, 0)

	candidates := []catalog.Candidate{writeCandidate(t, "governance", 0, 0)}
	o.Run(context.Background(), candidates)

	// Source unchanged, but the failed entry must not satisfy the cache.
	exec.fail["governance"] = false
	outcomes := o.Run(context.Background(), candidates)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusBuilt, outcomes[0].Status)
	assert.Equal(t, 2, exec.count("governance"))
}

func TestRunOrderIsDeterministicUnderConcurrency(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.delay = 5 * time.Millisecond
	o := New(exec, cache.NewMemoryStore(), 8, 0)

	var candidates []catalog.Candidate
	for ws := 0; ws < 2; ws++ {
		for i := 0; i < 5; i++ {
			candidates = append(candidates, writeCandidate(t, fmt.Sprintf("prog_%d_%d", ws, i), ws, i))
		}
	}

	outcomes := o.Run(context.Background(), candidates)
	require.Len(t, outcomes, len(candidates))
	for i, out := range outcomes {
		assert.Equal(t, candidates[i].TargetName, out.Candidate.TargetName, "position %d", i)
	}
}

func TestRunBuildTimeoutFailsCandidate(t *testing.T) {
	exec := newFakeExecutor(t)
	exec.delay = 200 * time.Millisecond
	o := New(exec, cache.NewMemoryStore(), 1, 10*time.Millisecond)

	outcomes := o.Run(context.Background(), []catalog.Candidate{writeCandidate(t, "token_manager", 0, 0)})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	require.Error(t, outcomes[0].Err)
}

func TestRunCancelledContextFailsPendingBuilds(t *testing.T) {
	exec := newFakeExecutor(t)
	o := New(exec, cache.NewMemoryStore(), 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := o.Run(ctx, []catalog.Candidate{writeCandidate(t, "token_manager", 0, 0)})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
}

func TestRunCapsWorkersAtJobCount(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec := &trackingExecutor{inFlight: &inFlight, peak: &peak, dir: t.TempDir()}
	o := New(exec, cache.NewMemoryStore(), 2, 0)

	var candidates []catalog.Candidate
	for i := 0; i < 6; i++ {
		candidates = append(candidates, writeCandidate(t, fmt.Sprintf("prog_%d", i), 0, i))
	}

	outcomes := o.Run(context.Background(), candidates)
	require.Len(t, outcomes, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type trackingExecutor struct {
	inFlight *atomic.Int32
	peak     *atomic.Int32
	dir      string
}

func (e *trackingExecutor) Build(ctx context.Context, c catalog.Candidate) (string, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		old := e.peak.Load()
		if n <= old || e.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	artifact := filepath.Join(e.dir, c.ArtifactName+".so")
	return artifact, os.WriteFile(artifact, []byte{0x7f}, 0o644)
}
