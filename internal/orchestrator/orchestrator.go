// Package orchestrator drives the native build executor over the resolved,
// stale candidate set with bounded parallelism. A single candidate's failure
// never aborts the run; concurrency never leaks into output ordering.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vk/elfmagic/internal/buildexec"
	"github.com/vk/elfmagic/internal/cache"
	"github.com/vk/elfmagic/internal/catalog"
	"github.com/vk/elfmagic/internal/ctxlog"
)

// Status classifies a candidate's outcome for this run.
type Status int

const (
	// StatusBuilt means the executor produced a fresh artifact.
	StatusBuilt Status = iota
	// StatusSkipped means the cache satisfied the candidate without a build.
	StatusSkipped
	// StatusFailed means the build failed or timed out; the candidate is
	// excluded from the run's output.
	StatusFailed
)

// Outcome is the per-candidate result the code generator and report consume.
type Outcome struct {
	Candidate    catalog.Candidate
	Status       Status
	ArtifactPath string
	Err          error
}

// Orchestrator coordinates fingerprinting, cache lookups, and builds.
type Orchestrator struct {
	executor buildexec.Executor
	store    cache.Store
	workers  int
	timeout  time.Duration
}

// New creates an orchestrator. workers caps concurrent executor invocations;
// timeout, when positive, bounds each individual build.
func New(executor buildexec.Executor, store cache.Store, workers int, timeout time.Duration) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{executor: executor, store: store, workers: workers, timeout: timeout}
}

// job pairs a stale candidate with its freshly computed fingerprint.
type job struct {
	candidate   catalog.Candidate
	fingerprint string
}

// Run processes the included candidates: cache hits become skips, the rest
// are built with bounded parallelism. The returned outcomes are sorted into
// the run's deterministic order (workspace declaration order, then discovery
// order) regardless of completion order.
func (o *Orchestrator) Run(ctx context.Context, included []catalog.Candidate) []Outcome {
	logger := ctxlog.FromContext(ctx)

	outcomes := make([]Outcome, 0, len(included))
	var stale []job

	for _, c := range included {
		fp, err := cache.Fingerprint(c)
		if err != nil {
			// An unreadable source tree still gets a build attempt; the
			// executor will produce the authoritative failure if any.
			logger.Warn("fingerprint failed, forcing rebuild", "target", c.TargetName, "error", err)
		}
		if entry, ok := cache.Hit(o.store, c, fp); ok {
			logger.Debug("cache hit", "target", c.TargetName)
			outcomes = append(outcomes, Outcome{Candidate: c, Status: StatusSkipped, ArtifactPath: entry.ArtifactPath})
			continue
		}
		stale = append(stale, job{candidate: c, fingerprint: fp})
	}

	outcomes = append(outcomes, o.buildAll(ctx, stale)...)

	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i].Candidate, outcomes[j].Candidate
		if a.WorkspaceIdx != b.WorkspaceIdx {
			return a.WorkspaceIdx < b.WorkspaceIdx
		}
		return a.DiscoveryIdx < b.DiscoveryIdx
	})
	return outcomes
}

// buildAll fans the stale jobs out over the worker pool and buffers every
// result before returning.
func (o *Orchestrator) buildAll(ctx context.Context, jobs []job) []Outcome {
	if len(jobs) == 0 {
		return nil
	}

	jobChan := make(chan job)
	var (
		mu       sync.Mutex
		outcomes []Outcome
		wg       sync.WaitGroup
	)

	workers := o.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobChan {
				outcome := o.buildOne(ctx, workerID, j)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}
		}(i)
	}

	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)
	wg.Wait()

	return outcomes
}

// buildOne runs a single executor invocation and records its cache entry.
func (o *Orchestrator) buildOne(ctx context.Context, workerID int, j job) Outcome {
	c := j.candidate
	logger := ctxlog.FromContext(ctx).With("workerID", workerID, "target", c.TargetName)

	if err := ctx.Err(); err != nil {
		logger.Debug("run cancelled before build started")
		return Outcome{Candidate: c, Status: StatusFailed, Err: &buildexec.BuildError{Target: c.TargetName, Err: err}}
	}

	buildCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	artifact, err := o.executor.Build(buildCtx, c)
	if err != nil {
		logger.Error("build failed", "error", err)
		o.record(logger, c.ID(), cache.Entry{Fingerprint: j.fingerprint, LastStatus: cache.StatusFailure})
		return Outcome{Candidate: c, Status: StatusFailed, Err: err}
	}

	o.record(logger, c.ID(), cache.Entry{Fingerprint: j.fingerprint, ArtifactPath: artifact, LastStatus: cache.StatusSuccess})
	return Outcome{Candidate: c, Status: StatusBuilt, ArtifactPath: artifact}
}

// record persists a cache entry; a store write problem is worth a warning
// but never fails the build that produced it.
func (o *Orchestrator) record(logger *slog.Logger, id string, e cache.Entry) {
	if err := o.store.Put(id, e); err != nil {
		logger.Warn("cache store write failed", "id", id, "error", err)
	}
}
