package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/elfmagic/internal/buildexec"
	"github.com/vk/elfmagic/internal/catalog"
)

// fixture builds a fake workspace on disk: real package dirs (so
// fingerprinting works) served by a fake provider, and a fake executor that
// produces real artifact files and counts builds.
type fixture struct {
	t        *testing.T
	root     string
	provider *fakeProvider
	executor *fakeExecutor
}

type fakeProvider struct {
	byManifest map[string][]catalog.Candidate
	err        error
}

func (p *fakeProvider) Discover(_ context.Context, manifestPath string) ([]catalog.Candidate, error) {
	if p.err != nil {
		return nil, p.err
	}
	found, ok := p.byManifest[manifestPath]
	if !ok {
		return nil, errors.New("no such workspace")
	}
	return found, nil
}

type fakeExecutor struct {
	dir  string
	fail map[string]bool

	mu     sync.Mutex
	counts map[string]int
}

func (e *fakeExecutor) Build(_ context.Context, c catalog.Candidate) (string, error) {
	e.mu.Lock()
	e.counts[c.TargetName]++
	e.mu.Unlock()

	if e.fail[c.TargetName] {
		return "", &buildexec.BuildError{Target: c.TargetName, Err: errors.New("compiler exploded")}
	}
	artifact := filepath.Join(e.dir, c.ArtifactName+".so")
	return artifact, os.WriteFile(artifact, []byte("elf:"+c.TargetName), 0o644)
}

func (e *fakeExecutor) count(target string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[target]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		t:        t,
		root:     t.TempDir(),
		provider: &fakeProvider{byManifest: map[string][]catalog.Candidate{}},
		executor: &fakeExecutor{dir: t.TempDir(), fail: map[string]bool{}, counts: map[string]int{}},
	}
}

// addProgram creates a package dir under the workspace and registers its
// candidate with the fake provider.
func (f *fixture) addProgram(workspaceManifest, target string) catalog.Candidate {
	f.t.Helper()
	dir := filepath.Join(f.root, "programs", target)
	require.NoError(f.t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \""+target+"\"\n"), 0o644))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte("// "+target), 0o644))

	c := catalog.Candidate{
		TargetName:    target,
		PackageName:   target,
		ManifestPath:  filepath.Join(dir, "Cargo.toml"),
		PackageDir:    dir,
		WorkspaceRoot: f.root,
		ArtifactName:  target,
	}
	f.provider.byManifest[workspaceManifest] = append(f.provider.byManifest[workspaceManifest], c)
	return c
}

func (f *fixture) writeConfig(content string) string {
	f.t.Helper()
	path := filepath.Join(f.root, "elfmagic.hcl")
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) options() Options {
	return Options{
		ConfigPath: filepath.Join(f.root, "elfmagic.hcl"),
		Workers:    2,
		CachePath:  filepath.Join(f.root, ".elfmagic", "cache.json"),
		OutDir:     filepath.Join(f.root, "elves"),
	}
}

func TestRunMagicModeBuildsEverything(t *testing.T) {
	f := newFixture(t)
	// No config file: magic mode rooted at the config dir's Cargo.toml.
	f.addProgram(filepath.Join(f.root, "Cargo.toml"), "token_manager")
	f.addProgram(filepath.Join(f.root, "Cargo.toml"), "governance")

	rep, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, "magic", rep.Mode)
	assert.Equal(t, 2, rep.Built)
	assert.Equal(t, 0, rep.Excluded)

	source, err := os.ReadFile(filepath.Join(f.root, "elves", "elves.go"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "var TOKEN_MANAGER []byte")
	assert.Contains(t, string(source), "var GOVERNANCE []byte")
	assert.FileExists(t, filepath.Join(f.root, "elves", "token_manager.so"))
	assert.FileExists(t, filepath.Join(f.root, "elves", "manifest.json"))
}

func TestRunPermissiveModeDeniesByPattern(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	f.addProgram(ws, "token_manager")
	f.addProgram(ws, "governance")
	f.addProgram(ws, "test_program")
	f.writeConfig(`
mode = "permissive"

workspace {
  manifest_path = "Cargo.toml"
  deny          = ["target:test*"]
}
`)

	rep, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Built)
	assert.Equal(t, 1, rep.Excluded)
	require.Len(t, rep.Workspaces, 1)
	rows := rep.Workspaces[0].Rows
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Included)
	assert.True(t, rows[1].Included)
	assert.False(t, rows[2].Included)
	assert.Equal(t, "denied by pattern target:test*", rows[2].Reason)

	source, err := os.ReadFile(filepath.Join(f.root, "elves", "elves.go"))
	require.NoError(t, err)
	assert.NotContains(t, string(source), "TEST_PROGRAM")
}

func TestRunLaserEyesOnlyList(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	f.addProgram(ws, "token_manager")
	f.addProgram(ws, "governance")
	f.writeConfig(`
mode = "laser-eyes"

workspace {
  manifest_path = "Cargo.toml"
  only          = ["target:token_manager"]
}
`)

	rep, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Built)
	assert.Equal(t, 1, rep.Excluded)
	assert.Equal(t, 1, f.executor.count("token_manager"))
	assert.Equal(t, 0, f.executor.count("governance"))
}

func TestRunSecondPassIsFullyCached(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	f.addProgram(ws, "token_manager")
	f.addProgram(ws, "governance")

	a := New(f.provider, f.executor)
	_, err := a.Run(context.Background(), f.options())
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(f.root, "elves", "elves.go"))
	require.NoError(t, err)
	firstManifest, err := os.ReadFile(filepath.Join(f.root, "elves", "manifest.json"))
	require.NoError(t, err)

	rep, err := a.Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Built)
	assert.Equal(t, 2, rep.Cached)
	assert.Equal(t, 1, f.executor.count("token_manager"))
	assert.Equal(t, 1, f.executor.count("governance"))

	second, err := os.ReadFile(filepath.Join(f.root, "elves", "elves.go"))
	require.NoError(t, err)
	secondManifest, err := os.ReadFile(filepath.Join(f.root, "elves", "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, firstManifest, secondManifest)
}

func TestRunPartialFailureKeepsRemainingBindings(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	f.addProgram(ws, "token_manager")
	f.addProgram(ws, "governance")
	f.executor.fail["governance"] = true

	rep, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Built)
	assert.Equal(t, 1, rep.Failed)

	// The failure row carries the bare cause; the report formatter adds its
	// own "build failed:" prefix exactly once.
	rows := rep.Workspaces[0].Rows
	require.Len(t, rows, 2)
	assert.True(t, rows[1].Failed)
	assert.Equal(t, "compiler exploded", rows[1].Reason)

	var rendered bytes.Buffer
	rep.Render(&rendered)
	assert.Contains(t, rendered.String(), "- governance (build failed: compiler exploded)")
	assert.NotContains(t, rendered.String(), "failed to build program")

	source, err := os.ReadFile(filepath.Join(f.root, "elves", "elves.go"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "TOKEN_MANAGER")
	assert.NotContains(t, string(source), "GOVERNANCE")
}

func TestRunIdentifierCollisionIsFatalBeforeOutput(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	f.addProgram(ws, "token-manager")
	f.addProgram(ws, "token_manager")

	_, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_MANAGER")

	// Nothing was built and nothing was written.
	assert.Equal(t, 0, f.executor.count("token-manager"))
	assert.NoDirExists(t, filepath.Join(f.root, "elves"))
}

func TestRunConstantsOverrideResolvesCollision(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	legacy := f.addProgram(ws, "token-manager")
	f.addProgram(ws, "token_manager")
	f.writeConfig(`
mode = "permissive"

workspace {
  manifest_path = "Cargo.toml"
}

constants = {
  "` + legacy.ManifestPath + `" = "LEGACY_TOKEN_MANAGER"
}
`)

	rep, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Built)

	source, err := os.ReadFile(filepath.Join(f.root, "elves", "elves.go"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "var LEGACY_TOKEN_MANAGER []byte")
	assert.Contains(t, string(source), "var TOKEN_MANAGER []byte")
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("cargo metadata exploded")

	_, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.Error(t, err)

	var discovery *catalog.DiscoveryError
	require.ErrorAs(t, err, &discovery)
}

func TestRunDryRunBuildsNothing(t *testing.T) {
	f := newFixture(t)
	ws := filepath.Join(f.root, "Cargo.toml")
	f.addProgram(ws, "token_manager")

	opts := f.options()
	opts.DryRun = true
	rep, err := New(f.provider, f.executor).Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.Equal(t, 0, f.executor.count("token_manager"))
	assert.NoDirExists(t, filepath.Join(f.root, "elves"))
	require.Len(t, rep.Workspaces, 1)
	require.Len(t, rep.Workspaces[0].Rows, 1)
	assert.True(t, rep.Workspaces[0].Rows[0].Included)
}

func TestRunSharedPackageIsBuiltOnce(t *testing.T) {
	f := newFixture(t)
	wsA := filepath.Join(f.root, "a", "Cargo.toml")
	wsB := filepath.Join(f.root, "b", "Cargo.toml")
	shared := f.addProgram(wsA, "token_manager")
	f.provider.byManifest[wsB] = []catalog.Candidate{shared}
	f.writeConfig(`
mode = "permissive"

workspace {
  manifest_path = "a/Cargo.toml"
}

workspace {
  manifest_path = "b/Cargo.toml"
}
`)

	rep, err := New(f.provider, f.executor).Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Built)
	assert.Equal(t, 1, f.executor.count("token_manager"))
}

func TestRunReportFileIsWritten(t *testing.T) {
	f := newFixture(t)
	f.addProgram(filepath.Join(f.root, "Cargo.toml"), "token_manager")

	opts := f.options()
	opts.ReportFile = filepath.Join(f.root, "run.yaml")
	_, err := New(f.provider, f.executor).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.FileExists(t, opts.ReportFile)
}
