package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"github.com/vk/elfmagic/internal/ctxlog"
)

const generatedHeader = "Code generated by elfmagic; DO NOT EDIT."

// embedTemplate renders the Go source that embeds every program artifact.
var embedTemplate = template.Must(template.New("elves").Parse(`// {{.Header}}

// Package elves embeds the compiled program artifacts produced by elfmagic.
package elves

import _ "embed"
{{range .Bindings}}
//go:embed {{.FileName}}
var {{.Constant}} []byte
{{end}}
// Elf pairs a program's target name with its embedded bytes.
type Elf struct {
	Name  string
	Bytes []byte
}

// Elves returns every embedded program in generation order.
func Elves() []Elf {
	return []Elf{
{{- range .Bindings}}
		{Name: "{{.TargetName}}", Bytes: {{.Constant}}},
{{- end}}
	}
}
`))

// manifestEntry is one row of the machine-readable manifest, for embedding
// layers that are not Go.
type manifestEntry struct {
	Name      string `json:"name"`
	Target    string `json:"target"`
	Candidate string `json:"candidate"`
	File      string `json:"file"`
}

type manifestDoc struct {
	GeneratedBy string          `json:"generated_by"`
	Programs    []manifestEntry `json:"programs"`
}

// Generator emits the output directory for a planned binding set.
type Generator struct {
	outDir string
}

// NewGenerator returns a generator writing under outDir.
func NewGenerator(outDir string) *Generator {
	return &Generator{outDir: outDir}
}

// Emit writes the artifact copies, the embed source, and the manifest. Every
// file is staged under a temporary name first and the renames happen only
// after all content has been written, so readers never observe a half-updated
// directory.
func (g *Generator) Emit(ctx context.Context, bindings []Binding) error {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", g.outDir, err)
	}

	staged := make(map[string]string, len(bindings)+2)
	defer func() {
		for tmp := range staged {
			os.Remove(tmp)
		}
	}()

	for _, b := range bindings {
		tmp, err := g.stageCopy(b)
		if err != nil {
			return err
		}
		staged[tmp] = filepath.Join(g.outDir, b.FileName)
	}

	source, err := renderEmbedSource(bindings)
	if err != nil {
		return err
	}
	tmp, err := g.stageBytes("elves.go", source)
	if err != nil {
		return err
	}
	staged[tmp] = filepath.Join(g.outDir, "elves.go")

	manifest, err := renderManifest(bindings)
	if err != nil {
		return err
	}
	tmp, err = g.stageBytes("manifest.json", manifest)
	if err != nil {
		return err
	}
	staged[tmp] = filepath.Join(g.outDir, "manifest.json")

	for tmp, final := range staged {
		if err := os.Rename(tmp, final); err != nil {
			return fmt.Errorf("finalize %s: %w", final, err)
		}
		delete(staged, tmp)
	}

	logger.Info("output generated", "dir", g.outDir, "programs", len(bindings))
	return nil
}

// stageCopy copies an artifact's bytes into a temp file next to its final
// location and returns the temp path.
func (g *Generator) stageCopy(b Binding) (string, error) {
	src, err := os.Open(b.SourcePath)
	if err != nil {
		return "", fmt.Errorf("read artifact for %s: %w", b.TargetName, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(g.outDir, ".stage-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("copy artifact for %s: %w", b.TargetName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (g *Generator) stageBytes(name string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(g.outDir, ".stage-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func renderEmbedSource(bindings []Binding) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		Header   string
		Bindings []Binding
	}{Header: generatedHeader, Bindings: bindings}
	if err := embedTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render embed source: %w", err)
	}
	return buf.Bytes(), nil
}

func renderManifest(bindings []Binding) ([]byte, error) {
	doc := manifestDoc{GeneratedBy: "elfmagic", Programs: make([]manifestEntry, 0, len(bindings))}
	for _, b := range bindings {
		doc.Programs = append(doc.Programs, manifestEntry{Name: b.Constant, Target: b.TargetName, Candidate: b.CandidateID, File: b.FileName})
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	return append(out, '\n'), nil
}
