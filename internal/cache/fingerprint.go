package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vk/elfmagic/internal/catalog"
	"github.com/vk/elfmagic/internal/fsutil"
)

// Fingerprint computes the content hash that decides whether a candidate
// needs rebuilding. The scope is the candidate's own package: its manifest
// plus every .rs file under its package directory, hashed in sorted path
// order with the path relative to the package dir mixed in (so renames
// invalidate too).
//
// Transitive dependency crates are deliberately out of scope; a change in a
// path dependency does not invalidate the entry. This is a known limitation.
func Fingerprint(c catalog.Candidate) (string, error) {
	h := sha256.New()

	if err := hashFile(h, "Cargo.toml", c.ManifestPath); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", c.TargetName, err)
	}

	sources, err := fsutil.FindFilesByExtension(c.PackageDir, ".rs")
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", c.TargetName, err)
	}
	for _, src := range sources {
		rel, err := filepath.Rel(c.PackageDir, src)
		if err != nil {
			rel = src
		}
		if err := hashFile(h, rel, src); err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", c.TargetName, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h io.Writer, label, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(h, "%s\x00", label)
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	fmt.Fprint(h, "\x00")
	return nil
}
