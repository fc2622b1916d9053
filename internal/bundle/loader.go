// Package bundle unpacks a zipped scene file (a ".k3d" bundle) into a tree
// document and a models directory.
package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mirmik/webkin/internal/kinematics"
)

const treeEntryName = "tree.json"

// Loader owns the lifetime of the temp directory created by the most
// recent Load call. It must be closed (or Load called again) to release
// the directory.
type Loader struct {
	modelsDir string
}

// Load unpacks the zip archive at path, returning the parsed tree document
// and the directory holding extracted model assets. Any previous bundle's
// temp directory is removed first.
func (l *Loader) Load(path string) (kinematics.Doc, string, error) {
	l.Close()

	r, err := zip.OpenReader(path)
	if err != nil {
		return kinematics.Doc{}, "", fmt.Errorf("bundle: open %q: %w", path, err)
	}
	defer r.Close()

	dir, err := os.MkdirTemp("", "webkin-bundle-*")
	if err != nil {
		return kinematics.Doc{}, "", fmt.Errorf("bundle: mkdir temp: %w", err)
	}

	var doc kinematics.Doc
	var foundTree bool
	for _, f := range r.File {
		if f.Name == treeEntryName {
			data, err := readZipEntry(f)
			if err != nil {
				os.RemoveAll(dir)
				return kinematics.Doc{}, "", fmt.Errorf("bundle: read %q: %w", treeEntryName, err)
			}
			if err := json.Unmarshal(data, &doc); err != nil {
				os.RemoveAll(dir)
				return kinematics.Doc{}, "", fmt.Errorf("bundle: parse %q: %w", treeEntryName, err)
			}
			foundTree = true
			continue
		}
		if err := extractEntry(f, dir); err != nil {
			os.RemoveAll(dir)
			return kinematics.Doc{}, "", fmt.Errorf("bundle: extract %q: %w", f.Name, err)
		}
	}
	if !foundTree {
		os.RemoveAll(dir)
		return kinematics.Doc{}, "", fmt.Errorf("bundle: %q missing from archive", treeEntryName)
	}

	l.modelsDir = dir
	return doc, dir, nil
}

// Close removes the current bundle's temp directory, if any.
func (l *Loader) Close() error {
	if l.modelsDir == "" {
		return nil
	}
	dir := l.modelsDir
	l.modelsDir = ""
	return os.RemoveAll(dir)
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// extractEntry writes a zip entry under dir, guarding against zip-slip by
// rejecting any entry whose cleaned path escapes dir.
func extractEntry(f *zip.File, dir string) error {
	target := filepath.Join(dir, f.Name)
	if !isWithin(dir, target) {
		return fmt.Errorf("entry %q escapes target directory", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func isWithin(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasPrefix(rel, ".."+string(filepath.Separator))
}

func filepathHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
