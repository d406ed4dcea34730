// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/invowk/modhost/pkg/moddef"
)

// MustMkdirAll creates a directory along with any necessary parents.
// The test fails immediately if the operation fails.
func MustMkdirAll(t testing.TB, path string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(path, perm); err != nil {
		t.Fatalf("failed to create directory %s: %v", path, err)
	}
}

// MustWriteFile writes data to path, creating missing parent directories.
// The test fails immediately if the operation fails.
func MustWriteFile(t testing.TB, path, data string) {
	t.Helper()
	MustMkdirAll(t, filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// WriteModule writes the definition of module name into the repository
// directory root. Keys of files are slash separated paths below the
// module's content directory.
func WriteModule(t testing.TB, root, name, cue string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name+moddef.ModuleSuffix)
	MustWriteFile(t, filepath.Join(dir, moddef.ModuleFile), cue)
	for rel, data := range files {
		MustWriteFile(t, filepath.Join(dir, moddef.ContentDir, filepath.FromSlash(rel)), data)
	}
	return dir
}
