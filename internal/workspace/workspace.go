// Package workspace manages the local folders extractors write into before
// files are loaded to object storage.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
)

// CreateTemp creates a fresh directory under the OS temp dir whose name ends with "_<name>".
func CreateTemp(log *slog.Logger, name string) (string, error) {
	dir, err := os.MkdirTemp("", "*_"+name)
	if err != nil {
		return "", fmt.Errorf("create temp folder: %w", err)
	}
	log.Info("temp_folder_created", "path", dir)
	return dir, nil
}

// Delete removes dir and everything below it. Errors are ignored.
func Delete(log *slog.Logger, dir string) {
	_ = os.RemoveAll(dir)
	log.Info("temp_folder_removed", "path", dir)
}

// List returns the names of the regular files in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// StoragePath builds the object prefix "<layer>/<source>/<surname>".
func StoragePath(layer, source, surname string) string {
	return path.Join(layer, source, surname)
}
