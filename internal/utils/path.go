// Package utils provides file and path helpers shared across specweave.
package utils

import (
	"errors"
	"os"
	"path/filepath"
)

// ProjectDirName is the per-project state directory.
const ProjectDirName = ".specweave"

// ErrNotInProject is returned when no .specweave directory is found.
var ErrNotInProject = errors.New("not in a specweave project (no .specweave directory found)")

// FindProjectRoot walks up from start looking for a .specweave directory.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ProjectDirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInProject
		}
		dir = parent
	}
}
