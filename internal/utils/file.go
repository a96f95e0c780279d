package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryRename is true where a rename can fail transiently.
var retryRename = runtime.GOOS == "windows"

// AtomicWriteFile writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partially written file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := DefaultRenameRetry(tmpPath, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// RenameWithRetry renames oldPath to newPath. On Windows, where another
// process holding the target open fails the rename with "Access is
// denied", it retries up to maxRetries times with exponential backoff from
// initialDelay. Elsewhere a failed rename is final.
func RenameWithRetry(oldPath, newPath string, maxRetries int, initialDelay time.Duration) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initialDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := os.Rename(oldPath, newPath)
		if err != nil && !retryRename {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(eb, uint64(maxRetries)))
	if err != nil {
		return fmt.Errorf("rename failed after %d attempt(s): %w", attempts, err)
	}
	return nil
}

// DefaultRenameRetry calls RenameWithRetry with 3 retries starting at 100ms.
func DefaultRenameRetry(oldPath, newPath string) error {
	return RenameWithRetry(oldPath, newPath, 3, 100*time.Millisecond)
}
