// Package archive packages an analyzer's extracted artifact directory into
// a downloadable 7z file.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Create archives every entry inside dir into archivePath using the system
// 7z binary, invoked with dir as its working directory ("7z a <archive> *").
// dir is left in place; callers remove it afterward once the archive
// exists.
func Create(ctx context.Context, dir, archivePath string) error {
	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return fmt.Errorf("archive: resolve archive path: %w", err)
	}

	cmd := exec.CommandContext(ctx, "7z", "a", absArchive, ".")
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("archive: 7z a %s: %w: %s", archivePath, err, out.String())
	}
	return nil
}

// IsNonEmptyDir reports whether dir exists and contains at least one entry.
func IsNonEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("archive: read dir %s: %w", dir, err)
	}
	return len(entries) > 0, nil
}
