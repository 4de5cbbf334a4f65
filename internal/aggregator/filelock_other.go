//go:build !unix

package aggregator

import (
	"fmt"
	"os"
)

// acquireFileLock, on platforms without flock(2), only opens (creating it if
// needed) the lock file and takes no lock on it. Exclusion within this
// process comes from processLock, which the caller already holds; nothing
// here excludes other processes.
func acquireFileLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return func() { f.Close() }, nil
}
