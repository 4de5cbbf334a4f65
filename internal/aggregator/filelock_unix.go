//go:build unix

package aggregator

import (
	"fmt"
	"os"
	"syscall"
)

// acquireFileLock takes an exclusive advisory lock (flock(2)) on path,
// creating it if necessary. The returned func releases the lock and closes
// the file handle. This is the process-safe half of the merge-fragment
// guarantee: results.json is exclusive-locked per access via an
// intra-process mutex plus this advisory file lock on a sibling ".lock".
func acquireFileLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
