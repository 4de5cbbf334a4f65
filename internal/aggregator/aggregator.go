// Package aggregator implements the atomic merge of per-analyzer result
// fragments into one results.json document.
//
// An intra-process mutex guards a process-wide critical section, and an OS
// advisory lock on a sibling ".lock" file extends that same guarantee
// across multiple worker processes sharing the result filesystem.
package aggregator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Fragment is one analyzer's contribution to the result document. OutputKind is deliberately `any`: it may be a string, a
// []string, or a map[string]string depending on the analyzer.
type Fragment struct {
	Status    string              `json:"status"`
	Output    any                 `json:"output,omitempty"`
	Error     string              `json:"error,omitempty"`
	Note      string              `json:"note,omitempty"`
	Images    map[string][]string `json:"images,omitempty"`
	PNGImages []string            `json:"png_images,omitempty"`
	Download  string              `json:"download,omitempty"`
}

// processLocks serializes merges to the same result directory within this
// process; the sibling advisory file lock (below) extends the guarantee to
// other processes sharing the filesystem.
var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func processLock(resultDir string) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()
	l, ok := locks[resultDir]
	if !ok {
		l = &sync.Mutex{}
		locks[resultDir] = l
	}
	return l
}

const resultsFilename = "results.json"

// Merge applies the atomic merge-fragment operation: the document at
// resultDir/results.json ends up with fragment stored under key
// analyzerName, replacing any prior value for that key; all other keys are
// preserved.
func Merge(resultDir, analyzerName string, fragment Fragment) error {
	mu := processLock(resultDir)
	mu.Lock()
	defer mu.Unlock()

	resultsPath := filepath.Join(resultDir, resultsFilename)
	lockPath := resultsPath + ".lock"

	unlock, err := acquireFileLock(lockPath)
	if err != nil {
		return fmt.Errorf("aggregator: acquire lock: %w", err)
	}
	defer unlock()

	doc, err := readDocument(resultsPath)
	if err != nil {
		return err
	}

	doc[analyzerName] = fragment

	return writeDocumentAtomic(resultDir, resultsPath, doc)
}

// readDocument reads the current result document. A missing file is an
// empty document; a file that fails to parse is also treated as empty —
// writes are always atomic-rename so corruption indicates external
// tampering, not a partially-written predecessor.
func readDocument(resultsPath string) (map[string]Fragment, error) {
	data, err := os.ReadFile(resultsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Fragment{}, nil
		}
		return nil, fmt.Errorf("aggregator: read %s: %w", resultsPath, err)
	}

	var doc map[string]Fragment
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]Fragment{}, nil
	}
	if doc == nil {
		doc = map[string]Fragment{}
	}
	return doc, nil
}

func writeDocumentAtomic(resultDir, resultsPath string, doc map[string]Fragment) error {
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("aggregator: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(resultDir, resultsFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("aggregator: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("aggregator: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("aggregator: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, resultsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("aggregator: rename: %w", err)
	}
	return nil
}

// Read loads the current result document as a plain map, for handlers
// serving GET /result/<submission_fp>.
func Read(resultDir string) (map[string]Fragment, bool, error) {
	resultsPath := filepath.Join(resultDir, resultsFilename)
	if _, err := os.Stat(resultsPath); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := readDocument(resultsPath)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
