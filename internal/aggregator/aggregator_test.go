package aggregator

import (
	"os"
	"sync"
	"testing"
)

func TestMerge_CreatesDocument(t *testing.T) {
	dir := t.TempDir()

	if err := Merge(dir, "strings", Fragment{Status: "ok", Output: []string{"a", "b"}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	doc, ok, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatal("Read: expected document to exist")
	}
	if doc["strings"].Status != "ok" {
		t.Fatalf("Read: got status %q, want ok", doc["strings"].Status)
	}
}

func TestMerge_PreservesOtherKeys(t *testing.T) {
	dir := t.TempDir()

	if err := Merge(dir, "strings", Fragment{Status: "ok"}); err != nil {
		t.Fatalf("Merge strings: %v", err)
	}
	if err := Merge(dir, "zsteg", Fragment{Status: "error", Error: "boom"}); err != nil {
		t.Fatalf("Merge zsteg: %v", err)
	}

	doc, _, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(doc) != 2 {
		t.Fatalf("Read: expected 2 keys, got %d", len(doc))
	}
	if doc["strings"].Status != "ok" || doc["zsteg"].Status != "error" {
		t.Fatalf("Read: unexpected document %+v", doc)
	}
}

func TestMerge_LastWriteWinsPerKey(t *testing.T) {
	dir := t.TempDir()

	if err := Merge(dir, "exiftool", Fragment{Status: "ok", Output: "first"}); err != nil {
		t.Fatalf("Merge 1: %v", err)
	}
	if err := Merge(dir, "exiftool", Fragment{Status: "ok", Output: "second"}); err != nil {
		t.Fatalf("Merge 2: %v", err)
	}

	doc, _, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc["exiftool"].Output != "second" {
		t.Fatalf("Read: got %v, want \"second\"", doc["exiftool"].Output)
	}
}

func TestMerge_CorruptDocumentTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/results.json", []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	if err := Merge(dir, "file", Fragment{Status: "ok", Output: "data"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	doc, _, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(doc) != 1 {
		t.Fatalf("Read: expected recovery to a single-key document, got %+v", doc)
	}
}

func TestMerge_ConcurrentWritesAllSurvive(t *testing.T) {
	dir := t.TempDir()

	var wg sync.WaitGroup
	names := []string{"file", "strings", "exiftool", "pngcheck", "zsteg"}
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			if err := Merge(dir, n, Fragment{Status: "ok", Output: n}); err != nil {
				t.Errorf("Merge(%s): %v", n, err)
			}
		}(name)
	}
	wg.Wait()

	doc, _, err := Read(dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(doc) != len(names) {
		t.Fatalf("Read: expected %d keys, got %d (%+v)", len(names), len(doc), doc)
	}
}
