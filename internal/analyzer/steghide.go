package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/archive"
)

// embeddedFileRe matches steghide's `embedded file "<name>"` line from
// `steghide info`'s output, the only place the real embedded filename is
// recoverable.
var embeddedFileRe = regexp.MustCompile(`embedded file "([^"]+)"`)

// RunSteghide implements the steghide analyzer: a pre-probe
// (`steghide info <img> -p <pw>`) decides whether an embedded payload
// exists; only on success does it extract into the extraction directory.
// steghide's own argv/error-format quirks don't fit the generic
// single-command Config contract, so this is a dedicated function rather
// than a BuildCommand closure.
func RunSteghide(ctx context.Context, timeout time.Duration, imagePath, resultDir, submissionFP, password string) error {
	extractDir := filepath.Join(resultDir, "steghide_extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return fmt.Errorf("steghide: mkdir extraction dir: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probeArgv := []string{"steghide", "info", imagePath, "-p", password}
	probeStdout, probeStderr := runCommand(probeCtx, resultDir, probeArgv, nil)

	if !strings.Contains(probeStdout, "embedded file") {
		return aggregator.Merge(resultDir, "steghide", aggregator.Fragment{
			Status: "error",
			Error:  classifySteghide(probeStdout, probeStderr),
		})
	}

	embeddedName := "extracted"
	if m := embeddedFileRe.FindStringSubmatch(probeStdout); m != nil {
		embeddedName = m[1]
	}

	extractCtx, cancel2 := context.WithTimeout(ctx, timeout)
	defer cancel2()

	extractArgv := []string{"steghide", "extract", "-sf", imagePath, "-p", password, "-xf", filepath.Join(extractDir, embeddedName)}
	extractStdout, extractStderr := runCommand(extractCtx, resultDir, extractArgv, nil)

	combined := extractStdout + extractStderr
	if !strings.Contains(combined, "wrote extracted data") {
		return aggregator.Merge(resultDir, "steghide", aggregator.Fragment{
			Status: "error",
			Error:  classifySteghide(combined, ""),
		})
	}

	fragment := aggregator.Fragment{Status: "ok", Output: extractLine(combined, "wrote extracted data to")}

	nonEmpty, err := archive.IsNonEmptyDir(extractDir)
	if err == nil && nonEmpty {
		archivePath := filepath.Join(resultDir, "steghide.7z")
		if archErr := archive.Create(ctx, extractDir, archivePath); archErr == nil {
			os.RemoveAll(extractDir)
			fragment.Download = fmt.Sprintf("/download/%s/steghide", submissionFP)
		}
	}

	return aggregator.Merge(resultDir, "steghide", fragment)
}

// classifySteghide turns steghide's output into a friendly message, since a
// common failure is simply "this file format isn't supported" rather than a
// wrong password.
func classifySteghide(stdout, stderr string) string {
	combined := stdout + stderr
	if strings.Contains(combined, "not supported") || strings.Contains(combined, "unsupported") {
		return "the given file format is not supported"
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if msg == "" {
		msg = "no embedded data found"
	}
	return msg
}

// extractLine returns the first line of s containing marker, trimmed, or ""
// if none matches.
func extractLine(s, marker string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, marker) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// runCommand runs argv with resultDir as its working directory and returns
// UTF-8-replacement-decoded stdout/stderr, swallowing the exec error itself
// since callers classify success from the captured text.
func runCommand(ctx context.Context, dir string, argv []string, stdin *strings.Reader) (stdout, stderr string) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	_ = cmd.Run()
	return toUTF8Replace(outBuf.Bytes()), toUTF8Replace(errBuf.Bytes())
}
