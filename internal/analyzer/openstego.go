package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/archive"
)

// RunOpenStego implements the openstego analyzer: extract
// with AES128 first, retry with AES256 on failure. Two algo attempts over a
// shared extraction directory don't fit the single-command Config contract,
// so this is a dedicated function (same rationale as RunSteghide).
func RunOpenStego(ctx context.Context, timeout time.Duration, imagePath, resultDir, submissionFP, password string) error {
	extractDir := filepath.Join(resultDir, "openstego_extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return fmt.Errorf("openstego: mkdir extraction dir: %w", err)
	}

	stdout, stderr, ok := tryOpenStego(ctx, timeout, imagePath, resultDir, extractDir, password, "AES128")
	if !ok {
		stdout, stderr, ok = tryOpenStego(ctx, timeout, imagePath, resultDir, extractDir, password, "AES256")
	}

	if !ok {
		return aggregator.Merge(resultDir, "openstego", aggregator.Fragment{
			Status: "error",
			Error:  classifyOpenStego(stdout, stderr),
		})
	}

	fragment := aggregator.Fragment{Status: "ok", Output: strings.TrimSpace(stderr)}

	nonEmpty, err := archive.IsNonEmptyDir(extractDir)
	if err == nil && nonEmpty {
		archivePath := filepath.Join(resultDir, "openstego.7z")
		if archErr := archive.Create(ctx, extractDir, archivePath); archErr == nil {
			os.RemoveAll(extractDir)
			fragment.Download = fmt.Sprintf("/download/%s/openstego", submissionFP)
		}
	}

	return aggregator.Merge(resultDir, "openstego", fragment)
}

// tryOpenStego runs one extraction attempt with the given crypto algorithm
// and reports whether it succeeded.
func tryOpenStego(ctx context.Context, timeout time.Duration, imagePath, resultDir, extractDir, password, cryptAlgo string) (stdout, stderr string, ok bool) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := []string{
		"openstego", "extract", "-a", "randomlsb", "--cryptalgo", cryptAlgo,
		"-sf", imagePath, "-xd", extractDir, "-p", password,
	}
	stdout, stderr = runCommand(runCtx, resultDir, argv, nil)

	if strings.Contains(stderr, "Extracted file:") {
		return stdout, stderr, true
	}
	nonEmpty, err := archive.IsNonEmptyDir(extractDir)
	if err == nil && nonEmpty {
		return stdout, stderr, true
	}
	return stdout, stderr, false
}

// classifyOpenStego reports a friendly "password needed" message when the
// combined output contains openstego's own banner and no "Extracted file:"
// line.
func classifyOpenStego(stdout, stderr string) string {
	combined := stdout + stderr
	if strings.Contains(combined, "OpenStego") && !strings.Contains(combined, "Extracted file:") {
		return "password required or incorrect"
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = "no files extracted"
	}
	return msg
}
