// Package analyzer implements the common contract for running one
// forensic tool against a submitted image and
// the concrete set of adapters built on top of it.
//
// Each concrete analyzer below is a Config literal — a function vector plus
// a configuration record, rather than a class hierarchy with per-tool
// method overrides — and Driver.Run is the single place that builds a
// command, executes it with a timeout, classifies the outcome, captures an
// archive, and merges the resulting fragment. This strategy-table style
// mirrors the per-model launch-command table pattern used elsewhere for
// dispatching heterogeneous subprocess work, adapted here to per-tool
// analysis commands.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/archive"
)

// CommandBuilder builds the argv (argv[0] is the binary name) for one
// invocation, given the image path and the optional password. Pure
// function of its inputs.
type CommandBuilder func(imagePath, password string) []string

// Outcome carries everything a tool invocation produced, for classifiers
// and postprocessors to inspect.
type Outcome struct {
	Stdout          string
	Stderr          string
	ExitErr         error
	TimedOut        bool
	ArchiveProduced bool
}

// ErrorClassifier decides whether an Outcome is an error fragment, and if
// so, what message to report.
type ErrorClassifier func(o Outcome) (isError bool, message string)

// OutputPostProcessor turns raw stdout into the fragment's Output value
// plus an optional note.
// Returning a nil output leaves Output as the raw stdout string.
type OutputPostProcessor func(o Outcome) (output any, note string)

// Config describes one analyzer.
type Config struct {
	Name string

	// BuildCommand builds this analyzer's argv. Required. The pure-image
	// analyzers (decomposer/color_remapping/pcrt/image_resize) and
	// steghide/openstego are not Configs — see their own files in this package.
	BuildCommand CommandBuilder

	// HasArchive means the tool emits a directory of extracted artifacts
	// that should become a downloadable 7z.
	HasArchive bool

	// MakeFolder means the driver must precreate the extraction directory;
	// false means the tool creates it itself.
	MakeFolder bool

	// ClassifyError overrides the default "stderr non-empty" rule. Nil uses
	// the default.
	ClassifyError ErrorClassifier

	// PostProcessOutput overrides the default "stdout as single string"
	// rule. Nil uses the default.
	PostProcessOutput OutputPostProcessor

	// Stdin, if set, is piped to the child process — jpseek's passphrase
	// prompt is answered this way rather than through a real PTY.
	Stdin func(password string) string

	// ExtractDirName overrides the default "<name>_extracted" extraction
	// directory, for tools like binwalk that choose their own directory
	// name derived from the input filename.
	ExtractDirName func(imagePath string) string
}

func defaultClassifier(o Outcome) (bool, string) {
	if o.TimedOut {
		return true, "analyzer timed out"
	}
	return strings.TrimSpace(o.Stderr) != "", strings.TrimSpace(o.Stderr)
}

// Driver runs one Config against one image and merges the resulting
// fragment through the aggregator.
type Driver struct {
	Timeout    time.Duration
	ArchiveExt string // defaults to ".7z"
}

// NewDriver returns a Driver with the given per-analyzer subprocess
// timeout.
func NewDriver(timeout time.Duration) *Driver {
	return &Driver{Timeout: timeout, ArchiveExt: ".7z"}
}

// Run executes cfg against imagePath, writing its fragment into
// resultDir/results.json under key cfg.Name. submissionFP is only used to build the download URL.
func (d *Driver) Run(ctx context.Context, cfg Config, imagePath, resultDir, submissionFP, password string) error {
	extractDirName := cfg.Name + "_extracted"
	if cfg.ExtractDirName != nil {
		extractDirName = cfg.ExtractDirName(imagePath)
	}
	extractDir := filepath.Join(resultDir, extractDirName)

	if cfg.HasArchive && cfg.MakeFolder {
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return fmt.Errorf("analyzer %s: mkdir extraction dir: %w", cfg.Name, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	argv := cfg.BuildCommand(imagePath, password)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = resultDir
	if cfg.Stdin != nil {
		cmd.Stdin = strings.NewReader(cfg.Stdin(password))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	archiveProduced := false
	if cfg.HasArchive {
		nonEmpty, err := archive.IsNonEmptyDir(extractDir)
		if err == nil && nonEmpty {
			archivePath := filepath.Join(resultDir, cfg.Name+d.archiveExt())
			if archErr := archive.Create(ctx, extractDir, archivePath); archErr == nil {
				archiveProduced = true
				os.RemoveAll(extractDir)
			}
		}
	}

	outcome := Outcome{
		Stdout:          toUTF8Replace(stdout.Bytes()),
		Stderr:          toUTF8Replace(stderr.Bytes()),
		ExitErr:         runErr,
		TimedOut:        timedOut,
		ArchiveProduced: archiveProduced,
	}

	classify := cfg.ClassifyError
	if classify == nil {
		classify = defaultClassifier
	}

	// A process that never started (binary missing, permission denied) has
	// nothing for the per-tool rules to inspect; report it directly.
	var exitErr *exec.ExitError
	if runErr != nil && !timedOut && !errors.As(runErr, &exitErr) {
		return aggregator.Merge(resultDir, cfg.Name, aggregator.Fragment{
			Status: "error",
			Error:  runErr.Error(),
		})
	}

	var fragment aggregator.Fragment
	if isErr, msg := classify(outcome); isErr {
		fragment = aggregator.Fragment{Status: "error", Error: msg}
	} else {
		post := cfg.PostProcessOutput
		var output any
		var note string
		if post != nil {
			output, note = post(outcome)
		}
		if output == nil {
			output = strings.TrimSpace(outcome.Stdout)
		}
		fragment = aggregator.Fragment{Status: "ok", Output: output, Note: note}
		if archiveProduced {
			fragment.Download = fmt.Sprintf("/download/%s/%s", submissionFP, cfg.Name)
		}
	}

	return aggregator.Merge(resultDir, cfg.Name, fragment)
}

func (d *Driver) archiveExt() string {
	if d.ArchiveExt == "" {
		return ".7z"
	}
	return d.ArchiveExt
}

// toUTF8Replace decodes b as UTF-8, substituting the replacement rune for
// any invalid byte sequence, so tool output with stray binary still
// round-trips through JSON.
func toUTF8Replace(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// nonEmptyLines splits s into lines, dropping blank ones — the
// "non-empty lines of stdout" post-processing shared by several analyzers
//.
func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
