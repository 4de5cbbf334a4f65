package analyzer

import (
	"errors"
	"testing"
)

func findConfig(t *testing.T, name string) Config {
	t.Helper()
	for _, cfg := range BuiltinConfigs() {
		if cfg.Name == name {
			return cfg
		}
	}
	t.Fatalf("no builtin config named %q", name)
	return Config{}
}

func TestBuildTaskList_OutguessOnlyWhenDeep(t *testing.T) {
	has := func(tasks []Task, name string) bool {
		for _, task := range tasks {
			if task.Name == name {
				return true
			}
		}
		return false
	}

	if has(BuildTaskList(false), "outguess") {
		t.Fatalf("outguess scheduled without deep analysis")
	}
	if !has(BuildTaskList(true), "outguess") {
		t.Fatalf("outguess missing from deep analysis task list")
	}

	// Every other analyzer is always scheduled.
	for _, name := range []string{
		"file", "identify", "strings", "exiftool", "pngcheck", "binwalk",
		"foremost", "jpseek", "jsteg", "zsteg", "steghide", "openstego",
		"decomposer", "color_remapping", "pcrt", "image_resize",
	} {
		if !has(BuildTaskList(false), name) {
			t.Fatalf("analyzer %q missing from default task list", name)
		}
	}
}

func TestDefaultClassifier(t *testing.T) {
	if isErr, _ := defaultClassifier(Outcome{Stdout: "fine"}); isErr {
		t.Fatalf("empty stderr classified as error")
	}
	isErr, msg := defaultClassifier(Outcome{Stderr: " boom \n"})
	if !isErr || msg != "boom" {
		t.Fatalf("got (%v, %q), want (true, boom)", isErr, msg)
	}
	if isErr, msg := defaultClassifier(Outcome{TimedOut: true}); !isErr || msg != "analyzer timed out" {
		t.Fatalf("timeout not classified: (%v, %q)", isErr, msg)
	}
}

func TestPngcheckClassifier_FriendlyNotAPNG(t *testing.T) {
	cfg := findConfig(t, "pngcheck")
	isErr, msg := cfg.ClassifyError(Outcome{Stdout: "x.gif: neither a PNG or JNG image"})
	if !isErr || msg != "File may not be a PNG image" {
		t.Fatalf("got (%v, %q)", isErr, msg)
	}
	if isErr, _ := cfg.ClassifyError(Outcome{Stdout: "OK: x.png"}); isErr {
		t.Fatalf("valid pngcheck output classified as error")
	}
}

func TestBinwalkClassifier_ArchiveSuppressesStderr(t *testing.T) {
	cfg := findConfig(t, "binwalk")

	// stderr with no archive is an error.
	if isErr, _ := cfg.ClassifyError(Outcome{Stderr: "warning"}); !isErr {
		t.Fatalf("stderr without archive should classify as error")
	}
	// stderr with an archive produced is NOT an error.
	if isErr, _ := cfg.ClassifyError(Outcome{Stderr: "warning", ArchiveProduced: true}); isErr {
		t.Fatalf("stderr with archive should not classify as error")
	}
}

func TestForemostClassifier_StderrLengthRule(t *testing.T) {
	cfg := findConfig(t, "foremost")

	short := "short warning"
	if isErr, _ := cfg.ClassifyError(Outcome{Stderr: short}); isErr {
		t.Fatalf("stderr of %d bytes should pass the 60-byte rule", len(short))
	}

	long := make([]byte, 61)
	for i := range long {
		long[i] = 'x'
	}
	if isErr, _ := cfg.ClassifyError(Outcome{Stderr: string(long)}); !isErr {
		t.Fatalf("stderr of 61 bytes should classify as error")
	}
}

func TestZstegClassifier_NotSupportedHead(t *testing.T) {
	cfg := findConfig(t, "zsteg")
	isErr, msg := cfg.ClassifyError(Outcome{Stdout: "PNG::NotSupported: ..."})
	if !isErr || msg != "PNG::NotSupported" {
		t.Fatalf("got (%v, %q)", isErr, msg)
	}
	if isErr, _ := cfg.ClassifyError(Outcome{Stdout: "b1,rgb,lsb: nothing"}); isErr {
		t.Fatalf("clean zsteg output classified as error")
	}
}

func TestJpseekClassifier_RecoveryMarkerSuppressesExitError(t *testing.T) {
	cfg := findConfig(t, "jpseek")
	exitErr := errors.New("exit status 2")

	if isErr, _ := cfg.ClassifyError(Outcome{ExitErr: exitErr, Stdout: "File not completely recovered"}); isErr {
		t.Fatalf("recovery marker should suppress a nonzero exit")
	}
	if isErr, _ := cfg.ClassifyError(Outcome{ExitErr: exitErr, Stdout: "nothing"}); !isErr {
		t.Fatalf("nonzero exit without the marker should classify as error")
	}
}

func TestParseKeyValueLines(t *testing.T) {
	out := parseKeyValueLines("File Type    : PNG\nImage Width: 64\n\nmalformed line\n")
	if out["File Type"] != "PNG" {
		t.Fatalf("File Type = %q", out["File Type"])
	}
	if out["Image Width"] != "64" {
		t.Fatalf("Image Width = %q", out["Image Width"])
	}
	if _, ok := out["malformed line"]; ok {
		t.Fatalf("malformed line should be dropped")
	}
}

func TestNonEmptyLines(t *testing.T) {
	got := nonEmptyLines("a\r\n\n  \nb\n")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("nonEmptyLines = %#v", got)
	}
}

func TestClassifySteghide_FriendlyFormatMessage(t *testing.T) {
	msg := classifySteghide("", `the file format of the file "x.bmp" is not supported`)
	if msg != "the given file format is not supported" {
		t.Fatalf("msg = %q", msg)
	}
}
