package analyzer

import (
	"path/filepath"
	"strings"
)

// BuiltinConfigs returns every analyzer that fits the generic single-
// command Driver.Run contract, i.e. every tool except
// steghide and openstego, which need multi-step control flow, and the four
// pure-image analyzers (decomposer, color_remapping, pcrt, image_resize),
// which have no external command at all. Those live in their own files in
// this package and are added by BuildTaskList (tasks.go), whose tasks
// internal/worker dispatches.
func BuiltinConfigs() []Config {
	return []Config{
		fileConfig(),
		identifyConfig(),
		stringsConfig(),
		exiftoolConfig(),
		pngcheckConfig(),
		binwalkConfig(),
		foremostConfig(),
		outguessConfig(),
		jpseekConfig(),
		jstegConfig(),
		zstegConfig(),
	}
}

func fileConfig() Config {
	return Config{
		Name: "file",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"file", "-b", imagePath}
		},
	}
}

func identifyConfig() Config {
	return Config{
		Name: "identify",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"identify", "-verbose", imagePath}
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			return nonEmptyLines(o.Stdout), ""
		},
	}
}

func stringsConfig() Config {
	return Config{
		Name: "strings",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"strings", imagePath}
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			return nonEmptyLines(o.Stdout), ""
		},
	}
}

func exiftoolConfig() Config {
	return Config{
		Name: "exiftool",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"exiftool", "-a", "-u", "-g1", imagePath}
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			return parseKeyValueLines(o.Stdout), ""
		},
	}
}

// parseKeyValueLines parses exiftool's "key: value" output into a mapping
//.
func parseKeyValueLines(stdout string) map[string]string {
	out := map[string]string{}
	for _, line := range nonEmptyLines(stdout) {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		out[key] = val
	}
	return out
}

func pngcheckConfig() Config {
	return Config{
		Name: "pngcheck",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"pngcheck", "-v", imagePath}
		},
		ClassifyError: func(o Outcome) (bool, string) {
			if strings.Contains(o.Stdout, "neither a PNG or JNG") {
				return true, "File may not be a PNG image"
			}
			return defaultClassifier(o)
		},
	}
}

func binwalkConfig() Config {
	return Config{
		Name: "binwalk",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"binwalk", "--matryoshka", "-e", imagePath, "--run-as=root"}
		},
		HasArchive: true,
		MakeFolder: false, // binwalk creates its own "_<img>.extracted" directory
		ExtractDirName: func(imagePath string) string {
			return "_" + filepath.Base(imagePath) + ".extracted"
		},
		ClassifyError: func(o Outcome) (bool, string) {
			if strings.TrimSpace(o.Stderr) != "" && !o.ArchiveProduced {
				return true, strings.TrimSpace(o.Stderr)
			}
			return false, ""
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			return nonEmptyLines(o.Stdout), ""
		},
	}
}

func foremostConfig() Config {
	return Config{
		Name: "foremost",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"foremost", "-o", "foremost_extracted", "-i", imagePath}
		},
		HasArchive: true,
		MakeFolder: true,
		ClassifyError: func(o Outcome) (bool, string) {
			if len(o.Stderr) > 60 {
				return true, strings.TrimSpace(o.Stderr)
			}
			return false, ""
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			var lines []string
			for _, line := range nonEmptyLines(o.Stdout) {
				if strings.Contains(line, "\r") {
					continue // drop foremost's single-line progress marker
				}
				lines = append(lines, line)
			}
			return lines, ""
		},
	}
}

func outguessConfig() Config {
	return Config{
		Name: "outguess",
		BuildCommand: func(imagePath, password string) []string {
			args := []string{"outguess"}
			if password != "" {
				args = append(args, "-k", password)
			}
			args = append(args, "-r", imagePath, filepath.Join("outguess_extracted", "output"))
			return args
		},
		HasArchive: true,
		MakeFolder: true,
	}
}

func jpseekConfig() Config {
	return Config{
		Name: "jpseek",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"jpseek", imagePath, filepath.Join("jpseek_extracted", "output")}
		},
		HasArchive: true,
		MakeFolder: true,
		Stdin: func(password string) string {
			return password + "\n"
		},
		ClassifyError: func(o Outcome) (bool, string) {
			if o.ExitErr != nil && !strings.Contains(o.Stdout, "File not completely recovered") {
				return true, strings.TrimSpace(o.Stderr)
			}
			return false, ""
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			return stripBannerLines(o.Stdout), ""
		},
	}
}

// stripBannerLines drops jpseek's tool-identification banner lines: after
// blank lines are removed, every leading line that mentions "copyright" or
// "version" (case-insensitive).
func stripBannerLines(stdout string) []string {
	lines := nonEmptyLines(stdout)
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), "copyright") || strings.Contains(strings.ToLower(line), "version") {
			continue
		}
		return lines[i:]
	}
	return lines
}

func jstegConfig() Config {
	return Config{
		Name: "jsteg",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"jsteg", "reveal", imagePath}
		},
		PostProcessOutput: func(o Outcome) (any, string) {
			return nonEmptyLines(o.Stdout), ""
		},
	}
}

func zstegConfig() Config {
	return Config{
		Name: "zsteg",
		BuildCommand: func(imagePath, _ string) []string {
			return []string{"zsteg", imagePath}
		},
		ClassifyError: func(o Outcome) (bool, string) {
			head := o.Stdout
			if len(head) > 256 {
				head = head[:256]
			}
			if strings.TrimSpace(o.Stderr) != "" || strings.Contains(head, "PNG::NotSupported") {
				msg := strings.TrimSpace(o.Stderr)
				if msg == "" {
					msg = "PNG::NotSupported"
				}
				return true, msg
			}
			return false, ""
		},
	}
}
