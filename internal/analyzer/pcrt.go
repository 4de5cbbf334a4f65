package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/archive"
	"github.com/aperisolve/core/internal/pngrepair"
)

// RunPCRT implements the pcrt analyzer: it has no
// external command, driving internal/pngrepair directly and writing any
// trailing bytes found after IEND to an extra_data.bin artifact that gets
// archived exactly like a tool-produced extraction directory.
func RunPCRT(ctx context.Context, imageBytes []byte, resultDir, submissionFP string, lookup pngrepair.IHDRLookup) error {
	result := pngrepair.Repair(imageBytes, lookup)

	if len(result.Errors) > 0 {
		return aggregator.Merge(resultDir, "pcrt", aggregator.Fragment{
			Status: "error",
			Error:  result.Errors[0],
		})
	}

	fragment := aggregator.Fragment{
		Status: "ok",
		Output: result.Log,
	}

	if len(result.ExtraAfterIEND) > 0 {
		extractDir := filepath.Join(resultDir, "pcrt_extracted")
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return fmt.Errorf("pcrt: mkdir extraction dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(extractDir, "extra_data.bin"), result.ExtraAfterIEND, 0o644); err != nil {
			return fmt.Errorf("pcrt: write extra_data.bin: %w", err)
		}
		archivePath := filepath.Join(resultDir, "pcrt.7z")
		if err := archive.Create(ctx, extractDir, archivePath); err == nil {
			os.RemoveAll(extractDir)
			fragment.Download = fmt.Sprintf("/download/%s/pcrt", submissionFP)
		}
	}

	if result.Fixed {
		if err := os.WriteFile(filepath.Join(resultDir, "pcrt_repaired.png"), result.Output, 0o644); err != nil {
			return fmt.Errorf("pcrt: write repaired png: %w", err)
		}
		fragment.Note = "PNG was repaired and saved"
		fragment.PNGImages = []string{fmt.Sprintf("/image/%s/pcrt_repaired.png", submissionFP)}
	}

	return aggregator.Merge(resultDir, "pcrt", fragment)
}
