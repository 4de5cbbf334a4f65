package analyzer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/pngresize"
)

// RunImageResize implements the image_resize analyzer: pure PNG dimension recovery, no external command. Every accepted
// candidate is written to resultDir under its recovered_<w>x<h>.png name
// and the fragment lists the generated image URLs.
func RunImageResize(imageBytes []byte, resultDir, submissionFP string, lookup pngresize.IHDRLookup) error {
	candidates, note, err := pngresize.Recover(imageBytes, lookup)
	if err != nil {
		return aggregator.Merge(resultDir, "image_resize", aggregator.Fragment{
			Status: "error",
			Error:  err.Error(),
		})
	}

	if len(candidates) == 0 {
		return aggregator.Merge(resultDir, "image_resize", aggregator.Fragment{
			Status: "ok",
			Note:   note,
		})
	}

	var urls []string
	for _, c := range candidates {
		if err := os.WriteFile(filepath.Join(resultDir, c.FileName()), c.PNG, 0o644); err != nil {
			return fmt.Errorf("image_resize: write %s: %w", c.FileName(), err)
		}
		urls = append(urls, fmt.Sprintf("/image/%s/%s", submissionFP, c.FileName()))
	}

	return aggregator.Merge(resultDir, "image_resize", aggregator.Fragment{
		Status:    "ok",
		PNGImages: urls,
	})
}
