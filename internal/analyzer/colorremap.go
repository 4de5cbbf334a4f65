package analyzer

import (
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/colorremap"
)

// RunColorRemap implements the color_remapping analyzer: pure image, no external command.
func RunColorRemap(img image.Image, resultDir, submissionFP string, r *rand.Rand) error {
	results, err := colorremap.Remap(img, r)
	if err != nil {
		return aggregator.Merge(resultDir, "color_remapping", aggregator.Fragment{
			Status: "error",
			Error:  err.Error(),
		})
	}

	var urls []string
	for _, res := range results {
		name := fmt.Sprintf("color_remap_%d.png", res.Index)
		if err := os.WriteFile(filepath.Join(resultDir, name), res.PNG, 0o644); err != nil {
			return fmt.Errorf("color_remapping: write %s: %w", name, err)
		}
		urls = append(urls, fmt.Sprintf("/image/%s/%s", submissionFP, name))
	}

	return aggregator.Merge(resultDir, "color_remapping", aggregator.Fragment{
		Status: "ok",
		Images: map[string][]string{"Color Remapping": urls},
	})
}
