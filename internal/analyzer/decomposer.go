package analyzer

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/decomposer"
)

// RunDecomposer implements the decomposer analyzer:
// pure image, no external command. Each plane is written to resultDir and
// the fragment's images map groups URLs by channel label, in bit order.
func RunDecomposer(img image.Image, resultDir, submissionFP string) error {
	result, err := decomposer.Decompose(img)
	if err != nil {
		return aggregator.Merge(resultDir, "decomposer", aggregator.Fragment{
			Status: "error",
			Error:  err.Error(),
		})
	}

	images := map[string][]string{}
	for _, plane := range result.Planes {
		name := fmt.Sprintf("%s_bit%d.png", plane.Channel, plane.Bit)
		if err := os.WriteFile(filepath.Join(resultDir, name), plane.PNG, 0o644); err != nil {
			return fmt.Errorf("decomposer: write %s: %w", name, err)
		}
		url := fmt.Sprintf("/image/%s/%s", submissionFP, name)
		images[plane.Channel] = append(images[plane.Channel], url)
	}

	return aggregator.Merge(resultDir, "decomposer", aggregator.Fragment{
		Status: "ok",
		Note:   result.Note,
		Images: images,
	})
}
