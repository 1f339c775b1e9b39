package coordinator

import (
	"fmt"

	"github.com/dyluth/genegrid/pkg/grid"
)

// Ready is the generation barrier for one score column: at least n rows came
// back and every returned cell looks numeric.
func Ready(cells []string, n int) bool {
	if len(cells) < n {
		return false
	}
	for _, cell := range cells {
		if !grid.LooksNumeric(cell) {
			return false
		}
	}
	return true
}

// parseScores parses the first n cells strictly. A cell that passed Ready but
// does not parse (for example "x1") fails the whole column.
func parseScores(cells []string, n int) ([]float64, error) {
	if len(cells) < n {
		return nil, fmt.Errorf("expected %d scores, got %d", n, len(cells))
	}

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := grid.ParseScore(cells[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		scores[i] = v
	}
	return scores, nil
}
