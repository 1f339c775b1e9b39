// Package fleet launches and tears down a genegrid deployment in Docker: a
// Redis grid, one coordinator and one worker per static row block.
package fleet

import (
	"fmt"
	"regexp"
)

// BlockStarts returns the start rows of the disjoint blocks of blockSize rows
// that together cover rows 1..populationSize.
func BlockStarts(populationSize, blockSize int) ([]int, error) {
	if populationSize < 1 {
		return nil, fmt.Errorf("population size must be >= 1, got %d", populationSize)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("block size must be >= 1, got %d", blockSize)
	}

	n := (populationSize + blockSize - 1) / blockSize
	starts := make([]int, n)
	for i := range starts {
		starts[i] = 1 + i*blockSize
	}
	return starts, nil
}

// Plan assigns start rows to the requested number of workers. Every row of the
// population must be covered, so fewer workers than blocks is an error; extra
// workers would only ever claim empty blocks and are dropped.
func Plan(populationSize, blockSize, workers int) ([]int, error) {
	starts, err := BlockStarts(populationSize, blockSize)
	if err != nil {
		return nil, err
	}
	if workers < len(starts) {
		return nil, fmt.Errorf("%d workers cannot cover a population of %d in blocks of %d (need %d)",
			workers, populationSize, blockSize, len(starts))
	}
	return starts, nil
}

const maxNameLength = 63

// namePattern is DNS-compatible: lowercase alphanumeric, hyphens allowed (but
// not at start/end).
var namePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName checks an instance name can be used in container and network names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), maxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}
