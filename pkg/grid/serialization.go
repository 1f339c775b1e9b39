package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultDelimiter separates genes inside a Genome cell.
const DefaultDelimiter = ','

// DefaultClaimSentinel is the value workers write into the Claim column.
const DefaultClaimSentinel = "CLAIMED"

// ErrMalformedGenome is returned when a Genome cell holds anything other than
// digits and the delimiter.
var ErrMalformedGenome = errors.New("malformed genome cell")

// EncodeGenome writes every gene followed by the delimiter, so [1 2 3] becomes
// "1,2,3,". Genes must be non-negative.
func EncodeGenome(genes []int, delim rune) (string, error) {
	var b strings.Builder
	for i, g := range genes {
		if g < 0 {
			return "", fmt.Errorf("gene %d is negative (%d)", i, g)
		}
		b.WriteString(strconv.Itoa(g))
		b.WriteRune(delim)
	}
	return b.String(), nil
}

// DecodeGenome splits a Genome cell into its genes. Digits accumulate into a
// buffer that is flushed at every delimiter and at the end of the cell; empty
// buffers are skipped, so "1,,2," decodes to [1 2].
func DecodeGenome(cell string, delim rune) ([]int, error) {
	genes := []int{}
	var buf strings.Builder

	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		g, err := strconv.Atoi(buf.String())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedGenome, err)
		}
		genes = append(genes, g)
		buf.Reset()
		return nil
	}

	for _, r := range cell {
		switch {
		case r == delim:
			if err := flush(); err != nil {
				return nil, err
			}
		case r >= '0' && r <= '9':
			buf.WriteRune(r)
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrMalformedGenome, r)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return genes, nil
}

// FormatScore renders a score the way it is stored in the grid. Integral values
// keep a trailing ".0" so 100 is written as "100.0".
func FormatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !math.IsInf(v, 0) && !math.IsNaN(v) {
		s += ".0"
	}
	return s
}

// LooksNumeric is the readiness heuristic for score cells: the cell is non-empty
// and contains at least one digit. It is deliberately weaker than ParseScore.
func LooksNumeric(cell string) bool {
	return strings.IndexFunc(cell, unicode.IsDigit) >= 0
}

// ParseScore parses a score cell strictly.
func ParseScore(cell string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q: %w", cell, err)
	}
	return v, nil
}
