// Package counter turns an OutputMatrix and a candidate Event into the pair
// of integer counts the hypothesis test operates on.
package counter

import "github.com/jihwankim/statdp/pkg/eventspace"

// Counts holds the number of D1/D2 invocations landing in a candidate event,
// canonically ordered so CX is always the larger of the two.
type Counts struct {
	CX int
	CY int
}

// Count returns the number of columns i of matrix for which every row's
// value satisfies the corresponding predicate in event.
func Count(matrix [][]float64, event eventspace.Event) int {
	if len(matrix) == 0 {
		return 0
	}
	n := len(matrix[0])
	total := 0
	for i := 0; i < n; i++ {
		hit := true
		for r, p := range event {
			if !p.Match(matrix[r][i]) {
				hit = false
				break
			}
		}
		if hit {
			total++
		}
	}
	return total
}

// CountPair counts matching invocations in both matrices for the same event
// and returns them in canonical (max, min) order: CX >= CY always, so the
// downstream test statistic is direction-agnostic.
func CountPair(matrixD1, matrixD2 [][]float64, event eventspace.Event) Counts {
	c1 := Count(matrixD1, event)
	c2 := Count(matrixD2, event)
	if c1 >= c2 {
		return Counts{CX: c1, CY: c2}
	}
	return Counts{CX: c2, CY: c1}
}
