package lap

import "math"

// rejectMargin lifts costs above the limit so the solver prefers leaving both
// sides unmatched over taking them. Dummies cost a quarter of it more than
// limit/2, so a pair costing exactly limit is still cheaper than leaving both
// sides unmatched.
const rejectMargin = 1e-5

// SolveLinearAssignmentProblem finds the minimum cost partial matching between
// rows and cols. A pair is only matched if its cost is at most limit; +Inf and
// NaN costs are never matched. The problem is embedded into a square matrix of
// size rows+cols where every row and column may instead be matched to a dummy
// at cost just over limit/2, so leaving a pair unmatched costs just over limit.
//
// Matches are ordered by row; unmatched indices are ascending.
func SolveLinearAssignmentProblem(rows, cols int, costs [][]float64, limit float64) ([][2]int, []int, []int) {
	if rows == 0 {
		var unmatchedY []int
		for i := 0; i < cols; i++ {
			unmatchedY = append(unmatchedY, i)
		}
		return nil, nil, unmatchedY
	}
	if cols == 0 {
		var unmatchedX []int
		for i := 0; i < rows; i++ {
			unmatchedX = append(unmatchedX, i)
		}
		return nil, unmatchedX, nil
	}

	n := rows + cols
	cMatrix := make([][]float64, n)
	for i := 0; i < n; i++ {
		cMatrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			switch {
			case i < rows && j < cols:
				v := costs[i][j]
				if !(v <= limit) {
					v = limit + rejectMargin
				}
				cMatrix[i][j] = v
			case i >= rows && j >= cols:
				cMatrix[i][j] = 0
			default:
				cMatrix[i][j] = limit/2 + rejectMargin/4
			}
		}
	}

	xIdxs := hungarian(cMatrix)

	yIdxs := make([]int, cols)
	for j := range yIdxs {
		yIdxs[j] = -1
	}

	var matches [][2]int
	var unmatchedX, unmatchedY []int

	for i := 0; i < rows; i++ {
		x := xIdxs[i]
		if x >= 0 && x < cols && costs[i][x] <= limit {
			matches = append(matches, [2]int{i, x})
			yIdxs[x] = i
		} else {
			unmatchedX = append(unmatchedX, i)
		}
	}

	for j, y := range yIdxs {
		if y < 0 {
			unmatchedY = append(unmatchedY, j)
		}
	}

	return matches, unmatchedX, unmatchedY
}

// hungarian solves the square assignment problem with the Kuhn-Munkres
// algorithm using row and column potentials. It returns the column assigned
// to each row.
func hungarian(c [][]float64) []int {
	dim := len(c)
	inf := math.MaxFloat64 / 2

	// 1-indexed; index 0 is a virtual column
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 0; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rowAssign[p[j]-1] = j - 1
		}
	}

	return rowAssign
}
