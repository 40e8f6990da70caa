package optimize

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	pivotTol = 1e-9
	// degenerate pivots in a row before switching to Bland's rule
	blandAfter = 50
	// pivots between context polls
	pollEvery = 16
)

// tableauSimplex minimises c'x subject to Ax = b, x >= 0 with b >= 0, starting
// from basis, whose columns must form an identity in A. Only the first width
// columns of a are used and a is overwritten.
//
// Entering columns are priced by Dantzig's rule and fall back to Bland's rule
// after a run of degenerate pivots, which rules out cycling.
func tableauSimplex(ctx context.Context, c []float64, a *mat.Dense, width int, b []float64, tol float64, basis []int) ([]float64, error) {
	m := len(b)
	rows := make([][]float64, m)
	for i := range rows {
		rows[i] = a.RawRowView(i)[:width]
	}
	rhs := make([]float64, m)
	copy(rhs, b)

	// reduced costs d = c - c_B B^-1 A with B = I
	d := make([]float64, width)
	copy(d, c[:width])
	for i, k := range basis {
		if ck := c[k]; ck != 0 {
			floats.AddScaled(d, -ck, rows[i])
		}
	}
	if tol <= 0 {
		tol = 1e-9
	}
	dTol := tol * (1 + maxAbs(c))

	maxIter := 50 * (m + width)
	degenerate := 0
	for iter := 0; ; iter++ {
		if iter%pollEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if iter >= maxIter {
			return nil, fmt.Errorf("%w: no convergence after %d pivots", ErrSolver, maxIter)
		}

		enter := -1
		if degenerate < blandAfter {
			best := -dTol
			for j, v := range d {
				if v < best {
					best, enter = v, j
				}
			}
		} else {
			for j, v := range d {
				if v < -dTol {
					enter = j
					break
				}
			}
		}
		if enter < 0 {
			break
		}

		leave, ratio := -1, math.Inf(1)
		for i, row := range rows {
			v := row[enter]
			if v <= pivotTol {
				continue
			}
			q := math.Max(rhs[i], 0) / v
			switch {
			case q < ratio-1e-12:
				ratio, leave = q, i
			case q <= ratio+1e-12 && basis[i] < basis[leave]:
				leave = i
			}
		}
		if leave < 0 {
			return nil, ErrUnbounded
		}
		if ratio <= 1e-12 {
			degenerate++
		} else {
			degenerate = 0
		}
		pivot(rows, rhs, d, leave, enter)
		basis[leave] = enter
	}

	x := make([]float64, width)
	for i, k := range basis {
		x[k] = math.Max(rhs[i], 0)
	}
	return x, nil
}

// pivot makes column j a unit vector with its one in row r.
func pivot(rows [][]float64, rhs, d []float64, r, j int) {
	pr := rows[r]
	inv := 1 / pr[j]
	floats.Scale(inv, pr)
	pr[j] = 1
	rhs[r] *= inv
	for i, row := range rows {
		if i == r {
			continue
		}
		if f := row[j]; f != 0 {
			floats.AddScaled(row, -f, pr)
			row[j] = 0
			rhs[i] -= f * rhs[r]
		}
	}
	if f := d[j]; f != 0 {
		floats.AddScaled(d, -f, pr)
		d[j] = 0
	}
}
