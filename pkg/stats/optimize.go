// Package stats provides the numeric building blocks for the model
// fitting done in pkg/data: a downhill simplex minimizer, the special
// functions needed by the purchase models, and a small logistic
// regression implementation.
package stats

import (
	"math"

	"github.com/pkg/errors"
)

const (
	simplexAlpha = 1.0 // reflection
	simplexGamma = 2.0 // expansion
	simplexRho   = 0.5 // contraction
	simplexSigma = 0.5 // shrink
)

// Objective is a scalar function of a parameter vector to be minimized.
type Objective func(x []float64) float64

// NelderMead minimizes fn starting from x0 using the downhill simplex
// method. step controls the initial simplex size. Returns the best
// point found and its objective value.
func NelderMead(fn Objective, x0 []float64, step float64, maxIter int, tol float64) ([]float64, float64, error) {
	n := len(x0)
	if n == 0 {
		return nil, 0, errors.New("empty starting point")
	}
	if step <= 0 {
		step = 0.1
	}
	if maxIter <= 0 {
		maxIter = 1000
	}

	// Initial simplex: x0 plus one vertex per dimension.
	simplex := make([][]float64, n+1)
	values := make([]float64, n+1)
	for i := range simplex {
		v := make([]float64, n)
		copy(v, x0)
		if i > 0 {
			v[i-1] += step
		}
		simplex[i] = v
		values[i] = fn(v)
	}

	for iter := 0; iter < maxIter; iter++ {
		sortSimplex(simplex, values)

		if math.Abs(values[n]-values[0]) < tol {
			break
		}

		// Centroid of all but the worst vertex.
		centroid := make([]float64, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				centroid[j] += simplex[i][j]
			}
		}
		for j := 0; j < n; j++ {
			centroid[j] /= float64(n)
		}

		reflected := blend(centroid, simplex[n], 1+simplexAlpha, -simplexAlpha)
		fr := fn(reflected)

		switch {
		case fr < values[0]:
			expanded := blend(centroid, simplex[n], 1+simplexAlpha*simplexGamma, -simplexAlpha*simplexGamma)
			if fe := fn(expanded); fe < fr {
				simplex[n], values[n] = expanded, fe
			} else {
				simplex[n], values[n] = reflected, fr
			}
		case fr < values[n-1]:
			simplex[n], values[n] = reflected, fr
		default:
			contracted := blend(centroid, simplex[n], 1-simplexRho, simplexRho)
			if fc := fn(contracted); fc < values[n] {
				simplex[n], values[n] = contracted, fc
			} else {
				// Shrink all vertices toward the best one.
				for i := 1; i <= n; i++ {
					simplex[i] = blend(simplex[0], simplex[i], 1-simplexSigma, simplexSigma)
					values[i] = fn(simplex[i])
				}
			}
		}
	}

	sortSimplex(simplex, values)
	best := values[0]
	if math.IsNaN(best) || math.IsInf(best, 0) {
		return nil, 0, errors.New("optimization diverged")
	}
	return simplex[0], best, nil
}

// blend returns wa*a + wb*b element-wise.
func blend(a, b []float64, wa, wb float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out
}

func sortSimplex(simplex [][]float64, values []float64) {
	// Insertion sort; the simplex is small and nearly sorted between
	// iterations.
	for i := 1; i < len(values); i++ {
		v, s := values[i], simplex[i]
		j := i - 1
		for j >= 0 && (values[j] > v || math.IsNaN(values[j])) {
			values[j+1], simplex[j+1] = values[j], simplex[j]
			j--
		}
		values[j+1], simplex[j+1] = v, s
	}
}
