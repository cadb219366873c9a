package stats

import "math"

const (
	hyp2f1MaxTerms = 1000
	hyp2f1Tol      = 1e-12
)

// LnGamma returns the natural log of the absolute value of Gamma(x).
func LnGamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// LnBeta returns ln B(a, b).
func LnBeta(a, b float64) float64 {
	return LnGamma(a) + LnGamma(b) - LnGamma(a+b)
}

// Hyp2F1 computes the Gaussian hypergeometric function 2F1(a, b; c; z)
// by direct series summation. Converges for |z| < 1, which covers the
// purchase model use where z = t/(alpha+T+t).
func Hyp2F1(a, b, c, z float64) float64 {
	term := 1.0
	sum := 1.0
	for j := 0; j < hyp2f1MaxTerms; j++ {
		fj := float64(j)
		term *= (a + fj) * (b + fj) / ((c + fj) * (fj + 1)) * z
		sum += term
		if math.Abs(term) < hyp2f1Tol*math.Abs(sum) {
			break
		}
	}
	return sum
}

// Logistic is the standard sigmoid function.
func Logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Mean returns the arithmetic mean of values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}
