package data

import (
	"math"

	"github.com/pkg/errors"
	"github.com/retailkit/crmctl/pkg/stats"
)

const (
	fitPenalty = 0.001
	fitMaxIter = 2000
	fitTol     = 1e-8
)

// BGNBDParams are the fitted parameters of the BG/NBD repeat-purchase
// model. R and Alpha shape the transaction rate, A and B the dropout
// probability.
type BGNBDParams struct {
	R     float64 `json:"r" yaml:"r"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
	A     float64 `json:"a" yaml:"a"`
	B     float64 `json:"b" yaml:"b"`
}

// GammaGammaParams are the fitted parameters of the Gamma-Gamma
// monetary value model.
type GammaGammaParams struct {
	P     float64 `json:"p" yaml:"p"`
	Q     float64 `json:"q" yaml:"q"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// bgnbdObs is one customer in recency/frequency form: x repeat
// purchases, last at tx days, observed for t days.
type bgnbdObs struct {
	x  float64
	tx float64
	t  float64
}

// FitBGNBD estimates (r, alpha, a, b) by penalized maximum likelihood.
// The search runs over log-parameters so the estimates stay positive.
func FitBGNBD(obs []bgnbdObs) (*BGNBDParams, error) {
	if len(obs) == 0 {
		return nil, errors.New("no observations to fit")
	}

	objective := func(theta []float64) float64 {
		r := math.Exp(theta[0])
		alpha := math.Exp(theta[1])
		a := math.Exp(theta[2])
		b := math.Exp(theta[3])

		ll := 0.0
		for _, o := range obs {
			ll += bgnbdLogLikelihood(r, alpha, a, b, o)
		}
		penalty := fitPenalty * (r*r + alpha*alpha + a*a + b*b)
		return -ll/float64(len(obs)) + penalty
	}

	theta, _, err := stats.NelderMead(objective, []float64{0, 0, 0, 0}, 0.1, fitMaxIter, fitTol)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fit purchase model")
	}

	return &BGNBDParams{
		R:     math.Exp(theta[0]),
		Alpha: math.Exp(theta[1]),
		A:     math.Exp(theta[2]),
		B:     math.Exp(theta[3]),
	}, nil
}

func bgnbdLogLikelihood(r, alpha, a, b float64, o bgnbdObs) float64 {
	ll := stats.LnGamma(r+o.x) - stats.LnGamma(r) + r*math.Log(alpha) +
		stats.LnGamma(a+b) + stats.LnGamma(b+o.x) - stats.LnGamma(b) - stats.LnGamma(a+b+o.x)

	logA1 := -(r + o.x) * math.Log(alpha+o.t)
	if o.x > 0 {
		logA2 := math.Log(a) - math.Log(b+o.x-1) - (r+o.x)*math.Log(alpha+o.tx)
		ll += logSumExp(logA1, logA2)
	} else {
		ll += logA1
	}
	return ll
}

func logSumExp(a, b float64) float64 {
	m := math.Max(a, b)
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// ProbabilityAlive is the posterior probability the customer is still
// active at the end of the observation window. A customer with no
// repeat purchases is alive with certainty under the model.
func (p *BGNBDParams) ProbabilityAlive(x, tx, t float64) float64 {
	if x == 0 {
		return 1
	}
	odds := (p.A / (p.B + x - 1)) * math.Pow((p.Alpha+t)/(p.Alpha+tx), p.R+x)
	return 1 / (1 + odds)
}

// ExpectedPurchases is the conditional expected number of purchases
// over the next horizon days given the customer's (x, tx, t) history.
func (p *BGNBDParams) ExpectedPurchases(horizon, x, tx, t float64) float64 {
	if horizon <= 0 {
		return 0
	}
	hyp := stats.Hyp2F1(p.R+x, p.B+x, p.A+p.B+x-1, horizon/(p.Alpha+t+horizon))
	num := ((p.A + p.B + x - 1) / (p.A - 1)) *
		(1 - math.Pow((p.Alpha+t)/(p.Alpha+t+horizon), p.R+x)*hyp)

	den := 1.0
	if x > 0 {
		den += (p.A / (p.B + x - 1)) * math.Pow((p.Alpha+t)/(p.Alpha+tx), p.R+x)
	}
	return num / den
}

// FitGammaGamma estimates (p, q, gamma) from the mean transaction
// values of repeat purchasers. Pairs with zero frequency or value must
// be filtered out by the caller.
func FitGammaGamma(frequency, monetary []float64) (*GammaGammaParams, error) {
	if len(frequency) == 0 || len(frequency) != len(monetary) {
		return nil, errors.Errorf("frequency/monetary size mismatch: %d vs %d", len(frequency), len(monetary))
	}

	objective := func(theta []float64) float64 {
		p := math.Exp(theta[0])
		q := math.Exp(theta[1])
		g := math.Exp(theta[2])

		ll := 0.0
		for i := range frequency {
			x := frequency[i]
			m := monetary[i]
			ll += stats.LnGamma(p*x+q) - stats.LnGamma(p*x) - stats.LnGamma(q) +
				q*math.Log(g) + (p*x-1)*math.Log(m) + p*x*math.Log(x) -
				(p*x+q)*math.Log(g+m*x)
		}
		penalty := fitPenalty * (p*p + q*q + g*g)
		return -ll/float64(len(frequency)) + penalty
	}

	theta, _, err := stats.NelderMead(objective, []float64{0, 0, 0}, 0.1, fitMaxIter, fitTol)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fit monetary model")
	}

	return &GammaGammaParams{
		P:     math.Exp(theta[0]),
		Q:     math.Exp(theta[1]),
		Gamma: math.Exp(theta[2]),
	}, nil
}

// ExpectedAverageValue is the conditional expectation of a customer's
// per-transaction value given x observed transactions averaging m.
// With x=0 it reduces to the population mean.
func (g *GammaGammaParams) ExpectedAverageValue(x, m float64) float64 {
	return g.P * (g.Gamma + x*m) / (g.P*x + g.Q - 1)
}

// LifetimeValue discounts the expected purchase stream over the given
// number of 30-day periods at the given per-period rate, valuing each
// period's expected purchases at avgValue.
func LifetimeValue(bg *BGNBDParams, x, tx, t, avgValue float64, months int, discountRate float64) float64 {
	clv := 0.0
	prev := 0.0
	for i := 1; i <= months; i++ {
		cum := bg.ExpectedPurchases(float64(i)*30, x, tx, t)
		clv += avgValue * (cum - prev) / math.Pow(1+discountRate, float64(i))
		prev = cum
	}
	return clv
}
