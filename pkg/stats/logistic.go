package stats

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// LogisticModel is a binary classifier over standardized features.
type LogisticModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
}

// FitLogistic trains a logistic regression by batch gradient descent
// with L2 regularization. Features are standardized internally; the
// standardization parameters are kept on the model so Predict can be
// fed raw feature vectors.
func FitLogistic(features [][]float64, labels []bool, iters int, rate, l2 float64) (*LogisticModel, error) {
	n := len(features)
	if n == 0 || n != len(labels) {
		return nil, errors.Errorf("feature/label size mismatch: %d vs %d", n, len(labels))
	}
	dim := len(features[0])
	if dim == 0 {
		return nil, errors.New("empty feature vectors")
	}
	if iters <= 0 {
		iters = 500
	}
	if rate <= 0 {
		rate = 0.1
	}

	means := make([]float64, dim)
	stds := make([]float64, dim)
	col := make([]float64, n)
	for j := 0; j < dim; j++ {
		for i := 0; i < n; i++ {
			col[i] = features[i][j]
		}
		means[j] = Mean(col)
		stds[j] = StdDev(col)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	standardized := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, dim)
		for j := 0; j < dim; j++ {
			row[j] = (features[i][j] - means[j]) / stds[j]
		}
		standardized[i] = row
	}

	m := &LogisticModel{
		Weights: make([]float64, dim),
		Means:   means,
		Stds:    stds,
	}

	grad := make([]float64, dim)
	for it := 0; it < iters; it++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		for i := 0; i < n; i++ {
			z := m.Bias
			for j := 0; j < dim; j++ {
				z += m.Weights[j] * standardized[i][j]
			}
			p := Logistic(z)
			y := 0.0
			if labels[i] {
				y = 1.0
			}
			diff := p - y
			for j := 0; j < dim; j++ {
				grad[j] += diff * standardized[i][j]
			}
			gradBias += diff
		}
		scale := rate / float64(n)
		for j := 0; j < dim; j++ {
			m.Weights[j] -= scale*grad[j] + rate*l2*m.Weights[j]
		}
		m.Bias -= scale * gradBias
	}

	return m, nil
}

// Predict returns the probability of the positive class for a raw
// (unstandardized) feature vector.
func (m *LogisticModel) Predict(features []float64) float64 {
	z := m.Bias
	for j := range m.Weights {
		if j >= len(features) {
			break
		}
		z += m.Weights[j] * (features[j] - m.Means[j]) / m.Stds[j]
	}
	return Logistic(z)
}

// AUC computes the area under the ROC curve using the rank statistic.
// Returns 0.5 when either class is absent.
func AUC(scores []float64, labels []bool) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(scores))
	var pos, neg int
	for i, s := range scores {
		pairs[i] = pair{score: s, pos: labels[i]}
		if labels[i] {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Sum the (tie-averaged) ranks of the positive examples.
	rankSum := 0.0
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].pos {
				rankSum += avgRank
			}
		}
		i = j
	}

	p := float64(pos)
	u := rankSum - p*(p+1)/2.0
	auc := u / (p * float64(neg))
	return math.Min(1, math.Max(0, auc))
}
