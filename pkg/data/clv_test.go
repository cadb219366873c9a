package data

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbabilityAlive(t *testing.T) {
	p := &BGNBDParams{R: 1, Alpha: 1, A: 1, B: 2}

	// No repeat purchases: alive with certainty.
	assert.Equal(t, 1.0, p.ProbabilityAlive(0, 0, 100))

	// odds = (1/2) * (3/2)^2 = 1.125 -> 1/(1+1.125)
	got := p.ProbabilityAlive(1, 1, 2)
	assert.InDelta(t, 1.0/2.125, got, 1e-9)

	// Buying on the last day of the window should beat a long silence.
	recent := p.ProbabilityAlive(3, 100, 100)
	stale := p.ProbabilityAlive(3, 10, 100)
	assert.Greater(t, recent, stale)
}

func TestExpectedPurchases(t *testing.T) {
	p := &BGNBDParams{R: 0.5, Alpha: 10, A: 2, B: 3}

	assert.Equal(t, 0.0, p.ExpectedPurchases(0, 1, 20, 40))

	// Monotone non-decreasing in the horizon.
	prev := 0.0
	for _, h := range []float64{30, 60, 90, 180, 365} {
		e := p.ExpectedPurchases(h, 2, 30, 60)
		assert.Greater(t, e, 0.0, "horizon %v", h)
		assert.GreaterOrEqual(t, e, prev, "horizon %v", h)
		prev = e
	}

	// A frequent recent buyer should be expected to buy more than a
	// one-off customer observed over the same window.
	heavy := p.ExpectedPurchases(90, 10, 90, 100)
	light := p.ExpectedPurchases(90, 0, 0, 100)
	assert.Greater(t, heavy, light)
}

func TestExpectedAverageValue(t *testing.T) {
	g := &GammaGammaParams{P: 2, Q: 3, Gamma: 4}

	// x=0 reduces to the population mean p*gamma/(q-1).
	assert.InDelta(t, 4.0, g.ExpectedAverageValue(0, 0), 1e-9)

	// p(gamma + x*m)/(p*x + q - 1) = 2*(4+20)/(4+2) = 8
	assert.InDelta(t, 8.0, g.ExpectedAverageValue(2, 10), 1e-9)

	// Shrinkage: the estimate sits between the prior mean and the
	// observed average, closer to the observation as x grows.
	few := g.ExpectedAverageValue(1, 20)
	many := g.ExpectedAverageValue(50, 20)
	assert.Greater(t, few, 4.0)
	assert.Less(t, few, 20.0)
	assert.Greater(t, many, few)
}

func TestLifetimeValue_SinglePeriod(t *testing.T) {
	p := &BGNBDParams{R: 0.5, Alpha: 10, A: 2, B: 3}

	expected := p.ExpectedPurchases(30, 2, 30, 60) * 25.0 / 1.01
	got := LifetimeValue(p, 2, 30, 60, 25.0, 1, 0.01)
	assert.InDelta(t, expected, got, 1e-9)

	// More periods cannot lower the value.
	longer := LifetimeValue(p, 2, 30, 60, 25.0, 12, 0.01)
	assert.GreaterOrEqual(t, longer, got)
}

func TestFitBGNBD(t *testing.T) {
	// A mix of heavy, light and one-off customers.
	obs := make([]bgnbdObs, 0, 60)
	for i := 0; i < 20; i++ {
		obs = append(obs, bgnbdObs{x: 8, tx: 350 - float64(i), t: 365})
	}
	for i := 0; i < 20; i++ {
		obs = append(obs, bgnbdObs{x: 2, tx: 150 + float64(i), t: 365})
	}
	for i := 0; i < 20; i++ {
		obs = append(obs, bgnbdObs{x: 0, tx: 0, t: 365})
	}

	p, err := FitBGNBD(obs)
	require.NoError(t, err)

	assert.Greater(t, p.R, 0.0)
	assert.Greater(t, p.Alpha, 0.0)
	assert.Greater(t, p.A, 0.0)
	assert.Greater(t, p.B, 0.0)

	for _, o := range obs {
		alive := p.ProbabilityAlive(o.x, o.tx, o.t)
		assert.GreaterOrEqual(t, alive, 0.0)
		assert.LessOrEqual(t, alive, 1.0)
	}
}

func TestFitBGNBD_Empty(t *testing.T) {
	_, err := FitBGNBD(nil)
	assert.Error(t, err)
}

func TestFitGammaGamma(t *testing.T) {
	freq := []float64{1, 2, 3, 4, 5, 2, 3, 6, 1, 4}
	monetary := []float64{10, 12, 9, 15, 11, 20, 8, 14, 25, 13}

	g, err := FitGammaGamma(freq, monetary)
	require.NoError(t, err)

	assert.Greater(t, g.P, 0.0)
	assert.Greater(t, g.Q, 0.0)
	assert.Greater(t, g.Gamma, 0.0)

	v := g.ExpectedAverageValue(3, 12)
	assert.Greater(t, v, 0.0)
}

func TestFitGammaGamma_Mismatch(t *testing.T) {
	_, err := FitGammaGamma([]float64{1, 2}, []float64{10})
	assert.Error(t, err)
}

func TestComputeCLV(t *testing.T) {
	db := setupTestDB(t)

	end := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)

	// Repeat purchasers.
	for c := 0; c < 8; c++ {
		id := int64(100 + c)
		insertPurchase(t, db, "F1-"+itoa64(id), id, end.AddDate(0, 0, -300), 2, 10.0)
		insertPurchase(t, db, "F2-"+itoa64(id), id, end.AddDate(0, 0, -150-c*5), 3, 8.0)
		insertPurchase(t, db, "F3-"+itoa64(id), id, end.AddDate(0, 0, -10-c), 1, 12.0)
	}
	// One-off customer.
	insertPurchase(t, db, "S1", 900, end.AddDate(0, 0, -90), 2, 6.0)

	res, err := ComputeCLV(db, 6, 0.01)
	require.NoError(t, err)

	assert.Equal(t, 9, res.Customers)
	assert.Equal(t, 8, res.Repeaters)
	assert.Equal(t, 6, res.HorizonMonths)
	require.NotNil(t, res.Purchase)
	require.NotNil(t, res.Monetary)
	assert.Greater(t, res.TotalCLV, 0.0)

	rows, err := QueryCLV(db, 20)
	require.NoError(t, err)
	require.Len(t, rows, 9)

	// Ordered by clv descending.
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].CLV, rows[i].CLV)
	}

	var oneOff *CLVCustomer
	for _, r := range rows {
		if r.CustomerID == 900 {
			oneOff = r
		}
	}
	require.NotNil(t, oneOff)
	assert.Equal(t, 0, oneOff.Frequency)
	assert.Equal(t, 1.0, oneOff.ProbabilityAlive)
	assert.Equal(t, 0.0, oneOff.RecencyDays)
	// Age is anchored at the last purchase in the whole dataset
	// (end-10), not at end: (end-10) - (end-90) = 80.
	assert.InDelta(t, 80.0, oneOff.AgeDays, 0.001)
	assert.InDelta(t, 12.0, oneOff.MonetaryValue, 0.001)

	// No rfm table yet, so no per-segment rollup.
	assert.Empty(t, res.Segments)

	_, err = ComputeRFM(db)
	require.NoError(t, err)
	segments, err := GetSegmentCLV(db)
	require.NoError(t, err)
	assert.NotEmpty(t, segments)
	for _, s := range segments {
		assert.NotEmpty(t, s.Segment)
		assert.Greater(t, s.Customers, 0)
	}
}

func TestComputeCLV_NoRepeaters(t *testing.T) {
	db := setupTestDB(t)
	insertPurchase(t, db, "X1", 1, time.Date(2011, 6, 1, 0, 0, 0, 0, time.UTC), 1, 5.0)
	_, err := ComputeCLV(db, 12, 0.01)
	assert.Error(t, err)
}

func TestComputeCLV_Empty(t *testing.T) {
	db := setupTestDB(t)
	_, err := ComputeCLV(db, 12, 0.01)
	assert.Error(t, err)
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
