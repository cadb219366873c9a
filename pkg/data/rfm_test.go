package data

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentFor(t *testing.T) {
	tests := []struct {
		r, f int
		want string
	}{
		{5, 5, SegmentChampions},
		{4, 3, SegmentChampions},
		{3, 4, SegmentLoyal},
		{2, 3, SegmentLoyal},
		// High recency but low frequency overrides Champions.
		{5, 1, SegmentPotentialLoyalists},
		{4, 2, SegmentPotentialLoyalists},
		{3, 1, SegmentPotentialLoyalists},
		{1, 5, SegmentAtRisk},
		{1, 4, SegmentAtRisk},
		// Lost overrides At Risk paths with low frequency.
		{1, 1, SegmentLost},
		{2, 1, SegmentLowValue},
		{2, 5, SegmentLoyal},
	}
	for _, tc := range tests {
		got := segmentFor(tc.r, tc.f)
		assert.Equal(t, tc.want, got, "r=%d f=%d", tc.r, tc.f)
	}
}

func TestComputeRFM(t *testing.T) {
	db := setupTestDB(t)

	end := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)

	// Ten customers with staggered recency, frequency and spend so
	// each quintile is populated.
	for c := 0; c < 10; c++ {
		id := int64(100 + c)
		// Most recent purchase c*30 days before the end of the window.
		for i := 0; i <= c; i++ {
			invoice := "INV-" + strconv.Itoa(c) + "-" + strconv.Itoa(i)
			insertPurchase(t, db, invoice, id, end.AddDate(0, 0, -c*30-i*7), 1+c, 2.0+float64(c))
		}
	}

	res, err := ComputeRFM(db)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Customers)
	assert.Equal(t, "2011-12-10", res.ReferenceDate)
	assert.NotEmpty(t, res.Segments)

	scores, err := QueryRFM(db, nil, 50)
	require.NoError(t, err)
	require.Len(t, scores, 10)

	seen := map[int64]*RFMScore{}
	for _, s := range scores {
		assert.GreaterOrEqual(t, s.RScore, 1)
		assert.LessOrEqual(t, s.RScore, 5)
		assert.GreaterOrEqual(t, s.FScore, 1)
		assert.LessOrEqual(t, s.FScore, 5)
		assert.GreaterOrEqual(t, s.MScore, 1)
		assert.LessOrEqual(t, s.MScore, 5)
		assert.Equal(t, segmentFor(s.RScore, s.FScore), s.Segment)
		seen[s.CustomerID] = s
	}

	// Customer 100 bought once, yesterday relative to the reference.
	best := seen[100]
	require.NotNil(t, best)
	assert.Equal(t, 1, best.RecencyDays)
	assert.Equal(t, 1, best.Frequency)
	assert.Equal(t, 5, best.RScore)
	assert.Equal(t, 1, best.FScore)
	assert.Equal(t, SegmentPotentialLoyalists, best.Segment)

	// Customer 109 is the most frequent, biggest spender, least recent.
	worst := seen[109]
	require.NotNil(t, worst)
	assert.Equal(t, 10, worst.Frequency)
	assert.Equal(t, 1, worst.RScore)
	assert.Equal(t, 5, worst.FScore)
	assert.Equal(t, 5, worst.MScore)
	assert.Equal(t, SegmentAtRisk, worst.Segment)
}

func TestComputeRFM_Reruns(t *testing.T) {
	db := setupTestDB(t)

	end := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)
	insertPurchase(t, db, "A", 1, end, 1, 5.0)
	insertPurchase(t, db, "B", 2, end.AddDate(0, 0, -100), 2, 3.0)

	_, err := ComputeRFM(db)
	require.NoError(t, err)
	_, err = ComputeRFM(db)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM rfm").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestComputeRFM_Empty(t *testing.T) {
	db := setupTestDB(t)
	_, err := ComputeRFM(db)
	assert.Error(t, err)
}

func TestQueryRFM_SegmentFilter(t *testing.T) {
	db := setupTestDB(t)

	end := time.Date(2011, 12, 9, 0, 0, 0, 0, time.UTC)
	insertPurchase(t, db, "A", 1, end, 1, 5.0)
	insertPurchase(t, db, "B", 2, end.AddDate(0, 0, -200), 2, 3.0)

	_, err := ComputeRFM(db)
	require.NoError(t, err)

	all, err := QueryRFM(db, nil, 10)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	seg := all[0].Segment
	filtered, err := QueryRFM(db, &seg, 10)
	require.NoError(t, err)
	require.NotEmpty(t, filtered)
	for _, s := range filtered {
		assert.Equal(t, seg, s.Segment)
	}
}

func TestQueryRFM_NilDB(t *testing.T) {
	_, err := QueryRFM(nil, nil, 10)
	assert.Error(t, err)
}
