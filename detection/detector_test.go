package detection

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-citizenlink/spatial"
	"go-citizenlink/types"
)

var (
	baseLat = 6.7500
	baseLng = 125.3500
	t0      = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
)

// north returns the latitude m meters north of lat.
func north(lat, m float64) float64 {
	return lat + m/(spatial.EarthRadiusMeters*math.Pi/180)
}

func point(id string, lat, lng float64, at time.Time, terms ...string) types.ComplaintPoint {
	sort.Strings(terms)
	return types.ComplaintPoint{
		Complaint: types.Complaint{
			ID:          id,
			Lat:         lat,
			Lng:         lng,
			Category:    "fire",
			SubmittedAt: at,
		},
		Effective:    "fire",
		UrgencyScore: 50,
		Terms:        terms,
	}
}

func memberSets(clusters []types.Cluster) [][]string {
	out := make([][]string, 0, len(clusters))
	for _, c := range clusters {
		ids := append([]string(nil), c.MemberIDs...)
		sort.Strings(ids)
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

var noBoost = Params{SimilarityMinShared: 2, SimilarityBoost: 0, DecayPlateau: 0.5}

func TestTwoNearbyReportsFormOneCluster(t *testing.T) {
	tier := types.Tier{Name: "critical", Epsilon: 100, MinPts: 2, DecayWindow: 6 * time.Hour}
	pts := []types.ComplaintPoint{
		point("c1", baseLat, baseLng, t0, "fire", "market"),
		point("c2", north(baseLat, 50), baseLng, t0.Add(5*time.Minute), "fire", "market", "smoke"),
	}

	clusters := DetectClusters(pts, "fire", tier, noBoost, t0.Add(10*time.Minute))

	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.Equal(t, []string{"c1", "c2"}, c.MemberIDs)
	assert.Equal(t, types.Category("fire"), c.Category)
	assert.Equal(t, "critical", c.Tier)
	assert.False(t, c.IsLoneWolf)
	assert.Equal(t, t0.Add(5*time.Minute), c.FormedAt)
	assert.InDelta(t, north(baseLat, 25), c.Centroid.Lat, 1e-9)
	assert.InDelta(t, baseLng, c.Centroid.Lng, 1e-9)
	assert.InDelta(t, 25, c.RadiusM, 0.01)
	assert.Equal(t, types.Medium, c.Severity)
}

func TestClusteringIgnoresInputOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vocab := []string{"fire", "market", "smoke", "road", "school", "church"}

	var pts []types.ComplaintPoint
	for i := range 60 {
		lat := baseLat + rng.Float64()*0.004
		lng := baseLng + rng.Float64()*0.004
		at := t0.Add(time.Duration(rng.Intn(300)) * time.Minute)
		terms := []string{vocab[rng.Intn(len(vocab))], vocab[rng.Intn(len(vocab))]}
		if terms[0] == terms[1] {
			terms = terms[:1]
		}
		pts = append(pts, point(fmt.Sprintf("p%02d", i), lat, lng, at, terms...))
	}

	tier := types.Tier{Name: "high", Epsilon: 60, MinPts: 3, DecayWindow: 8 * time.Hour}
	params := Params{SimilarityMinShared: 1, SimilarityBoost: 0.3, DecayPlateau: 0.5}
	now := t0.Add(6 * time.Hour)

	want := DetectClusters(pts, "fire", tier, params, now)
	require.NotEmpty(t, want)

	for range 10 {
		shuffled := append([]types.ComplaintPoint(nil), pts...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := DetectClusters(shuffled, "fire", tier, params, now)
		assert.Equal(t, want, got)
	}

	// every point lands in at most one cluster
	seen := map[string]bool{}
	for _, c := range want {
		for _, id := range c.MemberIDs {
			assert.False(t, seen[id], id)
			seen[id] = true
		}
	}
}

func TestLoneWolfTier(t *testing.T) {
	tier := types.Tier{Name: "critical", Epsilon: 20, MinPts: 1, DecayWindow: 6 * time.Hour}
	pts := []types.ComplaintPoint{
		point("far", north(baseLat, 2000), baseLng, t0),
		point("a", baseLat, baseLng, t0),
		point("b", north(baseLat, 10), baseLng, t0),
	}

	clusters := DetectClusters(pts, "fire", tier, noBoost, t0.Add(time.Minute))

	require.Len(t, clusters, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"far"}}, memberSets(clusters))
	for _, c := range clusters {
		assert.Equal(t, c.Size() == 1, c.IsLoneWolf)
	}

	single := DetectClusters(pts[:1], "fire", tier, noBoost, t0.Add(time.Minute))
	require.Len(t, single, 1)
	assert.True(t, single[0].IsLoneWolf)
	assert.Equal(t, minRadiusM, single[0].RadiusM)
}

func TestStandardTierNeedsEnoughNeighbors(t *testing.T) {
	tier := types.Tier{Name: "medium", Epsilon: 100, MinPts: 3, DecayWindow: 24 * time.Hour}
	now := t0.Add(time.Hour)

	dense := []types.ComplaintPoint{
		point("a", baseLat, baseLng, t0),
		point("b", north(baseLat, 40), baseLng, t0),
		point("c", north(baseLat, 80), baseLng, t0),
		point("lonely", north(baseLat, 600), baseLng, t0),
	}
	clusters := DetectClusters(dense, "pothole", tier, noBoost, now)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, memberSets(clusters))

	pair := DetectClusters(dense[:2], "pothole", tier, noBoost, now)
	assert.Empty(t, pair)
}

func TestDetectReportsUnassignedPointsAsNoise(t *testing.T) {
	tier := types.Tier{Name: "medium", Epsilon: 100, MinPts: 3, DecayWindow: 24 * time.Hour}
	pts := []types.ComplaintPoint{
		point("lonely", north(baseLat, 600), baseLng, t0),
		point("c", north(baseLat, 80), baseLng, t0),
		point("a", baseLat, baseLng, t0),
		point("b", north(baseLat, 40), baseLng, t0),
		point("alone", north(baseLat, 1500), baseLng, t0),
	}

	res := Detect(pts, "pothole", tier, noBoost, t0.Add(time.Hour))

	assert.Equal(t, [][]string{{"a", "b", "c"}}, memberSets(res.Clusters))
	assert.Equal(t, []types.NoisePoint{
		{ComplaintID: "alone", Category: "pothole"},
		{ComplaintID: "lonely", Category: "pothole"},
	}, res.Noise)

	pair := Detect(pts[2:4], "pothole", tier, noBoost, t0.Add(time.Hour))
	assert.Empty(t, pair.Clusters)
	assert.Len(t, pair.Noise, 2)

	assert.Empty(t, Detect(nil, "pothole", tier, noBoost, t0).Noise)
}

func TestStalePointsCannotFoundClusters(t *testing.T) {
	now := t0.Add(10 * time.Hour)
	stale := t0 // older than the window below
	fresh := now.Add(-time.Minute)

	// stale neighbors add no density
	tier := types.Tier{Name: "medium", Epsilon: 100, MinPts: 3, DecayWindow: 6 * time.Hour}
	pts := []types.ComplaintPoint{
		point("a", baseLat, baseLng, fresh),
		point("b", north(baseLat, 40), baseLng, fresh),
		point("old", north(baseLat, 20), baseLng, stale),
	}
	assert.Empty(t, DetectClusters(pts, "pothole", tier, noBoost, now))

	// but a stale point next to a live cluster is swept in
	tier.MinPts = 2
	clusters := DetectClusters(pts, "pothole", tier, noBoost, now)
	assert.Equal(t, [][]string{{"a", "b", "old"}}, memberSets(clusters))

	// and a stale isolated point never forms a lone wolf cluster
	lone := types.Tier{Name: "critical", Epsilon: 20, MinPts: 1, DecayWindow: 6 * time.Hour}
	assert.Empty(t, DetectClusters(pts[2:], "fire", lone, noBoost, now))
}

func TestSimilarityBoostShrinksDistance(t *testing.T) {
	tier := types.Tier{Name: "high", Epsilon: 100, MinPts: 2, DecayWindow: 24 * time.Hour}
	params := Params{SimilarityMinShared: 2, SimilarityBoost: 0.3, DecayPlateau: 0.5}
	now := t0.Add(time.Minute)

	similar := []types.ComplaintPoint{
		point("a", baseLat, baseLng, t0, "baha", "kalsada", "rizal"),
		point("b", north(baseLat, 120), baseLng, t0, "baha", "kalsada"),
	}
	assert.Len(t, DetectClusters(similar, "flooding", tier, params, now), 1)

	unrelated := []types.ComplaintPoint{
		point("a", baseLat, baseLng, t0, "baha", "kalsada"),
		point("b", north(baseLat, 120), baseLng, t0, "baha", "school"),
	}
	assert.Empty(t, DetectClusters(unrelated, "flooding", tier, params, now))
}

func TestDecayWeight(t *testing.T) {
	w := 6 * time.Hour
	assert.Equal(t, 1.0, decayWeight(0, w, 0.5))
	assert.Equal(t, 1.0, decayWeight(-time.Hour, w, 0.5))
	assert.Equal(t, 1.0, decayWeight(3*time.Hour, w, 0.5))
	assert.InDelta(t, 0.5, decayWeight(4*time.Hour+30*time.Minute, w, 0.5), 1e-9)
	assert.Equal(t, 0.0, decayWeight(6*time.Hour, w, 0.5))
	assert.Equal(t, 0.0, decayWeight(7*time.Hour, w, 0.5))
	assert.Equal(t, 1.0, decayWeight(1000*time.Hour, 0, 0.5))
}

func TestClusterIDIsStable(t *testing.T) {
	tier := types.Tier{Name: "critical", Epsilon: 100, MinPts: 2, DecayWindow: 6 * time.Hour}
	pts := []types.ComplaintPoint{
		point("c1", baseLat, baseLng, t0),
		point("c2", north(baseLat, 50), baseLng, t0),
	}

	first := DetectClusters(pts, "fire", tier, noBoost, t0)
	again := DetectClusters([]types.ComplaintPoint{pts[1], pts[0]}, "fire", tier, noBoost, t0.Add(time.Minute))
	other := DetectClusters(pts, "crime", tier, noBoost, t0)

	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, types.Low, severityFor(10))
	assert.Equal(t, types.Medium, severityFor(40))
	assert.Equal(t, types.High, severityFor(65))
	assert.Equal(t, types.Critical, severityFor(95))
}
