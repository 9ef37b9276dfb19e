package processor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-citizenlink/spatial"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

const testTaxonomy = `
default_tier: slow
tiers:
  fast: { epsilon_m: 100, min_pts: 2, decay_window: 6h }
  solo: { epsilon_m: 50, min_pts: 1, decay_window: 24h }
  slow: { epsilon_m: 60, min_pts: 5, decay_window: 48h }
categories:
  fire:
    tier: fast
    keywords:
      - { term: fire, weight: 40 }
      - { term: smoke, weight: 15, weak: true }
  pipe-burst:
    tier: solo
    keywords:
      - { term: burst pipe, weight: 35 }
  flooding:
    tier: solo
    keywords:
      - { term: flood, weight: 35 }
      - { term: flooded, weight: 35 }
      - { term: submerged, weight: 30 }
  traffic:
    tier: solo
    keywords:
      - { term: traffic, weight: 20 }
  others:
    tier: slow
context_rules:
  - name: cooking
    terms: [bbq]
    suppresses: [fire]
markers:
  negation: ["no", not]
relations:
  - { name: "pipe→flood", cause: pipe-burst, effect: flooding }
  - { name: "flood→traffic", cause: flooding, effect: traffic }
`

const testBoundaries = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": { "id": "center" },
      "geometry": { "type": "Polygon", "coordinates": [[[125.34, 6.74], [125.36, 6.74], [125.36, 6.76], [125.34, 6.76], [125.34, 6.74]]] }
    },
    {
      "type": "Feature",
      "properties": { "id": "east", "implausible": ["flooding"] },
      "geometry": { "type": "Polygon", "coordinates": [[[125.36, 6.74], [125.38, 6.74], [125.38, 6.76], [125.36, 6.76], [125.36, 6.74]]] }
    }
  ]
}`

var (
	baseLat = 6.75
	baseLng = 125.35
	eastLng = 125.37
	t0      = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
)

func north(lat, m float64) float64 {
	return lat + m/(spatial.EarthRadiusMeters*math.Pi/180)
}

type fakeSource struct {
	complaints []types.Complaint
	err        error
}

func (f *fakeSource) ListActiveComplaints(context.Context) ([]types.Complaint, error) {
	return f.complaints, f.err
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeGeocoder) Resolve(context.Context, float64, float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "Rizal Avenue, Digos"
}

func newPipeline(t *testing.T, src ComplaintSource, geo Geocoder, now time.Time) *Pipeline {
	t.Helper()
	reg, err := taxonomy.Parse([]byte(testTaxonomy))
	require.NoError(t, err)
	v, err := spatial.New([]byte(testBoundaries), nil)
	require.NoError(t, err)

	p := New(src, taxonomy.NewStore(reg, "", nil), v, geo, Config{Workers: 4}, nil)
	p.now = func() time.Time { return now }
	return p
}

func complaint(id string, cat types.Category, lat, lng float64, at time.Time, text string) types.Complaint {
	return types.Complaint{ID: id, Category: cat, Lat: lat, Lng: lng, SubmittedAt: at, Text: text}
}

func TestNearbyFireReportsCluster(t *testing.T) {
	src := &fakeSource{complaints: []types.Complaint{
		complaint("c1", "fire", baseLat, baseLng, t0, "fire near market"),
		complaint("c2", "fire", north(baseLat, 50), baseLng, t0.Add(5*time.Minute), "smoke from market fire"),
	}}
	p := newPipeline(t, src, nil, t0.Add(10*time.Minute))

	snap, err := p.Run(context.Background(), Request{Generation: 1})
	require.NoError(t, err)

	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, []string{"c1", "c2"}, snap.Clusters[0].MemberIDs)
	assert.Equal(t, types.Category("fire"), snap.Clusters[0].Category)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, 2, snap.Stats.Clustered)
	assert.Empty(t, snap.Exclusions)
	assert.Empty(t, snap.Chains)
}

func TestNegatedReportIsExcluded(t *testing.T) {
	src := &fakeSource{complaints: []types.Complaint{
		complaint("c1", "fire", baseLat, baseLng, t0, "fire near market"),
		complaint("c2", "fire", north(baseLat, 50), baseLng, t0.Add(5*time.Minute), "smoke from market fire"),
		complaint("c3", "fire", baseLat, baseLng, t0.Add(6*time.Minute), "no fire, just smoke from BBQ"),
	}}
	p := newPipeline(t, src, nil, t0.Add(10*time.Minute))

	snap, err := p.Run(context.Background(), Request{Generation: 2})
	require.NoError(t, err)

	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, []string{"c1", "c2"}, snap.Clusters[0].MemberIDs)
	assert.Equal(t, []types.Exclusion{{ComplaintID: "c3", Reason: types.ExcludedNegated}}, snap.Exclusions)
	assert.Equal(t, 1, snap.Stats.Excluded[types.ExcludedNegated])
	assert.Equal(t, 3, snap.Stats.Complaints)
}

func TestPipeFloodTrafficChain(t *testing.T) {
	src := &fakeSource{complaints: []types.Complaint{
		complaint("traffic", "traffic", north(baseLat, 120), baseLng, t0.Add(25*time.Minute), "heavy traffic here"),
		complaint("pipe", "pipe-burst", baseLat, baseLng, t0, "burst pipe near the school"),
		complaint("flood", "flooding", north(baseLat, 80), baseLng, t0.Add(10*time.Minute), "flood on the road"),
	}}
	geo := &fakeGeocoder{}
	p := newPipeline(t, src, geo, t0.Add(30*time.Minute))

	snap, err := p.Run(context.Background(), Request{Generation: 3})
	require.NoError(t, err)

	require.Len(t, snap.Clusters, 3)
	for _, c := range snap.Clusters {
		assert.True(t, c.IsLoneWolf)
		assert.Equal(t, "Rizal Avenue, Digos", c.Address)
	}
	assert.Equal(t, 3, geo.calls)

	require.Len(t, snap.Chains, 1)
	var cats []types.Category
	for _, id := range snap.Chains[0].ClusterIDs {
		c, ok := snap.ClusterByID(id)
		require.True(t, ok)
		cats = append(cats, c.Category)
	}
	assert.Equal(t, []types.Category{"pipe-burst", "flooding", "traffic"}, cats)
	assert.Equal(t, "pipe→flood", snap.Chains[0].Links[0].Relation)
	assert.Equal(t, "flood→traffic", snap.Chains[0].Links[1].Relation)
}

func TestInvalidInputIsExcludedNotFatal(t *testing.T) {
	src := &fakeSource{complaints: []types.Complaint{
		complaint("bad-lat", "fire", 95, baseLng, t0, "fire"),
		complaint("nan", "fire", math.NaN(), baseLng, t0, "fire"),
		complaint("blank", "fire", baseLat, baseLng, t0, "   "),
		complaint("far", "fire", 7.5, 125.0, t0, "fire"),
	}}
	p := newPipeline(t, src, nil, t0)

	snap, err := p.Run(context.Background(), Request{Generation: 1})
	require.NoError(t, err)

	assert.Empty(t, snap.Clusters)
	assert.Equal(t, map[types.ExclusionReason]int{
		types.ExcludedInvalidCoords: 2,
		types.ExcludedEmptyText:     1,
		types.ExcludedOutOfBounds:   1,
	}, snap.Stats.Excluded)
	assert.Equal(t, "bad-lat", snap.Exclusions[0].ComplaintID)
}

func TestOverrideNeedsPlausibleJurisdiction(t *testing.T) {
	p := newPipeline(t, &fakeSource{}, nil, t0)
	reg := p.taxonomy.Current()
	an := p.analyzerFor(reg)

	center := p.score(an, reg, complaint("a", "others", baseLat, baseLng, t0, "flood and submerged cars"), t0)
	assert.Empty(t, center.excluded)
	assert.True(t, center.override)
	assert.Equal(t, types.Category("flooding"), center.point.Effective)
	assert.Equal(t, "center", center.point.JurisdictionID)

	east := p.score(an, reg, complaint("b", "others", baseLat, eastLng, t0, "flood and submerged cars"), t0)
	assert.False(t, east.override)
	assert.Equal(t, types.Category("others"), east.point.Effective)
	assert.Equal(t, "east", east.point.JurisdictionID)
}

func TestImplausibleCategoryIsCappedNotRejected(t *testing.T) {
	p := newPipeline(t, &fakeSource{}, nil, t0)
	reg := p.taxonomy.Current()
	an := p.analyzerFor(reg)

	out := p.score(an, reg, complaint("a", "flooding", baseLat, eastLng, t0, "flood flooded submerged"), t0)

	assert.Empty(t, out.excluded)
	assert.True(t, out.point.Implausible)
	assert.Equal(t, reg.Scoring.ImplausibleUrgencyCap, out.point.UrgencyScore)
	assert.Equal(t, types.Category("flooding"), out.point.Effective)
}

func TestSkipUnchangedComplaintSet(t *testing.T) {
	a := complaint("c1", "fire", baseLat, baseLng, t0, "fire near market")
	b := complaint("c2", "fire", north(baseLat, 50), baseLng, t0, "smoke from market fire")
	src := &fakeSource{complaints: []types.Complaint{a, b}}
	p := newPipeline(t, src, nil, t0.Add(time.Minute))

	first, err := p.Run(context.Background(), Request{Generation: 1})
	require.NoError(t, err)
	require.NotEmpty(t, first.Fingerprint)

	src.complaints = []types.Complaint{b, a}
	_, err = p.Run(context.Background(), Request{Generation: 2, Previous: first, SkipUnchanged: true})
	assert.ErrorIs(t, err, ErrUnchanged)

	forced, err := p.Run(context.Background(), Request{Generation: 2, Previous: first})
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, forced.Fingerprint)

	src.complaints = append(src.complaints, complaint("c3", "fire", baseLat, baseLng, t0, "fire again"))
	changed, err := p.Run(context.Background(), Request{Generation: 3, Previous: forced, SkipUnchanged: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, changed.Fingerprint)
}

func TestSourceFailureIsRunError(t *testing.T) {
	boom := errors.New("firestore unavailable")
	p := newPipeline(t, &fakeSource{err: boom}, nil, t0)

	_, err := p.Run(context.Background(), Request{Generation: 7})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, uint64(7), runErr.Generation)
}

func TestCancelledRunFails(t *testing.T) {
	src := &fakeSource{complaints: []types.Complaint{
		complaint("c1", "fire", baseLat, baseLng, t0, "fire near market"),
	}}
	p := newPipeline(t, src, nil, t0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, Request{Generation: 1})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNegatedReportFollowsPlausibleOverride(t *testing.T) {
	text := "no fire, but the street is flooded and cars are submerged"
	src := &fakeSource{complaints: []types.Complaint{
		complaint("center", "fire", baseLat, baseLng, t0, text),
		complaint("east", "fire", baseLat, eastLng, t0, text),
	}}
	p := newPipeline(t, src, nil, t0.Add(time.Minute))

	snap, err := p.Run(context.Background(), Request{Generation: 1})
	require.NoError(t, err)

	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, types.Category("flooding"), snap.Clusters[0].Category)
	assert.Equal(t, []string{"center"}, snap.Clusters[0].MemberIDs)
	assert.Equal(t, 1, snap.Stats.Overrides)
	// flooding cannot happen in the east zone, so nothing rescues that report
	assert.Equal(t, []types.Exclusion{{ComplaintID: "east", Reason: types.ExcludedNegated}}, snap.Exclusions)
}

func TestUnclusteredPointsAreNoise(t *testing.T) {
	src := &fakeSource{complaints: []types.Complaint{
		complaint("c1", "fire", baseLat, baseLng, t0, "fire near market"),
		complaint("c2", "fire", north(baseLat, 50), baseLng, t0, "smoke from market fire"),
		complaint("c3", "fire", north(baseLat, 900), baseLng, t0, "fire at the terminal"),
	}}
	p := newPipeline(t, src, nil, t0.Add(time.Minute))

	snap, err := p.Run(context.Background(), Request{Generation: 1})
	require.NoError(t, err)

	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, []types.NoisePoint{{ComplaintID: "c3", Category: "fire"}}, snap.Noise)
	assert.Empty(t, snap.Exclusions)
}

func TestWorkerPanicBecomesRunError(t *testing.T) {
	reg, err := taxonomy.Parse([]byte(testTaxonomy))
	require.NoError(t, err)
	src := &fakeSource{complaints: []types.Complaint{
		complaint("c1", "fire", baseLat, baseLng, t0, "fire near market"),
	}}
	// without a validator every scoring worker dereferences nil
	p := New(src, taxonomy.NewStore(reg, "", nil), nil, nil, Config{Workers: 2}, nil)

	var snap *types.Snapshot
	require.NotPanics(t, func() {
		snap, err = p.Run(context.Background(), Request{Generation: 4})
	})

	assert.Nil(t, snap)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, uint64(4), runErr.Generation)
	assert.Contains(t, err.Error(), "score complaint c1 panicked")
}
