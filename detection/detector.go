package detection

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-citizenlink/spatial"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

const (
	minRadiusM = 10.0 // a cluster is never drawn smaller than this

	// --- Severity thresholds on average member urgency ---
	mediumUrgency = 40.0
	highUrgency   = 60.0
	critUrgency   = 80.0

	densityEpsilon = 1e-9
)

var clusterSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:citizenlink:cluster"))

// Params are the taxonomy-wide knobs of a clustering pass.
type Params struct {
	SimilarityMinShared int
	SimilarityBoost     float64
	DecayPlateau        float64
}

func ParamsFrom(reg *taxonomy.Registry) Params {
	return Params{
		SimilarityMinShared: reg.Clustering.SimilarityMinShared,
		SimilarityBoost:     reg.Clustering.SimilarityBoost,
		DecayPlateau:        reg.Clustering.DecayPlateau,
	}
}

type neighbor struct {
	idx  int
	dist float64 // effective distance
}

// Result is one clustering pass. Noise lists the points that joined no
// cluster, sorted by id.
type Result struct {
	Clusters []types.Cluster
	Noise    []types.NoisePoint
}

// DetectClusters runs one density-based pass over the points of a single
// category. Membership does not depend on the order of points.
func DetectClusters(points []types.ComplaintPoint, category types.Category, tier types.Tier, p Params, now time.Time) []types.Cluster {
	return Detect(points, category, tier, p, now).Clusters
}

// Detect is DetectClusters that also reports unassigned points.
func Detect(points []types.ComplaintPoint, category types.Category, tier types.Tier, p Params, now time.Time) Result {
	if len(points) == 0 {
		return Result{}
	}

	pts := make([]types.ComplaintPoint, len(points))
	copy(pts, points)
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].ID != pts[j].ID {
			return pts[i].ID < pts[j].ID
		}
		return pts[i].SubmittedAt.Before(pts[j].SubmittedAt)
	})

	n := len(pts)
	weights := make([]float64, n)
	for i := range pts {
		weights[i] = decayWeight(now.Sub(pts[i].SubmittedAt), tier.DecayWindow, p.DecayPlateau)
	}

	// 1. Neighborhoods under the similarity-adjusted distance
	nbrs := make([][]neighbor, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := spatial.HaversineDistance(pts[i].Lat, pts[i].Lng, pts[j].Lat, pts[j].Lng)
			if p.SimilarityBoost > 0 && sharedTerms(pts[i].Terms, pts[j].Terms) >= p.SimilarityMinShared {
				d *= 1 - p.SimilarityBoost
			}
			if d <= tier.Epsilon {
				nbrs[i] = append(nbrs[i], neighbor{j, d})
				nbrs[j] = append(nbrs[j], neighbor{i, d})
			}
		}
	}

	// 2. Core points. Stale points never qualify; with minPts == 1 every
	// live point founds its own cluster.
	core := make([]bool, n)
	for i := range pts {
		if weights[i] <= 0 {
			continue
		}
		if tier.MinPts <= 1 {
			core[i] = true
			continue
		}
		density := weights[i]
		for _, nb := range nbrs[i] {
			density += weights[nb.idx]
		}
		core[i] = density+densityEpsilon >= float64(tier.MinPts)
	}

	// 3. Merge mutually reachable cores
	uf := newUnionFind(n)
	for i := range pts {
		if !core[i] {
			continue
		}
		for _, nb := range nbrs[i] {
			if core[nb.idx] {
				uf.union(i, nb.idx)
			}
		}
	}

	// 4. Attach border points to their nearest core, ties to the lower id
	owner := make([]int, n)
	for i := range pts {
		owner[i] = -1
		if core[i] {
			owner[i] = uf.find(i)
			continue
		}
		best := -1
		bestDist := math.Inf(1)
		for _, nb := range nbrs[i] {
			if !core[nb.idx] {
				continue
			}
			if nb.dist < bestDist || (nb.dist == bestDist && nb.idx < best) {
				best, bestDist = nb.idx, nb.dist
			}
		}
		if best >= 0 {
			owner[i] = uf.find(best)
		}
	}

	groups := make(map[int][]types.ComplaintPoint)
	var roots []int
	var noise []types.NoisePoint
	for i := range pts {
		root := owner[i]
		if root < 0 {
			noise = append(noise, types.NoisePoint{ComplaintID: pts[i].ID, Category: category})
			continue
		}
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], pts[i])
	}

	clusters := make([]types.Cluster, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, buildCluster(groups[root], category, tier))
	}
	sort.Slice(clusters, func(i, j int) bool {
		if !clusters[i].FormedAt.Equal(clusters[j].FormedAt) {
			return clusters[i].FormedAt.Before(clusters[j].FormedAt)
		}
		return clusters[i].ID < clusters[j].ID
	})
	return Result{Clusters: clusters, Noise: noise}
}

// decayWeight is 1 for the first plateau share of the window, then falls
// linearly to 0 at the end of the window.
func decayWeight(age, window time.Duration, plateau float64) float64 {
	if window <= 0 {
		return 1
	}
	if age < 0 {
		age = 0
	}
	if age >= window {
		return 0
	}
	flat := time.Duration(float64(window) * plateau)
	if age <= flat {
		return 1
	}
	return 1 - float64(age-flat)/float64(window-flat)
}

// sharedTerms counts common entries of two sorted term lists.
func sharedTerms(a, b []string) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

// buildCluster aggregates member points into a Cluster.
func buildCluster(members []types.ComplaintPoint, category types.Category, tier types.Tier) types.Cluster {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].SubmittedAt.Equal(members[j].SubmittedAt) {
			return members[i].SubmittedAt.Before(members[j].SubmittedAt)
		}
		return members[i].ID < members[j].ID
	})

	c := types.Cluster{
		Category:  category,
		Tier:      tier.Name,
		MemberIDs: make([]string, 0, len(members)),
		BoundingBox: types.BoundingBox{
			MinLat: members[0].Lat, MaxLat: members[0].Lat,
			MinLng: members[0].Lng, MaxLng: members[0].Lng,
		},
	}

	var urgency float64
	for k, m := range members {
		c.MemberIDs = append(c.MemberIDs, m.ID)

		// running mean
		c.Centroid.Lat += (m.Lat - c.Centroid.Lat) / float64(k+1)
		c.Centroid.Lng += (m.Lng - c.Centroid.Lng) / float64(k+1)

		c.BoundingBox.MinLat = math.Min(c.BoundingBox.MinLat, m.Lat)
		c.BoundingBox.MaxLat = math.Max(c.BoundingBox.MaxLat, m.Lat)
		c.BoundingBox.MinLng = math.Min(c.BoundingBox.MinLng, m.Lng)
		c.BoundingBox.MaxLng = math.Max(c.BoundingBox.MaxLng, m.Lng)

		if m.SubmittedAt.After(c.FormedAt) {
			c.FormedAt = m.SubmittedAt
		}
		urgency += float64(m.UrgencyScore)
	}
	c.UrgencyAvg = urgency / float64(len(members))
	c.IsLoneWolf = tier.MinPts == 1 && len(members) == 1

	c.RadiusM = minRadiusM
	for _, m := range members {
		d := spatial.HaversineDistance(c.Centroid.Lat, c.Centroid.Lng, m.Lat, m.Lng)
		c.RadiusM = math.Max(c.RadiusM, d)
	}

	c.Severity = severityFor(c.UrgencyAvg)

	ids := append([]string(nil), c.MemberIDs...)
	sort.Strings(ids)
	c.ID = uuid.NewSHA1(clusterSpace, []byte(string(category)+"|"+strings.Join(ids, ","))).String()
	return c
}

func severityFor(urgency float64) types.Severity {
	switch {
	case urgency >= critUrgency:
		return types.Critical
	case urgency >= highUrgency:
		return types.High
	case urgency >= mediumUrgency:
		return types.Medium
	default:
		return types.Low
	}
}
