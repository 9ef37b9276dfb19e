// Package spatial validates complaint coordinates against the city extent
// and resolves them to jurisdiction polygons.
package spatial

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

var ErrNoBoundaries = errors.New("boundary dataset has no jurisdictions")

type Result struct {
	InBounds       bool   `json:"in_bounds"`
	JurisdictionID string `json:"jurisdiction_id,omitempty"`
	Found          bool   `json:"found"`
}

type jurisdiction struct {
	id          string
	name        string
	polygons    []*s2.Polygon
	bound       s2.Rect
	implausible map[types.Category]bool
}

// Validator is read-only after Load and safe for concurrent use.
type Validator struct {
	extent        s2.Rect
	jurisdictions []jurisdiction
}

// Load reads a GeoJSON FeatureCollection of jurisdiction polygons. A nil
// extent is derived from the polygons.
func Load(path string, extent *types.BoundingBox) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundaries %s: %w", path, err)
	}
	v, err := New(data, extent)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func New(data []byte, extent *types.BoundingBox) (*Validator, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode boundaries: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, ErrNoBoundaries
	}

	v := &Validator{extent: s2.EmptyRect()}
	seen := make(map[string]bool)
	for i, f := range fc.Features {
		id := f.Properties.MustString("id", "")
		if id == "" {
			return nil, fmt.Errorf("feature %d: missing properties.id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("feature %d: duplicate jurisdiction id %q", i, id)
		}
		seen[id] = true

		polys, err := polygonsOf(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("jurisdiction %q: %w", id, err)
		}
		j := jurisdiction{
			id:          id,
			name:        f.Properties.MustString("name", ""),
			polygons:    polys,
			bound:       s2.EmptyRect(),
			implausible: make(map[types.Category]bool),
		}
		for _, p := range polys {
			j.bound = j.bound.Union(p.RectBound())
		}
		if list, ok := f.Properties["implausible"].([]any); ok {
			for _, c := range list {
				if name, ok := c.(string); ok {
					j.implausible[taxonomy.Normalize(name)] = true
				}
			}
		}
		v.extent = v.extent.Union(j.bound)
		v.jurisdictions = append(v.jurisdictions, j)
	}

	if extent != nil {
		v.extent = s2.RectFromLatLng(s2.LatLngFromDegrees(extent.MinLat, extent.MinLng)).
			AddPoint(s2.LatLngFromDegrees(extent.MaxLat, extent.MaxLng))
	}
	return v, nil
}

func polygonsOf(g orb.Geometry) ([]*s2.Polygon, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		p, err := toS2(geom)
		if err != nil {
			return nil, err
		}
		return []*s2.Polygon{p}, nil
	case orb.MultiPolygon:
		out := make([]*s2.Polygon, 0, len(geom))
		for _, part := range geom {
			p, err := toS2(part)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case nil:
		return nil, errors.New("missing geometry")
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.GeoJSONType())
	}
}

// toS2 turns orb rings ([lng, lat] points, outer ring first, holes after)
// into an s2 polygon.
func toS2(poly orb.Polygon) (*s2.Polygon, error) {
	if len(poly) == 0 {
		return nil, errors.New("polygon without rings")
	}
	loops := make([]*s2.Loop, 0, len(poly))
	for i, ring := range poly {
		if ring.Closed() {
			ring = ring[:len(ring)-1]
		}
		if len(ring) < 3 {
			return nil, fmt.Errorf("ring %d has fewer than 3 distinct vertices", i)
		}
		pts := make([]s2.Point, 0, len(ring))
		for _, c := range ring {
			ll := s2.LatLngFromDegrees(c.Lat(), c.Lon())
			if !ll.IsValid() {
				return nil, fmt.Errorf("ring %d: invalid coordinate %v", i, c)
			}
			pts = append(pts, s2.PointFromLatLng(ll))
		}
		loop := s2.LoopFromPoints(pts)
		loop.Normalize()
		loops = append(loops, loop)
	}
	return s2.PolygonFromLoops(loops), nil
}

// Validate checks lat/lng against the city extent and tags the first
// jurisdiction that contains it. Points inside the extent but in a gap
// between polygons are in bounds without a jurisdiction.
func (v *Validator) Validate(lat, lng float64) Result {
	ll := s2.LatLngFromDegrees(lat, lng)
	if !ll.IsValid() || !v.extent.ContainsLatLng(ll) {
		return Result{}
	}
	res := Result{InBounds: true}
	if j := v.find(ll); j != nil {
		res.JurisdictionID = j.id
		res.Found = true
	}
	return res
}

// Jurisdiction resolves a coordinate to a jurisdiction id.
func (v *Validator) Jurisdiction(lat, lng float64) (string, bool) {
	r := v.Validate(lat, lng)
	return r.JurisdictionID, r.Found
}

func (v *Validator) find(ll s2.LatLng) *jurisdiction {
	p := s2.PointFromLatLng(ll)
	for i := range v.jurisdictions {
		j := &v.jurisdictions[i]
		if !j.bound.ContainsLatLng(ll) {
			continue
		}
		for _, poly := range j.polygons {
			if poly.ContainsPoint(p) {
				return j
			}
		}
	}
	return nil
}

// Plausible reports whether category can physically occur in the
// jurisdiction. Unknown or empty jurisdictions allow everything.
func (v *Validator) Plausible(cat types.Category, jurisdictionID string) bool {
	if jurisdictionID == "" {
		return true
	}
	for _, j := range v.jurisdictions {
		if j.id == jurisdictionID {
			return !j.implausible[taxonomy.Normalize(cat)]
		}
	}
	return true
}

func (v *Validator) Extent() types.BoundingBox {
	lo, hi := v.extent.Lo(), v.extent.Hi()
	return types.BoundingBox{
		MinLat: lo.Lat.Degrees(),
		MaxLat: hi.Lat.Degrees(),
		MinLng: lo.Lng.Degrees(),
		MaxLng: hi.Lng.Degrees(),
	}
}

// JurisdictionIDs lists jurisdictions in dataset order.
func (v *Validator) JurisdictionIDs() []string {
	ids := make([]string, 0, len(v.jurisdictions))
	for _, j := range v.jurisdictions {
		ids = append(ids, j.id)
	}
	return ids
}
