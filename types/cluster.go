package types

import "time"

type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

// Tier is the clustering configuration a category resolves to.
type Tier struct {
	Name        string        `json:"name"`
	Epsilon     float64       `json:"epsilon_m"` // meters
	MinPts      int           `json:"min_pts"`
	DecayWindow time.Duration `json:"decay_window"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

type Cluster struct {
	ID          string      `json:"id"`
	Category    Category    `json:"category"`
	Tier        string      `json:"tier"`
	MemberIDs   []string    `json:"member_ids"` // chronological, ties by id
	Centroid    LatLng      `json:"centroid"`
	FormedAt    time.Time   `json:"formed_at"` // latest member submission
	IsLoneWolf  bool        `json:"is_lone_wolf"`
	BoundingBox BoundingBox `json:"bounding_box"`

	UrgencyAvg float64  `json:"urgency_avg"`
	RadiusM    float64  `json:"radius_m"`
	Severity   Severity `json:"severity"`
	Address    string   `json:"address,omitempty"`
}

func (c Cluster) Size() int { return len(c.MemberIDs) }

// NoisePoint is a scored complaint that reached clustering but is not
// corroborated by enough nearby reports of its category.
type NoisePoint struct {
	ComplaintID string   `json:"complaint_id"`
	Category    Category `json:"category"`
}

// ChainLink joins two consecutive clusters of a causal chain.
type ChainLink struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Relation  string        `json:"relation"`
	DistanceM float64       `json:"distance_m"`
	Lag       time.Duration `json:"lag"`
}

type CausalChain struct {
	ID         string      `json:"id"`
	ClusterIDs []string    `json:"cluster_ids"`
	Links      []ChainLink `json:"links"`
}
