package types

import "time"

type RunStats struct {
	Complaints int                     `json:"complaints"`
	Clustered  int                     `json:"clustered"`
	Excluded   map[ExclusionReason]int `json:"excluded"`
	Overrides  int                     `json:"overrides"`
	Duration   time.Duration           `json:"duration"`
}

// Snapshot is one complete clustering generation. It is never modified
// after it has been published.
type Snapshot struct {
	Generation uint64        `json:"generation"`
	CreatedAt  time.Time     `json:"created_at"`
	Clusters   []Cluster     `json:"clusters"`
	Chains     []CausalChain `json:"chains"`
	Stats      RunStats      `json:"stats"`
	Exclusions []Exclusion   `json:"exclusions"`
	Noise      []NoisePoint  `json:"noise"`

	// Fingerprint identifies the complaint set the generation was built from.
	Fingerprint string `json:"fingerprint"`
}

// EmptySnapshot is generation zero, published before the first run completes.
func EmptySnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		CreatedAt:  now,
		Clusters:   []Cluster{},
		Chains:     []CausalChain{},
		Exclusions: []Exclusion{},
		Noise:      []NoisePoint{},
		Stats:      RunStats{Excluded: map[ExclusionReason]int{}},
	}
}

// ClusterByID returns the cluster with the given id.
func (s *Snapshot) ClusterByID(id string) (Cluster, bool) {
	for _, c := range s.Clusters {
		if c.ID == id {
			return c, true
		}
	}
	return Cluster{}, false
}
