package detection

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-citizenlink/spatial"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

var chainSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:citizenlink:chain"))

// CausalGraph is the static cause→effect graph between categories.
type CausalGraph struct {
	Relations []taxonomy.Relation
	RadiusM   float64
	// Window returns how long after its cause an effect may still form.
	// Zero means no limit.
	Window func(effect types.Category) time.Duration
}

func GraphFrom(reg *taxonomy.Registry) CausalGraph {
	return CausalGraph{
		Relations: reg.Relations,
		RadiusM:   reg.ChainRadiusM,
		Window: func(effect types.Category) time.Duration {
			return reg.TierFor(effect).DecayWindow
		},
	}
}

type candidate struct {
	cause, effect *types.Cluster
	relation      string
	dist          float64
	lag           time.Duration
}

// LinkChains links clusters of different categories into causal chains.
// Each cluster is the cause of at most one link and the effect of at most
// one; the closest candidate pairs are taken first.
func LinkChains(clusters []types.Cluster, g CausalGraph) []types.CausalChain {
	byCategory := make(map[types.Category][]*types.Cluster)
	for i := range clusters {
		c := &clusters[i]
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	var cands []candidate
	for _, rel := range g.Relations {
		var window time.Duration
		if g.Window != nil {
			window = g.Window(rel.Effect)
		}
		for _, a := range byCategory[rel.Cause] {
			for _, b := range byCategory[rel.Effect] {
				if a.ID == b.ID {
					continue
				}
				lag := b.FormedAt.Sub(a.FormedAt)
				if lag < 0 || (window > 0 && lag > window) {
					continue
				}
				d := spatial.Distance(a.Centroid, b.Centroid)
				if d > g.RadiusM {
					continue
				}
				cands = append(cands, candidate{cause: a, effect: b, relation: rel.Name, dist: d, lag: lag})
			}
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		x, y := cands[i], cands[j]
		switch {
		case x.dist != y.dist:
			return x.dist < y.dist
		case x.lag != y.lag:
			return x.lag < y.lag
		case x.cause.ID != y.cause.ID:
			return x.cause.ID < y.cause.ID
		case x.effect.ID != y.effect.ID:
			return x.effect.ID < y.effect.ID
		default:
			return x.relation < y.relation
		}
	})

	next := make(map[string]candidate)
	hasPrev := make(map[string]bool)
	for _, c := range cands {
		if _, taken := next[c.cause.ID]; taken || hasPrev[c.effect.ID] {
			continue
		}
		if reaches(next, c.effect.ID, c.cause.ID) {
			continue
		}
		next[c.cause.ID] = c
		hasPrev[c.effect.ID] = true
	}

	heads := make([]*types.Cluster, 0)
	for i := range clusters {
		c := &clusters[i]
		if _, ok := next[c.ID]; ok && !hasPrev[c.ID] {
			heads = append(heads, c)
		}
	}
	sort.Slice(heads, func(i, j int) bool {
		if !heads[i].FormedAt.Equal(heads[j].FormedAt) {
			return heads[i].FormedAt.Before(heads[j].FormedAt)
		}
		return heads[i].ID < heads[j].ID
	})

	chains := make([]types.CausalChain, 0, len(heads))
	for _, h := range heads {
		chain := types.CausalChain{ClusterIDs: []string{h.ID}}
		for id := h.ID; ; {
			c, ok := next[id]
			if !ok {
				break
			}
			chain.ClusterIDs = append(chain.ClusterIDs, c.effect.ID)
			chain.Links = append(chain.Links, types.ChainLink{
				From:      c.cause.ID,
				To:        c.effect.ID,
				Relation:  c.relation,
				DistanceM: c.dist,
				Lag:       c.lag,
			})
			id = c.effect.ID
		}
		chain.ID = uuid.NewSHA1(chainSpace, []byte(strings.Join(chain.ClusterIDs, ","))).String()
		chains = append(chains, chain)
	}
	return chains
}

// reaches reports whether following links from `from` arrives at `to`.
func reaches(next map[string]candidate, from, to string) bool {
	for id := from; ; {
		if id == to {
			return true
		}
		c, ok := next[id]
		if !ok {
			return false
		}
		id = c.effect.ID
	}
}
