package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go-citizenlink/cronjobs"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

// Scheduler is the part of the clustering scheduler the read API uses.
type Scheduler interface {
	LatestSnapshot() *types.Snapshot
	TriggerNow()
	Status() cronjobs.Status
}

// GetSnapshot returns the latest published snapshot. ?category= narrows
// clusters and noise to one category and chains to those touching it.
func GetSnapshot(c *gin.Context, s Scheduler) {
	snap := s.LatestSnapshot()
	c.Header("X-Snapshot-Generation", strconv.FormatUint(snap.Generation, 10))

	cat := c.Query("category")
	if cat == "" {
		c.JSON(http.StatusOK, snap)
		return
	}

	want := taxonomy.Normalize(cat)
	filtered := *snap
	filtered.Clusters = []types.Cluster{}
	keep := make(map[string]bool)
	for _, cl := range snap.Clusters {
		if cl.Category == want {
			filtered.Clusters = append(filtered.Clusters, cl)
			keep[cl.ID] = true
		}
	}
	filtered.Noise = []types.NoisePoint{}
	for _, np := range snap.Noise {
		if np.Category == want {
			filtered.Noise = append(filtered.Noise, np)
		}
	}
	filtered.Chains = []types.CausalChain{}
	for _, ch := range snap.Chains {
		for _, id := range ch.ClusterIDs {
			if keep[id] {
				filtered.Chains = append(filtered.Chains, ch)
				break
			}
		}
	}
	c.JSON(http.StatusOK, filtered)
}

func GetCluster(c *gin.Context, s Scheduler) {
	snap := s.LatestSnapshot()
	cl, ok := snap.ClusterByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "cluster not found", "generation": snap.Generation})
		return
	}
	c.JSON(http.StatusOK, cl)
}

// TriggerRecluster asks for an immediate run. It does not wait for it.
func TriggerRecluster(c *gin.Context, s Scheduler) {
	s.TriggerNow()
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "recluster requested",
		"generation": s.LatestSnapshot().Generation,
	})
}

func GetStatus(c *gin.Context, s Scheduler) {
	c.JSON(http.StatusOK, s.Status())
}
