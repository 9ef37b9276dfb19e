package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go-citizenlink/spatial"
)

type JurisdictionResolver interface {
	Validate(lat, lng float64) spatial.Result
}

type AddressResolver interface {
	Resolve(ctx context.Context, lat, lng float64) string
}

func parseLatLng(c *gin.Context) (float64, float64, bool) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng query parameters must be numbers"})
		return 0, 0, false
	}
	return lat, lng, true
}

// GetJurisdiction resolves a coordinate against the city boundaries.
func GetJurisdiction(c *gin.Context, v JurisdictionResolver) {
	lat, lng, ok := parseLatLng(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.Validate(lat, lng))
}

// GetAddress labels a coordinate through the geocode cache. An unknown
// address is an empty string, not an error.
func GetAddress(c *gin.Context, g AddressResolver, logger *slog.Logger) {
	if g == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reverse geocoding is not configured"})
		return
	}
	lat, lng, ok := parseLatLng(c)
	if !ok {
		return
	}
	addr := g.Resolve(c.Request.Context(), lat, lng)
	if addr == "" {
		logger.Debug("no address for coordinate", "lat", lat, "lng", lng)
	}
	c.JSON(http.StatusOK, gin.H{"lat": lat, "lng": lng, "address": addr})
}
