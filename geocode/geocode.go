package geocode

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"
)

var ErrNoResults = errors.New("no geocoding results")

// Lookuper is the reverse-geocoding collaborator. Implementations may be
// slow or fail; Cache absorbs both.
type Lookuper interface {
	Lookup(ctx context.Context, lat, lng float64) (string, error)
}

// MapsLookuper resolves coordinates with the Google Maps Geocoding API.
type MapsLookuper struct {
	client *maps.Client
}

// NewMapsLookuper creates a Google Maps client for the given API key.
func NewMapsLookuper(apiKey string) (*MapsLookuper, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("maps api key is empty")
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &MapsLookuper{client: client}, nil
}

// Lookup returns the formatted address of the best reverse-geocoding match.
func (m *MapsLookuper) Lookup(ctx context.Context, lat, lng float64) (string, error) {
	req := &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	}

	results, err := m.client.ReverseGeocode(ctx, req)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", ErrNoResults
	}
	return results[0].FormattedAddress, nil
}
