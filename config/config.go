// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SourceFirestore = "firestore"
	SourceSQLite    = "sqlite"
)

type Config struct {
	Port      string
	ClientURL string // dashboard origin allowed by CORS

	TaxonomyPath  string
	BoundaryPath  string
	WatchTaxonomy bool

	ClusterInterval     time.Duration
	ClusterInitialDelay time.Duration
	OnlyIfChanged       bool
	AnalysisWorkers     int

	ComplaintSource      string
	SQLitePath           string
	FirebaseCredentials  string // base64 service account JSON
	ComplaintsCollection string
	ComplaintLookback    time.Duration

	MapsCredentials  string // empty disables address labels
	GeocodeInterval  time.Duration
	GeocodeTimeout   time.Duration
	GeocodePrecision int
	GeocodeRefresh   time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads settings through lookup, applying defaults for unset
// variables, and validates the result.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		Port:      r.str("PORT", "8080"),
		ClientURL: r.str("CLIENT_URL", ""),

		TaxonomyPath:  r.str("TAXONOMY_PATH", "data/taxonomy.yaml"),
		BoundaryPath:  r.str("BOUNDARY_PATH", "data/boundaries.geojson"),
		WatchTaxonomy: r.boolean("WATCH_TAXONOMY", false),

		ClusterInterval:     r.duration("CLUSTER_INTERVAL", 5*time.Minute),
		ClusterInitialDelay: r.duration("CLUSTER_INITIAL_DELAY", 10*time.Second),
		OnlyIfChanged:       r.boolean("CLUSTER_ONLY_IF_CHANGED", false),
		AnalysisWorkers:     r.integer("ANALYSIS_WORKERS", 0),

		ComplaintSource:      strings.ToLower(r.str("COMPLAINT_SOURCE", SourceFirestore)),
		SQLitePath:           r.str("SQLITE_PATH", "data/complaints.db"),
		FirebaseCredentials:  r.str("FIREBASE_CREDENTIALS", ""),
		ComplaintsCollection: r.str("COMPLAINTS_COLLECTION", "complaints"),
		ComplaintLookback:    r.duration("COMPLAINT_LOOKBACK", 7*24*time.Hour),

		MapsCredentials:  r.str("MAPS_CREDENTIALS", ""),
		GeocodeInterval:  r.duration("GEOCODE_INTERVAL", time.Second),
		GeocodeTimeout:   r.duration("GEOCODE_TIMEOUT", 5*time.Second),
		GeocodePrecision: r.integer("GEOCODE_PRECISION", 4),
		GeocodeRefresh:   r.duration("GEOCODE_REFRESH", 0),

		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "text"),
	}
	if len(r.errs) > 0 {
		return cfg, errors.Join(r.errs...)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Port))
	}
	if c.ClusterInterval < time.Second {
		errs = append(errs, fmt.Errorf("CLUSTER_INTERVAL %s must be at least 1s", c.ClusterInterval))
	}
	if c.AnalysisWorkers < 0 {
		errs = append(errs, errors.New("ANALYSIS_WORKERS must not be negative"))
	}
	switch c.ComplaintSource {
	case SourceFirestore:
		if c.FirebaseCredentials == "" {
			errs = append(errs, errors.New("FIREBASE_CREDENTIALS is required for the firestore complaint source"))
		}
	case SourceSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite complaint source"))
		}
	default:
		errs = append(errs, fmt.Errorf("COMPLAINT_SOURCE %q must be %s or %s", c.ComplaintSource, SourceFirestore, SourceSQLite))
	}
	if c.ComplaintLookback < 0 {
		errs = append(errs, errors.New("COMPLAINT_LOOKBACK must not be negative"))
	}
	if c.GeocodePrecision < 1 || c.GeocodePrecision > 8 {
		errs = append(errs, fmt.Errorf("GEOCODE_PRECISION %d must be between 1 and 8", c.GeocodePrecision))
	}
	if c.GeocodeInterval <= 0 || c.GeocodeTimeout <= 0 {
		errs = append(errs, errors.New("GEOCODE_INTERVAL and GEOCODE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
