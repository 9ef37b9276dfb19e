// Package app wires the clustering service together and exposes its
// in-process interface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-citizenlink/config"
	"go-citizenlink/cronjobs"
	"go-citizenlink/db"
	"go-citizenlink/geocode"
	"go-citizenlink/metrics"
	"go-citizenlink/processor"
	"go-citizenlink/routes"
	"go-citizenlink/spatial"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Taxonomy  *taxonomy.Store
	Validator *spatial.Validator
	Geocoder  *geocode.Cache // nil without MAPS_CREDENTIALS
	Source    processor.ComplaintSource
	Pipeline  *processor.Pipeline
	Scheduler *cronjobs.Scheduler
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry

	closers []func() error
}

// New loads the taxonomy and boundaries and builds every component. Any
// error here means the scheduler must not start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	reg, err := taxonomy.LoadFile(cfg.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	a.Taxonomy = taxonomy.NewStore(reg, cfg.TaxonomyPath, logger)
	logger.Info("taxonomy loaded", "path", cfg.TaxonomyPath, "version", reg.Version, "categories", len(reg.Categories()))

	a.Validator, err = spatial.Load(cfg.BoundaryPath, nil)
	if err != nil {
		return nil, fmt.Errorf("load boundaries: %w", err)
	}
	logger.Info("boundaries loaded", "path", cfg.BoundaryPath, "jurisdictions", len(a.Validator.JurisdictionIDs()))

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if err := a.openSource(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var geocoder processor.Geocoder
	if cfg.MapsCredentials != "" {
		lookup, err := geocode.NewMapsLookuper(cfg.MapsCredentials)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("reverse geocoder: %w", err)
		}
		a.Geocoder = geocode.NewCache(lookup, geocode.Config{
			Interval:     cfg.GeocodeInterval,
			Timeout:      cfg.GeocodeTimeout,
			Precision:    cfg.GeocodePrecision,
			RefreshAfter: cfg.GeocodeRefresh,
		}, logger, a.Metrics)
		geocoder = a.Geocoder
	} else {
		logger.Warn("MAPS_CREDENTIALS not set, clusters will have no address labels")
	}

	a.Pipeline = processor.New(a.Source, a.Taxonomy, a.Validator, geocoder,
		processor.Config{Workers: cfg.AnalysisWorkers}, logger)
	a.Scheduler = cronjobs.New(a.Pipeline, cronjobs.Config{
		Interval:      cfg.ClusterInterval,
		InitialDelay:  cfg.ClusterInitialDelay,
		OnlyIfChanged: cfg.OnlyIfChanged,
	}, logger, a.Metrics)
	return a, nil
}

func (a *App) openSource(ctx context.Context) error {
	switch a.Config.ComplaintSource {
	case config.SourceSQLite:
		store, err := db.OpenSQLite(a.Config.SQLitePath, a.Config.ComplaintLookback, a.Logger)
		if err != nil {
			return fmt.Errorf("complaint source: %w", err)
		}
		a.Source = store
		a.closers = append(a.closers, store.Close)
	case config.SourceFirestore:
		client, err := db.InitFirestore(ctx, a.Config.FirebaseCredentials)
		if err != nil {
			return fmt.Errorf("complaint source: %w", err)
		}
		a.Source = db.NewFirestoreSource(client, a.Config.ComplaintsCollection, a.Config.ComplaintLookback, a.Logger)
		a.closers = append(a.closers, client.Close)
	default:
		return fmt.Errorf("unknown complaint source %q", a.Config.ComplaintSource)
	}
	a.Logger.Info("complaint source ready", "source", a.Config.ComplaintSource)
	return nil
}

// Start begins scheduled clustering and, when enabled, taxonomy hot reload.
// The watcher stops with ctx.
func (a *App) Start(ctx context.Context) error {
	if a.Config.WatchTaxonomy {
		go func() {
			if err := a.Taxonomy.Watch(ctx); err != nil {
				a.Logger.Error("taxonomy watcher stopped", "error", err)
			}
		}()
	}
	return a.Scheduler.Start()
}

// Close stops the scheduler, waiting for an in-flight run, then releases
// the complaint source.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Router() *gin.Engine {
	d := routes.Deps{
		Scheduler: a.Scheduler,
		Validator: a.Validator,
		Gatherer:  a.Registry,
		Logger:    a.Logger,
		ClientURL: a.Config.ClientURL,
	}
	if a.Geocoder != nil {
		d.Geocoder = a.Geocoder
	}
	return routes.SetupRouter(d)
}

func (a *App) GetLatestSnapshot() *types.Snapshot { return a.Scheduler.LatestSnapshot() }

func (a *App) TriggerRecluster() { a.Scheduler.TriggerNow() }

func (a *App) GetJurisdiction(lat, lng float64) (string, bool) {
	return a.Validator.Jurisdiction(lat, lng)
}
