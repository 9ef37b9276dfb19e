// Package processor turns the current complaint set into one snapshot
// generation: scoring, spatial validation, per-category clustering and
// chain discovery.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go-citizenlink/detection"
	"go-citizenlink/nlp"
	"go-citizenlink/spatial"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

// ErrUnchanged is returned by Run when SkipUnchanged is set and the
// complaint set matches the previous generation.
var ErrUnchanged = errors.New("complaint set unchanged since last generation")

// ComplaintSource hands over the complaints a run should consider.
type ComplaintSource interface {
	ListActiveComplaints(ctx context.Context) ([]types.Complaint, error)
}

// Geocoder labels cluster centroids. It never fails; an unknown address is "".
type Geocoder interface {
	Resolve(ctx context.Context, lat, lng float64) string
}

// RunError wraps a failed run with a summary of its input.
type RunError struct {
	Generation uint64
	Complaints int
	Categories int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("generation %d (%d complaints, %d categories): %v",
		e.Generation, e.Complaints, e.Categories, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

type Request struct {
	Generation uint64
	Previous   *types.Snapshot
	// SkipUnchanged makes Run return ErrUnchanged instead of recomputing an
	// identical complaint set.
	SkipUnchanged bool
}

type Config struct {
	Workers int // analysis workers, defaults to GOMAXPROCS
}

type Pipeline struct {
	source    ComplaintSource
	taxonomy  *taxonomy.Store
	validator *spatial.Validator
	geocoder  Geocoder
	logger    *slog.Logger
	workers   int
	now       func() time.Time

	mu       sync.Mutex
	analyzer *nlp.Analyzer
	builtFor string // taxonomy version the analyzer was built from
}

// New builds a pipeline. geocoder and logger may be nil.
func New(source ComplaintSource, tax *taxonomy.Store, v *spatial.Validator, geocoder Geocoder, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		source:    source,
		taxonomy:  tax,
		validator: v,
		geocoder:  geocoder,
		logger:    logger,
		workers:   workers,
		now:       time.Now,
	}
}

// Validator exposes the spatial validator for jurisdiction lookups.
func (p *Pipeline) Validator() *spatial.Validator { return p.validator }

// analyzerFor returns an analyzer compiled from reg, rebuilding it only when
// the taxonomy version changed.
func (p *Pipeline) analyzerFor(reg *taxonomy.Registry) *nlp.Analyzer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.analyzer == nil || p.builtFor != reg.Version {
		p.analyzer = nlp.NewAnalyzer(reg)
		p.builtFor = reg.Version
	}
	return p.analyzer
}

// Run computes one generation. The registry is read once so a taxonomy
// reload mid-run cannot mix two versions.
func (p *Pipeline) Run(ctx context.Context, req Request) (*types.Snapshot, error) {
	start := p.now()
	reg := p.taxonomy.Current()

	complaints, err := p.source.ListActiveComplaints(ctx)
	if err != nil {
		return nil, &RunError{Generation: req.Generation, Err: fmt.Errorf("list complaints: %w", err)}
	}

	fp := Fingerprint(reg.Version, complaints)
	if req.SkipUnchanged && req.Previous != nil && req.Previous.Fingerprint == fp {
		return nil, ErrUnchanged
	}

	// 1. Score and validate every complaint independently
	outcomes := make([]outcome, len(complaints))
	an := p.analyzerFor(reg)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range complaints {
		g.Go(func() (err error) {
			defer recoverStage(&err, "score complaint "+complaints[i].ID)
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.score(an, reg, complaints[i], start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &RunError{Generation: req.Generation, Complaints: len(complaints), Err: fmt.Errorf("score complaints: %w", err)}
	}

	stats := types.RunStats{
		Complaints: len(complaints),
		Excluded:   make(map[types.ExclusionReason]int),
	}
	exclusions := make([]types.Exclusion, 0)
	byCategory := make(map[types.Category][]types.ComplaintPoint)
	for _, o := range outcomes {
		if o.excluded != "" {
			stats.Excluded[o.excluded]++
			exclusions = append(exclusions, types.Exclusion{ComplaintID: o.point.ID, Reason: o.excluded})
			p.logger.Debug("complaint excluded", "generation", req.Generation, "id", o.point.ID, "reason", o.excluded)
			continue
		}
		if o.override {
			stats.Overrides++
		}
		byCategory[o.point.Effective] = append(byCategory[o.point.Effective], o.point)
	}
	sort.Slice(exclusions, func(i, j int) bool { return exclusions[i].ComplaintID < exclusions[j].ComplaintID })

	categories := make([]types.Category, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	// 2. Per-category clustering in parallel; chains wait for all of them
	params := detection.ParamsFrom(reg)
	perCategory := make([]detection.Result, len(categories))
	cg, cctx := errgroup.WithContext(ctx)
	for k, cat := range categories {
		cg.Go(func() (err error) {
			defer recoverStage(&err, "cluster category "+string(cat))
			if err := cctx.Err(); err != nil {
				return err
			}
			perCategory[k] = detection.Detect(byCategory[cat], cat, reg.TierFor(cat), params, start)
			return nil
		})
	}
	if err := cg.Wait(); err != nil {
		return nil, &RunError{
			Generation: req.Generation,
			Complaints: len(complaints),
			Categories: len(categories),
			Err:        fmt.Errorf("cluster categories: %w", err),
		}
	}

	clusters := make([]types.Cluster, 0)
	noise := make([]types.NoisePoint, 0)
	for _, res := range perCategory {
		clusters = append(clusters, res.Clusters...)
		noise = append(noise, res.Noise...)
	}
	for _, c := range clusters {
		stats.Clustered += c.Size()
	}

	// 3. Chains across categories
	chains := detection.LinkChains(clusters, detection.GraphFrom(reg))

	// 4. Address labels
	if p.geocoder != nil {
		for i := range clusters {
			clusters[i].Address = p.geocoder.Resolve(ctx, clusters[i].Centroid.Lat, clusters[i].Centroid.Lng)
		}
	}

	stats.Duration = p.now().Sub(start)
	return &types.Snapshot{
		Generation:  req.Generation,
		CreatedAt:   start,
		Clusters:    clusters,
		Chains:      chains,
		Stats:       stats,
		Exclusions:  exclusions,
		Noise:       noise,
		Fingerprint: fp,
	}, nil
}

// recoverStage turns a panic in a worker goroutine into that worker's
// error. errgroup does not carry panics back to the caller of Wait.
func recoverStage(err *error, stage string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v\n%s", stage, r, debug.Stack())
	}
}

// Fingerprint identifies a complaint set under one taxonomy version. It
// does not depend on the order complaints were listed in.
func Fingerprint(version string, complaints []types.Complaint) string {
	lines := make([]string, 0, len(complaints))
	for _, c := range complaints {
		lines = append(lines, c.ID+"\x1f"+
			strconv.FormatInt(c.SubmittedAt.UnixNano(), 10)+"\x1f"+
			strconv.FormatFloat(c.Lat, 'g', -1, 64)+"\x1f"+
			strconv.FormatFloat(c.Lng, 'g', -1, 64)+"\x1f"+
			string(c.Category)+"\x1f"+c.Status+"\x1f"+c.Text)
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(version))
	for _, l := range lines {
		h.Write([]byte{0})
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))
}
