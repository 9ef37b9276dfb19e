package taxonomy

import (
	"sort"
	"strings"
	"time"

	"go-citizenlink/types"
)

type Keyword struct {
	Term   string
	Weight float64
	Weak   bool
}

type Category struct {
	Name      types.Category
	Tier      string
	Keywords  []Keyword
	Metaphors []string
}

type ContextRule struct {
	Name       string
	Terms      []string
	Suppresses []types.Category
}

type Markers struct {
	Negation    []string
	Speculation []string
	Intensifier []string
	Escalation  []string
}

// Relation is one edge of the static causal graph.
type Relation struct {
	Name   string
	Cause  types.Category
	Effect types.Category
}

type Scoring struct {
	NegationWindow        int
	SpeculationDiscount   float64
	IntensifierMultiplier float64
	OverrideMargin        float64
	MinOverrideTerms      int
	MaxCategoryWeight     float64
	RecencyWindow         time.Duration
	RecencyBonus          int
	EscalationBonus       int
	ShoutBonus            int
	ImplausibleUrgencyCap int
}

type Clustering struct {
	SimilarityMinShared int
	SimilarityBoost     float64
	DecayPlateau        float64
}

// Registry is the compiled taxonomy. It is never modified after Parse
// returns it; a reload builds a new Registry.
type Registry struct {
	Version string

	tiers       map[string]types.Tier
	defaultTier types.Tier
	categories  map[types.Category]Category
	names       []types.Category

	ContextRules []ContextRule
	Markers      Markers
	Idioms       []string
	Relations    []Relation
	ChainRadiusM float64
	Precedence   []types.Category
	Scoring      Scoring
	Clustering   Clustering
}

// Normalize maps free-form category labels ("Pipe Burst", " FIRE ") onto
// registry keys.
func Normalize[S ~string](s S) types.Category {
	c := strings.ToLower(strings.TrimSpace(string(s)))
	c = strings.ReplaceAll(c, "_", "-")
	c = strings.Join(strings.Fields(c), "-")
	return types.Category(c)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compile(doc *Document, version string) *Registry {
	r := &Registry{
		Version:      version,
		tiers:        make(map[string]types.Tier, len(doc.Tiers)),
		categories:   make(map[types.Category]Category, len(doc.Categories)),
		Idioms:       lowerAll(doc.Idioms),
		ChainRadiusM: doc.ChainRadiusM,
		Markers: Markers{
			Negation:    lowerAll(doc.Markers.Negation),
			Speculation: lowerAll(doc.Markers.Speculation),
			Intensifier: lowerAll(doc.Markers.Intensifier),
			Escalation:  lowerAll(doc.Markers.Escalation),
		},
		Scoring:    Scoring(doc.Scoring),
		Clustering: Clustering(doc.Clustering),
	}

	for name, t := range doc.Tiers {
		r.tiers[name] = types.Tier{
			Name:        name,
			Epsilon:     t.EpsilonM,
			MinPts:      t.MinPts,
			DecayWindow: t.DecayWindow,
		}
	}
	r.defaultTier = r.tiers[doc.DefaultTier]

	for name, c := range doc.Categories {
		key := Normalize(name)
		cat := Category{Name: key, Tier: c.Tier, Metaphors: lowerAll(c.Metaphors)}
		for _, kw := range c.Keywords {
			cat.Keywords = append(cat.Keywords, Keyword{
				Term:   strings.ToLower(strings.TrimSpace(kw.Term)),
				Weight: kw.Weight,
				Weak:   kw.Weak,
			})
		}
		r.categories[key] = cat
		r.names = append(r.names, key)
	}
	sort.Slice(r.names, func(i, j int) bool { return r.names[i] < r.names[j] })

	for _, rule := range doc.ContextRules {
		cr := ContextRule{Name: rule.Name, Terms: lowerAll(rule.Terms)}
		for _, s := range rule.Suppresses {
			cr.Suppresses = append(cr.Suppresses, Normalize(s))
		}
		r.ContextRules = append(r.ContextRules, cr)
	}
	for _, rel := range doc.Relations {
		r.Relations = append(r.Relations, Relation{
			Name:   rel.Name,
			Cause:  Normalize(rel.Cause),
			Effect: Normalize(rel.Effect),
		})
	}
	for _, p := range doc.Precedence {
		r.Precedence = append(r.Precedence, Normalize(p))
	}
	return r
}

// TierFor resolves a category to its tier. Categories missing from the
// taxonomy fall back to the default tier.
func (r *Registry) TierFor(cat types.Category) types.Tier {
	if c, ok := r.categories[Normalize(cat)]; ok {
		return r.tiers[c.Tier]
	}
	return r.defaultTier
}

func (r *Registry) Tier(name string) (types.Tier, bool) {
	t, ok := r.tiers[name]
	return t, ok
}

func (r *Registry) DefaultTier() types.Tier { return r.defaultTier }

func (r *Registry) Category(cat types.Category) (Category, bool) {
	c, ok := r.categories[Normalize(cat)]
	return c, ok
}

// Categories returns every category sorted by name.
func (r *Registry) Categories() []Category {
	out := make([]Category, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.categories[n])
	}
	return out
}

// Rank orders categories for tie-breaks: lower wins. Categories missing
// from the precedence list rank after all listed ones.
func (r *Registry) Rank(cat types.Category) int {
	for i, p := range r.Precedence {
		if p == cat {
			return i
		}
	}
	return len(r.Precedence)
}
