// Package nlp scores complaint text for urgency and hazard category.
//
// Scoring is local and deterministic: an Analyzer compiled from one
// taxonomy Registry returns the same Analysis for the same input.
package nlp

import (
	"math"
	"sort"
	"strings"
	"time"

	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

type entry struct {
	category types.Category
	term     string
	weight   float64
	weak     bool
}

type contextRule struct {
	name       string
	terms      [][]string
	suppresses map[types.Category]bool
}

// Analyzer is immutable once built and safe for concurrent use.
type Analyzer struct {
	scoring    taxonomy.Scoring
	index      map[string][]entry
	maxN       int
	known      map[types.Category]bool
	precedence func(types.Category) int

	negation    map[string]bool
	speculation map[string]bool
	intensifier map[string]bool
	escalation  [][]string
	metaphors   map[types.Category][][]string
	idioms      [][]string
	context     []contextRule
	markerWords map[string]bool
}

// Hit is one keyword occurrence and what happened to it.
type Hit struct {
	Category    types.Category `json:"category"`
	Term        string         `json:"term"`
	Base        float64        `json:"base"`
	Weight      float64        `json:"weight"` // surviving contribution
	Negated     bool           `json:"negated,omitempty"`
	Speculative bool           `json:"speculative,omitempty"`
	Intensified bool           `json:"intensified,omitempty"`
	Metaphor    bool           `json:"metaphor,omitempty"`
	Suppressed  bool           `json:"suppressed,omitempty"`
}

type Analysis struct {
	UrgencyScore      int                        `json:"urgency_score"`
	SuggestedCategory types.Category             `json:"suggested_category"`
	Override          bool                       `json:"override"`
	Flags             types.Flags                `json:"flags"`
	Evidence          map[types.Category]float64 `json:"evidence"`
	Detected          []types.Category           `json:"detected"`
	Negated           []types.Category           `json:"negated"`
	Hits              []Hit                      `json:"hits"`
	Terms             []string                   `json:"terms"`
}

// Excludes reports whether the declared category was talked away: the
// report only mentions it negated and nothing else supports it.
func (a Analysis) Excludes(declared types.Category) bool {
	declared = taxonomy.Normalize(declared)
	if a.Evidence[declared] > 0 {
		return false
	}
	for _, c := range a.Negated {
		if c == declared {
			return true
		}
	}
	return false
}

type options struct {
	submittedAt time.Time
	now         time.Time
}

type Option func(*options)

// AsOf enables the recency bonus for a report submitted at submittedAt and
// scored at now.
func AsOf(submittedAt, now time.Time) Option {
	return func(o *options) {
		o.submittedAt = submittedAt
		o.now = now
	}
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func phrases(in []string) [][]string {
	out := make([][]string, 0, len(in))
	for _, s := range in {
		if p := phrase(s); len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// NewAnalyzer compiles the keyword tables of reg.
func NewAnalyzer(reg *taxonomy.Registry) *Analyzer {
	a := &Analyzer{
		scoring:     reg.Scoring,
		index:       make(map[string][]entry),
		known:       make(map[types.Category]bool),
		precedence:  reg.Rank,
		negation:    toSet(reg.Markers.Negation),
		speculation: toSet(reg.Markers.Speculation),
		intensifier: toSet(reg.Markers.Intensifier),
		escalation:  phrases(reg.Markers.Escalation),
		metaphors:   make(map[types.Category][][]string),
		idioms:      phrases(reg.Idioms),
	}

	a.markerWords = make(map[string]bool)
	for _, set := range []map[string]bool{a.negation, a.speculation, a.intensifier} {
		for w := range set {
			a.markerWords[w] = true
		}
	}

	for _, cat := range reg.Categories() {
		a.known[cat.Name] = len(cat.Keywords) > 0
		a.metaphors[cat.Name] = phrases(cat.Metaphors)
		for _, kw := range cat.Keywords {
			toks := phrase(kw.Term)
			if len(toks) == 0 {
				continue
			}
			key := strings.Join(toks, " ")
			a.index[key] = append(a.index[key], entry{
				category: cat.Name,
				term:     key,
				weight:   kw.Weight,
				weak:     kw.Weak,
			})
			if len(toks) > a.maxN {
				a.maxN = len(toks)
			}
		}
	}

	for _, rule := range reg.ContextRules {
		cr := contextRule{name: rule.Name, terms: phrases(rule.Terms), suppresses: make(map[types.Category]bool)}
		for _, c := range rule.Suppresses {
			cr.suppresses[c] = true
		}
		a.context = append(a.context, cr)
	}
	return a
}

// Analyze scores text reported under the declared category. Empty text
// scores zero and keeps the declared category.
func (a *Analyzer) Analyze(text string, declared types.Category, opts ...Option) Analysis {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	declared = taxonomy.Normalize(declared)
	res := Analysis{
		SuggestedCategory: declared,
		Evidence:          map[types.Category]float64{},
		Detected:          []types.Category{},
		Negated:           []types.Category{},
		Hits:              []Hit{},
		Terms:             []string{},
	}
	if strings.TrimSpace(text) == "" {
		return res
	}

	cls := clauses(strings.ToLower(text))
	if len(cls) == 0 {
		return res
	}
	suppressed := a.activeSuppressions(cls)

	for _, toks := range cls {
		res.Hits = append(res.Hits, a.scanClause(toks, suppressed)...)
	}

	a.accumulate(&res)
	res.Terms = significantTerms(cls, a.markerWords)
	res.UrgencyScore = a.urgency(text, cls, &res, o)
	a.suggest(&res, declared)
	return res
}

func (a *Analyzer) activeSuppressions(cls [][]string) map[types.Category]bool {
	out := make(map[types.Category]bool)
	for _, rule := range a.context {
		for _, term := range rule.terms {
			hit := false
			for _, toks := range cls {
				if containsPhrase(toks, term) {
					hit = true
					break
				}
			}
			if hit {
				for c := range rule.suppresses {
					out[c] = true
				}
				break
			}
		}
	}
	return out
}

// scanClause matches keywords greedily, longest n-gram first.
func (a *Analyzer) scanClause(toks []string, suppressed map[types.Category]bool) []Hit {
	var hits []Hit
	for i := 0; i < len(toks); {
		n := min(a.maxN, len(toks)-i)
		matched := 0
		for ; n >= 1; n-- {
			entries, ok := a.index[strings.Join(toks[i:i+n], " ")]
			if !ok {
				continue
			}
			for _, e := range entries {
				hits = append(hits, a.evaluate(e, toks, i, n, suppressed))
			}
			matched = n
			break
		}
		if matched == 0 {
			i++
			continue
		}
		i += matched
	}
	return hits
}

func (a *Analyzer) evaluate(e entry, toks []string, at, n int, suppressed map[types.Category]bool) Hit {
	h := Hit{Category: e.category, Term: e.term, Base: e.weight}

	window := toks[max(0, at-a.scoring.NegationWindow):at]
	for _, w := range window {
		switch {
		case a.negation[w]:
			h.Negated = true
		case a.speculation[w]:
			h.Speculative = true
		case a.intensifier[w]:
			h.Intensified = true
		}
	}

	h.Metaphor = overlapsAny(toks, a.metaphors[e.category], at, n) || overlapsAny(toks, a.idioms, at, n)
	h.Suppressed = e.weak && suppressed[e.category]

	if h.Negated || h.Metaphor || h.Suppressed {
		return h
	}
	h.Weight = e.weight
	if h.Speculative {
		h.Weight *= a.scoring.SpeculationDiscount
	}
	if h.Intensified {
		h.Weight *= a.scoring.IntensifierMultiplier
	}
	return h
}

// overlapsAny reports whether any phrase occurrence covers tokens [at, at+n).
func overlapsAny(toks []string, ps [][]string, at, n int) bool {
	for _, p := range ps {
		for _, start := range indexOfPhrase(toks, p) {
			if start < at+n && at < start+len(p) {
				return true
			}
		}
	}
	return false
}

// accumulate folds hits into per-category evidence. A term counts once per
// category no matter how often it is repeated.
func (a *Analyzer) accumulate(res *Analysis) {
	best := make(map[types.Category]map[string]float64)
	negated := make(map[types.Category]bool)

	for _, h := range res.Hits {
		switch {
		case h.Negated:
			res.Flags.IsNegated = true
			negated[h.Category] = true
		case h.Metaphor:
			res.Flags.IsMetaphor = true
		case h.Suppressed:
			res.Flags.ContextSuppressed = true
		}
		if h.Weight <= 0 {
			continue
		}
		if h.Speculative {
			res.Flags.IsSpeculative = true
		}
		terms, ok := best[h.Category]
		if !ok {
			terms = make(map[string]float64)
			best[h.Category] = terms
		}
		terms[h.Term] = math.Max(terms[h.Term], h.Weight)
	}

	for cat, terms := range best {
		var sum float64
		for _, w := range terms {
			sum += w
		}
		res.Evidence[cat] = math.Min(sum, a.scoring.MaxCategoryWeight)
		res.Detected = append(res.Detected, cat)
	}
	for cat := range negated {
		res.Negated = append(res.Negated, cat)
	}
	sortCategories(res.Detected)
	sortCategories(res.Negated)
}

func sortCategories(cs []types.Category) {
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
}

func (a *Analyzer) urgency(text string, cls [][]string, res *Analysis, o options) int {
	var score float64
	for _, ev := range res.Evidence {
		score += ev
	}

	s := a.scoring
	if s.RecencyWindow > 0 && !o.now.IsZero() && !o.submittedAt.IsZero() {
		if age := o.now.Sub(o.submittedAt); age <= s.RecencyWindow {
			score += float64(s.RecencyBonus)
		}
	}

	escalations := 0
	for _, p := range a.escalation {
		for _, toks := range cls {
			if containsPhrase(toks, p) {
				escalations++
				break
			}
		}
	}
	score += float64(min(escalations, 3) * s.EscalationBonus)
	if strings.Contains(text, "!") {
		score += float64(s.EscalationBonus)
	}
	if shouting(text) {
		score += float64(s.ShoutBonus)
	}

	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// suggest proposes a different category when the text clearly supports
// one. Overrides need a margin over the declared category, non-speculative
// support, and several distinct terms unless the declared category has no
// keywords of its own.
func (a *Analyzer) suggest(res *Analysis, declared types.Category) {
	var (
		best   types.Category
		bestEv float64
	)
	for _, cat := range res.Detected {
		if cat == declared {
			continue
		}
		ev := res.Evidence[cat]
		if best == "" || ev > bestEv || (ev == bestEv && a.prefers(cat, best)) {
			best, bestEv = cat, ev
		}
	}
	if best == "" || bestEv-res.Evidence[declared] < a.scoring.OverrideMargin {
		return
	}

	firm := false
	for _, h := range res.Hits {
		if h.Category == best && h.Weight > 0 && !h.Speculative {
			firm = true
			break
		}
	}
	need := a.scoring.MinOverrideTerms
	if !a.known[declared] {
		need = 1
	}
	if !firm || distinctTerms(res.Hits, best) < need {
		return
	}
	res.SuggestedCategory = best
	res.Override = true
}

func (a *Analyzer) prefers(x, y types.Category) bool {
	rx, ry := a.precedence(x), a.precedence(y)
	if rx != ry {
		return rx < ry
	}
	return x < y
}

func distinctTerms(hits []Hit, cat types.Category) int {
	seen := make(map[string]bool)
	for _, h := range hits {
		if h.Category == cat && h.Weight > 0 {
			seen[h.Term] = true
		}
	}
	return len(seen)
}
