package processor

import (
	"strings"
	"time"

	"go-citizenlink/nlp"
	"go-citizenlink/spatial"
	"go-citizenlink/taxonomy"
	"go-citizenlink/types"
)

type outcome struct {
	point    types.ComplaintPoint
	excluded types.ExclusionReason
	override bool
}

// score turns one complaint into a clustering point, or records why it was
// kept out. It only reads shared state.
func (p *Pipeline) score(an *nlp.Analyzer, reg *taxonomy.Registry, c types.Complaint, now time.Time) outcome {
	out := outcome{point: types.ComplaintPoint{Complaint: c}}

	if !spatial.ValidCoordinate(c.Lat, c.Lng) {
		out.excluded = types.ExcludedInvalidCoords
		return out
	}
	if strings.TrimSpace(c.Text) == "" {
		out.excluded = types.ExcludedEmptyText
		return out
	}
	loc := p.validator.Validate(c.Lat, c.Lng)
	if !loc.InBounds {
		out.excluded = types.ExcludedOutOfBounds
		return out
	}

	declared := taxonomy.Normalize(c.Category)
	a := an.Analyze(c.Text, declared, nlp.AsOf(c.SubmittedAt, now))

	// An override stands only where the suggested category can happen.
	override := a.Override && p.validator.Plausible(a.SuggestedCategory, loc.JurisdictionID)
	if !override && a.Excludes(declared) {
		out.excluded = types.ExcludedNegated
		return out
	}

	pt := &out.point
	pt.Effective = declared
	pt.UrgencyScore = a.UrgencyScore
	pt.Flags = a.Flags
	pt.JurisdictionID = loc.JurisdictionID
	pt.Terms = a.Terms

	if override {
		pt.Effective = a.SuggestedCategory
		out.override = true
	}
	if !p.validator.Plausible(pt.Effective, loc.JurisdictionID) {
		pt.Implausible = true
		pt.UrgencyScore = min(pt.UrgencyScore, reg.Scoring.ImplausibleUrgencyCap)
	}
	return out
}
