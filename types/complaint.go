package types

import "time"

type Category string

// Complaint is the raw record handed over by a complaint source.
type Complaint struct {
	ID          string    `firestore:"-" json:"id"`
	Lat         float64   `firestore:"lat" json:"lat"`
	Lng         float64   `firestore:"lng" json:"lng"`
	Category    Category  `firestore:"category" json:"category"`
	Subcategory string    `firestore:"subcategory,omitempty" json:"subcategory,omitempty"`
	Text        string    `firestore:"text" json:"text"`
	Location    string    `firestore:"location,omitempty" json:"location,omitempty"` // free text the citizen typed, may be empty
	SubmittedAt time.Time `firestore:"submittedAt" json:"submitted_at"`
	Status      string    `firestore:"status,omitempty" json:"status,omitempty"`
}

type Flags struct {
	IsMetaphor        bool `json:"is_metaphor"`
	IsSpeculative     bool `json:"is_speculative"`
	IsNegated         bool `json:"is_negated"`
	ContextSuppressed bool `json:"context_suppressed"`
}

// ComplaintPoint is a complaint after scoring and spatial validation.
// Clustering only reads it.
type ComplaintPoint struct {
	Complaint

	// Effective is the category the point is clustered under. It differs
	// from Category only when an auto-categorization override was honored.
	Effective      Category `json:"effective_category"`
	UrgencyScore   int      `json:"urgency_score"`
	Flags          Flags    `json:"flags"`
	JurisdictionID string   `json:"jurisdiction_id,omitempty"`
	Implausible    bool     `json:"implausible,omitempty"`

	// Terms are the significant tokens of the text, sorted and unique.
	Terms []string `json:"-"`
}

// ExclusionReason explains why a complaint never reached clustering.
type ExclusionReason string

const (
	ExcludedInvalidCoords ExclusionReason = "invalid_coordinates"
	ExcludedEmptyText     ExclusionReason = "empty_text"
	ExcludedOutOfBounds   ExclusionReason = "out_of_bounds"
	ExcludedNegated       ExclusionReason = "negated_category"
)

type Exclusion struct {
	ComplaintID string          `json:"complaint_id"`
	Reason      ExclusionReason `json:"reason"`
}
