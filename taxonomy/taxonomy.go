// Package taxonomy loads the category taxonomy document and compiles it
// into an immutable, typed Registry.
package taxonomy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"go-citizenlink/types"
)

// ErrInvalid wraps every schema or cross-reference violation.
var ErrInvalid = errors.New("invalid taxonomy")

var validate = validator.New()

// Document mirrors the YAML configuration file.
type Document struct {
	DefaultTier  string                 `yaml:"default_tier" validate:"required"`
	Tiers        map[string]TierDoc     `yaml:"tiers" validate:"required,min=1,dive"`
	Categories   map[string]CategoryDoc `yaml:"categories" validate:"required,min=1,dive"`
	ContextRules []ContextRuleDoc       `yaml:"context_rules" validate:"dive"`
	Markers      MarkersDoc             `yaml:"markers"`
	Idioms       []string               `yaml:"idioms"`
	Relations    []RelationDoc          `yaml:"relations" validate:"dive"`
	ChainRadiusM float64                `yaml:"chain_radius_m" validate:"gt=0"`
	Precedence   []string               `yaml:"precedence"`
	Scoring      ScoringDoc             `yaml:"scoring"`
	Clustering   ClusteringDoc          `yaml:"clustering"`
}

type TierDoc struct {
	EpsilonM    float64       `yaml:"epsilon_m" validate:"gt=0"`
	MinPts      int           `yaml:"min_pts" validate:"min=1"`
	DecayWindow time.Duration `yaml:"decay_window" validate:"gte=0"`
}

type CategoryDoc struct {
	Tier      string       `yaml:"tier" validate:"required"`
	Keywords  []KeywordDoc `yaml:"keywords" validate:"dive"`
	Metaphors []string     `yaml:"metaphors"`
}

type KeywordDoc struct {
	Term   string  `yaml:"term" validate:"required"`
	Weight float64 `yaml:"weight" validate:"gt=0,lte=100"`
	Weak   bool    `yaml:"weak"`
}

type ContextRuleDoc struct {
	Name       string   `yaml:"name" validate:"required"`
	Terms      []string `yaml:"terms" validate:"min=1,dive,required"`
	Suppresses []string `yaml:"suppresses" validate:"min=1,dive,required"`
}

type MarkersDoc struct {
	Negation    []string `yaml:"negation"`
	Speculation []string `yaml:"speculation"`
	Intensifier []string `yaml:"intensifier"`
	Escalation  []string `yaml:"escalation"`
}

type RelationDoc struct {
	Name   string `yaml:"name" validate:"required"`
	Cause  string `yaml:"cause" validate:"required"`
	Effect string `yaml:"effect" validate:"required"`
}

type ScoringDoc struct {
	NegationWindow        int           `yaml:"negation_window" validate:"min=1"`
	SpeculationDiscount   float64       `yaml:"speculation_discount" validate:"gt=0,lte=1"`
	IntensifierMultiplier float64       `yaml:"intensifier_multiplier" validate:"gte=1"`
	OverrideMargin        float64       `yaml:"override_margin" validate:"gte=0"`
	MinOverrideTerms      int           `yaml:"min_override_terms" validate:"min=1"`
	MaxCategoryWeight     float64       `yaml:"max_category_weight" validate:"gt=0"`
	RecencyWindow         time.Duration `yaml:"recency_window" validate:"gte=0"`
	RecencyBonus          int           `yaml:"recency_bonus" validate:"gte=0,lte=100"`
	EscalationBonus       int           `yaml:"escalation_bonus" validate:"gte=0,lte=100"`
	ShoutBonus            int           `yaml:"shout_bonus" validate:"gte=0,lte=100"`
	ImplausibleUrgencyCap int           `yaml:"implausible_urgency_cap" validate:"gte=0,lte=100"`
}

type ClusteringDoc struct {
	SimilarityMinShared int     `yaml:"similarity_min_shared" validate:"min=1"`
	SimilarityBoost     float64 `yaml:"similarity_boost" validate:"gte=0,lt=1"`
	DecayPlateau        float64 `yaml:"decay_plateau" validate:"gte=0,lte=1"`
}

// LoadFile reads and compiles the taxonomy at path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes, validates and compiles a taxonomy document.
func Parse(data []byte) (*Registry, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	doc.applyDefaults()
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := doc.checkReferences(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sum := sha256.Sum256(data)
	return compile(&doc, hex.EncodeToString(sum[:8])), nil
}

func (d *Document) applyDefaults() {
	s := &d.Scoring
	if s.NegationWindow == 0 {
		s.NegationWindow = 3
	}
	if s.SpeculationDiscount == 0 {
		s.SpeculationDiscount = 0.5
	}
	if s.IntensifierMultiplier == 0 {
		s.IntensifierMultiplier = 1.5
	}
	if s.OverrideMargin == 0 {
		s.OverrideMargin = 30
	}
	if s.MinOverrideTerms == 0 {
		s.MinOverrideTerms = 2
	}
	if s.MaxCategoryWeight == 0 {
		s.MaxCategoryWeight = 70
	}
	if s.ImplausibleUrgencyCap == 0 {
		s.ImplausibleUrgencyCap = 30
	}

	c := &d.Clustering
	if c.SimilarityMinShared == 0 {
		c.SimilarityMinShared = 2
	}
	if c.DecayPlateau == 0 {
		c.DecayPlateau = 0.5
	}

	if d.ChainRadiusM == 0 {
		d.ChainRadiusM = 500
	}
}

// checkReferences catches what struct tags cannot: names pointing at tiers
// or categories that do not exist.
func (d *Document) checkReferences() error {
	var problems []string

	if _, ok := d.Tiers[d.DefaultTier]; !ok {
		problems = append(problems, fmt.Sprintf("default_tier %q is not defined", d.DefaultTier))
	}

	cats := make(map[types.Category]bool, len(d.Categories))
	for name, cat := range d.Categories {
		cats[Normalize(name)] = true
		if _, ok := d.Tiers[cat.Tier]; !ok {
			problems = append(problems, fmt.Sprintf("category %q uses unknown tier %q", name, cat.Tier))
		}
	}

	for _, rule := range d.ContextRules {
		for _, s := range rule.Suppresses {
			if !cats[Normalize(s)] {
				problems = append(problems, fmt.Sprintf("context rule %q suppresses unknown category %q", rule.Name, s))
			}
		}
	}
	for _, rel := range d.Relations {
		if !cats[Normalize(rel.Cause)] {
			problems = append(problems, fmt.Sprintf("relation %q has unknown cause %q", rel.Name, rel.Cause))
		}
		if !cats[Normalize(rel.Effect)] {
			problems = append(problems, fmt.Sprintf("relation %q has unknown effect %q", rel.Name, rel.Effect))
		}
	}
	for _, p := range d.Precedence {
		if !cats[Normalize(p)] {
			problems = append(problems, fmt.Sprintf("precedence lists unknown category %q", p))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(strings.Join(problems, "; "))
}
