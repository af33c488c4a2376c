// Package brands maps raw detector class labels to canonical brand names.
package brands

import (
	"fmt"
	"strings"

	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
)

type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchContains MatchKind = "contains"
)

// Rule maps a set of class labels to one brand.
type Rule struct {
	Name     string    `mapstructure:"name" json:"name"`
	Match    MatchKind `mapstructure:"match" json:"match"`
	Labels   []string  `mapstructure:"labels" json:"labels"`
	FlatRate *float64  `mapstructure:"flat_rate" json:"flat_rate,omitempty"`
}

// Vocabulary is a validated lookup table. Exact labels are resolved first,
// then prefix and substring rules in configuration order.
type Vocabulary struct {
	rules  []Rule
	exact  map[string]string
	brands []string
}

// New validates rules and builds a Vocabulary.
func New(rules []Rule) (*Vocabulary, error) {
	if len(rules) == 0 {
		return nil, emverrors.Configuration("empty_vocabulary", fmt.Errorf("no brands configured"))
	}
	v := &Vocabulary{exact: make(map[string]string)}
	seen := make(map[string]bool)
	for i, r := range rules {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, emverrors.Configuration("invalid_brand", fmt.Errorf("brand #%d has no name", i+1))
		}
		if seen[r.Name] {
			return nil, emverrors.Configuration("duplicate_brand", fmt.Errorf("brand %s configured twice", r.Name))
		}
		seen[r.Name] = true
		if r.Match == "" {
			r.Match = MatchExact
		}
		if r.Match != MatchExact && r.Match != MatchPrefix && r.Match != MatchContains {
			return nil, emverrors.Configuration("invalid_match", fmt.Errorf("brand %s: unknown match kind %q", r.Name, r.Match))
		}
		labels := make([]string, 0, len(r.Labels))
		for _, l := range r.Labels {
			l = normalize(l)
			if l != "" {
				labels = append(labels, l)
			}
		}
		if len(labels) == 0 {
			return nil, emverrors.Configuration("invalid_brand", fmt.Errorf("brand %s has no labels", r.Name))
		}
		r.Labels = labels
		if r.Match == MatchExact {
			for _, l := range labels {
				if other, ok := v.exact[l]; ok && other != r.Name {
					return nil, emverrors.Configuration("ambiguous_label", fmt.Errorf("label %q maps to both %s and %s", l, other, r.Name))
				}
				v.exact[l] = r.Name
			}
		}
		v.rules = append(v.rules, r)
		v.brands = append(v.brands, r.Name)
	}
	return v, nil
}

// Classify resolves label to a brand. Labels matching no rule are reported as
// unknown and must be dropped by the caller.
func (v *Vocabulary) Classify(label string) (string, bool) {
	l := normalize(label)
	if l == "" {
		return "", false
	}
	if b, ok := v.exact[l]; ok {
		return b, true
	}
	for _, r := range v.rules {
		for _, candidate := range r.Labels {
			switch r.Match {
			case MatchPrefix:
				if strings.HasPrefix(l, candidate) {
					return r.Name, true
				}
			case MatchContains:
				if strings.Contains(l, candidate) {
					return r.Name, true
				}
			}
		}
	}
	return "", false
}

// Brands returns the canonical brand names in configuration order.
func (v *Vocabulary) Brands() []string {
	out := make([]string, len(v.brands))
	copy(out, v.brands)
	return out
}

// FlatRates collects the per-brand flat rates declared alongside the rules.
func (v *Vocabulary) FlatRates() map[string]float64 {
	rates := make(map[string]float64)
	for _, r := range v.rules {
		if r.FlatRate != nil {
			rates[r.Name] = *r.FlatRate
		}
	}
	return rates
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
