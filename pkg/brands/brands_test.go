package brands

import (
	"reflect"
	"testing"

	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
)

func rate(v float64) *float64 { return &v }

func testVocabulary(t *testing.T) *Vocabulary {
	t.Helper()
	v, err := New([]Rule{
		{Name: "Aramco", Match: MatchContains, Labels: []string{"aramco"}, FlatRate: rate(15)},
		{Name: "Valvoline", Match: MatchPrefix, Labels: []string{"valvoline"}},
		{Name: "Pirelli", Labels: []string{"pirelli-logo", "Pirelli Tyre"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}

func TestClassify(t *testing.T) {
	v := testVocabulary(t)
	tests := []struct {
		label string
		brand string
		ok    bool
	}{
		{"aramco", "Aramco", true},
		{"Saudi-ARAMCO-banner", "Aramco", true},
		{"valvoline_sticker", "Valvoline", true},
		{"old-valvoline", "", false},
		{"pirelli-logo", "Pirelli", true},
		{" PIRELLI TYRE ", "Pirelli", true},
		{"pirelli", "", false},
		{"car", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		brand, ok := v.Classify(tt.label)
		if brand != tt.brand || ok != tt.ok {
			t.Fatalf("%q: want (%q, %v), got (%q, %v)", tt.label, tt.brand, tt.ok, brand, ok)
		}
	}
}

func TestExactWinsOverSubstring(t *testing.T) {
	v, err := New([]Rule{
		{Name: "Shell", Match: MatchContains, Labels: []string{"shell"}},
		{Name: "ShellHelix", Labels: []string{"shell-helix"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b, _ := v.Classify("shell-helix"); b != "ShellHelix" {
		t.Fatalf("expected exact match to win, got %s", b)
	}
	if b, _ := v.Classify("shell-v-power"); b != "Shell" {
		t.Fatalf("expected substring match, got %s", b)
	}
}

func TestBrandsAndFlatRates(t *testing.T) {
	v := testVocabulary(t)
	if got, want := v.Brands(), []string{"Aramco", "Valvoline", "Pirelli"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	if got, want := v.FlatRates(), map[string]float64{"Aramco": 15}; !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestNewRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
		code  string
	}{
		{"empty", nil, "empty_vocabulary"},
		{"no name", []Rule{{Labels: []string{"x"}}}, "invalid_brand"},
		{"no labels", []Rule{{Name: "X", Labels: []string{" "}}}, "invalid_brand"},
		{"duplicate", []Rule{{Name: "X", Labels: []string{"x"}}, {Name: "X", Labels: []string{"y"}}}, "duplicate_brand"},
		{"bad match", []Rule{{Name: "X", Match: "regex", Labels: []string{"x"}}}, "invalid_match"},
		{"ambiguous", []Rule{{Name: "X", Labels: []string{"logo"}}, {Name: "Y", Labels: []string{"LOGO"}}}, "ambiguous_label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rules)
			if err == nil {
				t.Fatal("expected error")
			}
			if emverrors.CodeOf(err) != tt.code {
				t.Fatalf("want code %s, got %s (%v)", tt.code, emverrors.CodeOf(err), err)
			}
		})
	}
}
