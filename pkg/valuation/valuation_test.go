package valuation

import (
	"math"
	"testing"

	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
)

var frame800x600 = detection.FrameContext{Width: 800, Height: 600, FPS: 30}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestQualityScenarioA(t *testing.T) {
	d := detection.Detection{Box: detection.BoundingBox{XMax: 40, YMax: 30}, Confidence: 0.8}
	if got := SizeComponent(d, frame800x600); !almostEqual(got, 0.125) {
		t.Fatalf("size component: want 0.125, got %v", got)
	}
	if got := Quality(d, frame800x600); !almostEqual(got, 0.3275) {
		t.Fatalf("quality: want 0.3275, got %v", got)
	}
}

func TestQualityZeroAreaUsesConfidenceOnly(t *testing.T) {
	for _, conf := range []float64{0, 0.25, 0.4, 0.99, 1} {
		d := detection.Detection{Box: detection.BoundingBox{XMin: 10, YMin: 10, XMax: 10, YMax: 90}, Confidence: conf}
		if got := Quality(d, frame800x600); got != conf*ConfidenceWeight {
			t.Fatalf("conf %v: want %v, got %v", conf, conf*ConfidenceWeight, got)
		}
	}
}

func TestQualitySizeCap(t *testing.T) {
	// 100x100 on 800x600 is ~2% coverage, x50 > 1.
	for _, conf := range []float64{0.1, 0.5, 0.9} {
		d := detection.Detection{Box: detection.BoundingBox{XMax: 100, YMax: 100}, Confidence: conf}
		if got := SizeComponent(d, frame800x600); got != 1.0 {
			t.Fatalf("expected capped size component, got %v", got)
		}
		if got := Quality(d, frame800x600); got != 0.7+0.3*conf {
			t.Fatalf("conf %v: want %v, got %v", conf, 0.7+0.3*conf, got)
		}
	}
}

func TestQualityClampsConfidence(t *testing.T) {
	tests := []struct {
		conf float64
		want float64
	}{
		{-0.5, 0},
		{1.7, ConfidenceWeight},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		d := detection.Detection{Confidence: tt.conf}
		if got := Quality(d, frame800x600); got != tt.want {
			t.Fatalf("conf %v: want %v, got %v", tt.conf, tt.want, got)
		}
	}
}

func TestQualityUnknownFrameSize(t *testing.T) {
	d := detection.Detection{Box: detection.BoundingBox{XMax: 40, YMax: 30}, Confidence: 1}
	if got := Quality(d, detection.FrameContext{}); got != ConfidenceWeight {
		t.Fatalf("want %v, got %v", ConfidenceWeight, got)
	}
}

func TestValueScenarioB(t *testing.T) {
	cfg, err := Preset("tv")
	if err != nil {
		t.Fatalf("preset: %v", err)
	}
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := cfg.Value("Aramco", 0.3275, 30)
	if math.Round(got*100)/100 != 18.19 {
		t.Fatalf("want 18.19, got %v", got)
	}
}

func TestValueCPM(t *testing.T) {
	cfg, _ := Preset("social")
	got := cfg.Value("Aramco", 0.5, 25)
	if !almostEqual(got, 25*100/25.0*0.5) {
		t.Fatalf("want 50, got %v", got)
	}
}

func TestValueFlatIgnoresQuality(t *testing.T) {
	cfg := Config{Mode: ModeFlat, FlatRates: map[string]float64{"BrandX": 15}}
	if err := cfg.Validate([]string{"BrandX"}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, q := range []float64{0, 0.3, 1} {
		if got := cfg.Value("BrandX", q, 30); got != 15 {
			t.Fatalf("quality %v: want 15, got %v", q, got)
		}
	}
}

func TestValueDeterministicAndNonNegative(t *testing.T) {
	configs := []Config{
		{Mode: ModeTimeSlot, BaseRate: 50000, SlotSeconds: 30},
		{Mode: ModeCPM, BaseRate: 25, Impressions: 100},
		{Mode: ModeFlat, FlatRates: map[string]float64{"a": 3}},
	}
	for _, cfg := range configs {
		for _, q := range []float64{-1, 0, 0.33, 1, 2} {
			for _, fps := range []float64{0, -30, 24, 60} {
				a := cfg.Value("a", q, fps)
				b := cfg.Value("a", q, fps)
				if a != b {
					t.Fatalf("%s: non-deterministic value %v vs %v", cfg.Mode, a, b)
				}
				if a < 0 {
					t.Fatalf("%s: negative value %v", cfg.Mode, a)
				}
			}
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		brands []string
		code   string
	}{
		{"zero slot", Config{Mode: ModeTimeSlot, BaseRate: 10}, nil, "invalid_slot_duration"},
		{"negative rate", Config{Mode: ModeTimeSlot, BaseRate: -1, SlotSeconds: 30}, nil, "invalid_base_rate"},
		{"nan rate", Config{Mode: ModeCPM, BaseRate: math.NaN(), Impressions: 1}, nil, "invalid_base_rate"},
		{"zero impressions", Config{Mode: ModeCPM, BaseRate: 25}, nil, "invalid_impressions"},
		{"missing flat", Config{Mode: ModeFlat, FlatRates: map[string]float64{"a": 1}}, []string{"a", "b"}, "missing_flat_rate"},
		{"negative flat", Config{Mode: ModeFlat, FlatRates: map[string]float64{"a": -2}}, []string{"a"}, "invalid_flat_rate"},
		{"unknown mode", Config{Mode: "barter"}, nil, "invalid_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.brands)
			if err == nil {
				t.Fatal("expected error")
			}
			if emverrors.CategoryOf(err) != emverrors.CategoryConfiguration {
				t.Fatalf("unexpected category %q", emverrors.CategoryOf(err))
			}
			if emverrors.CodeOf(err) != tt.code {
				t.Fatalf("want code %s, got %s", tt.code, emverrors.CodeOf(err))
			}
		})
	}
}

func TestPresetUnknown(t *testing.T) {
	if _, err := Preset("radio"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}
