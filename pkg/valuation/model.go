package valuation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
)

type Mode string

const (
	ModeTimeSlot Mode = "time_slot"
	ModeCPM      Mode = "cpm"
	ModeFlat     Mode = "flat"
)

// Config holds the pricing parameters of one audit session.
type Config struct {
	Mode        Mode
	BaseRate    float64
	SlotSeconds float64            // time-slot mode only
	Impressions float64            // CPM mode only
	FlatRates   map[string]float64 // flat mode only, keyed by canonical brand
}

// Preset returns the pricing benchmark named by name ("tv" or "social").
func Preset(name string) (Config, error) {
	switch strings.ToLower(name) {
	case "tv":
		return Config{Mode: ModeTimeSlot, BaseRate: 50000, SlotSeconds: 30}, nil
	case "social":
		return Config{Mode: ModeCPM, BaseRate: 25, Impressions: 100}, nil
	case "flat":
		return Config{Mode: ModeFlat}, nil
	}
	return Config{}, emverrors.Configuration("unknown_benchmark", fmt.Errorf("unknown pricing benchmark %q (available: tv, social, flat)", name))
}

// Validate rejects missing or invalid money-affecting parameters.
// brands lists the canonical brands the session can value; in flat mode every
// one of them needs a rate.
func (c Config) Validate(brands []string) error {
	if !validAmount(c.BaseRate) {
		return emverrors.Configuration("invalid_base_rate", fmt.Errorf("base rate must be a non-negative number, got %v", c.BaseRate))
	}
	switch c.Mode {
	case ModeTimeSlot:
		if !(c.SlotSeconds > 0) || math.IsInf(c.SlotSeconds, 0) {
			return emverrors.Configuration("invalid_slot_duration", fmt.Errorf("slot duration must be positive, got %v", c.SlotSeconds))
		}
	case ModeCPM:
		if !(c.Impressions > 0) || math.IsInf(c.Impressions, 0) {
			return emverrors.Configuration("invalid_impressions", fmt.Errorf("assumed impressions must be positive, got %v", c.Impressions))
		}
	case ModeFlat:
		var missing []string
		for _, b := range brands {
			rate, ok := c.FlatRates[b]
			if !ok {
				missing = append(missing, b)
				continue
			}
			if !validAmount(rate) {
				return emverrors.Configuration("invalid_flat_rate", fmt.Errorf("flat rate for %s must be a non-negative number, got %v", b, rate))
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return emverrors.Configuration("missing_flat_rate", fmt.Errorf("no flat rate configured for: %s", strings.Join(missing, ", ")))
		}
	default:
		return emverrors.Configuration("invalid_mode", fmt.Errorf("unknown pricing mode %q", c.Mode))
	}
	return nil
}

// Value converts the quality of one detection of brand into money.
// It is pure: identical arguments always give the identical, non-negative result.
func (c Config) Value(brand string, quality, fps float64) float64 {
	quality = clamp01(quality)
	var v float64
	switch c.Mode {
	case ModeTimeSlot:
		if !(fps > 0) || !(c.SlotSeconds > 0) {
			return 0
		}
		v = c.BaseRate / c.SlotSeconds / fps * quality
	case ModeCPM:
		if !(fps > 0) {
			return 0
		}
		v = c.BaseRate * c.Impressions / fps * quality
	case ModeFlat:
		v = c.FlatRates[brand]
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
