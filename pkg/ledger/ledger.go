// Package ledger holds the per-brand accumulators and audit log owned by one audit session.
package ledger

import (
	"fmt"
	"math"
	"time"
)

// BrandLedger accumulates everything measured for one brand during a session.
type BrandLedger struct {
	Brand          string
	Money          float64
	Sightings      int
	QualitySum     float64
	ExposedSeconds float64

	exposures map[string]struct{}
}

// UniqueExposures is the number of distinct exposure identifiers seen.
func (l BrandLedger) UniqueExposures() int { return len(l.exposures) }

// AverageQuality returns QualitySum/Sightings, or 0 with no sightings.
func (l BrandLedger) AverageQuality() float64 {
	if l.Sightings == 0 {
		return 0
	}
	return l.QualitySum / float64(l.Sightings)
}

// HasExposure reports whether id was already counted for this brand.
func (l BrandLedger) HasExposure(id string) bool {
	_, ok := l.exposures[id]
	return ok
}

// AuditLogEntry records one valued detection, in arrival order.
type AuditLogEntry struct {
	Timestamp  time.Duration
	FrameIndex int
	Brand      string
	Value      float64
	ExposureID string
}

// Sighting is one valued, brand-resolved detection waiting to be applied.
type Sighting struct {
	Brand      string
	ExposureID string
	Quality    float64
	Value      float64
	FrameIndex int
	Timestamp  time.Duration
}

// Book owns all ledgers and the audit log of one session.
// It is not safe for concurrent use.
type Book struct {
	ledgers map[string]*BrandLedger
	order   []string
	log     []AuditLogEntry
}

func NewBook() *Book {
	return &Book{ledgers: make(map[string]*BrandLedger)}
}

// ApplyFrame applies all sightings of one frame. Either every sighting is
// applied or, when any of them is invalid, none is.
func (b *Book) ApplyFrame(fps float64, sightings []Sighting) error {
	for i, s := range sightings {
		if s.Brand == "" || s.ExposureID == "" {
			return fmt.Errorf("sighting %d: missing brand or exposure id", i)
		}
		if !(s.Value >= 0) || math.IsInf(s.Value, 0) {
			return fmt.Errorf("sighting %d: invalid value %v", i, s.Value)
		}
		if !(s.Quality >= 0) || s.Quality > 1 {
			return fmt.Errorf("sighting %d: quality %v out of range", i, s.Quality)
		}
	}

	counted := make(map[string]bool)
	for _, s := range sightings {
		l := b.ledgerFor(s.Brand)
		l.Money += s.Value
		l.Sightings++
		l.exposures[s.ExposureID] = struct{}{}
		l.QualitySum += s.Quality
		if !counted[s.Brand] {
			counted[s.Brand] = true
			if fps > 0 {
				l.ExposedSeconds += 1 / fps
			}
		}
		b.log = append(b.log, AuditLogEntry{
			Timestamp:  s.Timestamp,
			FrameIndex: s.FrameIndex,
			Brand:      s.Brand,
			Value:      s.Value,
			ExposureID: s.ExposureID,
		})
	}
	return nil
}

func (b *Book) ledgerFor(brand string) *BrandLedger {
	l, ok := b.ledgers[brand]
	if !ok {
		l = &BrandLedger{Brand: brand, exposures: make(map[string]struct{})}
		b.ledgers[brand] = l
		b.order = append(b.order, brand)
	}
	return l
}

// Ledger returns a copy of the ledger for brand and whether it exists.
func (b *Book) Ledger(brand string) (BrandLedger, bool) {
	l, ok := b.ledgers[brand]
	if !ok {
		return BrandLedger{Brand: brand}, false
	}
	return *l, true
}

// Ledgers returns copies of all ledgers in order of first sighting.
func (b *Book) Ledgers() []BrandLedger {
	out := make([]BrandLedger, 0, len(b.order))
	for _, brand := range b.order {
		out = append(out, *b.ledgers[brand])
	}
	return out
}

// AuditLog returns a copy of the audit log.
func (b *Book) AuditLog() []AuditLogEntry {
	out := make([]AuditLogEntry, len(b.log))
	copy(out, b.log)
	return out
}

// TotalMoney sums money over all ledgers.
func (b *Book) TotalMoney() float64 {
	var total float64
	for _, brand := range b.order {
		total += b.ledgers[brand].Money
	}
	return total
}

// Reset drops every ledger and the audit log.
func (b *Book) Reset() {
	b.ledgers = make(map[string]*BrandLedger)
	b.order = nil
	b.log = nil
}

// Restore rebuilds a ledger from archived totals. Exposure identifiers are
// not archived, so the restored set holds placeholder ids.
func Restore(brand string, money float64, sightings, unique int, qualitySum, exposedSeconds float64) BrandLedger {
	l := BrandLedger{
		Brand:          brand,
		Money:          money,
		Sightings:      sightings,
		QualitySum:     qualitySum,
		ExposedSeconds: exposedSeconds,
		exposures:      make(map[string]struct{}, unique),
	}
	for i := 0; i < unique; i++ {
		l.exposures[fmt.Sprintf("restored:%d", i)] = struct{}{}
	}
	return l
}
