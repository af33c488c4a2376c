// Package report builds read-only tabular views of a session's ledgers and audit log.
package report

import (
	"time"

	"github.com/sw33tLie/emvscope/pkg/ledger"
)

// Row is one brand's line in the summary table.
type Row struct {
	Brand           string  `json:"brand"`
	Money           float64 `json:"money"`
	Sightings       int     `json:"sightings"`
	UniqueExposures int     `json:"unique_exposures"`
	AverageQuality  float64 `json:"average_quality"` // in [0,1]
	ExposedSeconds  float64 `json:"exposed_seconds"`
}

// Share is one brand's share of voice.
type Share struct {
	Brand         string  `json:"brand"`
	Money         float64 `json:"money"`          // fraction of total money
	ExposedTime   float64 `json:"exposed_time"`   // fraction of total exposed seconds
	SightingShare float64 `json:"sighting_share"` // fraction of total sightings
}

// Totals aggregates every row.
type Totals struct {
	Money           float64 `json:"money"`
	Sightings       int     `json:"sightings"`
	UniqueExposures int     `json:"unique_exposures"`
	ExposedSeconds  float64 `json:"exposed_seconds"`
}

// Report is a snapshot of all ledgers.
type Report struct {
	Rows   []Row  `json:"rows"`
	Totals Totals `json:"totals"`
}

// AuditRow is one line of the exportable audit log.
type AuditRow struct {
	Timestamp  time.Duration `json:"timestamp"`
	FrameIndex int           `json:"frame"`
	Brand      string        `json:"brand"`
	Value      float64       `json:"value"`
}

// Snapshot builds the summary table from ledgers without modifying them.
func Snapshot(ledgers []ledger.BrandLedger) Report {
	r := Report{Rows: make([]Row, 0, len(ledgers))}
	for _, l := range ledgers {
		row := Row{
			Brand:           l.Brand,
			Money:           l.Money,
			Sightings:       l.Sightings,
			UniqueExposures: l.UniqueExposures(),
			AverageQuality:  l.AverageQuality(),
			ExposedSeconds:  l.ExposedSeconds,
		}
		r.Rows = append(r.Rows, row)
		r.Totals.Money += row.Money
		r.Totals.Sightings += row.Sightings
		r.Totals.UniqueExposures += row.UniqueExposures
		r.Totals.ExposedSeconds += row.ExposedSeconds
	}
	return r
}

// ShareOfVoice splits money, exposed time and sightings across brands.
// With nothing measured every share is zero.
func (r Report) ShareOfVoice() []Share {
	shares := make([]Share, 0, len(r.Rows))
	for _, row := range r.Rows {
		shares = append(shares, Share{
			Brand:         row.Brand,
			Money:         fraction(row.Money, r.Totals.Money),
			ExposedTime:   fraction(row.ExposedSeconds, r.Totals.ExposedSeconds),
			SightingShare: fraction(float64(row.Sightings), float64(r.Totals.Sightings)),
		})
	}
	return shares
}

func fraction(part, total float64) float64 {
	if !(total > 0) {
		return 0
	}
	return part / total
}

// Audit converts the audit log into exportable rows, preserving arrival order.
func Audit(entries []ledger.AuditLogEntry) []AuditRow {
	rows := make([]AuditRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, AuditRow{
			Timestamp:  e.Timestamp,
			FrameIndex: e.FrameIndex,
			Brand:      e.Brand,
			Value:      e.Value,
		})
	}
	return rows
}
