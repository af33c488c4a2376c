package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Precision selects how numbers are written.
type Precision int

const (
	// Display rounds money to cents and quality to one decimal of a percentage.
	Display Precision = iota
	// Full writes every stored digit, for lossless re-import.
	Full
)

var (
	summaryHeader = []string{"brand", "money", "sightings", "unique_exposures", "average_quality", "exposed_seconds"}
	auditHeader   = []string{"timestamp", "frame", "brand", "value"}
)

func formatMoney(v float64, p Precision) string {
	if p == Full {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatQuality(v float64, p Precision) string {
	if p == Full {
		return strconv.FormatFloat(v*100, 'f', -1, 64)
	}
	return strconv.FormatFloat(v*100, 'f', 1, 64)
}

func formatSeconds(v float64, p Precision) string {
	if p == Full {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// WriteCSV writes the summary table: header row, one row per brand, UTF-8.
// Average quality is written as a percentage.
func (r Report) WriteCSV(w io.Writer, p Precision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write([]string{
			row.Brand,
			formatMoney(row.Money, p),
			strconv.Itoa(row.Sightings),
			strconv.Itoa(row.UniqueExposures),
			formatQuality(row.AverageQuality, p),
			formatSeconds(row.ExposedSeconds, p),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAuditCSV writes the audit log, one row per valued detection in arrival order.
// Timestamps are seconds from the start of the asset.
func WriteAuditCSV(w io.Writer, rows []AuditRow, p Precision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(auditHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{
			strconv.FormatFloat(row.Timestamp.Seconds(), 'f', 3, 64),
			strconv.Itoa(row.FrameIndex),
			row.Brand,
			formatMoney(row.Value, p),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SumMoneyColumn re-reads a summary CSV and sums its money column.
func SumMoneyColumn(rd io.Reader) (float64, error) {
	records, err := csv.NewReader(rd).ReadAll()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("empty report")
	}
	col := -1
	for i, h := range records[0] {
		if h == "money" {
			col = i
		}
	}
	if col < 0 {
		return 0, fmt.Errorf("report has no money column")
	}
	var total float64
	for i, rec := range records[1:] {
		v, err := strconv.ParseFloat(rec[col], 64)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		total += v
	}
	return total, nil
}

// Render prints the summary and share of voice as terminal tables.
func (r Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Certified Exposure Audit")
	t.AppendHeader(table.Row{"Brand", "EMV", "Sightings", "Unique", "Avg Quality", "Airtime"})
	for _, row := range r.Rows {
		t.AppendRow(table.Row{
			row.Brand,
			"$" + formatMoney(row.Money, Display),
			row.Sightings,
			row.UniqueExposures,
			formatQuality(row.AverageQuality, Display) + "%",
			formatSeconds(row.ExposedSeconds, Display) + "s",
		})
	}
	t.AppendFooter(table.Row{
		"Total",
		"$" + formatMoney(r.Totals.Money, Display),
		r.Totals.Sightings,
		r.Totals.UniqueExposures,
		"",
		formatSeconds(r.Totals.ExposedSeconds, Display) + "s",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()

	sov := table.NewWriter()
	sov.SetOutputMirror(w)
	sov.SetTitle("Share of Voice")
	sov.AppendHeader(table.Row{"Brand", "By EMV", "By Airtime", "By Sightings"})
	for _, s := range r.ShareOfVoice() {
		sov.AppendRow(table.Row{s.Brand, percent(s.Money), percent(s.ExposedTime), percent(s.SightingShare)})
	}
	sov.Render()
}

func percent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
}
