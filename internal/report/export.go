package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var metricColumns = []string{"clicks", "impressions", "ctr", "position"}

var intentColumns = []string{"intent", "category", "funnel_stage", "main_keywords"}

// Table lays rep out as a header row followed by one row per result row:
// dimensions, metrics, then intent columns when the report was enriched.
func Table(rep *EnrichedReport) [][]any {
	enriched := rep.Intents != nil

	header := make([]any, 0, len(rep.Dimensions)+len(metricColumns)+len(intentColumns))
	for _, d := range rep.Dimensions {
		header = append(header, d)
	}
	for _, m := range metricColumns {
		header = append(header, m)
	}
	if enriched {
		for _, c := range intentColumns {
			header = append(header, c)
		}
	}

	table := make([][]any, 0, len(rep.Rows)+1)
	table = append(table, header)
	for i, row := range rep.Rows {
		line := make([]any, 0, len(header))
		for d := range rep.Dimensions {
			key := ""
			if d < len(row.Keys) {
				key = row.Keys[d]
			}
			line = append(line, key)
		}
		line = append(line, row.Clicks, row.Impressions, row.CTR, row.Position)
		if enriched {
			if i < len(rep.Intents) {
				r := rep.Intents[i]
				line = append(line, r.Intent, r.Category, r.FunnelStage, strings.Join(r.MainKeywords, ", "))
			} else {
				line = append(line, "", "", "", "")
			}
		}
		table = append(table, line)
	}
	return table
}

// WriteCSV writes Table(rep) as CSV.
func WriteCSV(w io.Writer, rep *EnrichedReport) error {
	cw := csv.NewWriter(w)
	record := []string{}
	for _, line := range Table(rep) {
		record = record[:0]
		for _, v := range line {
			record = append(record, formatCell(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
