package harvest

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderSummary writes the per-municipality outcome table for one run.
func RenderSummary(w io.Writer, summary Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Harvest run %s", summary.RunID)

	t.AppendHeader(table.Row{"Status", "CSD", "Municipality", "Downloads", "Found", "Years", "Message"})
	for _, res := range summary.Results {
		if res.State == "" {
			continue
		}
		t.AppendRow(table.Row{
			res.Status,
			res.Entry.CSDID,
			res.Entry.MunicipalityName,
			res.Downloads,
			res.Found,
			res.Years,
			res.Message,
		})
	}
	t.Render()
}
