package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	aqtable "github.com/aquasecurity/table"
	"github.com/ortelius/vulngraph/enrich"
	"github.com/ortelius/vulngraph/ingest"
	"github.com/ortelius/vulngraph/stream"
	"github.com/ortelius/vulngraph/util"
)

const maxCellWidth = 80

// newTableWriter creates a bordered table writer
func newTableWriter(w io.Writer) *aqtable.Table {
	tw := aqtable.New(w)
	tw.SetBorders(true)
	tw.SetRowLines(true)
	return tw
}

func writeIngestReport(w io.Writer, report ingest.Report) {
	fmt.Fprintf(w, "Ingested %d of %d records in %s (run %s)\n",
		report.Succeeded, report.Total, report.Duration.Round(time.Millisecond), report.RunID)
	if report.OK() {
		return
	}

	tw := newTableWriter(w)
	tw.SetHeaders("#", "Finding", "Error")
	for _, f := range report.Failed {
		tw.AddRow(fmt.Sprint(f.Index), f.FindingID, util.Truncate(f.Error, maxCellWidth))
	}
	tw.Render()
}

func writeEnrichReport(w io.Writer, report enrich.Report) {
	fmt.Fprintf(w, "Evaluated %d candidate pairs: %d linked, %d rejected, %d failed (run %s)\n",
		report.Candidates, report.Linked, report.Rejected, report.Failed, report.RunID)
	if len(report.Outcomes) == 0 {
		return
	}

	tw := newTableWriter(w)
	tw.SetHeaders("Finding", "Related", "Vector", "Verdict", "Detail")
	for _, o := range report.Outcomes {
		detail := o.Reply
		if o.Verdict == enrich.Failed {
			detail = o.Stage + ": " + o.Error
		}
		tw.AddRow(o.Pair.ID1, o.Pair.ID2, o.Pair.Vector, o.Verdict.String(), util.Truncate(oneLine(detail), maxCellWidth))
	}
	tw.Render()
}

func writeStep(w io.Writer, step stream.Step) {
	style := stream.Presentation(step.Kind())
	label := step.Name
	if step.Agent != "" {
		label += " [" + step.Agent + "]"
	}
	fmt.Fprintln(w, style.Render(label+": "+step.Display()))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
