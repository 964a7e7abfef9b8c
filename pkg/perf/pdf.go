package perf

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// WriteReportPDF renders the performance report as a PDF document
func (m *Monitor) WriteReportPDF(w io.Writer) error {
	doc := m.Snapshot()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Performance Report")
	pdf.Ln(15)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 6, fmt.Sprintf("Total Calls: %d", doc.Summary.TotalCalls))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Successes: %d | Failures: %d | Timeouts: %d",
		doc.Summary.TotalSuccesses, doc.Summary.TotalFailures, doc.Summary.TotalTimeouts))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Success Rate: %.1f%% | Timeout Rate: %.1f%%",
		doc.Summary.SuccessRatePct, doc.Summary.TimeoutRatePct))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Throughput: %.1f calls/min | Operations: %d | Tripped Breakers: %d",
		doc.Summary.ThroughputPerMinute, doc.Summary.UniqueOperations, doc.Summary.TrippedOperations))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Operations")
	pdf.Ln(10)

	names := make([]string, 0, len(doc.Operations))
	for name := range doc.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		op := doc.Operations[name]
		if i > 0 {
			pdf.Ln(3)
		}

		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(40, 6, name)
		pdf.Ln(6)

		pdf.SetFont("Arial", "", 9)
		pdf.Cell(40, 5, fmt.Sprintf("Calls: %d | OK: %d | Fail: %d | Timeout: %d",
			op.TotalCalls, op.SuccessfulCalls, op.FailedCalls, op.TimeoutCalls))
		pdf.Ln(5)
		pdf.Cell(40, 5, fmt.Sprintf("Avg: %s | Recent Avg: %s | Min: %s | Max: %s",
			op.AverageTime.Round(time.Millisecond),
			op.RecentAverageTime.Round(time.Millisecond),
			op.MinTime.Round(time.Millisecond),
			op.MaxTime.Round(time.Millisecond)))
		pdf.Ln(5)

		if pdf.GetY() > 250 {
			pdf.AddPage()
		}
	}

	if len(doc.PerformanceAlerts) > 0 {
		pdf.Ln(8)
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 10, "Alerts")
		pdf.Ln(10)

		pdf.SetFont("Arial", "", 9)
		for _, alert := range doc.PerformanceAlerts {
			pdf.MultiCell(0, 4, fmt.Sprintf("[%s] %s", alert.Severity, alert.Message), "", "", false)
			pdf.Ln(2)

			if pdf.GetY() > 260 {
				pdf.AddPage()
			}
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to generate PDF: %w", err)
	}

	return nil
}
