// Package viz renders schedules and sampling traces in the terminal.
package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"substep/internal/driver"
)

// PlotSchedule renders the noise-level sequence as an ascii graph.
func PlotSchedule(sigmas []float64, width, height int) string {
	if len(sigmas) < 2 {
		return "(schedule too short to plot)"
	}
	return asciigraph.Plot(sigmas,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Caption("sigma per step"),
	)
}

// PlotTrace renders the sample norm and the denoised-estimate norm of a
// finished run.
func PlotTrace(steps []driver.StepRecord, width, height int) string {
	if len(steps) == 0 {
		return "(empty trace)"
	}
	norms := make([]float64, len(steps))
	denoised := make([]float64, len(steps))
	for i, rec := range steps {
		norms[i] = rec.Norm
		denoised[i] = rec.DenoisedNorm
	}
	var b strings.Builder
	b.WriteString(asciigraph.Plot(norms,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Caption("sample norm"),
	))
	b.WriteString("\n\n")
	b.WriteString(asciigraph.Plot(denoised,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Caption("denoised norm"),
	))
	return b.String()
}

// SummarizeTrace is a one-line digest of a run.
func SummarizeTrace(steps []driver.StepRecord) string {
	if len(steps) == 0 {
		return "no steps"
	}
	last := steps[len(steps)-1]
	return fmt.Sprintf("%d steps, sigma %.4f -> %.4f, final norm %.4f",
		len(steps), steps[0].Sigma, last.SigmaNext, last.Norm)
}
