// Package export writes run traces to standalone files.
package export

import (
	"fmt"
	"os"
	"strings"

	"substep/internal/driver"
)

// TraceToSVG renders the sample-norm and denoised-norm trajectories of
// a run as an SVG polyline chart.
func TraceToSVG(steps []driver.StepRecord, width, height int) string {
	if len(steps) < 2 {
		return ""
	}

	norms := make([]float64, len(steps))
	denoised := make([]float64, len(steps))
	maxV := 0.0
	for i, rec := range steps {
		norms[i] = rec.Norm
		denoised[i] = rec.DenoisedNorm
		if rec.Norm > maxV {
			maxV = rec.Norm
		}
		if rec.DenoisedNorm > maxV {
			maxV = rec.DenoisedNorm
		}
	}
	if maxV == 0 {
		maxV = 1
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))
	sb.WriteString(polyline(norms, maxV, width, height, "#00ff88"))
	sb.WriteString(polyline(denoised, maxV, width, height, "#00ccff"))
	sb.WriteString("</svg>\n")
	return sb.String()
}

func polyline(values []float64, maxV float64, width, height int, stroke string) string {
	margin := 10.0
	spanX := float64(width) - 2*margin
	spanY := float64(height) - 2*margin

	var pts strings.Builder
	for i, v := range values {
		x := margin + spanX*float64(i)/float64(len(values)-1)
		y := margin + spanY*(1-v/maxV)
		if i > 0 {
			pts.WriteByte(' ')
		}
		fmt.Fprintf(&pts, "%.1f,%.1f", x, y)
	}
	return fmt.Sprintf(`<polyline points="%s" fill="none" stroke="%s" stroke-width="1.5"/>
`, pts.String(), stroke)
}

// WriteTraceSVG writes the chart to a file.
func WriteTraceSVG(path string, steps []driver.StepRecord, width, height int) error {
	svg := TraceToSVG(steps, width, height)
	if svg == "" {
		return fmt.Errorf("trace too short to export")
	}
	return os.WriteFile(path, []byte(svg), 0644)
}
