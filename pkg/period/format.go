package period

import (
	"fmt"
	"math"
)

// FormatDuration renders minutes for display: under an hour as minutes, otherwise hours.
// Negative input is clamped to zero.
func FormatDuration(minutes float64) string {
	if minutes < 0 || math.IsNaN(minutes) {
		minutes = 0
	}
	// Values that round up to 60.00 display as hours.
	if label := fmt.Sprintf("%.2f", minutes); minutes < 60 && label != "60.00" {
		return label + " min"
	}
	return fmt.Sprintf("%.2f hrs", minutes/60)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
