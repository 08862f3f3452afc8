package utils

import (
	"fmt"
	"strings"
	"time"
)

const (
	snapshotTimestampLayout = "2006-01-02 15:04:05"
	byteUnitStep            = 1024
)

var byteUnits = []string{"b", "kb", "mb", "gb", "tb"}

// FormatFileSize renders a byte count with a lower-case unit, e.g. "1.5kb".
func FormatFileSize(byteCount int64) string {
	if byteCount <= 0 {
		return "0b"
	}
	if byteCount < byteUnitStep {
		return fmt.Sprintf("%db", byteCount)
	}
	scaled := float64(byteCount)
	unit := 0
	for scaled >= byteUnitStep && unit < len(byteUnits)-1 {
		scaled /= byteUnitStep
		unit++
	}
	if scaled >= 10 {
		return fmt.Sprintf("%.0f%s", scaled, byteUnits[unit])
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", scaled), ".0") + byteUnits[unit]
}

// FormatTimestamp renders a snapshot build time in local time with second precision.
// The zero time renders as "never".
func FormatTimestamp(value time.Time) string {
	if value.IsZero() {
		return "never"
	}
	return value.Local().Format(snapshotTimestampLayout)
}
