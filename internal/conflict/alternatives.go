package conflict

import (
	"time"

	"github.com/teemow/calmcp/internal/calendar"
)

// alternatives scans forward from the requested start in steps of the
// requested duration and returns the first free windows. A recurring
// candidate is shifted as a whole series.
func (d *Detector) alternatives(c Candidate, occs []calendar.TimeRange, busy []calendar.Occurrence) []calendar.TimeRange {
	if d.Alternatives <= 0 || d.AlternativeHorizon <= 0 {
		return nil
	}
	step := occs[0].Duration()
	if step <= 0 {
		return nil
	}
	loc := c.Zone
	if loc == nil {
		loc = d.Zone
	}
	if loc == nil {
		loc = time.UTC
	}

	var out []calendar.TimeRange
	for i := 1; i <= maxScanSteps && len(out) < d.Alternatives; i++ {
		offset := time.Duration(i) * step
		if offset > d.AlternativeHorizon {
			break
		}
		first := occs[0].Shift(offset)
		if !d.BusinessHours.allows(first, loc) {
			continue
		}
		if len(d.overlaps(occs, offset, busy)) == 0 {
			out = append(out, first)
		}
	}
	return out
}
