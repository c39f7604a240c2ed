package conflict

import (
	"sort"

	"github.com/teemow/calmcp/internal/calendar"
)

// Instances expands the recurring templates among events into one event per
// occurrence inside window, sorted by start. An instance keeps the template's
// ID and carries it as RecurringEventID, so it can be addressed as a series.
// Non-recurring events outside window are dropped.
func (d *Detector) Instances(events []calendar.Event, window calendar.TimeRange) ([]calendar.Event, error) {
	x := d.expander()
	var out []calendar.Event
	for _, e := range events {
		if !e.IsRecurring() {
			if e.Range().Overlaps(window) {
				out = append(out, e)
			}
			continue
		}
		occs, err := x.expand(e, window)
		if err != nil {
			return nil, err
		}
		for _, o := range occs {
			inst := e
			inst.Start, inst.End = o.Start, o.End
			inst.Recurrence = nil
			inst.RecurringEventID = e.ID
			out = append(out, inst)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
