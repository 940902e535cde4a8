package domain

import (
	"strings"
	"time"
)

// Interval is a half-open [Start, End) occupation of a named resource.
// Construction rejects zero-length and inverted intervals outright.
type Interval struct {
	Resource string
	Start    time.Time
	End      time.Time
}

func NewInterval(resource string, start, end time.Time) (Interval, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return Interval{}, NewValidationError("resource", "is required")
	}
	if start.IsZero() || end.IsZero() {
		return Interval{}, NewValidationError("interval", "start and end are required")
	}
	if !end.After(start) {
		return Interval{}, NewValidationError("interval", "end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Interval{Resource: resource, Start: start.UTC(), End: end.UTC()}, nil
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps uses half-open comparison: intervals that merely abut do not
// overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Shift returns a new interval moved by delta; duration is preserved.
// Callers are responsible for rejecting shifts into the past.
func (iv Interval) Shift(delta time.Duration) Interval {
	return Interval{
		Resource: iv.Resource,
		Start:    iv.Start.Add(delta),
		End:      iv.End.Add(delta),
	}
}

func CompareIntervalsByStart(a, b Interval) int {
	switch {
	case a.Start.Before(b.Start):
		return -1
	case a.Start.After(b.Start):
		return 1
	default:
		return 0
	}
}
