package generic

// =============================================================================
// PERIOD - Inclusive calendar range
// =============================================================================

// Period is the inclusive range [Start, End] of calendar days.
//
// Examples:
//   - A leave request from Dec 20 to Jan 5
//   - A service interval from hire date to an as-of date
//   - A fraction-history segment between two change points
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod validates the range. A period where End is before Start is
// rejected; a single-day period (Start == End) is valid.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Length is the number of calendar days in the period, both ends included.
func (p Period) Length() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// IsSingleDay reports whether the period covers exactly one calendar day.
func (p Period) IsSingleDay() bool { return p.Start.Equal(p.End) }

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	days := make([]TimePoint, 0, p.Length())
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Intersect returns the overlap of two periods and whether there is one.
func (p Period) Intersect(other Period) (Period, bool) {
	start := MaxTimePoint(p.Start, other.Start)
	end := MinTimePoint(p.End, other.End)
	if end.Before(start) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

// Overlaps reports whether the two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	_, ok := p.Intersect(other)
	return ok
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// SplitAt partitions the period at the given change points. Each change
// point starts a new segment; points must be ascending and those outside
// (Start, End] are ignored.
// The returned segments are contiguous and cover the period exactly once.
func (p Period) SplitAt(points []TimePoint) []Period {
	var segments []Period
	start := p.Start
	for _, pt := range points {
		if !pt.After(start) || pt.After(p.End) {
			continue
		}
		segments = append(segments, Period{Start: start, End: pt.AddDays(-1)})
		start = pt
	}
	return append(segments, Period{Start: start, End: p.End})
}
