package timeoff

import (
	"context"
	"sort"
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// PUBLIC HOLIDAYS
// =============================================================================

// Holiday is a stored holiday record. An empty RegionCode applies to every
// region of the tenant. A recurring holiday repeats on the same month and
// day each year.
type Holiday struct {
	ID         string
	TenantID   generic.TenantID
	RegionCode string
	Date       generic.TimePoint
	Name       string
	Recurring  bool
}

// ResolvedHoliday is one observed holiday date within a resolved range.
type ResolvedHoliday struct {
	Date       generic.TimePoint `json:"date"`
	Name       string            `json:"name"`
	RegionCode string            `json:"regionCode,omitempty"`
}

// HolidayReader is the read side the resolver needs.
type HolidayReader interface {
	ListHolidays(ctx context.Context, tenant generic.TenantID) ([]Holiday, error)
}

// HolidayResolver turns stored holiday records into the set of observed
// dates for a region and range.
type HolidayResolver struct {
	source HolidayReader
}

func NewHolidayResolver(source HolidayReader) *HolidayResolver {
	return &HolidayResolver{source: source}
}

// Resolve returns the holidays observed in region within period, ordered by
// date. A date that appears both entity-wide and for the region is returned
// once, with the region-specific entry. No configured holidays is not an
// error.
func (r *HolidayResolver) Resolve(ctx context.Context, tenant generic.TenantID, region string, period generic.Period) ([]ResolvedHoliday, error) {
	records, err := r.source.ListHolidays(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return ResolveHolidays(records, region, period), nil
}

// ResolveHolidays is the pure part of Resolve.
func ResolveHolidays(records []Holiday, region string, period generic.Period) []ResolvedHoliday {
	byDate := make(map[string]ResolvedHoliday)
	for _, h := range records {
		regional := h.RegionCode != ""
		if regional && !strings.EqualFold(h.RegionCode, region) {
			continue
		}
		for _, d := range occurrences(h, period) {
			key := d.Key()
			existing, seen := byDate[key]
			if seen && (existing.RegionCode != "" || !regional) {
				continue
			}
			byDate[key] = ResolvedHoliday{Date: d, Name: h.Name, RegionCode: h.RegionCode}
		}
	}

	out := make([]ResolvedHoliday, 0, len(byDate))
	for _, h := range byDate {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func occurrences(h Holiday, period generic.Period) []generic.TimePoint {
	if !h.Recurring {
		if period.Contains(h.Date) {
			return []generic.TimePoint{h.Date}
		}
		return nil
	}
	var out []generic.TimePoint
	for year := period.Start.Year(); year <= period.End.Year(); year++ {
		d := generic.NewTimePoint(year, h.Date.Month(), h.Date.Day())
		// Feb 29 only recurs in leap years.
		if d.Month() != h.Date.Month() {
			continue
		}
		if period.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// HolidaySet indexes resolved holidays by date key.
type HolidaySet map[string]ResolvedHoliday

func NewHolidaySet(holidays []ResolvedHoliday) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set[h.Date.Key()] = h
	}
	return set
}

func (s HolidaySet) Lookup(d generic.TimePoint) (ResolvedHoliday, bool) {
	h, ok := s[d.Key()]
	return h, ok
}
