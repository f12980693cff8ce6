package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"fullcal/internal/calendar"
	appLog "fullcal/internal/log"
)

const defaultMaxPerEvent = 5000

// ExpandConfig controls how parsed events are turned into entries.
type ExpandConfig struct {
	// Location is the zone entries are materialized in. Nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences that become entries.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxPerEvent caps the occurrences expanded from a single recurring
	// event. Zero means defaultMaxPerEvent.
	MaxPerEvent int
}

// ExpandResult carries the materialized entries plus the UIDs whose
// expansion hit the cap.
type ExpandResult struct {
	Entries   []*calendar.Entry
	Truncated []string
}

// ExpandEntries turns parsed events into calendar entries within the
// configured range. Plain events yield one entry when they overlap the
// range; RRULE events are expanded occurrence by occurrence with EXDATEs
// removed. Override instances (RECURRENCE-ID) are skipped, so a modified
// occurrence shows up with its original times.
//
// Entry ids are derived as "<uid>/<start RFC3339>" so every occurrence of a
// recurring event gets a stable, distinct id. Imported entries are never
// client-editable and carry their source's color.
func ExpandEntries(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxPerEvent
	}

	result.Entries = make([]*calendar.Entry, 0, len(events))

	for _, ev := range events {
		if ev.IsOverride {
			appLog.Debug("skipping override instance", "source", ev.Source.ID, "uid", ev.UID)
			continue
		}
		if ev.RawRRule == "" {
			if e, ok := expandSingle(ev, cfg); ok {
				result.Entries = append(result.Entries, e)
			}
			continue
		}
		entries, hitCap := expandRecurring(ev, cfg)
		result.Entries = append(result.Entries, entries...)
		if hitCap {
			result.Truncated = append(result.Truncated, ev.UID)
			appLog.Warn("recurrence expansion capped", "source", ev.Source.ID, "uid", ev.UID, "cap", cfg.MaxPerEvent)
		}
	}

	return result, nil
}

// EntriesFromICS parses one payload and expands it in a single call.
func EntriesFromICS(src Source, body []byte, cfg ExpandConfig) (ExpandResult, error) {
	events, err := Parse(src, body)
	if err != nil {
		return ExpandResult{}, err
	}
	return ExpandEntries(events, cfg)
}

func expandSingle(ev ParsedEvent, cfg ExpandConfig) (*calendar.Entry, bool) {
	if ev.Start.IsZero() {
		return nil, false
	}
	start, end := normalizeTimes(ev, ev.Start, cfg.Location)
	if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil, false
	}
	return makeEntry(ev, start, end), true
}

func expandRecurring(ev ParsedEvent, cfg ExpandConfig) ([]*calendar.Entry, bool) {
	out := make([]*calendar.Entry, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("unparseable RRULE, keeping base event only", "source", ev.Source.ID, "uid", ev.UID, "rrule", ev.RawRRule)
		if e, ok := expandSingle(ev, cfg); ok {
			out = append(out, e)
		}
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		// Align the exception with the event's own zone before matching.
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxPerEvent {
		occTimes = occTimes[:cfg.MaxPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		start, end := normalizeTimes(ev, occStart, cfg.Location)
		out = append(out, makeEntry(ev, start, end))
	}
	return out, hitCap
}

// normalizeTimes materializes one occurrence at occStart in the display
// zone. All-day occurrences span [date 00:00, next day 00:00) built from the
// occurrence's own calendar date, which sidesteps any zone skew a date-only
// DTSTART picked up during parsing. Timed occurrences keep the original
// duration; a missing DTEND yields a zero-length occurrence.
func normalizeTimes(ev ParsedEvent, occStart time.Time, loc *time.Location) (time.Time, time.Time) {
	if ev.AllDay {
		y, m, d := occStart.Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}

	start := occStart.In(loc)
	var dur time.Duration
	if !ev.End.IsZero() && ev.End.After(ev.Start) {
		dur = ev.End.Sub(ev.Start)
	}
	return start, start.Add(dur)
}

func makeEntry(ev ParsedEvent, start, end time.Time) *calendar.Entry {
	id := ev.UID + "/" + start.Format(time.RFC3339)
	return calendar.NewDetailedEntry(id, ev.Summary, start, end, ev.AllDay, false, ev.Source.Color, ev.Description)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
