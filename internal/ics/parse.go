package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "fullcal/internal/log"
)

// ParsedEvent is one VEVENT normalized for expansion.
type ParsedEvent struct {
	Source Source

	UID         string
	Summary     string
	Description string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// IsOverride marks a VEVENT carrying RECURRENCE-ID. Expansion skips
	// these and keeps the unmodified base instance instead.
	IsOverride bool
}

// Parse reads a single ICS payload into ParsedEvents. Individual broken
// VEVENTs are logged and skipped so one bad event cannot take down the whole
// feed. Recurrences are recorded raw here and expanded in ExpandEntries.
func Parse(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(src, ve)
		if perr != nil {
			appLog.Warn("skipping broken VEVENT", "source", src.ID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("feed parsed", "source", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	// The library resolves VTIMEZONE/TZID when building these values. A
	// missing or unparseable DTSTART makes the event unplaceable, so it is
	// surfaced here and skipped through Parse's broken-VEVENT path rather
	// than flowing on as a silent zero time.
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("bad DTSTART %q: %w", startProp.Value, err)
	}
	out.Start = start

	// DTEND is optional; present but unparseable is broken.
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, err := ve.GetEndAt()
		if err != nil {
			return out, fmt.Errorf("bad DTEND %q: %w", endProp.Value, err)
		}
		out.End = end
	}

	// All-day when DTSTART carries VALUE=DATE or the value has no time part.
	if params := startProp.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
	}
	if !strings.Contains(startProp.Value, "T") {
		out.AllDay = true
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	// EXDATE may appear multiple times and each line may list several values.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		out.IsOverride = true
	}

	return out, nil
}

// parseICSTime parses the basic ICS date/date-time forms used in EXDATE
// values. Full parameter context (VALUE/TZID) is not available here, so
// floating values are taken as local time.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
