package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"fullcal/internal/calendar"
)

// BuildFeed renders entries as a published VCALENDAR document, the mirror
// image of Parse. Entries without a start cannot be placed and are left out.
// The wire-only distinction between unset and empty fields does not exist in
// ICS, so empty summary/description/color simply omit their properties.
func BuildFeed(name string, entries []*calendar.Entry, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//fullcal//feed//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range entries {
		if e.Start().IsZero() {
			continue
		}

		ve := cal.AddEvent(e.ID())
		ve.SetDtStampTime(now)
		if e.Title() != "" {
			ve.SetSummary(e.Title())
		}
		if e.Description() != "" {
			ve.SetDescription(e.Description())
		}
		if e.Color() != "" {
			ve.SetProperty(ical.ComponentProperty("COLOR"), e.Color())
		}

		if e.IsAllDay() {
			ve.SetAllDayStartAt(e.Start())
			if !e.End().IsZero() {
				ve.SetAllDayEndAt(e.End())
			}
		} else {
			ve.SetStartAt(e.Start())
			if !e.End().IsZero() {
				ve.SetEndAt(e.End())
			}
		}
	}

	return cal.Serialize()
}
