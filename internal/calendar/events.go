package calendar

import (
	"fmt"
	"time"
)

// Client-side DOM event names the widget fires. DispatchClientEvent routes
// incoming events by these names.
const (
	EventDateClick   = "dateClick"
	EventEntryClick  = "eventClick"
	EventEntryDrop   = "eventDrop"
	EventEntryResize = "eventResize"
)

// TimeslotClickedEvent fires when the user clicks an empty timeslot. "Empty"
// refers to the clicked point itself, not the whole slot: the event also
// fires when some entry occupies the slot elsewhere. Maps to the client
// dateClick event.
type TimeslotClickedEvent struct {
	// Source is the calendar component the click arrived at.
	Source *Calendar

	// FromClient is true when the event originated from user interaction
	// in the browser rather than from server-side code.
	FromClient bool

	// Date is the clicked slot in wire form: "2023-05-01T13:30" for a
	// timed slot, "2023-05-01" for an all-day slot. Parse with
	// ParseDateTime when a time.Time is needed.
	Date string

	// AllDay reports whether the clicked slot was an all-day slot.
	AllDay bool
}

// NewTimeslotClickedEvent builds the event from the raw client payload.
func NewTimeslotClickedEvent(source *Calendar, fromClient bool, date string, allDay bool) TimeslotClickedEvent {
	return TimeslotClickedEvent{Source: source, FromClient: fromClient, Date: date, AllDay: allDay}
}

// Time parses the clicked slot. A date-only value lands on start of day.
func (ev TimeslotClickedEvent) Time() (time.Time, error) {
	return ParseDateTime(ev.Date)
}

// EntryClickedEvent fires when the user clicks an existing entry. Maps to
// the client eventClick event.
type EntryClickedEvent struct {
	Source     *Calendar
	FromClient bool
	Entry      *Entry
}

// NewEntryClickedEvent builds the event for the clicked entry.
func NewEntryClickedEvent(source *Calendar, fromClient bool, entry *Entry) EntryClickedEvent {
	return EntryClickedEvent{Source: source, FromClient: fromClient, Entry: entry}
}

// Delta is the calendar-step offset the widget reports for drag and resize
// interactions. Components are plain calendar steps, not durations: applying
// one month to Jan 31 follows the usual calendar arithmetic.
type Delta struct {
	Years   int
	Months  int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// ParseDelta reads the widget's delta object. Absent components count as
// zero; present ones must be JSON numbers.
func ParseDelta(obj map[string]any) (Delta, error) {
	var d Delta
	for _, c := range []struct {
		key string
		dst *int
	}{
		{"years", &d.Years},
		{"months", &d.Months},
		{"days", &d.Days},
		{"hours", &d.Hours},
		{"minutes", &d.Minutes},
		{"seconds", &d.Seconds},
	} {
		v, ok := obj[c.key]
		if !ok || v == nil {
			continue
		}
		n, ok := v.(float64)
		if !ok {
			return Delta{}, fmt.Errorf("field %q: got %T, want number: %w", c.key, v, ErrFieldType)
		}
		*c.dst = int(n)
	}
	return d, nil
}

// IsZero reports whether every component is zero.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Apply shifts t by the delta. The zero time stays zero: an unset date has
// nothing to shift.
func (d Delta) Apply(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.AddDate(d.Years, d.Months, d.Days)
	return t.Add(time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second)
}

func (d Delta) String() string {
	return fmt.Sprintf("Delta{%dy %dm %dd %dh %dmin %ds}", d.Years, d.Months, d.Days, d.Hours, d.Minutes, d.Seconds)
}

// EntryMovedEvent fires after the user dragged an entry to a new slot. The
// entry already carries the updated times; Delta is the shift the client
// applied. Maps to the client eventDrop event.
type EntryMovedEvent struct {
	Source     *Calendar
	FromClient bool
	Entry      *Entry
	Delta      Delta
}

// NewEntryMovedEvent builds the event for an applied drag.
func NewEntryMovedEvent(source *Calendar, fromClient bool, entry *Entry, delta Delta) EntryMovedEvent {
	return EntryMovedEvent{Source: source, FromClient: fromClient, Entry: entry, Delta: delta}
}

// EntryResizedEvent fires after the user resized an entry. The entry already
// carries the updated end; Delta is the shift applied to it. Maps to the
// client eventResize event.
type EntryResizedEvent struct {
	Source     *Calendar
	FromClient bool
	Entry      *Entry
	Delta      Delta
}

// NewEntryResizedEvent builds the event for an applied resize.
func NewEntryResizedEvent(source *Calendar, fromClient bool, entry *Entry, delta Delta) EntryResizedEvent {
	return EntryResizedEvent{Source: source, FromClient: fromClient, Entry: entry, Delta: delta}
}
