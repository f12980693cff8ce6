package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrEntryNotFound reports an id no entry in the calendar carries.
	ErrEntryNotFound = errors.New("no entry with that id")

	// ErrUnknownClientEvent reports a client event name the calendar does
	// not route.
	ErrUnknownClientEvent = errors.New("unknown client event")
)

// Calendar is the server-side component backing one client calendar widget.
// It holds the entries currently shown, keyed by id, and fans incoming
// client events out to registered handlers.
//
// Like Entry, a Calendar is not safe for concurrent use. It models the
// single logical UI session; the HTTP layer serializes access around it.
type Calendar struct {
	entries map[string]*Entry

	timeslotClicked []func(TimeslotClickedEvent)
	entryClicked    []func(EntryClickedEvent)
	entryMoved      []func(EntryMovedEvent)
	entryResized    []func(EntryResizedEvent)
}

// NewCalendar returns an empty calendar.
func NewCalendar() *Calendar {
	return &Calendar{entries: make(map[string]*Entry)}
}

// AddEntry attaches e to the calendar and reports whether it was added.
// A nil entry or an id already present leaves the calendar unchanged and
// returns false; the stored entry wins over the newcomer.
func (c *Calendar) AddEntry(e *Entry) bool {
	if e == nil {
		return false
	}
	if _, exists := c.entries[e.ID()]; exists {
		return false
	}
	c.entries[e.ID()] = e
	e.setCalendar(c)
	return true
}

// RemoveEntry detaches e and reports whether it was present. Removing only
// clears the calendar back-reference; every other entry field keeps its
// value, so the entry can be re-added later.
func (c *Calendar) RemoveEntry(e *Entry) bool {
	if e == nil {
		return false
	}
	stored, ok := c.entries[e.ID()]
	if !ok {
		return false
	}
	delete(c.entries, e.ID())
	stored.setCalendar(nil)
	return true
}

// EntryByID looks up an entry by id.
func (c *Calendar) EntryByID(id string) (*Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Count returns the number of entries in the calendar.
func (c *Calendar) Count() int {
	return len(c.entries)
}

// Entries returns all entries ordered by start, then id. Entries with an
// unset start sort first; the zero time is before everything.
func (c *Calendar) Entries() []*Entry {
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Start(), out[j].Start()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// EntriesBetween returns the entries overlapping the half-open range
// [from, to), in the same order as Entries. Entries without a start are
// skipped since they cannot be placed; an entry without an end counts as an
// instant at its start.
func (c *Calendar) EntriesBetween(from, to time.Time) []*Entry {
	var out []*Entry
	for _, e := range c.Entries() {
		start := e.Start()
		if start.IsZero() {
			continue
		}
		end := e.End()
		if end.IsZero() {
			end = start
		}
		if (start.Before(to) && end.After(from)) || (start.Equal(from) && end.Equal(start)) {
			out = append(out, e)
		}
	}
	return out
}

// UpdateEntry merges a client change-set into the entry it names. The id in
// the change-set selects the entry; when no entry carries it the calendar is
// untouched and ErrEntryNotFound is returned. Merge failures surface the
// entry's Update error; earlier fields of the change-set may already have
// been applied at that point.
func (c *Calendar) UpdateEntry(obj map[string]any) (*Entry, error) {
	id, err := stringField(obj, "id")
	if err != nil {
		return nil, err
	}
	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %q: %w", id, ErrEntryNotFound)
	}
	if err := e.Update(obj); err != nil {
		return e, err
	}
	return e, nil
}

// OnTimeslotClicked registers a handler for dateClick events. Handlers run
// synchronously in registration order on the dispatching goroutine.
func (c *Calendar) OnTimeslotClicked(fn func(TimeslotClickedEvent)) {
	c.timeslotClicked = append(c.timeslotClicked, fn)
}

// OnEntryClicked registers a handler for eventClick events.
func (c *Calendar) OnEntryClicked(fn func(EntryClickedEvent)) {
	c.entryClicked = append(c.entryClicked, fn)
}

// OnEntryMoved registers a handler for eventDrop events.
func (c *Calendar) OnEntryMoved(fn func(EntryMovedEvent)) {
	c.entryMoved = append(c.entryMoved, fn)
}

// OnEntryResized registers a handler for eventResize events.
func (c *Calendar) OnEntryResized(fn func(EntryResizedEvent)) {
	c.entryResized = append(c.entryResized, fn)
}

// FireTimeslotClicked dispatches a timeslot click to the registered
// handlers. Server-side callers can use it with fromClient false.
func (c *Calendar) FireTimeslotClicked(ev TimeslotClickedEvent) {
	for _, fn := range c.timeslotClicked {
		fn(ev)
	}
}

// DispatchClientEvent routes one client-originated DOM event by name and
// fires the matching handlers.
//
// Payload shapes per event, as the embedded page sends them:
//
//	dateClick    {"date": "2023-05-01T10:30", "allDay": false}
//	eventClick   {"id": "..."}
//	eventDrop    {"data": {entry change-set}, "delta": {...}}
//	eventResize  {"data": {entry change-set}, "delta": {...}}
//
// Drop and resize apply the change-set through UpdateEntry before firing, so
// handlers observe the entry in its post-interaction state.
func (c *Calendar) DispatchClientEvent(name string, detail map[string]any) error {
	switch name {
	case EventDateClick:
		date, err := stringField(detail, "date")
		if err != nil {
			return err
		}
		allDay, err := boolField(detail, "allDay")
		if err != nil {
			return err
		}
		c.FireTimeslotClicked(NewTimeslotClickedEvent(c, true, date, allDay))
		return nil

	case EventEntryClick:
		id, err := stringField(detail, "id")
		if err != nil {
			return err
		}
		e, ok := c.entries[id]
		if !ok {
			return fmt.Errorf("entry %q: %w", id, ErrEntryNotFound)
		}
		ev := NewEntryClickedEvent(c, true, e)
		for _, fn := range c.entryClicked {
			fn(ev)
		}
		return nil

	case EventEntryDrop, EventEntryResize:
		data, err := objectField(detail, "data")
		if err != nil {
			return err
		}
		var delta Delta
		if raw, ok := detail["delta"]; ok && raw != nil {
			obj, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("field %q: got %T, want object: %w", "delta", raw, ErrFieldType)
			}
			if delta, err = ParseDelta(obj); err != nil {
				return err
			}
		}
		e, err := c.UpdateEntry(data)
		if err != nil {
			return err
		}
		if name == EventEntryDrop {
			ev := NewEntryMovedEvent(c, true, e, delta)
			for _, fn := range c.entryMoved {
				fn(ev)
			}
		} else {
			ev := NewEntryResizedEvent(c, true, e, delta)
			for _, fn := range c.entryResized {
				fn(ev)
			}
		}
		return nil

	default:
		return fmt.Errorf("client event %q: %w", name, ErrUnknownClientEvent)
	}
}
