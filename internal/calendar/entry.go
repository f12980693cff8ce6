package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrIDMismatch reports a change-set whose id names a different entry.
// Updates never retarget identity.
var ErrIDMismatch = errors.New("change-set id does not match entry id")

// Entry is one item shown in the calendar. It is called Entry rather than
// Event to keep it apart from the client event types: a timeslot click is an
// event, the thing it may create is an entry.
//
// An entry's identity is its id alone. The id is assigned at construction,
// never changes, and is the only thing Equal looks at; every other field is
// mutable display/scheduling state. Start and end are wall-clock values with
// no timezone attached; the zero time means "unset" and crosses the wire as
// an explicit null.
//
// Entries are not safe for concurrent use. They belong to the single logical
// thread driving the surrounding UI session; anything sharing them across
// goroutines must serialize access itself.
type Entry struct {
	id          string
	title       string
	start       time.Time
	end         time.Time
	allDay      bool
	editable    bool
	color       string
	description string

	calendar *Calendar
}

// NewEntry returns an empty entry: a fresh random id, editing enabled and
// every other field unset.
func NewEntry() *Entry {
	e := NewEntryWithID("")
	e.editable = true
	return e
}

// NewEntryWithID returns an entry with the given id. An empty id means
// "pick one": the entry gets a fresh random UUID, so the id invariant
// (non-empty, unique, immutable) holds on every construction path.
func NewEntryWithID(id string) *Entry {
	if id == "" {
		id = uuid.New().String()
	}
	return &Entry{id: id}
}

// NewDetailedEntry is the full constructor. An empty id generates one, and
// color passes through the usual blank-to-absent normalization.
func NewDetailedEntry(id, title string, start, end time.Time, allDay, editable bool, color, description string) *Entry {
	e := NewEntryWithID(id)
	e.title = title
	e.start = start
	e.end = end
	e.allDay = allDay
	e.editable = editable
	e.description = description
	e.SetColor(color)
	return e
}

func (e *Entry) ID() string {
	return e.id
}

func (e *Entry) Title() string {
	return e.title
}

func (e *Entry) SetTitle(title string) {
	e.title = title
}

func (e *Entry) Start() time.Time {
	return e.start
}

func (e *Entry) SetStart(start time.Time) {
	e.start = start
}

func (e *Entry) End() time.Time {
	return e.end
}

func (e *Entry) SetEnd(end time.Time) {
	e.end = end
}

// IsAllDay reports whether only the date portion of start/end is meaningful.
func (e *Entry) IsAllDay() bool {
	return e.allDay
}

func (e *Entry) SetAllDay(allDay bool) {
	e.allDay = allDay
}

// IsEditable reports whether the client UI may drag/resize this entry.
func (e *Entry) IsEditable() bool {
	return e.editable
}

func (e *Entry) SetEditable(editable bool) {
	e.editable = editable
}

// Color returns the display color, or "" when none is set.
func (e *Entry) Color() string {
	return e.color
}

// SetColor stores the display color. A blank or whitespace-only value is
// normalized to the absent state, indistinguishable from a color that was
// never set.
func (e *Entry) SetColor(color string) {
	if strings.TrimSpace(color) == "" {
		color = ""
	}
	e.color = color
}

// Description is server-side only; ToJSON never emits it.
func (e *Entry) Description() string {
	return e.description
}

func (e *Entry) SetDescription(description string) {
	e.description = description
}

// Calendar returns the calendar this entry is attached to. ok is false for
// an entry that was never added to a calendar, or was removed from one.
func (e *Entry) Calendar() (*Calendar, bool) {
	return e.calendar, e.calendar != nil
}

// setCalendar is called only by Calendar on attach/detach. There is no
// automatic add/remove bookkeeping here; the calendar does its own.
func (e *Entry) setCalendar(c *Calendar) {
	e.calendar = c
}

// Equal reports whether both entries denote the same calendar item. Identity
// is the id alone: entries with equal ids are equal no matter how the other
// fields differ, and the id string itself serves as the hash key wherever
// entries are stored in maps.
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.id == other.id
}

// ToJSON renders the entry as the wire object consumed by the client widget.
// Unset values come out as explicit JSON nulls, never as missing keys.
// Booleans stay booleans; every other present value is a string. For all-day
// entries start/end carry only the date portion. description and the
// calendar back-reference stay server-side.
func (e *Entry) ToJSON() map[string]any {
	return map[string]any{
		"id":       e.id,
		"title":    stringOrNull(e.title),
		"allDay":   e.allDay,
		"start":    e.instantValue(e.start),
		"end":      e.instantValue(e.end),
		"editable": e.editable,
		"color":    stringOrNull(e.color),
	}
}

func (e *Entry) instantValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	if e.allDay {
		return FormatDate(t)
	}
	return FormatDateTime(t)
}

func stringOrNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Update merges a partial change-set into the entry. The change-set must
// carry this entry's id; any other id fails with ErrIDMismatch before a
// single field is touched. Keys absent from the change-set leave their
// fields alone; explicit nulls clear nullable fields so a ToJSON round trip
// is lossless. Start/end strings go through ParseDateTime, so a plain date
// lands on that date's start of day.
//
// Fields are applied in a fixed order (title, editable, allDay, start, end,
// color) and a failure on a later field does not roll back earlier ones.
// Callers needing all-or-nothing semantics must merge into a copy first.
func (e *Entry) Update(obj map[string]any) error {
	id, err := stringField(obj, "id")
	if err != nil {
		return err
	}
	if id != e.id {
		return fmt.Errorf("change-set id %q, entry id %q: %w", id, e.id, ErrIDMismatch)
	}

	if err := mergeString(obj, "title", e.SetTitle); err != nil {
		return err
	}
	if err := mergeBool(obj, "editable", e.SetEditable); err != nil {
		return err
	}
	if err := mergeBool(obj, "allDay", e.SetAllDay); err != nil {
		return err
	}
	if err := mergeDateTime(obj, "start", e.SetStart); err != nil {
		return err
	}
	if err := mergeDateTime(obj, "end", e.SetEnd); err != nil {
		return err
	}
	return mergeString(obj, "color", e.SetColor)
}

// FromJSON builds a new entry from a wire object. The object must carry a
// non-empty string id; all other recognized fields are merged through
// Update in one step.
func FromJSON(obj map[string]any) (*Entry, error) {
	id, err := stringField(obj, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("field %q is empty: %w", "id", ErrMissingField)
	}

	e := NewEntryWithID(id)
	if err := e.Update(obj); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{id=%s title=%q start=%s end=%s allDay=%t editable=%t color=%q description=%q}",
		e.id, e.title, e.instantString(e.start), e.instantString(e.end), e.allDay, e.editable, e.color, e.description)
}

func (e *Entry) instantString(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return FormatDateTime(t)
}
