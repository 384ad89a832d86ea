package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the ISO calendar-day layout used for bucket titles and
// Event.Date.
const DateLayout = "2006-01-02"

// MonthLayout is the layout of SelectionState.CurrentMonth.
const MonthLayout = "2006-01"

// NoRepeat is the repeat tag for one-off events.
const NoRepeat = "noRepeat"

// ManualAddress is an on-site meeting location.
type ManualAddress struct {
	PostalCode string `json:"postalCode" yaml:"postal_code"`
	Address    string `json:"address" yaml:"address"`
	City       string `json:"city" yaml:"city"`
	State      string `json:"state" yaml:"state"`
}

// String renders the address the way the agenda row shows it.
func (a ManualAddress) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.PostalCode, a.Address, a.City, a.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Event is one calendar entry as delivered by an event source.
//
// StartTime / EndTime are wall-clock strings in "H:MM AM/PM" form. Sources
// guarantee EndTime is after StartTime; the view layer does not re-check.
// Meeting == false marks a "No meetings" placeholder that carries no time
// or identity.
type Event struct {
	ID            string         `json:"_id,omitempty"`
	Subject       string         `json:"subject"`
	Date          string         `json:"date"`
	StartTime     string         `json:"startTime"`
	EndTime       string         `json:"endTime"`
	Meeting       bool           `json:"meeting"`
	AllDay        bool           `json:"allDay,omitempty"`
	Repeat        string         `json:"repeat,omitempty"`
	MeetingLink   string         `json:"meetingLink,omitempty"`
	ManualAddress *ManualAddress `json:"manualAddress,omitempty"`
	Location      string         `json:"location,omitempty"`
	BusinessID    string         `json:"businessId,omitempty"`
}

// keyNamespace seeds synthetic keys for events that arrive without an id.
var keyNamespace = uuid.MustParse("6f1c9d2e-3b8a-4c55-9e1d-7a2b0c4d5e6f")

// Key returns a stable identifier for rendering and detail lookup. Events
// with an ID use it; id-less events (placeholders, ICS occurrences without
// UID) get a name-based UUID derived from their visible fields, so the
// same event keeps the same key across fetches.
func (e Event) Key() string {
	if e.ID != "" {
		return e.ID
	}
	name := strings.Join([]string{e.Date, e.StartTime, e.EndTime, e.Subject}, "|")
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// Repeats reports whether the event carries a real recurrence tag.
func (e Event) Repeats() bool {
	return e.Repeat != "" && e.Repeat != NoRepeat
}

// Online reports whether the event is held online rather than on site.
func (e Event) Online() bool {
	return e.MeetingLink != ""
}

// DayBucket is the set of events of one calendar date. Title is the
// ISO date; Data keeps the source's ordering.
type DayBucket struct {
	Title string  `json:"title"`
	Data  []Event `json:"data"`
}

// Placeholder returns the "No meetings" marker for date.
func Placeholder(date string) Event {
	return Event{Date: date, Meeting: false}
}

// RepeatOption is one selectable recurrence tag.
type RepeatOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// RepeatOptions lists the recurrence tags the upstream scheduler uses.
var RepeatOptions = []RepeatOption{
	{Label: "Does Not Repeat", Value: NoRepeat},
	{Label: "Daily", Value: "daily"},
	{Label: "Weekly", Value: "weekly"},
	{Label: "Fortnightly", Value: "fortnightly"},
	{Label: "Monthly", Value: "monthly"},
	{Label: "Quarterly", Value: "quarterly"},
	{Label: "Annually", Value: "annually"},
	{Label: "Biannually", Value: "biAnnually"},
}

// RepeatLabel returns the human label of a repeat tag, "Unknown" otherwise.
func RepeatLabel(value string) string {
	for _, o := range RepeatOptions {
		if o.Value == value {
			return o.Label
		}
	}
	return "Unknown"
}

// DisplayMode selects which calendar view is mounted.
type DisplayMode string

const (
	ModeAgenda   DisplayMode = "agenda"
	ModeTimeline DisplayMode = "timeline"
)

// Valid reports whether m is a known mode.
func (m DisplayMode) Valid() bool {
	return m == ModeAgenda || m == ModeTimeline
}

// Toggle returns the other mode.
func (m DisplayMode) Toggle() DisplayMode {
	if m == ModeTimeline {
		return ModeAgenda
	}
	return ModeTimeline
}

// SelectionState is the coordinator's single source of truth.
type SelectionState struct {
	SelectedDate string      `json:"selectedDate"`
	CurrentMonth string      `json:"currentMonth"`
	DisplayMode  DisplayMode `json:"displayMode"`
}

// Origin tags where a selection change came from. Views use it to tell
// their own programmatic scrolls apart from user gestures.
type Origin string

const (
	OriginUser         Origin = "user"
	OriginProgrammatic Origin = "programmatic"
)

// MonthOf returns the "YYYY-MM" prefix of an ISO date, or "" when the input
// is too short to carry one.
func MonthOf(date string) string {
	if len(date) < 7 {
		return ""
	}
	return date[:7]
}

// Occurrence is a single concrete instance of a feed event after
// recurrence expansion, in the display timezone.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey distinguishes instances of one recurring UID; it is the
	// local start time in RFC 3339.
	InstanceKey string

	Summary  string
	Location string
	URL      string

	// Repeat is the recurrence tag derived from the parent RRULE.
	Repeat string

	AllDay bool
	Start  time.Time
	End    time.Time
}
