package eventindex

import (
	"sort"

	"calview/internal/model"
)

// Span is an event's [Start, End) range in minutes since midnight.
type Span struct {
	Start int
	End   int
}

// SpanOf resolves an event's span through cache.
func SpanOf(ev model.Event, cache TimeCache) Span {
	return Span{Start: cache.Minutes(ev.StartTime), End: cache.Minutes(ev.EndTime)}
}

// Overlaps is the strict intersection test: touching ranges do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}

// Duration is End-Start; it may be zero or negative for malformed pairs.
func (s Span) Duration() int {
	return s.End - s.Start
}

// LaneGroup is a transitively overlapping cluster of events. An event's
// lane is its position in Events.
type LaneGroup struct {
	Events []model.Event
}

// Size is the number of lanes the group occupies.
func (g LaneGroup) Size() int {
	return len(g.Events)
}

// sortByStart returns a copy of events ordered by start minute. Equal
// starts keep their input order.
func sortByStart(events []model.Event, cache TimeCache) []model.Event {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return cache.Minutes(sorted[i].StartTime) < cache.Minutes(sorted[j].StartTime)
	})
	return sorted
}

// GroupOverlappingEvents partitions one day's events into lane groups with
// a greedy first-fit scan: each event, in start order, joins the first
// open group holding a member it overlaps, or opens a new group.
//
// Lanes are membership order and are not re-sorted, so a group's width
// split changes whenever a later event joins it.
func GroupOverlappingEvents(events []model.Event, cache TimeCache) []LaneGroup {
	if len(events) == 0 {
		return nil
	}

	var groups []LaneGroup
	for _, ev := range sortByStart(events, cache) {
		span := SpanOf(ev, cache)

		placed := false
		for gi := range groups {
			if groupConflicts(groups[gi], span, cache) {
				groups[gi].Events = append(groups[gi].Events, ev)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, LaneGroup{Events: []model.Event{ev}})
		}
	}
	return groups
}

func groupConflicts(g LaneGroup, span Span, cache TimeCache) bool {
	for _, member := range g.Events {
		if span.Overlaps(SpanOf(member, cache)) {
			return true
		}
	}
	return false
}

// Assignment is one event's resolved horizontal slot.
type Assignment struct {
	Event model.Event
	Span  Span
	// Group indexes the lane group (connected overlap cluster) in start order.
	Group int
	// Lane is the event's lane within its group, Lanes the group's lane count.
	Lane  int
	Lanes int
}

// Strategy picks a lane assignment algorithm.
type Strategy string

const (
	// StrategyFirstFit is the greedy first-fit grouping; one lane per member.
	StrategyFirstFit Strategy = "firstfit"
	// StrategyColoring colors the overlap graph, reusing freed lanes.
	StrategyColoring Strategy = "coloring"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyFirstFit || s == StrategyColoring
}

// Assign runs the strategy over one day's events. Unknown strategies fall
// back to first-fit.
func (s Strategy) Assign(events []model.Event, cache TimeCache) []Assignment {
	if s == StrategyColoring {
		return AssignLanes(events, cache)
	}
	return FirstFitAssignments(events, cache)
}

// FirstFitAssignments flattens GroupOverlappingEvents into assignments.
func FirstFitAssignments(events []model.Event, cache TimeCache) []Assignment {
	groups := GroupOverlappingEvents(events, cache)
	out := make([]Assignment, 0, len(events))
	for gi, g := range groups {
		for lane, ev := range g.Events {
			out = append(out, Assignment{
				Event: ev,
				Span:  SpanOf(ev, cache),
				Group: gi,
				Lane:  lane,
				Lanes: g.Size(),
			})
		}
	}
	return out
}
