package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calview/internal/eventindex"
	appLog "calview/internal/log"
	"calview/internal/model"
)

// allDayEnd is the end label of all-day occurrences and the clamp for timed
// occurrences that run past midnight.
const allDayEnd = "11:59 PM"

// MonthSource serves month buckets built from ICS subscriptions. It
// satisfies coordinator.Fetcher.
type MonthSource struct {
	Fetcher  *Fetcher
	Sources  []Source
	Location *time.Location

	// MaxOccurrencesPerEvent is passed to ExpandOccurrences.
	MaxOccurrencesPerEvent int
}

// FetchEvents fetches every feed, expands the month in the display zone and
// returns one bucket per day of month. A feed that fails is skipped; the
// call only fails when no feed could be read and built into a month.
func (s *MonthSource) FetchEvents(ctx context.Context, businessID, month string) ([]model.DayBucket, error) {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	first, err := time.ParseInLocation(model.MonthLayout, month, loc)
	if err != nil {
		return nil, fmt.Errorf("ics: invalid month %q: %w", month, err)
	}
	if len(s.Sources) == 0 {
		return eventindex.FillMonth(nil, month)
	}

	results, errs := s.Fetcher.FetchAll(ctx, s.Sources)
	if len(results) == 0 {
		return nil, fmt.Errorf("ics: no feed available: %w", errors.Join(errs...))
	}

	sets := make([][]model.DayBucket, 0, len(results))
	for _, res := range results {
		parsed, err := ParseICS(res.Source, res.Body, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
			continue
		}
		exp, err := ExpandOccurrences(parsed, ExpandConfig{
			DisplayLocation:        loc,
			RangeStart:             first,
			RangeEnd:               first.AddDate(0, 1, 0),
			MaxOccurrencesPerEvent: s.MaxOccurrencesPerEvent,
		})
		if err != nil {
			appLog.Error("ics expand failed", err, "id", res.Source.ID)
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
			continue
		}
		events := OccurrencesToEvents(exp.Occurrences, businessID, month)
		appLog.Debug("ics month built", "id", res.Source.ID, "month", month, "events", len(events))
		sets = append(sets, eventindex.Bucket(events))
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("ics: no feed parsed: %w", errors.Join(errs...))
	}

	return eventindex.FillMonth(eventindex.MergeBuckets(sets...), month)
}

// OccurrencesToEvents maps occurrences starting inside month onto Events.
func OccurrencesToEvents(occ []model.Occurrence, businessID, month string) []model.Event {
	out := make([]model.Event, 0, len(occ))
	for _, o := range occ {
		date := o.Start.Format(model.DateLayout)
		if model.MonthOf(date) != month {
			continue
		}
		out = append(out, toEvent(o, businessID))
	}
	return out
}

func toEvent(o model.Occurrence, businessID string) model.Event {
	ev := model.Event{
		ID:          o.UID + "#" + o.InstanceKey,
		Subject:     o.Summary,
		Date:        o.Start.Format(model.DateLayout),
		Meeting:     true,
		AllDay:      o.AllDay,
		Repeat:      o.Repeat,
		MeetingLink: o.URL,
		Location:    o.Location,
		BusinessID:  businessID,
	}
	if o.Location != "" {
		ev.ManualAddress = &model.ManualAddress{Address: o.Location}
	}

	switch {
	case o.AllDay:
		ev.StartTime = eventindex.FormatMinutes(0)
		ev.EndTime = allDayEnd
	default:
		ev.StartTime = eventindex.FormatClock(o.Start)
		ev.EndTime = eventindex.FormatClock(o.End)
		if o.End.Format(model.DateLayout) != ev.Date {
			ev.EndTime = allDayEnd
		}
	}
	return ev
}
