package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calview/internal/log"
	"calview/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted into.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the window; an occurrence is kept when
	// it intersects [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult lists the occurrences and the UIDs that hit the cap.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// ExpandOccurrences expands one-off events, RRULEs (minus EXDATEs) and
// RECURRENCE-ID overrides into concrete occurrences inside the window,
// ordered by start.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: expand range ends before it starts")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	for _, uid := range uids {
		truncated := false
		for _, ev := range bases[uid] {
			var occ []model.Occurrence
			if ev.RawRRule == "" {
				occ = expandSingle(ev, overrides[uid], cfg)
			} else {
				var hit bool
				occ, hit = expandRecurring(ev, overrides[uid], cfg)
				truncated = truncated || hit
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("ics expand truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		return result.Occurrences[i].Start.Before(result.Occurrences[j].Start)
	})
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if o, ok := overrideFor(overrides, ev.Start); ok {
		ev = o
	}
	if !intersects(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, "", cfg.DisplayLocation)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so an instance that started
	// before the window but runs into it is still found.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	tag := RepeatTag(ev.RawRRule)
	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		inst, start, end := ev, s, s.Add(dur)
		if o, ok := overrideFor(overrides, s); ok {
			inst, start, end = o, o.Start, o.End
		}
		if !intersects(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(inst, start, end, tag, cfg.DisplayLocation))
	}
	return out, hitCap
}

// overrideFor finds the override whose RECURRENCE-ID equals start.
func overrideFor(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, repeat string, loc *time.Location) model.Occurrence {
	if repeat == "" {
		repeat = RepeatTag(ev.RawRRule)
	}
	s := start.In(loc)
	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: s.Format(time.RFC3339),
		Summary:     ev.Summary,
		Location:    ev.Location,
		URL:         ev.URL,
		Repeat:      repeat,
		AllDay:      ev.AllDay,
		Start:       s,
		End:         end.In(loc),
	}
}

// intersects is the half-open overlap test; a zero-length event counts
// when its instant lies inside the window.
func intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Equal(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// RepeatTag maps an RRULE onto the scheduler's repeat tags.
func RepeatTag(raw string) string {
	if raw == "" {
		return model.NoRepeat
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return model.NoRepeat
	}
	interval := opt.Interval
	if interval < 1 {
		interval = 1
	}
	switch {
	case opt.Freq == rrule.DAILY && interval == 1:
		return "daily"
	case opt.Freq == rrule.WEEKLY && interval == 1:
		return "weekly"
	case opt.Freq == rrule.WEEKLY && interval == 2:
		return "fortnightly"
	case opt.Freq == rrule.MONTHLY && interval == 1:
		return "monthly"
	case opt.Freq == rrule.MONTHLY && interval == 3:
		return "quarterly"
	case opt.Freq == rrule.MONTHLY && interval == 6:
		return "biAnnually"
	case opt.Freq == rrule.YEARLY && interval == 1:
		return "annually"
	default:
		return model.NoRepeat
	}
}
