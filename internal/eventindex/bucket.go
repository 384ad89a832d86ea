package eventindex

import (
	"fmt"
	"sort"
	"time"

	"calview/internal/model"
)

// Bucket groups a flat event list by Date. Buckets ascend by title; events
// keep their input order within a day.
func Bucket(events []model.Event) []model.DayBucket {
	byDate := make(map[string][]model.Event)
	for _, ev := range events {
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	titles := make([]string, 0, len(byDate))
	for d := range byDate {
		titles = append(titles, d)
	}
	sort.Strings(titles)

	out := make([]model.DayBucket, 0, len(titles))
	for _, d := range titles {
		out = append(out, model.DayBucket{Title: d, Data: byDate[d]})
	}
	return out
}

// FillMonth returns one bucket for every day of month ("YYYY-MM"). Days
// without events get a single placeholder. Buckets outside the month are
// kept, and the result ascends by title.
func FillMonth(buckets []model.DayBucket, month string) ([]model.DayBucket, error) {
	first, err := time.Parse(model.MonthLayout, month)
	if err != nil {
		return nil, fmt.Errorf("eventindex: invalid month %q: %w", month, err)
	}

	existing := make(map[string]model.DayBucket, len(buckets))
	for _, b := range buckets {
		if prev, ok := existing[b.Title]; ok {
			prev.Data = append(prev.Data, b.Data...)
			existing[b.Title] = prev
			continue
		}
		existing[b.Title] = b
	}

	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		title := d.Format(model.DateLayout)
		if b, ok := existing[title]; ok && len(b.Data) > 0 {
			continue
		}
		existing[title] = model.DayBucket{Title: title, Data: []model.Event{model.Placeholder(title)}}
	}

	out := make([]model.DayBucket, 0, len(existing))
	for _, b := range existing {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// MergeBuckets combines bucket sets from several sources. Events of the same
// day are concatenated in source order; a day's placeholders are dropped
// once any source contributes a real meeting for it.
func MergeBuckets(sets ...[]model.DayBucket) []model.DayBucket {
	var flat []model.Event
	for _, set := range sets {
		for _, b := range set {
			for _, ev := range b.Data {
				if ev.Date == "" {
					ev.Date = b.Title
				}
				flat = append(flat, ev)
			}
		}
	}

	merged := Bucket(flat)
	for i, b := range merged {
		hasMeeting := false
		for _, ev := range b.Data {
			if ev.Meeting {
				hasMeeting = true
				break
			}
		}
		if !hasMeeting {
			merged[i].Data = []model.Event{model.Placeholder(b.Title)}
			continue
		}
		kept := b.Data[:0:0]
		for _, ev := range b.Data {
			if ev.Meeting {
				kept = append(kept, ev)
			}
		}
		merged[i].Data = kept
	}
	return merged
}

// IndexOf returns the position of the bucket titled date, or -1.
func IndexOf(buckets []model.DayBucket, date string) int {
	for i, b := range buckets {
		if b.Title == date {
			return i
		}
	}
	return -1
}

// Titles lists bucket titles in order.
func Titles(buckets []model.DayBucket) []string {
	out := make([]string, len(buckets))
	for i, b := range buckets {
		out[i] = b.Title
	}
	return out
}
