package calendar

import (
	"fmt"
	"time"

	"ragtagcal/internal/feed"
)

// DefaultMonths is how many month grids a calendar session generates,
// current month inclusive.
const DefaultMonths = 5

// DayCell is one occupied slot in a month grid. A nil *DayCell in a week
// marks a slot outside the month.
type DayCell struct {
	Day   int         `json:"day"`
	Event *feed.Event `json:"event,omitempty"`
}

// Week is one row of a month grid, indexed 0..6 by weekday (0=Sunday).
type Week [7]*DayCell

// Month is one grid of the calendar matrix, keyed "year~month" with a
// 1-based month.
type Month struct {
	Key   string `json:"key"`
	Weeks []Week `json:"weeks"`
}

// MonthKey builds the "year~month" grid key for a timestamp.
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%d~%d", t.Year(), int(t.Month()))
}

// GenerateMonths produces count month grids anchored at now's month
// (offset 0 = current month). Day cells are laid out into weeks of 7
// slots, the first week left-padded with empty slots before day 1 and the
// last week's trailing slots left empty. Pure function of now and count.
func GenerateMonths(now time.Time, count int) []Month {
	if count <= 0 {
		count = DefaultMonths
	}
	months := make([]Month, 0, count)
	for offset := 0; offset < count; offset++ {
		months = append(months, generateMonth(now, offset))
	}
	return months
}

func generateMonth(now time.Time, offset int) Month {
	firstDay := time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, now.Location())
	lastDay := firstDay.AddDate(0, 1, -1).Day()
	startSlot := int(firstDay.Weekday())

	weeks := make([]Week, 0, 6)
	day := 1

	var week Week
	for i := startSlot; i < 7 && day <= lastDay; i++ {
		week[i] = &DayCell{Day: day}
		day++
	}
	weeks = append(weeks, week)

	for day <= lastDay {
		week = Week{}
		for i := 0; i < 7 && day <= lastDay; i++ {
			week[i] = &DayCell{Day: day}
			day++
		}
		weeks = append(weeks, week)
	}

	return Month{Key: MonthKey(firstDay), Weeks: weeks}
}

// Place attaches an event to the day cell matching key and day. Events
// whose month falls outside the generated window, or whose day matches no
// cell, are dropped without report: the window is bounded and events
// outside it are not shown. A second event on the same day replaces the
// first.
func Place(months []Month, ev feed.Event, key string, day int) {
	for _, month := range months {
		if month.Key != key {
			continue
		}
		for _, week := range month.Weeks {
			for _, cell := range week {
				if cell == nil {
					continue
				}
				if cell.Day == day {
					placed := ev
					cell.Event = &placed
				}
			}
		}
	}
}

// PlaceAll places each event onto the grid for its start date.
func PlaceAll(months []Month, events []feed.Event) {
	for _, ev := range events {
		Place(months, ev, MonthKey(ev.Start), ev.Start.Day())
	}
}
