package records

import (
	"fmt"
	"sort"
	"time"

	"mailtracker/models"
)

type Filter string

const (
	FilterAll    Filter = "all"
	FilterOpened Filter = "opened"
	FilterSent   Filter = "sent"
	FilterToday  Filter = "today"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterAll, FilterOpened, FilterSent, FilterToday:
		return f, nil
	case "":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("unknown filter %q (want all, opened, sent or today)", s)
	}
}

type Stats struct {
	Total    int `json:"total"`
	Opened   int `json:"opened"`
	OpenRate int `json:"openRate"` // whole percent
	Today    int `json:"today"`
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Summarize counts records; "today" is the calendar day of now in now's location.
func Summarize(recs []*models.TrackingRecord, now time.Time) Stats {
	var s Stats
	s.Total = len(recs)
	for _, r := range recs {
		if r.Opened {
			s.Opened++
		}
		if sameDay(r.SentAt.In(now.Location()), now) {
			s.Today++
		}
	}
	if s.Total > 0 {
		s.OpenRate = int(float64(s.Opened)/float64(s.Total)*100 + 0.5)
	}
	return s
}

// Apply returns the records matching f, newest first.
func (f Filter) Apply(recs []*models.TrackingRecord, now time.Time) []*models.TrackingRecord {
	out := make([]*models.TrackingRecord, 0, len(recs))
	for _, r := range recs {
		switch f {
		case FilterOpened:
			if !r.Opened {
				continue
			}
		case FilterSent:
			if r.Opened {
				continue
			}
		case FilterToday:
			if !sameDay(r.SentAt.In(now.Location()), now) {
				continue
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out
}
