package projection

import (
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
)

// CategoryCount is the report volume of one department.
type CategoryCount struct {
	Category report.Category `json:"category"`
	Total    int             `json:"total"`
	Resolved int             `json:"resolved"`
}

// ByCategory tallies reports per department, in department order.
// Departments without reports are included with zero counts.
func ByCategory(reports []report.Report) []CategoryCount {
	index := make(map[report.Category]int, len(report.Categories))
	out := make([]CategoryCount, len(report.Categories))
	for i, c := range report.Categories {
		out[i].Category = c
		index[c] = i
	}
	for _, r := range reports {
		i, ok := index[r.Category]
		if !ok {
			continue
		}
		out[i].Total++
		if r.Status == report.StatusResolved {
			out[i].Resolved++
		}
	}
	return out
}

// ResponseBuckets groups resolved reports by time from creation to
// completion.
type ResponseBuckets struct {
	SameDay         int `json:"same_day"`
	OneToTwoDays    int `json:"one_to_two_days"`
	ThreeToFiveDays int `json:"three_to_five_days"`
	WeekOrMore      int `json:"week_or_more"`
}

// ResolutionStats summarises how quickly reports get resolved.
type ResolutionStats struct {
	Total     int             `json:"total"`
	Resolved  int             `json:"resolved"`
	Rate      float64         `json:"resolution_rate"`
	MeanHours float64         `json:"mean_resolution_hours"`
	Buckets   ResponseBuckets `json:"response_time"`
}

const day = 24 * time.Hour

// Resolution computes resolution rate and response times. Resolved reports
// missing completed_at count toward the rate but not the timings.
func Resolution(reports []report.Report) ResolutionStats {
	stats := ResolutionStats{Total: len(reports)}

	var (
		timed int
		sum   time.Duration
	)
	for _, r := range reports {
		if r.Status != report.StatusResolved {
			continue
		}
		stats.Resolved++
		if r.CompletedAt == nil {
			continue
		}

		elapsed := r.CompletedAt.Sub(r.CreatedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		timed++
		sum += elapsed

		switch {
		case elapsed < day:
			stats.Buckets.SameDay++
		case elapsed < 3*day:
			stats.Buckets.OneToTwoDays++
		case elapsed < 7*day:
			stats.Buckets.ThreeToFiveDays++
		default:
			stats.Buckets.WeekOrMore++
		}
	}

	if stats.Total > 0 {
		stats.Rate = float64(stats.Resolved) / float64(stats.Total)
	}
	if timed > 0 {
		stats.MeanHours = (sum / time.Duration(timed)).Hours()
	}
	return stats
}

// DayTrend is the activity of one calendar day.
type DayTrend struct {
	Date     time.Time `json:"date"`
	Reported int       `json:"reported"`
	Resolved int       `json:"resolved"`
}

// WeeklyTrend returns reports submitted and resolved on each of the seven
// days ending with now's day, oldest first. Days are in now's location.
func WeeklyTrend(reports []report.Report, now time.Time) []DayTrend {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	start := today.AddDate(0, 0, -6)

	out := make([]DayTrend, 7)
	for i := range out {
		out[i].Date = start.AddDate(0, 0, i)
	}
	slot := func(t time.Time) int {
		t = t.In(loc)
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if d.Before(start) || d.After(today) {
			return -1
		}
		for i := range out {
			if out[i].Date.Equal(d) {
				return i
			}
		}
		return -1
	}

	for _, r := range reports {
		if i := slot(r.CreatedAt); i >= 0 {
			out[i].Reported++
		}
		if r.Status == report.StatusResolved && r.CompletedAt != nil {
			if i := slot(*r.CompletedAt); i >= 0 {
				out[i].Resolved++
			}
		}
	}
	return out
}
