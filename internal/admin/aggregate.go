package admin

import (
	"sort"
	"strings"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/pay"
)

const dateLayout = "2006-01-02"

type groupKey struct {
	userID int64
	date   string
}

// BuildDailyRecords groups events by user and local calendar day and pairs
// the earliest IN with the first OUT after it. Later pairs on the same day
// are not surfaced. locate maps a site id to its time zone.
//
// Days outside rng and users whose name does not contain nameFilter
// (case-insensitive) are dropped. Results are newest day first, then by name.
func BuildDailyRecords(evs []domain.AttendanceEventWithUser, rng domain.DateRange, nameFilter string, locate func(siteID string) *time.Location) []domain.DailyRecord {
	sorted := make([]domain.AttendanceEventWithUser, len(evs))
	copy(sorted, evs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	startDate, endDate := rangeDates(rng)
	filter := strings.ToLower(strings.TrimSpace(nameFilter))

	groups := make(map[groupKey][]domain.AttendanceEventWithUser)
	var order []groupKey
	for _, e := range sorted {
		date := e.OccurredAt.In(locate(e.SiteID)).Format(dateLayout)
		if date < startDate || date > endDate {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(e.UserName), filter) {
			continue
		}
		k := groupKey{userID: e.UserID, date: date}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	out := make([]domain.DailyRecord, 0, len(order))
	for _, k := range order {
		out = append(out, pairDay(k.date, groups[k]))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// pairDay builds one record from a single user's events of one day, sorted
// by time.
func pairDay(date string, evs []domain.AttendanceEventWithUser) domain.DailyRecord {
	first := evs[0]
	rec := domain.DailyRecord{
		UserID:   first.UserID,
		UserName: first.UserName,
		Contact:  first.UserContact,
		Image:    first.UserImage,
		Date:     date,
	}

	inIdx := -1
	for i, e := range evs {
		if e.Kind == domain.KindIn {
			inIdx = i
			break
		}
	}

	var in, out *domain.AttendanceEventWithUser
	if inIdx >= 0 {
		in = &evs[inIdx]
		for i := inIdx + 1; i < len(evs); i++ {
			if evs[i].Kind == domain.KindOut {
				out = &evs[i]
				break
			}
		}
	} else {
		for i := range evs {
			if evs[i].Kind == domain.KindOut {
				out = &evs[i]
				break
			}
		}
	}

	if in != nil {
		t := in.OccurredAt
		rec.InID, rec.InTime, rec.SiteID = in.ID, &t, in.SiteID
	}
	if out != nil {
		t := out.OccurredAt
		rec.OutID, rec.OutTime = out.ID, &t
		if rec.SiteID == "" {
			rec.SiteID = out.SiteID
		}
	}

	p := pay.Compute(rec.InTime, rec.OutTime)
	rec.WorkHours, rec.Wage = p.WorkHours, p.Wage
	return rec
}

func rangeDates(rng domain.DateRange) (string, string) {
	loc := rng.Location
	if loc == nil {
		loc = time.UTC
	}
	return rng.Start.In(loc).Format(dateLayout), rng.End.In(loc).Format(dateLayout)
}
