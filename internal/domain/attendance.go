package domain

import "time"

type Kind string

const (
	KindIn  Kind = "IN"
	KindOut Kind = "OUT"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindIn, KindOut:
		return Kind(s), true
	default:
		return "", false
	}
}

type Source string

const (
	SourceQR     Source = "QR"
	SourceManual Source = "MANUAL"
)

// Site is a venue location with its geofence. Immutable after load.
type Site struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Latitude     float64        `json:"lat"`
	Longitude    float64        `json:"lng"`
	RadiusMeters float64        `json:"radius_m"`
	TimeZone     string         `json:"time_zone"`
	Location     *time.Location `json:"-"`
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}

type AttendanceEvent struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	SiteID     string    `json:"site_id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     Source    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// AttendanceEventWithUser is an event joined with the owning user's profile,
// as returned by date range queries.
type AttendanceEventWithUser struct {
	AttendanceEvent
	UserName    string `json:"user_name"`
	UserContact string `json:"user_contact"`
	UserImage   string `json:"user_image"`
}

// GeoSample is a client GPS fix.
type GeoSample struct {
	Latitude   float64
	Longitude  float64
	CapturedAt time.Time
}

// DailyRecord is derived from events on every read and never stored.
type DailyRecord struct {
	UserID    int64      `json:"user_id"`
	UserName  string     `json:"user_name"`
	Contact   string     `json:"contact"`
	Image     string     `json:"image"`
	SiteID    string     `json:"site_id"`
	Date      string     `json:"date"`
	InID      string     `json:"in_id,omitempty"`
	InTime    *time.Time `json:"in_time,omitempty"`
	OutID     string     `json:"out_id,omitempty"`
	OutTime   *time.Time `json:"out_time,omitempty"`
	WorkHours int        `json:"work_hours"`
	Wage      int        `json:"wage"`
}

// DateRange is an inclusive range of calendar days in a given location.
type DateRange struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// Bounds returns the first and last instants covered by the range.
func (r DateRange) Bounds() (time.Time, time.Time) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	s := r.Start.In(loc)
	e := r.End.In(loc)
	from := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	to := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return from, to
}

// Identity is what the sign-in provider knows about a person. Users are
// matched to it by display name.
type Identity struct {
	DisplayName string `json:"display_name"`
	ImageURL    string `json:"image_url"`
}
