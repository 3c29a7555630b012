// Package ledger decides whether a scan becomes an IN or OUT event.
//
// Per user and local day the state moves NONE -> CHECKED_IN -> CHECKED_OUT.
// CHECKED_OUT is terminal until the next local day. The read of the latest
// event and the insert of the next one run under a store-level lock on the
// user so concurrent scans cannot both succeed with the same kind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/geo"
	"github.com/diagnosis/qr-attendance/internal/identity"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/events"
	"github.com/diagnosis/qr-attendance/pkg/logger"
	"github.com/google/uuid"
)

// Tx is the slice of the record store visible inside a locked section.
type Tx interface {
	LatestEvent(ctx context.Context, userID int64, from, to time.Time) (*domain.AttendanceEvent, error)
	CreateEvent(ctx context.Context, ev *domain.AttendanceEvent) error
}

// Store serializes attendance writes per user. fn runs inside a transaction
// that holds an exclusive lock on the user; a non-nil error rolls it back.
type Store interface {
	WithUserLock(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error
}

type IdentityResolver interface {
	Resolve(ctx context.Context, id domain.Identity) (*domain.User, error)
}

type State int

const (
	StateNone State = iota
	StateCheckedIn
	StateCheckedOut
)

func (s State) String() string {
	switch s {
	case StateCheckedIn:
		return "CHECKED_IN"
	case StateCheckedOut:
		return "CHECKED_OUT"
	default:
		return "NONE"
	}
}

// StateOf derives the day state from the most recent event of that day.
func StateOf(latest *domain.AttendanceEvent) State {
	switch {
	case latest == nil:
		return StateNone
	case latest.Kind == domain.KindIn:
		return StateCheckedIn
	default:
		return StateCheckedOut
	}
}

// NextKind applies the transition table.
func NextKind(s State) (domain.Kind, error) {
	switch s {
	case StateNone:
		return domain.KindIn, nil
	case StateCheckedIn:
		return domain.KindOut, nil
	default:
		return "", ErrAlreadyCheckedOut
	}
}

type Result struct {
	Event    domain.AttendanceEvent
	Kind     domain.Kind
	SiteName string
}

type Ledger struct {
	sites    *sites.Registry
	store    Store
	resolver IdentityResolver
	bus      events.Publisher
	maxAge   time.Duration
	now      func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMaxPositionAge overrides geo.MaxPositionAge.
func WithMaxPositionAge(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.maxAge = d
		}
	}
}

func New(reg *sites.Registry, store Store, resolver IdentityResolver, bus events.Publisher, opts ...Option) *Ledger {
	if bus == nil {
		bus = events.NoopBus{}
	}
	l := &Ledger{
		sites:    reg,
		store:    store,
		resolver: resolver,
		bus:      bus,
		maxAge:   geo.MaxPositionAge,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ScanRequest is what a client submits after opening a site link.
type ScanRequest struct {
	SiteID     string
	Latitude   float64
	Longitude  float64
	CapturedAt time.Time
}

// Scan resolves the caller and records the event, reporting every rejection
// as a distinct Outcome.
func (l *Ledger) Scan(ctx context.Context, who domain.Identity, req ScanRequest) Outcome {
	res, err := l.scan(ctx, who, req)
	if err != nil {
		out := OutcomeFromError(err)
		if out.Code == CodeStoreUnavailable {
			logger.ErrorContext(ctx, "Scan failed", "error", err, "site_id", req.SiteID)
		} else {
			logger.InfoContext(ctx, "Scan rejected", "code", out.Code, "site_id", req.SiteID)
		}
		return out
	}
	site, _ := l.sites.Get(req.SiteID)
	return successOutcome(site, res.Kind)
}

func (l *Ledger) scan(ctx context.Context, who domain.Identity, req ScanRequest) (*Result, error) {
	now := l.now()
	sample := domain.GeoSample{Latitude: req.Latitude, Longitude: req.Longitude, CapturedAt: req.CapturedAt}
	site, err := l.validate(req.SiteID, sample, now)
	if err != nil {
		return nil, err
	}

	u, err := l.resolver.Resolve(ctx, who)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve identity: %v", ErrStoreUnavailable, err)
	}

	res, err := l.record(ctx, u.ID, site, now)
	if err != nil {
		return nil, err
	}
	l.publish(ctx, u, res)
	return res, nil
}

// RecordEvent validates the sample against the site and appends the next
// event for userID at now.
func (l *Ledger) RecordEvent(ctx context.Context, userID int64, siteID string, sample domain.GeoSample, now time.Time) (*Result, error) {
	site, err := l.validate(siteID, sample, now)
	if err != nil {
		return nil, err
	}
	res, err := l.record(ctx, userID, site, now)
	if err != nil {
		return nil, err
	}
	l.publish(ctx, &domain.User{ID: userID}, res)
	return res, nil
}

func (l *Ledger) validate(siteID string, sample domain.GeoSample, now time.Time) (domain.Site, error) {
	site, ok := l.sites.Get(siteID)
	if !ok {
		return domain.Site{}, ErrUnknownSite
	}
	if !geo.IsPositionFreshWithin(sample.CapturedAt, now, l.maxAge) {
		return domain.Site{}, ErrStalePosition
	}
	if !geo.IsWithinRadius(sample.Latitude, sample.Longitude, site.Latitude, site.Longitude, site.RadiusMeters) {
		d := math.NaN()
		if geo.ValidCoordinates(sample.Latitude, sample.Longitude) {
			d = geo.DistanceMeters(sample.Latitude, sample.Longitude, site.Latitude, site.Longitude)
		}
		return domain.Site{}, &OutOfRangeError{SiteName: site.Name, DistanceMeters: d, RadiusMeters: site.RadiusMeters}
	}
	return site, nil
}

func (l *Ledger) record(ctx context.Context, userID int64, site domain.Site, now time.Time) (*Result, error) {
	from, to := DayWindow(now, l.sites.Location(site.ID))

	var res Result
	err := l.store.WithUserLock(ctx, userID, func(ctx context.Context, tx Tx) error {
		latest, err := tx.LatestEvent(ctx, userID, from, to)
		if err != nil {
			return err
		}
		kind, err := NextKind(StateOf(latest))
		if err != nil {
			return err
		}
		ev := domain.AttendanceEvent{
			ID:         uuid.NewString(),
			UserID:     userID,
			SiteID:     site.ID,
			Kind:       kind,
			OccurredAt: now,
			Source:     domain.SourceQR,
			CreatedAt:  now,
		}
		if err := tx.CreateEvent(ctx, &ev); err != nil {
			return err
		}
		res = Result{Event: ev, Kind: kind, SiteName: site.Name}
		return nil
	})
	if errors.Is(err, ErrAlreadyCheckedOut) {
		return nil, ErrAlreadyCheckedOut
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &res, nil
}

func (l *Ledger) publish(ctx context.Context, u *domain.User, res *Result) {
	ev := events.AttendanceRecordedEvent{
		EventID:    res.Event.ID,
		UserID:     u.ID,
		UserName:   u.Name,
		SiteID:     res.Event.SiteID,
		Kind:       string(res.Kind),
		OccurredAt: res.Event.OccurredAt,
	}
	if err := l.bus.Publish(ctx, events.AttendanceRecorded, ev); err != nil {
		logger.ErrorContext(ctx, "Failed to publish attendance recorded event", "error", err, "event_id", res.Event.ID)
	}
}

// DayWindow returns the first and last instants of the local day containing t.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}
