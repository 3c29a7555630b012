// Package admin implements the management views over the attendance ledger:
// per-day records with pay, manual corrections, deletions and exports.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/export"
	"github.com/diagnosis/qr-attendance/internal/ledger"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/events"
	"github.com/diagnosis/qr-attendance/pkg/logger"
)

var (
	ErrInvalidCorrection = errors.New("invalid correction")
	ErrEventNotFound     = errors.New("attendance event not found")
	ErrNothingToDelete   = errors.New("nothing to delete")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidRange      = errors.New("start date is after end date")
)

type EventStore interface {
	FindEvents(ctx context.Context, from, to time.Time) ([]domain.AttendanceEventWithUser, error)
	GetByID(ctx context.Context, id string) (*domain.AttendanceEvent, error)
	UpdateTimes(ctx context.Context, updates map[string]time.Time) (int64, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

type UserStore interface {
	UpdateContact(ctx context.Context, name, contact string) (int64, error)
	DeleteByName(ctx context.Context, name string) (int64, int64, error)
}

type Service struct {
	events EventStore
	users  UserStore
	sites  *sites.Registry
	bus    events.Publisher
	now    func() time.Time
}

func NewService(ev EventStore, users UserStore, reg *sites.Registry, bus events.Publisher) *Service {
	if bus == nil {
		bus = events.NoopBus{}
	}
	return &Service{events: ev, users: users, sites: reg, bus: bus, now: time.Now}
}

// Records returns one row per user and local day in rng, filtered by a name
// substring.
func (s *Service) Records(ctx context.Context, rng domain.DateRange, q string) ([]domain.DailyRecord, error) {
	if rng.Location == nil {
		rng.Location = s.sites.DefaultLocation()
	}
	from, to := rng.Bounds()
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	// Sites may sit in other zones, so widen by a day and filter on local dates.
	evs, err := s.events.FindEvents(ctx, from.AddDate(0, 0, -1), to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return BuildDailyRecords(evs, rng, q, s.sites.Location), nil
}

type CorrectionRequest struct {
	InID    string     `json:"in_id"`
	OutID   string     `json:"out_id,omitempty"`
	InTime  *time.Time `json:"in_time"`
	OutTime *time.Time `json:"out_time,omitempty"`
}

// Correct rewrites the times of a day's IN and optional OUT event. The OUT
// must belong to the same user and local day as the IN. Without out_id the
// IN is checked against the OUT already paired with it that day. The
// resulting check-in must be strictly before the check-out.
func (s *Service) Correct(ctx context.Context, req CorrectionRequest) error {
	if req.InID == "" || req.InTime == nil {
		return fmt.Errorf("%w: in_id and in_time are required", ErrInvalidCorrection)
	}
	if req.OutTime != nil && req.OutID == "" {
		return fmt.Errorf("%w: out_time given without out_id", ErrInvalidCorrection)
	}

	in, err := s.eventOfKind(ctx, req.InID, domain.KindIn)
	if err != nil {
		return err
	}
	dayStart, dayEnd := ledger.DayWindow(in.OccurredAt, s.sites.Location(in.SiteID))

	updates := map[string]time.Time{req.InID: req.InTime.UTC()}
	var out *domain.AttendanceEvent
	if req.OutID != "" {
		out, err = s.eventOfKind(ctx, req.OutID, domain.KindOut)
		if err != nil {
			return err
		}
		if out.UserID != in.UserID {
			return fmt.Errorf("%w: out_id belongs to another user", ErrInvalidCorrection)
		}
		if out.OccurredAt.Before(dayStart) || out.OccurredAt.After(dayEnd) {
			return fmt.Errorf("%w: out_id is from another day", ErrInvalidCorrection)
		}
	} else {
		out, err = s.pairedOut(ctx, in, dayStart, dayEnd)
		if err != nil {
			return err
		}
	}

	if out != nil {
		outAt := out.OccurredAt
		if req.OutTime != nil {
			outAt = req.OutTime.UTC()
			updates[out.ID] = outAt
		}
		if !req.InTime.Before(outAt) {
			return fmt.Errorf("%w: check-in must be before check-out", ErrInvalidCorrection)
		}
	}

	if _, err := s.events.UpdateTimes(ctx, updates); err != nil {
		return err
	}

	now := s.now().UTC()
	for id, at := range updates {
		if err := s.bus.Publish(ctx, events.AttendanceCorrected, events.AttendanceCorrectedEvent{
			EventID: id, OccurredAt: at, CorrectedAt: now,
		}); err != nil {
			logger.ErrorContext(ctx, "failed to publish correction", "event_id", id, "error", err)
		}
	}
	logger.InfoContext(ctx, "attendance corrected", "in_id", req.InID, "out_id", req.OutID)
	return nil
}

// pairedOut returns the first OUT of in's user at or after in within the
// day window, or nil when the day has none.
func (s *Service) pairedOut(ctx context.Context, in *domain.AttendanceEvent, from, to time.Time) (*domain.AttendanceEvent, error) {
	evs, err := s.events.FindEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var out *domain.AttendanceEvent
	for i := range evs {
		e := evs[i].AttendanceEvent
		if e.UserID != in.UserID || e.Kind != domain.KindOut || e.OccurredAt.Before(in.OccurredAt) {
			continue
		}
		if out == nil || e.OccurredAt.Before(out.OccurredAt) {
			out = &e
		}
	}
	return out, nil
}

func (s *Service) eventOfKind(ctx context.Context, id string, kind domain.Kind) (*domain.AttendanceEvent, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if ev.Kind != kind {
		return nil, fmt.Errorf("%w: event %s is %s, not %s", ErrInvalidCorrection, id, ev.Kind, kind)
	}
	return ev, nil
}

// Delete removes the given IN and/or OUT event.
func (s *Service) Delete(ctx context.Context, inID, outID string) (int64, error) {
	var ids []string
	for _, id := range []string{inID, outID} {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, ErrNothingToDelete
	}
	n, err := s.events.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrEventNotFound
	}
	if err := s.bus.Publish(ctx, events.AttendanceDeleted, events.AttendanceDeletedEvent{
		EventIDs: ids, DeletedAt: s.now().UTC(),
	}); err != nil {
		logger.ErrorContext(ctx, "failed to publish deletion", "error", err)
	}
	return n, nil
}

func (s *Service) UpdateContact(ctx context.Context, name, contact string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCorrection)
	}
	n, err := s.users.UpdateContact(ctx, name, strings.TrimSpace(contact))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes every user with that name together with their events.
func (s *Service) DeleteUser(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: name is required", ErrInvalidCorrection)
	}
	users, evs, err := s.users.DeleteByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if users == 0 {
		return 0, ErrUserNotFound
	}
	if err := s.bus.Publish(ctx, events.UserDeleted, events.UserDeletedEvent{
		Name: name, EventsRemoved: evs, DeletedAt: s.now().UTC(),
	}); err != nil {
		logger.ErrorContext(ctx, "failed to publish user deletion", "error", err)
	}
	logger.InfoContext(ctx, "user deleted", "name", name, "events_removed", evs)
	return evs, nil
}

// Export writes the records of rng as an xlsx workbook.
func (s *Service) Export(ctx context.Context, rng domain.DateRange, w io.Writer) error {
	if rng.Location == nil {
		rng.Location = s.sites.DefaultLocation()
	}
	recs, err := s.Records(ctx, rng, "")
	if err != nil {
		return err
	}
	return export.WriteXLSX(w, recs, rng.Location)
}
