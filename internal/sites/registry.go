package sites

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/diagnosis/qr-attendance/internal/domain"
)

// Registry is the read-only set of venue sites, kept in declaration order.
type Registry struct {
	ids   []string
	byID  map[string]domain.Site
	local *time.Location
}

// DefaultSites is the built-in registry used when no override is configured.
var DefaultSites = []domain.Site{
	{
		ID:           "HQ",
		Name:         "Cygnus Wedding Hall",
		Latitude:     35.1686875,
		Longitude:    126.8011569,
		RadiusMeters: 150,
	},
}

// New builds a registry. Sites without a time zone use defaultTZ.
func New(defaultTZ string, list []domain.Site) (*Registry, error) {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", defaultTZ, err)
	}
	r := &Registry{byID: make(map[string]domain.Site, len(list)), local: loc}
	for _, s := range list {
		if s.ID == "" {
			return nil, errors.New("site id is required")
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate site id %q", s.ID)
		}
		if s.RadiusMeters <= 0 {
			return nil, fmt.Errorf("site %q: radius must be positive", s.ID)
		}
		if s.TimeZone == "" {
			s.TimeZone = defaultTZ
			s.Location = loc
		} else {
			sl, err := time.LoadLocation(s.TimeZone)
			if err != nil {
				return nil, fmt.Errorf("site %q: load time zone %q: %w", s.ID, s.TimeZone, err)
			}
			s.Location = sl
		}
		r.ids = append(r.ids, s.ID)
		r.byID[s.ID] = s
	}
	return r, nil
}

// FromJSON builds a registry from a JSON array of sites, or from DefaultSites
// when raw is empty.
func FromJSON(defaultTZ, raw string) (*Registry, error) {
	if raw == "" {
		return New(defaultTZ, DefaultSites)
	}
	var list []domain.Site
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse sites json: %w", err)
	}
	return New(defaultTZ, list)
}

// Get looks up a site by exact id. The bool is false for unknown ids.
func (r *Registry) Get(id string) (domain.Site, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) All() []domain.Site {
	out := make([]domain.Site, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Location returns the time zone of a site, falling back to the venue
// default for unknown ids.
func (r *Registry) Location(siteID string) *time.Location {
	if s, ok := r.byID[siteID]; ok && s.Location != nil {
		return s.Location
	}
	return r.local
}

// DefaultLocation is the venue time zone.
func (r *Registry) DefaultLocation() *time.Location {
	return r.local
}
