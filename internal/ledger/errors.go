package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/diagnosis/qr-attendance/internal/domain"
)

var (
	ErrUnknownSite       = errors.New("unknown site")
	ErrStalePosition     = errors.New("stale position")
	ErrAlreadyCheckedOut = errors.New("already checked out today")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrStoreUnavailable  = errors.New("record store unavailable")
)

// OutOfRangeError reports a scan taken outside the site geofence.
type OutOfRangeError struct {
	SiteName       string
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.0fm from %s (radius %.0fm)", e.DistanceMeters, e.SiteName, e.RadiusMeters)
}

// Rejection codes returned to clients.
const (
	CodeUnknownSite       = "UNKNOWN_SITE"
	CodeStalePosition     = "STALE_POSITION"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeAlreadyCheckedOut = "ALREADY_CHECKED_OUT"
	CodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
)

// Outcome is the structured result of a scan as shown to the user.
type Outcome struct {
	Success        bool        `json:"success"`
	Code           string      `json:"code,omitempty"`
	Message        string      `json:"message"`
	Kind           domain.Kind `json:"kind,omitempty"`
	SiteName       string      `json:"site_name,omitempty"`
	DistanceMeters *float64    `json:"distance_m,omitempty"`
	Retryable      bool        `json:"retryable,omitempty"`
}

func successOutcome(site domain.Site, kind domain.Kind) Outcome {
	action := "check-in"
	if kind == domain.KindOut {
		action = "check-out"
	}
	return Outcome{
		Success:  true,
		Message:  fmt.Sprintf("%s: confirmed within %.0fm, %s (%s) recorded", site.Name, site.RadiusMeters, action, kind),
		Kind:     kind,
		SiteName: site.Name,
	}
}

// OutcomeFromError maps a rejection to its user-facing outcome. Unrecognised
// errors are reported as a store failure.
func OutcomeFromError(err error) Outcome {
	var oor *OutOfRangeError
	switch {
	case errors.As(err, &oor):
		out := Outcome{
			Code:     CodeOutOfRange,
			Message:  fmt.Sprintf("Outside the site radius (%.0fm).", oor.RadiusMeters),
			SiteName: oor.SiteName,
		}
		// NaN marks an unusable position; JSON cannot carry it.
		if !math.IsNaN(oor.DistanceMeters) && !math.IsInf(oor.DistanceMeters, 0) {
			d := math.Round(oor.DistanceMeters)
			out.Message = fmt.Sprintf("Outside the site radius (%.0fm). Current distance: %.0fm", oor.RadiusMeters, d)
			out.DistanceMeters = &d
		}
		return out
	case errors.Is(err, ErrUnknownSite):
		return Outcome{Code: CodeUnknownSite, Message: "This site is not valid."}
	case errors.Is(err, ErrStalePosition):
		return Outcome{Code: CodeStalePosition, Message: "Your location is out of date. Please try again."}
	case errors.Is(err, ErrAlreadyCheckedOut):
		return Outcome{Code: CodeAlreadyCheckedOut, Message: "You have already checked out today. Please check in again tomorrow."}
	case errors.Is(err, ErrIdentityNotFound):
		return Outcome{Code: CodeIdentityNotFound, Message: "We could not find your registration. Please sign in again."}
	default:
		return Outcome{Code: CodeStoreUnavailable, Message: "A server error occurred. Please try again shortly.", Retryable: true}
	}
}
