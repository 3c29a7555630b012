package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/geo"
	"github.com/diagnosis/qr-attendance/internal/http/middleware"
	"github.com/diagnosis/qr-attendance/internal/http/response"
	"github.com/diagnosis/qr-attendance/internal/ledger"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/auth"
	"github.com/go-chi/chi/v5"
)

type Scanner interface {
	Scan(ctx context.Context, who domain.Identity, req ledger.ScanRequest) ledger.Outcome
}

type ScanHandler struct {
	Ledger Scanner
}

func NewScanHandler(l Scanner) *ScanHandler {
	return &ScanHandler{Ledger: l}
}

// Routes expects to be mounted behind RequireSession.
func (h *ScanHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.scan) // {site_id, lat, lng, timestamp}
	return r
}

type scanIn struct {
	SiteID    string   `json:"site_id"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lng"`
	// Timestamp is the position fix time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

func (h *ScanHandler) scan(w http.ResponseWriter, r *http.Request) {
	var in scanIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if in.SiteID == "" || in.Latitude == nil || in.Longitude == nil || in.Timestamp <= 0 {
		response.BadRequest(w, "site_id, lat, lng and timestamp are required")
		return
	}
	if !geo.ValidCoordinates(*in.Latitude, *in.Longitude) {
		response.BadRequest(w, "lat must be within [-90, 90] and lng within [-180, 180]")
		return
	}

	claims := middleware.Claims(r)
	if claims == nil {
		response.Unauthorized(w, "session required")
		return
	}
	if claims.Role != auth.RoleUser || claims.Name == "" {
		response.Forbidden(w, "a user session is required to scan")
		return
	}

	out := h.Ledger.Scan(r.Context(), domain.Identity{DisplayName: claims.Name, ImageURL: claims.Image}, ledger.ScanRequest{
		SiteID:     in.SiteID,
		Latitude:   *in.Latitude,
		Longitude:  *in.Longitude,
		CapturedAt: time.UnixMilli(in.Timestamp),
	})
	response.JSON(w, outcomeStatus(out), out)
}

func outcomeStatus(o ledger.Outcome) int {
	if o.Success {
		return http.StatusCreated
	}
	switch o.Code {
	case ledger.CodeUnknownSite:
		return http.StatusNotFound
	case ledger.CodeStalePosition, ledger.CodeOutOfRange:
		return http.StatusUnprocessableEntity
	case ledger.CodeAlreadyCheckedOut:
		return http.StatusConflict
	case ledger.CodeIdentityNotFound:
		return http.StatusForbidden
	case ledger.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type SitesHandler struct {
	Sites *sites.Registry
}

func NewSitesHandler(reg *sites.Registry) *SitesHandler {
	return &SitesHandler{Sites: reg}
}

func (h *SitesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	return r
}

func (h *SitesHandler) list(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]interface{}{"sites": h.Sites.All()})
}
