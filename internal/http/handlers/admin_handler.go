package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/diagnosis/qr-attendance/internal/admin"
	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/export"
	"github.com/diagnosis/qr-attendance/internal/http/response"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
)

const dateLayout = "2006-01-02"

type AdminService interface {
	Records(ctx context.Context, rng domain.DateRange, q string) ([]domain.DailyRecord, error)
	Correct(ctx context.Context, req admin.CorrectionRequest) error
	Delete(ctx context.Context, inID, outID string) (int64, error)
	UpdateContact(ctx context.Context, name, contact string) error
	DeleteUser(ctx context.Context, name string) (int64, error)
	Export(ctx context.Context, rng domain.DateRange, w io.Writer) error
}

type AdminHandler struct {
	Admin         AdminService
	Sites         *sites.Registry
	PublicBaseURL string
	now           func() time.Time
}

func NewAdminHandler(svc AdminService, reg *sites.Registry, publicBaseURL string) *AdminHandler {
	return &AdminHandler{Admin: svc, Sites: reg, PublicBaseURL: strings.TrimRight(publicBaseURL, "/"), now: time.Now}
}

// Routes expects to be mounted behind RequireSession and RequireAdmin.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/records", h.records)         // ?start=&end=&q=
	r.Put("/records", h.correct)         // {in_id, out_id, in_time, out_time}
	r.Delete("/records", h.deleteRecord) // {in_id, out_id}
	r.Post("/export", h.export)          // {start, end}
	r.Put("/users/contact", h.updateContact)
	r.Delete("/users", h.deleteUser)
	r.Get("/sites/{id}/qr", h.siteQR)
	return r
}

func (h *AdminHandler) parseRange(start, end string) (domain.DateRange, error) {
	loc := h.Sites.DefaultLocation()
	today := h.now().In(loc)
	rng := domain.DateRange{Start: today, End: today, Location: loc}
	if start != "" {
		t, err := time.ParseInLocation(dateLayout, start, loc)
		if err != nil {
			return rng, errors.New("start must be YYYY-MM-DD")
		}
		rng.Start = t
		rng.End = t
	}
	if end != "" {
		t, err := time.ParseInLocation(dateLayout, end, loc)
		if err != nil {
			return rng, errors.New("end must be YYYY-MM-DD")
		}
		rng.End = t
	}
	return rng, nil
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, admin.ErrInvalidCorrection), errors.Is(err, admin.ErrNothingToDelete), errors.Is(err, admin.ErrInvalidRange):
		response.BadRequest(w, err.Error())
	case errors.Is(err, admin.ErrEventNotFound), errors.Is(err, admin.ErrUserNotFound):
		response.NotFound(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "admin request failed", "action", action, "error", err)
		response.InternalError(w, "Failed to "+action)
	}
}

func (h *AdminHandler) records(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := h.parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	recs, err := h.Admin.Records(r.Context(), rng, q.Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err, "load records")
		return
	}
	if recs == nil {
		recs = []domain.DailyRecord{}
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

func (h *AdminHandler) correct(w http.ResponseWriter, r *http.Request) {
	var in admin.CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if err := h.Admin.Correct(r.Context(), in); err != nil {
		h.writeServiceError(w, r, err, "correct record")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "record updated"})
}

func (h *AdminHandler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	var in struct {
		InID  string `json:"in_id"`
		OutID string `json:"out_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	n, err := h.Admin.Delete(r.Context(), in.InID, in.OutID)
	if err != nil {
		h.writeServiceError(w, r, err, "delete record")
		return
	}
	response.JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *AdminHandler) export(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	rng, err := h.parseRange(in.Start, in.End)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := h.Admin.Export(r.Context(), rng, &buf); err != nil {
		h.writeServiceError(w, r, err, "export records")
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(rng.Start, rng.End)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *AdminHandler) updateContact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		Contact string `json:"contact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if err := h.Admin.UpdateContact(r.Context(), in.Name, in.Contact); err != nil {
		h.writeServiceError(w, r, err, "update contact")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "contact updated"})
}

func (h *AdminHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	n, err := h.Admin.DeleteUser(r.Context(), in.Name)
	if err != nil {
		h.writeServiceError(w, r, err, "delete user")
		return
	}
	response.JSON(w, http.StatusOK, map[string]int64{"events_removed": n})
}

// ScanURL is the link encoded in a site's QR code.
func (h *AdminHandler) ScanURL(siteID string) string {
	return h.PublicBaseURL + "/scan?site=" + url.QueryEscape(siteID)
}

func (h *AdminHandler) siteQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Sites.Get(id); !ok {
		response.NotFound(w, "unknown site")
		return
	}
	png, err := qrcode.Encode(h.ScanURL(id), qrcode.Medium, 256)
	if err != nil {
		logger.ErrorContext(r.Context(), "qr encode failed", "site_id", id, "error", err)
		response.InternalError(w, "Failed to render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
