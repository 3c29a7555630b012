package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/qr-attendance/internal/admin"
	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/export"
	"github.com/diagnosis/qr-attendance/internal/http/middleware"
	"github.com/diagnosis/qr-attendance/internal/ledger"
	"github.com/diagnosis/qr-attendance/internal/registration"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/auth"
)

const testSecret = "test-secret"

// ---------- Mocks ----------

type mockScanner struct {
	outcome ledger.Outcome
	lastWho domain.Identity
	lastReq ledger.ScanRequest
}

func (m *mockScanner) Scan(_ context.Context, who domain.Identity, req ledger.ScanRequest) ledger.Outcome {
	m.lastWho, m.lastReq = who, req
	return m.outcome
}

type mockRegistrar struct {
	names map[string]bool
	err   error
}

func (m *mockRegistrar) Register(_ context.Context, req registration.Request) (*domain.User, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, false, registration.ErrNameRequired
	}
	created := !m.names[req.Name]
	m.names[req.Name] = true
	return &domain.User{ID: 1, Name: req.Name, Contact: req.Contact}, created, nil
}

func (m *mockRegistrar) IsRegistered(_ context.Context, name string) (bool, error) {
	if name == "" {
		return false, registration.ErrNameRequired
	}
	return m.names[name], m.err
}

type mockAdmin struct {
	records     []domain.DailyRecord
	lastRange   domain.DateRange
	lastQuery   string
	lastCorrect admin.CorrectionRequest
	err         error
}

func (m *mockAdmin) Records(_ context.Context, rng domain.DateRange, q string) ([]domain.DailyRecord, error) {
	m.lastRange, m.lastQuery = rng, q
	return m.records, m.err
}

func (m *mockAdmin) Correct(_ context.Context, req admin.CorrectionRequest) error {
	m.lastCorrect = req
	return m.err
}

func (m *mockAdmin) Delete(_ context.Context, inID, outID string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if inID == "" && outID == "" {
		return 0, admin.ErrNothingToDelete
	}
	return 1, nil
}

func (m *mockAdmin) UpdateContact(context.Context, string, string) error { return m.err }

func (m *mockAdmin) DeleteUser(context.Context, string) (int64, error) { return 3, m.err }

func (m *mockAdmin) Export(_ context.Context, rng domain.DateRange, w io.Writer) error {
	m.lastRange = rng
	if m.err != nil {
		return m.err
	}
	_, err := w.Write([]byte("xlsx-bytes"))
	return err
}

type mockProvider struct {
	identity domain.Identity
	err      error
}

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://kauth.example/authorize?state=" + state
}

func (m *mockProvider) Exchange(_ context.Context, code string) (domain.Identity, error) {
	return m.identity, m.err
}

// ---------- Helpers ----------

func registry(t *testing.T) *sites.Registry {
	t.Helper()
	reg, err := sites.New("Asia/Seoul", sites.DefaultSites)
	require.NoError(t, err)
	return reg
}

func bearer(t *testing.T, adminRole bool) string {
	t.Helper()
	var tok string
	var err error
	if adminRole {
		tok, err = auth.NewAdminSession(testSecret, time.Hour)
	} else {
		tok, err = auth.NewSession("Kim Minji", "http://img/k.png", testSecret, time.Hour)
	}
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(t *testing.T, h http.Handler, method, path, authz string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ---------- Scan ----------

func scanRouter(s Scanner) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/scan", func(r chi.Router) {
		r.Use(middleware.RequireSession(testSecret))
		r.Mount("/", NewScanHandler(s).Routes())
	})
	return r
}

func TestScan_Success(t *testing.T) {
	s := &mockScanner{outcome: ledger.Outcome{Success: true, Kind: domain.KindIn, SiteName: "Cygnus Wedding Hall"}}
	h := scanRouter(s)

	ts := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rr := do(t, h, http.MethodPost, "/v1/scan", bearer(t, false), map[string]interface{}{
		"site_id": "HQ", "lat": 35.1686875, "lng": 126.8011569, "timestamp": ts.UnixMilli(),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var out ledger.Outcome
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, domain.KindIn, out.Kind)

	assert.Equal(t, "Kim Minji", s.lastWho.DisplayName)
	assert.Equal(t, "HQ", s.lastReq.SiteID)
	assert.True(t, s.lastReq.CapturedAt.Equal(ts))
}

func TestScan_RejectionStatuses(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ledger.CodeUnknownSite, http.StatusNotFound},
		{ledger.CodeStalePosition, http.StatusUnprocessableEntity},
		{ledger.CodeOutOfRange, http.StatusUnprocessableEntity},
		{ledger.CodeAlreadyCheckedOut, http.StatusConflict},
		{ledger.CodeIdentityNotFound, http.StatusForbidden},
		{ledger.CodeStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := scanRouter(&mockScanner{outcome: ledger.Outcome{Code: tt.code, Message: "no"}})
			rr := do(t, h, http.MethodPost, "/v1/scan", bearer(t, false), map[string]interface{}{
				"site_id": "HQ", "lat": 1.0, "lng": 2.0, "timestamp": 1,
			})
			assert.Equal(t, tt.want, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.code)
		})
	}
}

func TestScan_BadInput(t *testing.T) {
	h := scanRouter(&mockScanner{})

	rr := do(t, h, http.MethodPost, "/v1/scan", "", map[string]interface{}{"site_id": "HQ"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/scan", bearer(t, false), "{")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// lat 0 is a valid coordinate, a missing one is not.
	rr = do(t, h, http.MethodPost, "/v1/scan", bearer(t, false), map[string]interface{}{
		"site_id": "HQ", "lng": 2.0, "timestamp": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	for _, c := range [][2]float64{{90.5, 2}, {-91, 2}, {1, 180.5}, {1, -181}} {
		rr = do(t, h, http.MethodPost, "/v1/scan", bearer(t, false), map[string]interface{}{
			"site_id": "HQ", "lat": c[0], "lng": c[1], "timestamp": 1,
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code, "lat=%v lng=%v", c[0], c[1])
	}
}

func TestScan_AdminSessionCannotScan(t *testing.T) {
	s := &mockScanner{outcome: ledger.Outcome{Success: true}}
	h := scanRouter(s)

	rr := do(t, h, http.MethodPost, "/v1/scan", bearer(t, true), map[string]interface{}{
		"site_id": "HQ", "lat": 35.1686875, "lng": 126.8011569, "timestamp": 1,
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, s.lastWho.DisplayName, "scanner must not be called")
}

func TestSites_List(t *testing.T) {
	rr := do(t, NewSitesHandler(registry(t)).Routes(), http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Sites []domain.Site `json:"sites"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body.Sites, 1)
	assert.Equal(t, "HQ", body.Sites[0].ID)
	assert.Equal(t, 150.0, body.Sites[0].RadiusMeters)
}

// ---------- Registration ----------

func TestRegistration(t *testing.T) {
	h := NewRegistrationHandler(&mockRegistrar{names: map[string]bool{}}).Routes()

	rr := do(t, h, http.MethodPost, "/registration/check", "", map[string]string{"name": "Kim"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"is_registered":false}`, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/register", "", map[string]string{"name": "Kim", "contact": "010-1234-5678"})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, h, http.MethodPost, "/register", "", map[string]string{"name": "Kim"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"created":false`)

	rr = do(t, h, http.MethodPost, "/registration/check", "", map[string]string{"name": "Kim"})
	assert.JSONEq(t, `{"is_registered":true}`, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/register", "", map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegistration_StoreError(t *testing.T) {
	h := NewRegistrationHandler(&mockRegistrar{names: map[string]bool{}, err: errors.New("db down")}).Routes()
	rr := do(t, h, http.MethodPost, "/register", "", map[string]string{"name": "Kim"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// ---------- Auth ----------

func authConfig(t *testing.T) AuthConfig {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	return AuthConfig{JWTSecret: testSecret, SessionTTL: time.Hour, AdminSessionTTL: time.Hour, AdminPasswordHash: hash}
}

func TestKakaoLoginAndCallback(t *testing.T) {
	provider := &mockProvider{identity: domain.Identity{DisplayName: "Kim Minji", ImageURL: "http://img/k.png"}}
	h := NewAuthHandler(provider, &mockRegistrar{names: map[string]bool{"Kim Minji": true}}, authConfig(t)).Routes()

	rr := do(t, h, http.MethodGet, "/kakao/login", "", nil)
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/kakao/callback?code=abc&state="+state, nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		AccessToken  string `json:"access_token"`
		Name         string `json:"name"`
		IsRegistered bool   `json:"is_registered"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "Kim Minji", body.Name)
	assert.True(t, body.IsRegistered)

	claims, err := auth.Parse(body.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "Kim Minji", claims.Name)
	assert.Equal(t, "http://img/k.png", claims.Image)
}

func TestKakaoCallback_Rejects(t *testing.T) {
	provider := &mockProvider{err: errors.New("bad code")}
	h := NewAuthHandler(provider, &mockRegistrar{names: map[string]bool{}}, authConfig(t)).Routes()

	rr := do(t, h, http.MethodGet, "/kakao/callback?code=abc&state=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/kakao/callback?code=abc&state=x", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "x"})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminLogin(t *testing.T) {
	h := http.HandlerFunc(NewAuthHandler(&mockProvider{}, &mockRegistrar{}, authConfig(t)).AdminLogin)

	rr := do(t, h, http.MethodPost, "/login", "", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/login", "", map[string]string{"password": "s3cret"})
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	claims, err := auth.Parse(body["access_token"], testSecret)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

// ---------- Admin ----------

func adminRouter(t *testing.T, svc AdminService) (http.Handler, *AdminHandler) {
	t.Helper()
	ah := NewAdminHandler(svc, registry(t), "https://attend.example/")
	ah.now = func() time.Time { return time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.RequireSession(testSecret))
		r.Use(middleware.RequireAdmin)
		r.Mount("/", ah.Routes())
	})
	return r, ah
}

func TestAdmin_RequiresAdmin(t *testing.T) {
	h, _ := adminRouter(t, &mockAdmin{})
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/admin/records", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/v1/admin/records", bearer(t, false), nil).Code)
}

func TestAdmin_Records(t *testing.T) {
	svc := &mockAdmin{}
	h, _ := adminRouter(t, svc)

	rr := do(t, h, http.MethodGet, "/v1/admin/records", bearer(t, true), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"records":[]}`, rr.Body.String())
	// 20:00 UTC is already the 3rd in Seoul.
	assert.Equal(t, "2026-03-03", svc.lastRange.Start.In(svc.lastRange.Location).Format(dateLayout))

	rr = do(t, h, http.MethodGet, "/v1/admin/records?start=2026-03-01&end=2026-03-05&q=kim", bearer(t, true), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "kim", svc.lastQuery)
	assert.Equal(t, "2026-03-05", svc.lastRange.End.Format(dateLayout))

	rr = do(t, h, http.MethodGet, "/v1/admin/records?start=03/01/2026", bearer(t, true), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdmin_CorrectAndDelete(t *testing.T) {
	svc := &mockAdmin{}
	h, _ := adminRouter(t, svc)

	rr := do(t, h, http.MethodPut, "/v1/admin/records", bearer(t, true),
		`{"in_id":"a","out_id":"b","in_time":"2026-03-02T09:00:00+09:00","out_time":"2026-03-02T18:00:00+09:00"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "a", svc.lastCorrect.InID)
	require.NotNil(t, svc.lastCorrect.OutTime)
	assert.Equal(t, 9, svc.lastCorrect.OutTime.UTC().Hour())

	rr = do(t, h, http.MethodDelete, "/v1/admin/records", bearer(t, true), `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodDelete, "/v1/admin/records", bearer(t, true), `{"in_id":"a"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	svc.err = admin.ErrInvalidCorrection
	rr = do(t, h, http.MethodPut, "/v1/admin/records", bearer(t, true), `{"in_id":"a"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.err = admin.ErrEventNotFound
	rr = do(t, h, http.MethodDelete, "/v1/admin/records", bearer(t, true), `{"in_id":"a"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdmin_Users(t *testing.T) {
	svc := &mockAdmin{}
	h, _ := adminRouter(t, svc)

	rr := do(t, h, http.MethodPut, "/v1/admin/users/contact", bearer(t, true), map[string]string{"name": "Kim", "contact": "010"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodDelete, "/v1/admin/users", bearer(t, true), map[string]string{"name": "Kim"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"events_removed":3}`, rr.Body.String())

	svc.err = admin.ErrUserNotFound
	rr = do(t, h, http.MethodDelete, "/v1/admin/users", bearer(t, true), map[string]string{"name": "Kim"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdmin_Export(t *testing.T) {
	svc := &mockAdmin{}
	h, _ := adminRouter(t, svc)

	rr := do(t, h, http.MethodPost, "/v1/admin/export", bearer(t, true), map[string]string{"start": "2026-03-01", "end": "2026-03-31"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, export.ContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attendance_2026-03-01_2026-03-31.xlsx")
	assert.Equal(t, "xlsx-bytes", rr.Body.String())

	svc.err = errors.New("db down")
	rr = do(t, h, http.MethodPost, "/v1/admin/export", bearer(t, true), map[string]string{"start": "2026-03-01"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
}

func TestAdmin_SiteQR(t *testing.T) {
	h, ah := adminRouter(t, &mockAdmin{})
	assert.Equal(t, "https://attend.example/scan?site=HQ", ah.ScanURL("HQ"))

	rr := do(t, h, http.MethodGet, "/v1/admin/sites/HQ/qr", bearer(t, true), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	img, err := png.Decode(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	rr = do(t, h, http.MethodGet, "/v1/admin/sites/NOPE/qr", bearer(t, true), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
