package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"itam-api/internal/assets"
	"itam-api/internal/attachments"
	"itam-api/internal/auth"
	"itam-api/internal/blob"
	"itam-api/internal/handlers"
	"itam-api/internal/ledger"
	"itam-api/internal/maintenance"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/notify"
	"itam-api/internal/store/memory"
	"itam-api/internal/tenancy"
	"itam-api/internal/users"
	"itam-api/internal/warranty"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	t       *testing.T
	srv     *Server
	tenants *tenancy.Registry
	users   *users.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	m := metrics.New()
	reg := tenancy.NewRegistry(st, nil, m)
	atts := attachments.NewService(st, reg, blob.NewMemory(), nil)
	outbox := notify.NewOutbox()
	as := assets.NewService(st, reg, ledger.New(), atts, outbox, nil, m)
	us := users.NewService(st, reg, nil)
	us.SetHashCost(bcrypt.MinCost)

	srv := NewServer(Deps{
		Tenants:       reg,
		Assets:        as,
		Maintenance:   maintenance.NewService(st, as, atts, outbox, nil, m),
		Attachments:   atts,
		Users:         us,
		Warranty:      warranty.NewEngine(st, outbox, nil, m),
		Inbox:         notify.NewInbox(st),
		Imports:       handlers.NewImportsHandler(as, "", nil),
		JWTManager:    auth.NewJWTManager("test-secret-for-http-adapter-tests", "itam-api", "itam-api", time.Hour),
		Metrics:       m,
		EnableMetrics: true,
	})
	return &harness{t: t, srv: srv, tenants: reg, users: us}
}

type member struct {
	models.User
	password string
	token    string
}

// tenant provisions a tenant and registers one user per role set
func (h *harness) tenant(slug string, roles ...[]string) []member {
	h.t.Helper()
	ctx := context.Background()
	tn, err := h.tenants.Provision(ctx, models.CreateTenantRequest{Name: slug, Slug: slug})
	require.NoError(h.t, err)
	bootstrap := models.Actor{TenantID: tn.ID, UserID: "bootstrap", Roles: []string{models.RoleTenantAdmin}}

	out := make([]member, 0, len(roles))
	for i, rs := range roles {
		pw := fmt.Sprintf("password-%d", i)
		u, err := h.users.Register(ctx, bootstrap, models.CreateUserRequest{
			Email:    fmt.Sprintf("user%d@%s.test", i, slug),
			Password: pw,
			Roles:    rs,
		})
		require.NoError(h.t, err)
		tok, err := h.srv.JWTManager.GenerateToken(u.ID, u.TenantID, u.Roles)
		require.NoError(h.t, err)
		out = append(out, member{User: *u, password: pw, token: tok})
	}
	return out
}

func (h *harness) platformToken() string {
	h.t.Helper()
	tok, err := h.srv.JWTManager.GenerateToken("operator", "platform", []string{models.RolePlatformAdmin})
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[auth.ErrorResponse](t, w).Code
}

var (
	adminRoles   = []string{models.RoleTenantAdmin}
	managerRoles = []string{models.RoleAssetManager}
	memberRoles  = []string{models.RoleMember}
)

func (h *harness) createAsset(token string, body map[string]interface{}) models.Asset {
	h.t.Helper()
	w := h.do("POST", "/assets", token, body)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Asset](h.t, w)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := newHarness(t)

	w := h.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = h.do("GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	w := h.do("GET", "/assets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_AUTH_HEADER", errorCode(t, w))

	w = h.do("GET", "/assets", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	h := newHarness(t)
	admin := h.tenant("acme", adminRoles)[0]

	w := h.do("POST", "/auth/login", "", models.LoginRequest{Email: admin.Email, Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))

	w = h.do("POST", "/auth/login", "", models.LoginRequest{Email: admin.Email, Password: admin.password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.LoginResponse](t, w)
	assert.NotEmpty(t, resp.Token)
	assert.Empty(t, resp.User.PasswordHash)
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = h.do("GET", "/auth/profile", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, admin.ID, decode[models.User](t, w).ID)
}

func TestLoginRefusedForInactiveTenant(t *testing.T) {
	h := newHarness(t)
	admin := h.tenant("acme", adminRoles)[0]

	w := h.do("PUT", "/tenants/"+admin.TenantID+"/active", h.platformToken(), map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do("POST", "/auth/login", "", models.LoginRequest{Email: admin.Email, Password: admin.password})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TENANT_INACTIVE", errorCode(t, w))
}

func TestRoleEnforcement(t *testing.T) {
	h := newHarness(t)
	ms := h.tenant("acme", adminRoles, memberRoles)
	admin, plain := ms[0], ms[1]

	w := h.do("POST", "/assets", plain.token, map[string]interface{}{"device_type": "laptop"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", errorCode(t, w))

	w = h.do("GET", "/tenants", admin.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do("GET", "/assets", plain.token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTenantProvisioningAndTier(t *testing.T) {
	h := newHarness(t)
	op := h.platformToken()

	w := h.do("POST", "/tenants", op, models.CreateTenantRequest{Name: "Globex", Slug: " Globex "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tn := decode[models.Tenant](t, w)
	assert.Equal(t, "globex", tn.Slug)
	assert.Equal(t, models.TierFree, tn.Tier)

	w = h.do("POST", "/tenants", op, models.CreateTenantRequest{Name: "Dup", Slug: "globex"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do("PUT", "/tenants/"+tn.ID+"/tier", op, models.ChangeTierRequest{Tier: "pro"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(500), decode[models.Tenant](t, w).Limits.MaxAssets)

	w = h.do("PUT", "/tenants/"+tn.ID+"/tier", op, models.ChangeTierRequest{Tier: "platinum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do("GET", "/tenants/missing", op, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssetLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	ms := h.tenant("acme", managerRoles, memberRoles)
	mgr, holder := ms[0], ms[1]

	a := h.createAsset(mgr.token, map[string]interface{}{"device_type": "laptop", "manufacturer": "Dell", "model": "XPS 13"})
	assert.Equal(t, "AST-000001", a.Tag)
	assert.Equal(t, models.AssetAvailable, a.Status)

	w := h.do("GET", "/assets/"+a.ID, holder.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"Dell XPS 13"`)

	w = h.do("POST", "/assets/"+a.ID+"/assign", mgr.token, models.AssignAssetRequest{UserID: holder.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[models.AssetAssignment](t, w)
	assert.Equal(t, holder.ID, rec.UserID)

	w = h.do("POST", "/assets/"+a.ID+"/assign", mgr.token, models.AssignAssetRequest{UserID: mgr.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_ASSIGNED", errorCode(t, w))

	w = h.do("GET", "/notifications", holder.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	inbox := decode[[]models.Notification](t, w)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotifyAssetAssigned, inbox[0].Type)

	w = h.do("POST", "/notifications/"+inbox[0].ID+"/read", holder.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do("GET", "/notifications?unread=true", holder.token, nil)
	assert.Empty(t, decode[[]models.Notification](t, w))

	w = h.do("POST", "/assignments/"+rec.ID+"/return", mgr.token, models.ReturnAssetRequest{Condition: "good"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = h.do("POST", "/assignments/"+rec.ID+"/return", mgr.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ASSIGNMENT_NOT_ACTIVE", errorCode(t, w))

	w = h.do("POST", "/assets/"+a.ID+"/lost", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AssetLost, decode[models.Asset](t, w).Status)

	w = h.do("POST", "/assets/"+a.ID+"/recover", mgr.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONFIRMATION_REQUIRED", errorCode(t, w))

	w = h.do("POST", "/assets/"+a.ID+"/recover", mgr.token, models.RecoverAssetRequest{Confirm: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AssetAvailable, decode[models.Asset](t, w).Status)

	w = h.do("POST", "/assets/"+a.ID+"/retire", mgr.token, map[string]string{"reason": "end of life"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AssetRetired, decode[models.Asset](t, w).Status)

	w = h.do("POST", "/assets/"+a.ID+"/assign", mgr.token, models.AssignAssetRequest{UserID: holder.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errorCode(t, w))

	w = h.do("GET", "/assets/"+a.ID+"/history", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[assets.History](t, w)
	assert.Len(t, hist.Assignments, 1)

	w = h.do("GET", "/users/"+holder.ID+"/assignments", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.AssetAssignment](t, w), 1)
}

func TestAssetListingAndValidation(t *testing.T) {
	h := newHarness(t)
	mgr := h.tenant("acme", managerRoles)[0]
	h.createAsset(mgr.token, map[string]interface{}{"device_type": "laptop", "name": "alpha"})
	h.createAsset(mgr.token, map[string]interface{}{"device_type": "phone", "name": "beta"})
	h.createAsset(mgr.token, map[string]interface{}{"device_type": "laptop", "name": "gamma"})

	w := h.do("GET", "/assets?device_type=laptop&sort=-tag&limit=1", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Data []models.Asset `json:"data"`
		Meta listMeta       `json:"meta"`
	}](t, w)
	assert.Equal(t, 2, page.Meta.Total)
	assert.Equal(t, 1, page.Meta.Limit)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "AST-000003", page.Data[0].Tag)

	w = h.do("GET", "/assets?status=broken", mgr.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do("POST", "/assets", mgr.token, map[string]interface{}{"device_type": "toaster"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))

	w = h.do("POST", "/assets", mgr.token, map[string]interface{}{
		"device_type":    "laptop",
		"warranty_start": "2026-05-01T00:00:00Z",
		"warranty_end":   "2026-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do("POST", "/assets", mgr.token, map[string]interface{}{"device_type": "laptop", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_BODY", errorCode(t, w))
}

func TestAssetQuotaOverHTTP(t *testing.T) {
	h := newHarness(t)
	mgr := h.tenant("acme", managerRoles)[0]
	limit := models.LimitsFor(models.TierFree).MaxAssets

	for i := int64(0); i < limit; i++ {
		h.createAsset(mgr.token, map[string]interface{}{"device_type": "peripheral"})
	}
	w := h.do("POST", "/assets", mgr.token, map[string]interface{}{"device_type": "peripheral"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", errorCode(t, w))

	w = h.do("GET", "/tenant", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, limit, decode[models.Tenant](t, w).Usage.Assets)
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	h := newHarness(t)
	acme := h.tenant("acme", managerRoles)[0]
	globex := h.tenant("globex", managerRoles)[0]
	a := h.createAsset(acme.token, map[string]interface{}{"device_type": "server"})

	for _, path := range []string{"/assets/" + a.ID, "/assets/" + a.ID + "/history", "/assets/" + a.ID + "/attachments"} {
		w := h.do("GET", path, globex.token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "NOT_FOUND", errorCode(t, w))
	}
	w := h.do("POST", "/assets/"+a.ID+"/retire", globex.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do("GET", "/assets", globex.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestDeleteAssetWithHistory(t *testing.T) {
	h := newHarness(t)
	ms := h.tenant("acme", adminRoles, memberRoles)
	admin, holder := ms[0], ms[1]
	fresh := h.createAsset(admin.token, map[string]interface{}{"device_type": "tablet"})
	used := h.createAsset(admin.token, map[string]interface{}{"device_type": "tablet"})

	w := h.do("POST", "/assets/"+used.ID+"/assign", admin.token, models.AssignAssetRequest{UserID: holder.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do("DELETE", "/assets/"+used.ID, admin.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ASSET_HAS_HISTORY", errorCode(t, w))

	w = h.do("DELETE", "/assets/"+fresh.ID, admin.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do("GET", "/assets/"+fresh.ID, admin.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func (h *harness) upload(path, token, name string, data []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(h.t, mw.WriteField("category", "receipt"))
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(h.t, err)
	_, err = fw.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(w, req)
	return w
}

func TestAssetAttachmentsOverHTTP(t *testing.T) {
	h := newHarness(t)
	mgr := h.tenant("acme", managerRoles)[0]
	a := h.createAsset(mgr.token, map[string]interface{}{"device_type": "printer"})
	content := []byte("%PDF-1.4 receipt")

	w := h.upload("/assets/"+a.ID+"/attachments", mgr.token, "receipt.pdf", content)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	att := decode[models.Attachment](t, w)
	assert.Equal(t, models.CategoryReceipt, att.Category)
	assert.Equal(t, int64(len(content)), att.SizeBytes)

	w = h.do("GET", "/tenant", mgr.token, nil)
	assert.Equal(t, int64(len(content)), decode[models.Tenant](t, w).Usage.StorageBytes)

	w = h.do("GET", "/assets/"+a.ID+"/attachments/"+att.ID, mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "receipt.pdf")

	w = h.do("GET", "/assets/"+a.ID+"/attachments", mgr.token, nil)
	assert.Len(t, decode[[]models.Attachment](t, w), 1)

	w = h.do("DELETE", "/assets/"+a.ID+"/attachments/"+att.ID, mgr.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do("GET", "/tenant", mgr.token, nil)
	assert.Zero(t, decode[models.Tenant](t, w).Usage.StorageBytes)
}

func TestMaintenanceOverHTTP(t *testing.T) {
	h := newHarness(t)
	ms := h.tenant("acme", managerRoles, []string{models.RoleTechnician})
	mgr, tech := ms[0], ms[1]
	a := h.createAsset(mgr.token, map[string]interface{}{"device_type": "desktop"})

	w := h.do("POST", "/assets/"+a.ID+"/maintenance", tech.token, models.CreateMaintenanceRequest{
		Type: models.MaintenanceRepair, Title: "Replace PSU",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[models.Maintenance](t, w)
	assert.Equal(t, models.MaintenancePending, rec.Status)

	w = h.do("GET", "/assets/"+a.ID, tech.token, nil)
	assert.Equal(t, models.AssetMaintenance, decode[models.Asset](t, w).Status)

	w = h.do("POST", "/assets/"+a.ID+"/maintenance", tech.token, models.CreateMaintenanceRequest{
		Type: models.MaintenanceRepair, Title: "Second ticket",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.upload("/maintenance/"+rec.ID+"/attachments", tech.token, "before.jpg", []byte("jpeg bytes"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do("POST", "/maintenance/"+rec.ID+"/start", tech.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.MaintenanceInProgress, decode[models.Maintenance](t, w).Status)

	w = h.do("POST", "/maintenance/"+rec.ID+"/complete", tech.token, models.CompleteMaintenanceRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[models.Maintenance](t, w)
	assert.Equal(t, models.MaintenanceCompleted, done.Status)
	assert.Len(t, done.Attachments, 1)

	w = h.do("POST", "/maintenance/"+rec.ID+"/cancel", tech.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errorCode(t, w))

	w = h.upload("/maintenance/"+rec.ID+"/attachments", tech.token, "late.jpg", []byte("late"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do("GET", "/assets/"+a.ID, tech.token, nil)
	assert.Equal(t, models.AssetAvailable, decode[models.Asset](t, w).Status)

	w = h.do("GET", "/maintenance?asset_id="+a.ID, tech.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Maintenance](t, w), 1)
}

func TestWarrantyAlertsOverHTTP(t *testing.T) {
	h := newHarness(t)
	mgr := h.tenant("acme", managerRoles)[0]
	soon := models.DateOnly(time.Now()).AddDate(0, 0, 10).Format(time.RFC3339)
	a := h.createAsset(mgr.token, map[string]interface{}{"device_type": "laptop", "warranty_end": soon})

	w := h.do("POST", "/warranty-alerts/scan", mgr.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do("POST", "/warranty-alerts/scan", h.platformToken(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[warranty.Result](t, w)
	assert.Equal(t, 1, res.Created)

	w = h.do("GET", "/warranty-alerts?unacknowledged=true", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[[]models.WarrantyAlert](t, w)
	require.Len(t, alerts, 1)
	assert.Equal(t, a.ID, alerts[0].AssetID)
	assert.Equal(t, models.AlertExpiring, alerts[0].Type)
	assert.Equal(t, 10, alerts[0].DaysRemaining)

	w = h.do("POST", "/warranty-alerts/"+alerts[0].ID+"/acknowledge", mgr.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do("POST", "/warranty-alerts/"+alerts[0].ID+"/acknowledge", mgr.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_ACKNOWLEDGED", errorCode(t, w))

	w = h.do("GET", "/warranty-alerts?unacknowledged=true", mgr.token, nil)
	assert.Empty(t, decode[[]models.WarrantyAlert](t, w))
}

func TestUserManagementOverHTTP(t *testing.T) {
	h := newHarness(t)
	admin := h.tenant("acme", adminRoles)[0]

	w := h.do("POST", "/users", admin.token, models.CreateUserRequest{
		Email: "New.Person@Acme.test", Password: "long-enough", Roles: []string{models.RoleMember},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	u := decode[models.User](t, w)
	assert.Equal(t, "new.person@acme.test", u.Email)

	w = h.do("POST", "/users", admin.token, models.CreateUserRequest{
		Email: "new.person@acme.test", Password: "long-enough", Roles: []string{models.RoleMember},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do("GET", "/users", admin.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.User](t, w), 2)

	w = h.do("DELETE", "/users/"+admin.ID, admin.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do("DELETE", "/users/"+u.ID, admin.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do("GET", "/tenant", admin.token, nil)
	assert.Equal(t, int64(1), decode[models.Tenant](t, w).Usage.Users)
}

func TestImportRouteRejectsNonWorkbook(t *testing.T) {
	h := newHarness(t)
	mgr := h.tenant("acme", managerRoles)[0]

	w := h.upload("/imports/excel", mgr.token, "assets.csv", []byte("a,b"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{&models.TenantMismatchError{Expected: "a", Actual: "b"}, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("wrapped: %w", &models.QuotaExceededError{Kind: models.ResourceAsset}), http.StatusForbidden, "QUOTA_EXCEEDED"},
		{models.ErrTenantInactive, http.StatusForbidden, "TENANT_INACTIVE"},
		{&models.InvalidStateTransitionError{Entity: "asset"}, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{&models.AlreadyAssignedError{}, http.StatusConflict, "ALREADY_ASSIGNED"},
		{&models.NotActiveError{}, http.StatusConflict, "ASSIGNMENT_NOT_ACTIVE"},
		{&models.AlreadyAcknowledgedError{}, http.StatusConflict, "ALREADY_ACKNOWLEDGED"},
		{models.ErrHasHistory, http.StatusConflict, "ASSET_HAS_HISTORY"},
		{models.ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{models.ErrConflict, http.StatusConflict, "CONFLICT"},
		{warranty.ErrLocked, http.StatusConflict, "SCAN_IN_PROGRESS"},
		{models.ErrConfirmationRequired, http.StatusBadRequest, "CONFIRMATION_REQUIRED"},
		{models.ValidationError{Field: "x", Reason: "bad"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{users.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
