package internal

import (
	"net/http"

	"itam-api/internal/assets"
	"itam-api/internal/attachments"
	"itam-api/internal/auth"
	"itam-api/internal/handlers"
	"itam-api/internal/logger"
	"itam-api/internal/maintenance"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/notify"
	"itam-api/internal/tenancy"
	"itam-api/internal/users"
	"itam-api/internal/warranty"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Roles allowed to change asset records
var assetWriters = []string{models.RoleTenantAdmin, models.RoleAssetManager}

// Roles allowed to work maintenance records
var maintenanceWriters = []string{models.RoleTenantAdmin, models.RoleAssetManager, models.RoleTechnician}

// Deps are the services the HTTP adapter translates requests into
type Deps struct {
	Tenants     *tenancy.Registry
	Assets      *assets.Service
	Maintenance *maintenance.Service
	Attachments *attachments.Service
	Users       *users.Service
	Warranty    *warranty.Engine
	// Scheduler serves manual scans when set so they share its lock
	Scheduler  *warranty.Scheduler
	Inbox      *notify.Inbox
	Imports    *handlers.ImportsHandler
	JWTManager *auth.JWTManager
	Metrics    *metrics.Metrics
	Log        *zap.Logger

	EnableMetrics  bool
	MaxUploadBytes int64
}

type Server struct {
	Router     *chi.Mux
	JWTManager *auth.JWTManager
	Metrics    *metrics.Metrics
	Log        *zap.Logger

	tenants        *tenancy.Registry
	assets         *assets.Service
	maintenance    *maintenance.Service
	attachments    *attachments.Service
	users          *users.Service
	warranty       *warranty.Engine
	scheduler      *warranty.Scheduler
	inbox          *notify.Inbox
	imports        *handlers.ImportsHandler
	maxUploadBytes int64
}

func NewServer(d Deps) *Server {
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	s := &Server{
		Router:         chi.NewRouter(),
		JWTManager:     d.JWTManager,
		Metrics:        d.Metrics,
		Log:            logger.OrNop(d.Log).Named("http"),
		tenants:        d.Tenants,
		assets:         d.Assets,
		maintenance:    d.Maintenance,
		attachments:    d.Attachments,
		users:          d.Users,
		warranty:       d.Warranty,
		scheduler:      d.Scheduler,
		inbox:          d.Inbox,
		imports:        d.Imports,
		maxUploadBytes: maxUpload,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(requestLogger(s.Log))

	// Mount metrics if enabled
	if d.EnableMetrics && s.Metrics != nil {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	// Mount public routes (no auth)
	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	s.Router.Post("/auth/login", s.loginUser)

	// Create a protected route group with middleware
	s.Router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(s.JWTManager))
		s.mountProtectedRoutes(r)
	})

	return s
}

func must(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return auth.MustRole(roles...)(h).(http.HandlerFunc)
	}
}

// mountProtectedRoutes mounts all protected routes that require authentication
func (s *Server) mountProtectedRoutes(r chi.Router) {
	platform := must(models.RolePlatformAdmin)
	admin := must(models.RoleTenantAdmin)
	writer := must(assetWriters...)
	tech := must(maintenanceWriters...)

	// Tenants - platform operators only
	r.Get("/tenants", platform(s.listTenants))
	r.Post("/tenants", platform(s.createTenant))
	r.Get("/tenants/{id}", platform(s.getTenant))
	r.Put("/tenants/{id}/tier", platform(s.changeTenantTier))
	r.Put("/tenants/{id}/active", platform(s.setTenantActive))

	// Own tenant with usage
	r.Get("/tenant", s.getOwnTenant)

	// Assets
	r.Get("/assets", s.listAssets)
	r.Post("/assets", writer(s.createAsset))
	r.Get("/assets/{id}", s.getAsset)
	r.Put("/assets/{id}", writer(s.updateAsset))
	r.Delete("/assets/{id}", admin(s.deleteAsset))
	r.Get("/assets/{id}/history", s.getAssetHistory)
	r.Post("/assets/{id}/assign", writer(s.assignAsset))
	r.Post("/assets/{id}/return", writer(s.returnAsset))
	r.Post("/assets/{id}/retire", writer(s.retireAsset))
	r.Post("/assets/{id}/lost", writer(s.reportAssetLost))
	r.Post("/assets/{id}/recover", writer(s.recoverAsset))
	r.Get("/assets/{id}/attachments", s.listAssetAttachments)
	r.Post("/assets/{id}/attachments", writer(s.uploadAssetAttachment))
	r.Get("/assets/{id}/attachments/{attachmentID}", s.downloadAssetAttachment)
	r.Delete("/assets/{id}/attachments/{attachmentID}", writer(s.deleteAssetAttachment))
	r.Get("/assets/{id}/maintenance", s.listAssetMaintenance)
	r.Post("/assets/{id}/maintenance", tech(s.createMaintenance))

	r.Post("/assignments/{id}/return", writer(s.returnAssignment))

	// Maintenance
	r.Get("/maintenance", s.listMaintenance)
	r.Get("/maintenance/{id}", s.getMaintenance)
	r.Delete("/maintenance/{id}", writer(s.deleteMaintenance))
	r.Post("/maintenance/{id}/start", tech(s.startMaintenance))
	r.Post("/maintenance/{id}/complete", tech(s.completeMaintenance))
	r.Post("/maintenance/{id}/cancel", tech(s.cancelMaintenance))
	r.Get("/maintenance/{id}/attachments", s.listMaintenanceAttachments)
	r.Post("/maintenance/{id}/attachments", tech(s.uploadMaintenanceAttachment))
	r.Get("/maintenance/{id}/attachments/{attachmentID}", s.downloadMaintenanceAttachment)
	r.Delete("/maintenance/{id}/attachments/{attachmentID}", tech(s.deleteMaintenanceAttachment))

	// Warranty alerts
	r.Get("/warranty-alerts", s.listWarrantyAlerts)
	r.Post("/warranty-alerts/scan", platform(s.runWarrantyScan))
	r.Get("/warranty-alerts/{id}", s.getWarrantyAlert)
	r.Post("/warranty-alerts/{id}/acknowledge", writer(s.acknowledgeWarrantyAlert))

	// User management
	r.Get("/users", admin(s.listUsers))
	r.Post("/users", admin(s.createUser))
	r.Get("/users/{id}", admin(s.getUser))
	r.Delete("/users/{id}", admin(s.deleteUser))
	r.Get("/users/{id}/assignments", writer(s.listUserAssignments))

	// Self-service
	r.Get("/auth/profile", s.getUserProfile)
	r.Get("/notifications", s.listNotifications)
	r.Post("/notifications/{id}/read", s.markNotificationRead)

	// Spreadsheet import
	if s.imports != nil {
		r.Post("/imports/excel", writer(s.imports.UploadExcel))
	}
}

// actor returns the authenticated caller; AuthMiddleware guarantees one on
// every protected route.
func actor(r *http.Request) models.Actor {
	a, _ := auth.ActorFromContext(r.Context())
	return a
}
