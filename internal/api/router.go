// Package api wires together all HTTP routes of the CRM backend.
//
// Route grouping:
//   - /health, /ready and /version are public probes.
//   - /api/v1/auth/* handles registration and sessions. Register and login
//     are limited by the auth rate class; the session endpoints require a
//     valid token but no membership.
//   - Every other /api/v1 route is tenant scoped: the token is validated,
//     unsafe methods count against the write class, and RequireRole resolves
//     the caller's membership in the active organization before the handler
//     runs. Handlers only ever see data through that membership's scope.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/crm-platform/crm/internal/access"
	"github.com/crm-platform/crm/internal/api/account"
	"github.com/crm-platform/crm/internal/api/admin"
	"github.com/crm-platform/crm/internal/api/crm"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/auth/oidc"
	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/email"
	"github.com/crm-platform/crm/internal/jobs"
	"github.com/crm-platform/crm/internal/middleware"
	"github.com/crm-platform/crm/internal/safego"
	"github.com/crm-platform/crm/internal/storage"
	"github.com/crm-platform/crm/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/crm-platform/crm/internal/storage/azure"
	_ "github.com/crm-platform/crm/internal/storage/gcs"
	_ "github.com/crm-platform/crm/internal/storage/local"
	_ "github.com/crm-platform/crm/internal/storage/s3"
)

// Version is reported by /version. cmd/server overrides it at link time.
var Version = "dev"

var (
	ownerOnly  = []models.Role{models.RoleOwner}
	adminOwner = []models.Role{models.RoleAdmin, models.RoleOwner}
)

// BackgroundServices holds the jobs and connections started by NewRouter that
// must be released during graceful shutdown. The caller (cmd/server) calls
// Shutdown after the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cleaner  *jobs.VerificationTokenCleaner
	limiter  middleware.Limiter
	redis    *redis.Client
	shippers *audit.MultiShipper
}

// Shutdown stops all background goroutines and closes shared clients.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cleaner != nil {
		bg.cleaner.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	bg.wg.Wait()
	if ml, ok := bg.limiter.(*middleware.MemoryLimiter); ok {
		ml.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if bg.shippers != nil {
		if err := bg.shippers.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router together with the
// background services it depends on.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	ctx, cancel := context.WithCancel(context.Background())
	bg := &BackgroundServices{cancel: cancel}
	fail := func(err error) (*gin.Engine, *BackgroundServices, error) {
		bg.Shutdown()
		return nil, nil, err
	}

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize storage backend: %w", err))
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize audit shippers: %w", err))
	}
	bg.shippers = shippers
	var shipper audit.Shipper
	if shippers.Len() > 0 {
		shipper = shippers
	}

	var google account.IdentityProvider
	if cfg.Auth.Google.Enabled {
		provider, err := oidc.NewProviderWithContext(ctx, &cfg.Auth.Google)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize google sign-in: %w", err))
		}
		google = provider
	}

	rl := cfg.Security.RateLimiting
	if rl.Enabled && rl.Backend == "redis" {
		bg.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	bg.limiter = middleware.NewLimiter(rl, bg.redis)
	classes := middleware.NewRateClasses(rl)
	limit := func(class middleware.RateClass) gin.HandlerFunc {
		if !rl.Enabled {
			return passThrough
		}
		return middleware.RateLimit(bg.limiter, class)
	}

	crossOrigin, err := middleware.CrossOriginMiddleware(cfg.Security.CSRF.TrustedOrigins)
	if err != nil {
		return fail(fmt.Errorf("invalid trusted origin: %w", err))
	}

	// Repositories and shared services
	userRepo := repositories.NewUserRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	store := repositories.NewTenantStore(db)
	recorder := audit.NewRecorder(shipper)
	guard := access.NewGuard(userRepo, orgRepo)
	mailer := email.New(cfg.Email)

	bg.cleaner = jobs.NewVerificationTokenCleaner(userRepo, cfg.Jobs.TokenCleanupInterval)
	safego.Tracked(&bg.wg, "verification-token-cleaner", func() { bg.cleaner.Start(ctx) })
	telemetry.StartDBStatsCollector(ctx, db.DB)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, storageBackend))
	router.GET("/version", versionHandler())

	apiV1 := router.Group("/api/v1")
	apiV1.Use(crossOrigin)

	// Accounts and sessions
	accountHandlers := account.NewHandlers(cfg, userRepo, orgRepo, mailer, google)
	cookie := cfg.Auth.CookieName
	authGroup := apiV1.Group("/auth")
	{
		csrfCheck := middleware.CSRFTokenMiddleware(cfg.Security.CSRF.CookieName)
		authGroup.GET("/csrf", accountHandlers.CSRFHandler())
		authGroup.POST("/register", limit(classes.Auth), csrfCheck, accountHandlers.RegisterHandler())
		authGroup.GET("/verify", accountHandlers.VerifyEmailHandler())
		authGroup.POST("/login", limit(classes.Auth), csrfCheck, accountHandlers.LoginHandler())
		authGroup.POST("/logout", accountHandlers.LogoutHandler())
		authGroup.GET("/me", middleware.AuthMiddleware(cookie), accountHandlers.MeHandler())
		authGroup.POST("/switch-organization", middleware.AuthMiddleware(cookie), accountHandlers.SwitchOrganizationHandler())
		authGroup.GET("/google/login", accountHandlers.GoogleLoginHandler())
		authGroup.GET("/google/callback", limit(classes.Auth), accountHandlers.GoogleCallbackHandler())
	}

	// Tenant-scoped resources
	tenant := apiV1.Group("")
	tenant.Use(middleware.AuthMiddleware(cookie))
	tenant.Use(writesOnly(limit(classes.Write)))

	anyRole := middleware.RequireRole(guard, middleware.AnyRole()...)
	admins := middleware.RequireRole(guard, adminOwner...)
	owners := middleware.RequireRole(guard, ownerOnly...)

	companyHandlers := crm.NewCompanyHandlers(store, recorder)
	companies := tenant.Group("/companies")
	{
		companies.GET("", anyRole, companyHandlers.ListCompaniesHandler())
		companies.GET("/:id", anyRole, companyHandlers.GetCompanyHandler())
		companies.POST("", admins, companyHandlers.CreateCompanyHandler())
		companies.PATCH("/:id", admins, companyHandlers.UpdateCompanyHandler())
		companies.DELETE("/:id", admins, companyHandlers.DeleteCompanyHandler())
	}

	contactHandlers := crm.NewContactHandlers(store, recorder)
	contacts := tenant.Group("/contacts")
	{
		contacts.GET("", anyRole, contactHandlers.ListContactsHandler())
		contacts.GET("/:id", anyRole, contactHandlers.GetContactHandler())
		contacts.POST("", anyRole, contactHandlers.CreateContactHandler())
		contacts.PATCH("/:id", anyRole, contactHandlers.UpdateContactHandler())
		contacts.DELETE("/:id", admins, contactHandlers.DeleteContactHandler())
	}

	dealHandlers := crm.NewDealHandlers(store, recorder)
	deals := tenant.Group("/deals")
	{
		deals.GET("", anyRole, dealHandlers.ListDealsHandler())
		deals.GET("/:id", anyRole, dealHandlers.GetDealHandler())
		deals.POST("", anyRole, dealHandlers.CreateDealHandler())
		deals.PATCH("/:id", anyRole, dealHandlers.UpdateDealHandler())
		deals.DELETE("/:id", admins, dealHandlers.DeleteDealHandler())
	}

	activityHandlers := crm.NewActivityHandlers(store, recorder)
	activities := tenant.Group("/activities", anyRole)
	{
		activities.GET("", activityHandlers.ListActivitiesHandler())
		activities.GET("/:id", activityHandlers.GetActivityHandler())
		activities.POST("", activityHandlers.CreateActivityHandler())
		activities.PATCH("/:id", activityHandlers.UpdateActivityHandler())
		activities.DELETE("/:id", activityHandlers.DeleteActivityHandler())
	}

	noteHandlers := crm.NewNoteHandlers(store, recorder)
	notes := tenant.Group("/notes", anyRole)
	{
		notes.GET("", noteHandlers.ListNotesHandler())
		notes.POST("", noteHandlers.CreateNoteHandler())
		notes.PATCH("/:id", noteHandlers.UpdateNoteHandler())
		notes.DELETE("/:id", noteHandlers.DeleteNoteHandler())
	}

	fileHandlers := crm.NewFileHandlers(cfg, store, recorder, storageBackend)
	files := tenant.Group("/files")
	{
		files.GET("", anyRole, fileHandlers.ListFilesHandler())
		files.GET("/:id", anyRole, fileHandlers.DownloadFileHandler())
		files.POST("", anyRole, fileHandlers.UploadFileHandler())
		files.DELETE("/:id", admins, fileHandlers.DeleteFileHandler())
	}

	pipelineHandlers := crm.NewPipelineHandlers(store, recorder)
	tenant.GET("/pipelines", anyRole, pipelineHandlers.GetPipelineHandler())
	tenant.POST("/pipelines", admins, pipelineHandlers.CreatePipelineHandler())
	stages := tenant.Group("/stages", admins)
	{
		stages.POST("", pipelineHandlers.CreateStageHandler())
		stages.PATCH("/:id", pipelineHandlers.UpdateStageHandler())
		stages.DELETE("/:id", pipelineHandlers.DeleteStageHandler())
	}

	emailHandlers := crm.NewEmailHandlers(store, recorder, mailer)
	tenant.POST("/emails", anyRole, emailHandlers.SendEmailHandler())

	searchHandlers := crm.NewSearchHandlers(store)
	tenant.GET("/search", limit(classes.Search), anyRole, searchHandlers.SearchHandler())

	reportHandlers := crm.NewReportHandlers(store)
	reports := tenant.Group("/reports", anyRole)
	{
		reports.GET("/pipeline-value", reportHandlers.PipelineValueHandler())
		reports.GET("/win-rate", reportHandlers.WinRateHandler())
		reports.GET("/cycle-time", reportHandlers.CycleTimeHandler())
	}

	// Organization administration
	membershipHandlers := admin.NewMembershipHandlers(store, recorder, mailer)
	memberships := tenant.Group("/memberships", owners)
	{
		memberships.GET("", membershipHandlers.ListMembershipsHandler())
		memberships.POST("", membershipHandlers.InviteMemberHandler())
		memberships.PATCH("/:id", membershipHandlers.UpdateMembershipHandler())
		memberships.DELETE("/:id", membershipHandlers.DeleteMembershipHandler())
	}

	organizationHandlers := admin.NewOrganizationHandlers(store, recorder)
	organization := tenant.Group("/organization", owners)
	{
		organization.GET("", organizationHandlers.GetOrganizationHandler())
		organization.PUT("", organizationHandlers.UpdateOrganizationHandler())
		organization.DELETE("", organizationHandlers.DeleteOrganizationHandler())
	}

	auditLogHandlers := admin.NewAuditLogHandlers(store)
	tenant.GET("/audit-logs", admins, auditLogHandlers.ListAuditLogsHandler())

	return router, bg, nil
}

func passThrough(c *gin.Context) { c.Next() }

// writesOnly applies h to unsafe methods and lets reads through.
func writesOnly(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			h(c)
		}
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a readiness gate fails when uploads and downloads would error.
// GET /ready
func readinessHandler(db *sqlx.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if err := storageBackend.Ping(c.Request.Context()); err != nil {
			slog.Warn("storage readiness probe failed", "error", err)
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build and API version
// GET /version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
