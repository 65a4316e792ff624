package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lxc-ledger-api/api/swagger"
	"github.com/noah-isme/lxc-ledger-api/internal/handler"
	"github.com/noah-isme/lxc-ledger-api/internal/middleware"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/repository"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
	"github.com/noah-isme/lxc-ledger-api/pkg/config"
	"github.com/noah-isme/lxc-ledger-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lxc-ledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lxc-ledger-api/pkg/middleware/requestid"
)

type routeDeps struct {
	auth      *service.AuthService
	audit     *repository.UserRepository
	metrics   *service.MetricsService
	users     *service.UserService
	roster    *service.RosterService
	students  *service.StudentService
	catalog   *service.CatalogService
	levels    *service.LevelService
	ledger    *service.LedgerService
	exports   *service.ExportService
	snapshots *service.SnapshotService
	sync      *service.SyncService
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics, "/health", "/metrics"))
	r.Use(middleware.WithResponseMeta(deps.sync))

	metricsHandler := handler.NewMetricsHandler(deps.metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(deps.auth)
	userHandler := handler.NewUserHandler(deps.users)
	rosterHandler := handler.NewRosterHandler(deps.roster)
	studentHandler := handler.NewStudentHandler(deps.students)
	catalogHandler := handler.NewCatalogHandler(deps.catalog)
	levelHandler := handler.NewLevelHandler(deps.levels)
	ledgerHandler := handler.NewLedgerHandler(deps.ledger)
	exportHandler := handler.NewExportHandler(deps.exports)
	snapshotHandler := handler.NewSnapshotHandler(deps.snapshots, cfg.Backups.MaxUploadBytes)
	syncHandler := handler.NewSyncHandler(deps.sync)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	// Signed tokens authorise backup downloads on their own.
	api.GET("/backups/download/:token", snapshotHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))

	secured.POST("/auth/logout", authHandler.Logout)
	secured.POST("/auth/change-password", authHandler.ChangePassword)
	secured.GET("/auth/me", authHandler.Me)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleAdmin)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.audit, action, resource)
	}

	users := secured.Group("/users", admin)
	users.GET("", userHandler.List)
	users.GET("/:id", userHandler.Get)
	users.POST("", userHandler.Create)
	users.PUT("/:id", userHandler.Update)
	users.DELETE("/:id", userHandler.Delete)

	schools := secured.Group("/schools", staff)
	schools.GET("", rosterHandler.ListSchools)
	schools.POST("", audit(models.AuditActionRoster, "schools"), rosterHandler.CreateSchool)
	schools.PUT("/:id", audit(models.AuditActionRoster, "schools"), rosterHandler.UpdateSchool)
	schools.DELETE("/:id", audit(models.AuditActionRoster, "schools"), rosterHandler.DeleteSchool)

	classes := secured.Group("/classes", staff)
	classes.GET("", rosterHandler.ListClasses)
	classes.GET("/:id", rosterHandler.GetClass)
	classes.POST("", audit(models.AuditActionRoster, "classes"), rosterHandler.CreateClass)
	classes.PUT("/:id", audit(models.AuditActionRoster, "classes"), rosterHandler.UpdateClass)
	classes.DELETE("/:id", audit(models.AuditActionRoster, "classes"), rosterHandler.DeleteClass)
	classes.GET("/:id/ranking", ledgerHandler.Ranking)
	classes.POST("/:id/students/import", audit(models.AuditActionRoster, "students"), studentHandler.Import)

	students := secured.Group("/students", staff)
	students.GET("", studentHandler.List)
	students.GET("/:id", studentHandler.Get)
	students.POST("", audit(models.AuditActionRoster, "students"), studentHandler.Create)
	students.PUT("/:id", audit(models.AuditActionRoster, "students"), studentHandler.Update)
	students.DELETE("/:id", audit(models.AuditActionRoster, "students"), studentHandler.Delete)
	students.GET("/:id/progress", ledgerHandler.Progress)
	students.POST("/:id/unlocks", audit(models.AuditActionUnlock, "students"), ledgerHandler.EvaluateUnlocks)
	students.GET("/:id/statement.pdf", exportHandler.StudentStatement)

	catalog := secured.Group("/catalog", staff)
	catalog.GET("", catalogHandler.List)
	catalog.GET("/:kind/:id", catalogHandler.Get)
	catalog.PUT("", audit(models.AuditActionCatalog, "catalog"), catalogHandler.Save)
	catalog.DELETE("/:kind/:id", audit(models.AuditActionCatalog, "catalog"), catalogHandler.Delete)

	levels := secured.Group("/levels", staff)
	levels.GET("/:bimester", levelHandler.Get)
	levels.GET("/:bimester/tier", levelHandler.Tier)
	levels.PUT("/:bimester", admin, audit(models.AuditActionLevels, "levels"), levelHandler.Set)
	levels.DELETE("/:bimester", admin, audit(models.AuditActionLevels, "levels"), levelHandler.Reset)

	ledgerGroup := secured.Group("/ledger", staff)
	ledgerGroup.POST("/grants", audit(models.AuditActionGrant, "transactions"), ledgerHandler.Grant)
	ledgerGroup.POST("/custom", audit(models.AuditActionGrant, "transactions"), ledgerHandler.Custom)

	transactions := secured.Group("/transactions", staff)
	transactions.GET("", ledgerHandler.List)
	transactions.GET("/:id", ledgerHandler.Get)
	transactions.PATCH("/:id", audit(models.AuditActionAmend, "transactions"), ledgerHandler.Edit)
	transactions.DELETE("/:id", audit(models.AuditActionRemove, "transactions"), ledgerHandler.Remove)

	exports := secured.Group("/exports", staff)
	exports.GET("/transactions.csv", exportHandler.TransactionsCSV)

	snapshots := secured.Group("/snapshot", admin)
	snapshots.GET("", snapshotHandler.Export)
	snapshots.POST("/import", audit(models.AuditActionImport, "snapshot"), snapshotHandler.Import)

	backups := secured.Group("/backups", admin)
	backups.GET("", snapshotHandler.ListBackups)
	backups.POST("", audit(models.AuditActionBackup, "backups"), snapshotHandler.Backup)

	syncGroup := secured.Group("/sync", admin)
	syncGroup.GET("/status", syncHandler.Status)
	syncGroup.POST("/reload", audit(models.AuditActionReload, "state"), syncHandler.Reload)
	syncGroup.GET("/verify", ledgerHandler.Verify)
	syncGroup.GET("/verify/durable", ledgerHandler.VerifyDurable)
	syncGroup.POST("/repair", audit(models.AuditActionRepair, "state"), syncHandler.Repair)

	secured.GET("/metrics/summary", admin, metricsHandler.Summary)

	return r
}
