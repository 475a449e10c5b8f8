package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/campusops/grade-engine/internal/models"
	"github.com/campusops/grade-engine/internal/repository"
	"github.com/campusops/grade-engine/internal/service"
	"github.com/campusops/grade-engine/pkg/cache"
	"github.com/campusops/grade-engine/pkg/config"
	"github.com/campusops/grade-engine/pkg/database"
	appErrors "github.com/campusops/grade-engine/pkg/errors"
	"github.com/campusops/grade-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()
	metrics := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Engine.TermGradeCacheTTL, logr, cfg.Engine.CacheEnabled)

	assessmentRepo := repository.NewAssessmentRepository(db)
	termGradeRepo := repository.NewTermGradeRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)

	termGradeSvc := service.NewTermGradeService(assessmentRepo, termGradeRepo, cacheSvc, metrics, logr)
	leaderboardSvc := service.NewLeaderboardService(termGradeSvc, cacheSvc, metrics, logr, service.LeaderboardServiceConfig{
		FanoutTimeout: cfg.Engine.FanoutTimeout,
		FanoutWorkers: cfg.Engine.FanoutWorkers,
		CacheTTL:      cfg.Engine.LeaderboardCacheTTL,
	})
	attendanceSvc := service.NewAttendanceService(attendanceRepo, validate, metrics, logr, service.AttendanceServiceConfig{
		MaxBatch:  cfg.Engine.AttendanceMaxBatch,
		ChunkSize: cfg.Engine.AttendanceChunkSize,
	})
	exportSvc := service.NewExportService(leaderboardSvc, termGradeSvc, nil, nil, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logr))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")

	api.POST("/attendance/reconcile", func(c *gin.Context) {
		var req service.ReconcileAttendanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := attendanceSvc.Reconcile(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/courses/:courseId/students/:studentId/attendance/summary", func(c *gin.Context) {
		summary, err := attendanceSvc.Summary(c.Request.Context(), c.Param("courseId"), c.Param("studentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	api.POST("/courses/:courseId/terms/:term/grades", func(c *gin.Context) {
		term := models.Term(c.Param("term"))
		if !term.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid term"})
			return
		}
		results, err := termGradeSvc.ComputeTerm(c.Request.Context(), c.Param("courseId"), term)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	api.GET("/courses/:courseId/students/:studentId/grades", func(c *gin.Context) {
		grades, err := termGradeSvc.StudentTermGrades(c.Request.Context(), c.Param("courseId"), c.Param("studentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"grades": grades})
	})

	api.GET("/courses/:courseId/terms/:term/students/:studentId/grade", func(c *gin.Context) {
		term := models.Term(c.Param("term"))
		if !term.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid term"})
			return
		}
		result, err := termGradeSvc.ComputeStudent(c.Request.Context(), c.Param("courseId"), term, c.Param("studentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		if result == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no weight config for term"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/courses/:courseId/leaderboard", func(c *gin.Context) {
		entries, cached, err := leaderboardSvc.CourseLeaderboard(c.Request.Context(), c.Param("courseId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "cached": cached})
	})

	api.GET("/leaderboard", func(c *gin.Context) {
		courseIDs := c.QueryArray("courseId")
		entries, cached, err := leaderboardSvc.SystemLeaderboard(c.Request.Context(), courseIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "cached": cached})
	})

	api.GET("/courses/:courseId/leaderboard/export", func(c *gin.Context) {
		format := service.ExportFormat(c.DefaultQuery("format", "csv"))
		data, err := exportSvc.ExportLeaderboard(c.Request.Context(), c.Param("courseId"), format)
		if err != nil {
			respondError(c, err)
			return
		}
		writeExport(c, data, format, "leaderboard")
	})

	api.GET("/courses/:courseId/terms/:term/grades/export", func(c *gin.Context) {
		term := models.Term(c.Param("term"))
		if !term.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid term"})
			return
		}
		format := service.ExportFormat(c.DefaultQuery("format", "csv"))
		data, err := exportSvc.ExportGradeSheet(c.Request.Context(), c.Param("courseId"), term, format)
		if err != nil {
			respondError(c, err)
			return
		}
		writeExport(c, data, format, "grade-sheet")
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("engine starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func respondError(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.JSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Code})
}

func writeExport(c *gin.Context, data []byte, format service.ExportFormat, name string) {
	contentType := "text/csv"
	ext := "csv"
	if format == service.ExportFormatPDF {
		contentType = "application/pdf"
		ext = "pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", name, ext))
	c.Data(http.StatusOK, contentType, data)
}
