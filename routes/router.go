package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/config"
	"github.com/cppla/bbspoints/controllers"
	"github.com/cppla/bbspoints/metrics"
	"github.com/cppla/bbspoints/middleware"
	"github.com/cppla/bbspoints/services"
	"github.com/cppla/bbspoints/utils"
)

// Deps are the services the HTTP surface needs. Services belonging to a role
// the process does not run may be nil.
type Deps struct {
	Config      config.AppConfig
	Logger      *zap.Logger
	AccessLog   *zap.Logger
	Revocations *utils.TokenRevocations
	Likes       *services.LikeService
	Board       *services.BoardService
	Checkins    *services.CheckinService
}

// SetupRouter wires routes, middlewares, and controllers for the configured role.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	gl := d.AccessLog
	if gl == nil {
		var err error
		gl, err = utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			d.Logger.Warn("gin access log unavailable, using app logger", zap.String("path", cfg.GinPath), zap.Error(err))
			gl = d.Logger.Named("http")
		}
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, false))
	r.Use(metrics.InstrumentGin())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, "ok", gin.H{"status": "ok", "role": cfg.Role})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := middleware.AuthRequired(cfg.JWTSecret, d.Revocations)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	if d.Likes != nil {
		likesController := controllers.NewLikesController(d.Likes, d.Logger)
		likes := r.Group("/likes")
		likes.POST("", auth, limiter.Middleware(), likesController.Toggle)
		likes.POST("/list", auth, limiter.Middleware(), likesController.List)
		likes.POST("/counts", limiter.Middleware(), likesController.Counts)
	}

	if d.Board != nil {
		boardController := controllers.NewBoardController(d.Board, d.Logger)
		board := r.Group("/board")
		board.GET("", auth, boardController.GetBoard)
		board.GET("/noAuth", limiter.Middleware(), boardController.GetPublicBoard)
		board.GET("/history", auth, limiter.Middleware(), boardController.GetHistory)
	}

	if d.Checkins != nil {
		checkinController := controllers.NewCheckinController(d.Checkins, d.Logger)
		checkin := r.Group("/checkin")
		checkin.Use(auth, limiter.Middleware())
		checkin.POST("", checkinController.AddCheckin)
		checkin.GET("", checkinController.QueryCheckin)
	}

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, "route not found")
	})

	return r
}
