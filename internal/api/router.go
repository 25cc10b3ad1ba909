package api

import (
	"net/http"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/game"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/leaderboard"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/metrics"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/middleware"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/room"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/utils"
	ws "github.com/Shi-Yueyang/TrueSwiftie/internal/websocket"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由依赖的服务，均由 cmd/server 构造
type Dependencies struct {
	Config   *config.Config
	DB       *gorm.DB
	Sessions *game.SessionService
	Catalog  repository.CatalogRepository
	Board    leaderboard.Board
	Registry *room.Registry
	Rooms    *ws.RoomHandler
	JWT      *utils.JWTManager
	Metrics  *metrics.Collector // 可以为 nil
	Log      *zap.Logger
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	cfg            *config.Config
	metrics        *metrics.Collector
	authMiddleware *middleware.AuthMiddleware

	sessions  *SessionHandler
	rooms     *RoomHandler
	catalog   *CatalogHandler
	websocket *WebSocketHandler

	log *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps Dependencies) *Router {
	if deps.Config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	var observer middleware.RequestObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	engine.Use(middleware.RequestLogger(observer))

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := &Router{
		engine:         engine,
		db:             deps.DB,
		cfg:            deps.Config,
		metrics:        deps.Metrics,
		authMiddleware: middleware.NewAuthMiddleware(deps.JWT),
		sessions:       NewSessionHandler(deps.Sessions),
		rooms:          NewRoomHandler(deps.Registry, deps.Rooms, deps.Config.Server.PublicURL),
		catalog:        NewCatalogHandler(deps.Catalog, deps.Board),
		websocket:      NewWebSocketHandler(deps.Rooms, deps.Config.WebSocket),
		log:            log,
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	if r.metrics != nil && r.cfg.Metrics.Enabled {
		r.engine.GET(r.cfg.Metrics.Path, gin.WrapH(r.metrics.Handler()))
	}
	if r.cfg.Metrics.Pprof {
		pprof.Register(r.engine, "/debug/pprof")
	}

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	v1 := r.engine.Group("/api/v1")
	{
		// 猜歌会话（需要认证）
		sessions := v1.Group("/game-sessions")
		sessions.Use(r.authMiddleware.RequireAuth())
		{
			sessions.POST("/", r.sessions.Start)
			sessions.GET("/history/", r.sessions.History)
			sessions.GET("/:id/", r.sessions.Get)
			sessions.GET("/:id/turns/", r.sessions.Turns)
			sessions.POST("/:id/guess/", r.sessions.Guess)
			sessions.POST("/:id/next/", r.sessions.Next)
			sessions.POST("/:id/end/", r.sessions.End)
		}

		v1.GET("/leaderboard/top/", r.catalog.Top)
		v1.GET("/songs/random-titles/", r.catalog.RandomTitles)

		rooms := v1.Group("/rooms")
		{
			rooms.GET("/", r.rooms.List)
			rooms.POST("/", r.authMiddleware.OptionalAuth(), r.rooms.Create)
			rooms.GET("/:id/", r.rooms.Get)
			rooms.GET("/:id/qrcode", r.rooms.QRCode)
		}
	}

	// WebSocket路由，匿名连接作为观众
	sockets := r.engine.Group("/ws/ts")
	sockets.Use(r.authMiddleware.OptionalAuth())
	{
		sockets.GET("/dualmode/:room_id", r.websocket.DualMode)
		sockets.GET("/lobby", r.websocket.Lobby)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, apperrors.NewErrorResponse(
			apperrors.New(apperrors.ErrNotFound, "接口不存在"), c.GetHeader("X-Request-ID")))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Handler 供 http.Server 使用
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
