package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/api"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/database"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/game"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/leaderboard"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/metrics"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/room"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/utils"
	ws "github.com/Shi-Yueyang/TrueSwiftie/internal/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *gorm.DB
	redis    redis.UniversalClient
	broker   ws.Broker
	hub      *ws.Hub
	registry *room.Registry
	sessions *game.SessionService
	metrics  *metrics.Collector
	http     *http.Server
}

// NewServer 创建服务器实例并初始化组件
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  logger.GetLogger(),
		metrics: metrics.New(),
	}

	s.logger.Info("正在启动 TrueSwiftie 服务器...",
		zap.String("version", Version),
		zap.String("mode", cfg.Server.Mode),
	)

	if err := s.initComponents(ctx); err != nil {
		s.closeComponents()
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "初始化组件失败")
	}
	return s, nil
}

// initComponents 初始化组件
func (s *Server) initComponents(ctx context.Context) error {
	if err := s.initDatabase(ctx); err != nil {
		return err
	}

	if s.cfg.Redis.Enabled {
		client, err := database.OpenRedis(ctx, &s.cfg.Redis)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "连接Redis失败")
		}
		s.redis = client
	}

	// 广播
	switch s.cfg.Broker.Driver {
	case "redis":
		s.broker = ws.NewRedisBroker(s.redis, s.cfg.Broker)
	default:
		s.broker = ws.NewMemoryBroker(s.cfg.Broker.BufferSize)
	}
	s.hub = ws.NewHub(s.broker)
	s.registry = room.NewRegistry(s.cfg.Room)

	// 排行榜
	history := repository.NewHistoryRepository(s.db)
	var board leaderboard.Board = leaderboard.NewDBBoard(history)
	if s.redis != nil {
		board = leaderboard.NewRedisBoard(s.redis, s.cfg.Redis.KeyPrefix)
	}

	s.sessions = game.NewSessionService(s.cfg.Game, s.db,
		game.WithMetrics(s.metrics),
		game.WithScoreBoard(board),
	)

	s.metrics.RegisterGauge("active_rooms", "Rooms currently held in the registry.", func() float64 {
		return float64(s.registry.Len())
	})
	s.metrics.RegisterGauge("websocket_connections", "Open websocket connections.", func() float64 {
		return float64(s.hub.ClientCount())
	})
	s.metrics.RegisterGauge("broker_topics", "Broker topics with local subscribers.", func() float64 {
		return float64(s.hub.TopicCount())
	})

	router := api.NewRouter(api.Dependencies{
		Config:   s.cfg,
		DB:       s.db,
		Sessions: s.sessions,
		Catalog:  repository.NewCatalogRepository(s.db),
		Board:    board,
		Registry: s.registry,
		Rooms:    ws.NewRoomHandler(s.hub, s.registry, s.cfg.WebSocket),
		JWT:      utils.NewJWTManagerFromConfig(s.cfg.Security.JWT),
		Metrics:  s.metrics,
		Log:      logger.WithModule("api"),
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成",
		zap.String("broker", s.cfg.Broker.Driver),
		zap.Bool("redis", s.redis != nil),
	)
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase(ctx context.Context) error {
	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	s.db = database.GetDB()

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(s.db); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected(ctx, s.db) {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return nil
}

// Run 运行到 ctx 取消，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Info("HTTP服务监听", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})

	return eg.Wait()
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// WebSocket 连接被劫持，不受 http.Server.Shutdown 管理，先关掉广播让它们退出
	if err := s.hub.Close(); err != nil {
		s.logger.Warn("关闭广播失败", zap.Error(err))
	}

	err := s.http.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("关闭超时，强制退出", zap.Error(err))
		err = apperrors.Wrap(err, apperrors.ErrTimeout, "关闭超时")
	}

	s.closeComponents()
	s.logger.Info("服务器已安全关闭")
	return err
}

// closeComponents 关闭组件
func (s *Server) closeComponents() {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Error("关闭broker失败", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("关闭Redis失败", zap.Error(err))
		}
	}
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
}

// reloadConfig 热加载：日志级别和出题参数即时生效，其余配置需要重启
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.sessions.Policy().Reload(newCfg.Game)
	s.logger.Info("配置重新加载完成",
		zap.String("log_level", newCfg.Log.Level),
		zap.String("featured_album", newCfg.Game.FeaturedAlbum),
	)
}
