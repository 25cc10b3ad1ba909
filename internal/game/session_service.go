package game

import (
	"context"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Player 发起操作的玩家
type Player struct {
	ID       uint
	Username string
}

// Metrics 会话指标
type Metrics interface {
	SessionStarted()
	SessionEnded(score int)
	GuessEvaluated(outcome models.TurnOutcome)
	VersionConflict()
}

// ScoreBoard 会话结束后提交分数
type ScoreBoard interface {
	Submit(ctx context.Context, userID uint, username string, score int) error
}

// SessionView 会话及其当前回合
type SessionView struct {
	Session *models.GameSession
	Turn    *models.GameTurn
}

// GuessRequest 作答请求
type GuessRequest struct {
	SessionID uint
	TurnID    uint // 可选，非0时必须是当前回合
	Option    string
	ElapsedMs int64
	Version   int64
	Player    Player
}

// GuessResult 作答结果
type GuessResult struct {
	Session   *models.GameSession
	Turn      *models.GameTurn // 本次作答的回合
	NextTurn  *models.GameTurn // 答错扣血后补发的新回合
	Outcome   models.TurnOutcome
	PosterURL string
	Ended     bool
}

// AdvanceRequest 进入下一题请求
type AdvanceRequest struct {
	SessionID uint
	Version   int64
	Player    Player
}

// EndRequest 结束会话请求
type EndRequest struct {
	SessionID uint
	Version   int64
	Player    Player
}

// SessionService 单人会话状态机
type SessionService struct {
	cfg      config.GameConfig
	sessions repository.SessionRepository
	catalog  repository.CatalogRepository
	history  repository.HistoryRepository
	builder  *TurnBuilder
	locks    *keyedMutex

	metrics Metrics
	scores  ScoreBoard
	log     *zap.Logger
	now     func() time.Time
}

// Option 会话服务可选项
type Option func(*SessionService)

// WithMetrics 设置指标收集
func WithMetrics(m Metrics) Option {
	return func(s *SessionService) { s.metrics = m }
}

// WithScoreBoard 设置排行榜
func WithScoreBoard(b ScoreBoard) Option {
	return func(s *SessionService) { s.scores = b }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithTurnBuilder 替换出题器
func WithTurnBuilder(b *TurnBuilder) Option {
	return func(s *SessionService) { s.builder = b }
}

// NewSessionService 创建会话服务
func NewSessionService(cfg config.GameConfig, db *gorm.DB, opts ...Option) *SessionService {
	s := &SessionService{
		cfg:      cfg,
		sessions: repository.NewSessionRepository(db),
		catalog:  repository.NewCatalogRepository(db),
		history:  repository.NewHistoryRepository(db),
		builder:  NewTurnBuilder(NewPolicy(cfg), cfg.OptionCount),
		locks:    newKeyedMutex(),
		metrics:  noopMetrics{},
		log:      logger.WithModule("game"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy 当前出题器使用的难度策略
func (s *SessionService) Policy() *Policy {
	return s.builder.policy
}

// Start 开始新会话：0分、初始血量、第1题（可选预取第2题），版本为1
func (s *SessionService) Start(ctx context.Context, player Player) (*SessionView, error) {
	session := &models.GameSession{
		UserID:    player.ID,
		Username:  player.Username,
		Status:    models.SessionInProgress,
		Score:     0,
		Health:    s.cfg.InitialHealth,
		Version:   1,
		StartedAt: s.now(),
	}

	var first *models.GameTurn
	err := s.sessions.Transaction(ctx, func(tx *gorm.DB) error {
		txs := s.sessions.WithTx(tx)
		catalog := s.catalog.WithTx(tx)

		if err := txs.Create(ctx, session); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "创建会话失败")
		}

		turn, err := s.createTurn(ctx, txs, catalog, session, 1)
		if err != nil {
			return err
		}
		first = turn
		session.CurrentTurnID = &turn.ID

		if s.cfg.PrefetchNextTurn {
			next, err := s.createTurn(ctx, txs, catalog, session, 2)
			if err != nil {
				return err
			}
			session.NextTurnID = &next.ID
		}

		if err := txs.Save(ctx, session); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "保存会话失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SessionStarted()
	logger.LogGameEvent("session_started", session.ID, zap.Uint("user_id", player.ID))
	return &SessionView{Session: session, Turn: first}, nil
}

// Get 读取会话和当前回合
func (s *SessionService) Get(ctx context.Context, sessionID uint, player Player) (*SessionView, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	if session.UserID != player.ID {
		return nil, apperrors.New(apperrors.ErrPermissionDenied, "session belongs to another player")
	}

	view := &SessionView{Session: session}
	if session.CurrentTurnID != nil {
		turn, err := s.sessions.FindTurn(ctx, *session.CurrentTurnID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取回合失败")
		}
		view.Turn = turn
	}
	return view, nil
}

// Turns 会话的全部回合，按序号升序
func (s *SessionService) Turns(ctx context.Context, sessionID uint, player Player) ([]models.GameTurn, error) {
	if _, err := s.Get(ctx, sessionID, player); err != nil {
		return nil, err
	}
	turns, err := s.sessions.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return turns, nil
}

// History 玩家的历史对局
func (s *SessionService) History(ctx context.Context, player Player, p *repository.Pagination) ([]models.GameHistory, error) {
	items, err := s.history.FindByUser(ctx, player.ID, p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return items, nil
}

// SubmitGuess 对当前回合作答
func (s *SessionService) SubmitGuess(ctx context.Context, req GuessRequest) (*GuessResult, error) {
	result := &GuessResult{}

	session, err := s.mutate(ctx, req.SessionID, req.Version, req.Player, func(m *mutation) error {
		if m.session.Status != models.SessionInProgress {
			return apperrors.Newf(apperrors.ErrInvalidState, "session is not in progress: %s", m.session.Status)
		}
		if m.session.CurrentTurnID == nil {
			return apperrors.New(apperrors.ErrInvalidState, "session has no current turn")
		}
		if req.TurnID != 0 && req.TurnID != *m.session.CurrentTurnID {
			return apperrors.Newf(apperrors.ErrTurnNotCurrent, "turn %d is not current", req.TurnID)
		}

		turn, err := m.sessions.FindTurn(ctx, *m.session.CurrentTurnID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取回合失败")
		}
		if !turn.IsOpen() {
			return apperrors.Newf(apperrors.ErrTurnAlreadyAnswered, "turn already answered: %s", turn.Outcome)
		}
		// 空选项表示超时未作答
		if req.Option != "" && !turn.Options.Contains(req.Option) {
			return apperrors.Newf(apperrors.ErrOptionInvalid, "option %q is not offered", req.Option)
		}

		outcome := Evaluate(turn, req.Option, req.ElapsedMs)
		result.Outcome = outcome
		result.Turn = turn

		switch {
		case outcome == models.OutcomeCorrect:
			if err := m.resolve(turn, outcome, req.Option); err != nil {
				return err
			}
			m.session.Score++
			if err := trigger(m.session, EventGuessCorrect); err != nil {
				return err
			}
			poster, err := m.catalog.RandomPoster(ctx, turn.Song.SongTitleID)
			switch {
			case err == nil:
				result.PosterURL = poster.Image
			case !repository.IsNotFound(err):
				return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取海报失败")
			}

		case m.session.Score == 0:
			// 0分时答错不扣血，原题保持 PENDING 等待重答
			if err := trigger(m.session, EventGuessRetry); err != nil {
				return err
			}
			turn.Attempts++
			if err := m.sessions.SaveTurn(ctx, turn); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "保存回合失败")
			}

		default:
			if err := m.resolve(turn, outcome, req.Option); err != nil {
				return err
			}
			m.session.Health--
			if m.session.Health <= 0 {
				m.session.Health = 0
				if err := trigger(m.session, EventHealthOut); err != nil {
					return err
				}
				return m.finish()
			}
			if err := trigger(m.session, EventGuessMiss); err != nil {
				return err
			}
			next, err := m.rotate(turn)
			if err != nil {
				return err
			}
			result.NextTurn = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.GuessEvaluated(result.Outcome)
	result.Session = session
	result.Ended = session.IsEnded()
	logger.LogGameEvent("guess", session.ID,
		zap.String("outcome", string(result.Outcome)),
		zap.Int("score", session.Score),
		zap.Int64("version", session.Version),
	)
	if result.Ended {
		s.afterEnd(ctx, session)
	}
	return result, nil
}

// AdvanceTurn 展示结束后进入下一题
func (s *SessionService) AdvanceTurn(ctx context.Context, req AdvanceRequest) (*SessionView, error) {
	var current *models.GameTurn

	session, err := s.mutate(ctx, req.SessionID, req.Version, req.Player, func(m *mutation) error {
		if m.session.Status != models.SessionRevealing {
			return apperrors.Newf(apperrors.ErrInvalidState, "session is not revealing: %s", m.session.Status)
		}
		if m.session.CurrentTurnID == nil {
			return apperrors.New(apperrors.ErrInvalidState, "session has no current turn")
		}
		turn, err := m.sessions.FindTurn(ctx, *m.session.CurrentTurnID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取回合失败")
		}
		if err := trigger(m.session, EventAdvance); err != nil {
			return err
		}
		current, err = m.rotate(turn)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.LogGameEvent("advance", session.ID,
		zap.Int("sequence_index", current.SequenceIndex),
		zap.Int64("version", session.Version),
	)
	return &SessionView{Session: session, Turn: current}, nil
}

// EndSession 玩家主动结束会话，未作答的回合记为超时
func (s *SessionService) EndSession(ctx context.Context, req EndRequest) (*SessionView, error) {
	var last *models.GameTurn

	session, err := s.mutate(ctx, req.SessionID, req.Version, req.Player, func(m *mutation) error {
		if err := trigger(m.session, EventEnd); err != nil {
			return err
		}
		if m.session.CurrentTurnID != nil {
			turn, err := m.sessions.FindTurn(ctx, *m.session.CurrentTurnID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取回合失败")
			}
			if turn.IsOpen() {
				if err := m.resolve(turn, models.OutcomeTimeout, ""); err != nil {
					return err
				}
			}
			last = turn
		}
		return m.finish()
	})
	if err != nil {
		return nil, err
	}

	s.afterEnd(ctx, session)
	return &SessionView{Session: session, Turn: last}, nil
}

// mutate 在会话锁和事务内执行一次状态变更，成功后版本号加1
func (s *SessionService) mutate(ctx context.Context, sessionID uint, version int64, player Player, fn func(m *mutation) error) (*models.GameSession, error) {
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTimeout, "等待会话锁超时")
	}
	defer unlock()

	var session *models.GameSession
	err = s.sessions.Transaction(ctx, func(tx *gorm.DB) error {
		m := &mutation{
			svc:      s,
			ctx:      ctx,
			sessions: s.sessions.WithTx(tx),
			catalog:  s.catalog.WithTx(tx),
			history:  s.history.WithTx(tx),
			now:      s.now(),
		}

		locked, err := m.sessions.FindForUpdate(ctx, sessionID)
		if err != nil {
			return notFoundOr(err)
		}
		if locked.UserID != player.ID {
			return apperrors.New(apperrors.ErrPermissionDenied, "session belongs to another player")
		}
		if locked.Version != version {
			s.metrics.VersionConflict()
			return apperrors.Newf(apperrors.ErrVersionConflict,
				"stale version received: %d, expected: %d", version, locked.Version)
		}
		m.session = locked

		if err := fn(m); err != nil {
			return err
		}

		m.session.Version++
		if err := m.sessions.Save(ctx, m.session); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "保存会话失败")
		}
		session = m.session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// afterEnd 会话结束后的非事务操作
func (s *SessionService) afterEnd(ctx context.Context, session *models.GameSession) {
	s.metrics.SessionEnded(session.Score)
	logger.LogGameEvent("session_ended", session.ID, zap.Int("score", session.Score))

	if s.scores == nil {
		return
	}
	if err := s.scores.Submit(ctx, session.UserID, session.Username, session.Score); err != nil {
		s.log.Warn("提交排行榜分数失败", zap.Uint("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionService) createTurn(ctx context.Context, sessions repository.SessionRepository, catalog repository.CatalogRepository, session *models.GameSession, seq int) (*models.GameTurn, error) {
	turn, err := s.builder.Build(ctx, catalog, session, seq)
	if err != nil {
		return nil, err
	}
	turn.CreatedAt = s.now()
	if err := sessions.CreateTurn(ctx, turn); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "创建回合失败")
	}
	return turn, nil
}

func notFoundOr(err error) error {
	if repository.IsNotFound(err) {
		return apperrors.New(apperrors.ErrSessionNotFound)
	}
	return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取会话失败")
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                   {}
func (noopMetrics) SessionEnded(int)                  {}
func (noopMetrics) GuessEvaluated(models.TurnOutcome) {}
func (noopMetrics) VersionConflict()                  {}
