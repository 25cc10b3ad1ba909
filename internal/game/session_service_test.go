package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type recordingMetrics struct {
	mu        sync.Mutex
	started   int
	ended     []int
	outcomes  []models.TurnOutcome
	conflicts int
}

func (m *recordingMetrics) SessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) SessionEnded(score int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, score)
}

func (m *recordingMetrics) GuessEvaluated(outcome models.TurnOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) VersionConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

type recordingBoard struct {
	mu     sync.Mutex
	scores map[uint]int
}

func (b *recordingBoard) Submit(_ context.Context, userID uint, _ string, score int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scores == nil {
		b.scores = map[uint]int{}
	}
	b.scores[userID] = score
	return nil
}

// SessionServiceTestSuite 会话状态机测试
type SessionServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	svc     *SessionService
	metrics *recordingMetrics
	board   *recordingBoard
	player  Player
	ctx     context.Context
	now     time.Time
}

func (s *SessionServiceTestSuite) SetupTest() {
	s.db = repository.TestDB(s.T())
	repository.SeedDefaultCatalog(s.T(), s.db)
	s.metrics = &recordingMetrics{}
	s.board = &recordingBoard{}
	s.player = Player{ID: 7, Username: "swiftie"}
	s.ctx = context.Background()
	s.now = time.Date(2025, 10, 3, 12, 0, 0, 0, time.UTC)
	s.svc = s.newService(testGameConfig())
}

func (s *SessionServiceTestSuite) newService(cfg config.GameConfig) *SessionService {
	return NewSessionService(cfg, s.db,
		WithMetrics(s.metrics),
		WithScoreBoard(s.board),
		WithClock(func() time.Time { return s.now }),
	)
}

// wrongOption 当前回合中任意一个错误选项
func wrongOption(turn *models.GameTurn) string {
	for _, o := range turn.Options {
		if o != turn.CorrectOption {
			return o
		}
	}
	return ""
}

func (s *SessionServiceTestSuite) reload(id uint) *models.GameSession {
	session, err := repository.NewSessionRepository(s.db).FindByID(s.ctx, id)
	s.Require().NoError(err)
	return session
}

func (s *SessionServiceTestSuite) TestStart() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)

	s.Equal(models.SessionInProgress, view.Session.Status)
	s.Equal(0, view.Session.Score)
	s.Equal(1, view.Session.Health)
	s.Equal(int64(1), view.Session.Version)
	s.Nil(view.Session.EndedAt)
	s.Nil(view.Session.NextTurnID)
	s.Require().NotNil(view.Turn)
	s.Equal(1, view.Turn.SequenceIndex)
	s.Equal(view.Turn.ID, *view.Session.CurrentTurnID)
	s.Equal(20, view.Turn.TimeLimitSecs)
	s.Equal(1, s.metrics.started)

	got, err := s.svc.Get(s.ctx, view.Session.ID, s.player)
	s.Require().NoError(err)
	s.Equal(view.Turn.ID, got.Turn.ID)
	s.Equal(view.Turn.CorrectOption, got.Turn.Song.SongTitle.Title)
}

// 开始 → 答对 → 下一题 → 答错血量耗尽
func (s *SessionServiceTestSuite) TestFullRound() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	res, err := s.svc.SubmitGuess(s.ctx, GuessRequest{
		SessionID: id,
		TurnID:    view.Turn.ID,
		Option:    view.Turn.CorrectOption,
		ElapsedMs: 1000,
		Version:   1,
		Player:    s.player,
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeCorrect, res.Outcome)
	s.Equal(models.SessionRevealing, res.Session.Status)
	s.Equal(1, res.Session.Score)
	s.Equal(int64(2), res.Session.Version)
	s.NotEmpty(res.PosterURL)
	s.False(res.Ended)
	s.Equal(models.OutcomeCorrect, res.Turn.Outcome)
	s.Require().NotNil(res.Turn.SelectedOption)
	s.Equal(view.Turn.CorrectOption, *res.Turn.SelectedOption)
	s.Require().NotNil(res.Turn.AnsweredAt)

	adv, err := s.svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: 2, Player: s.player})
	s.Require().NoError(err)
	s.Equal(models.SessionInProgress, adv.Session.Status)
	s.Equal(2, adv.Turn.SequenceIndex)
	s.Equal(int64(3), adv.Session.Version)
	s.Equal(adv.Turn.ID, *adv.Session.CurrentTurnID)

	res, err = s.svc.SubmitGuess(s.ctx, GuessRequest{
		SessionID: id,
		Option:    wrongOption(adv.Turn),
		ElapsedMs: 2000,
		Version:   3,
		Player:    s.player,
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeWrong, res.Outcome)
	s.Equal(models.SessionEnded, res.Session.Status)
	s.Equal(0, res.Session.Health)
	s.Equal(int64(4), res.Session.Version)
	s.True(res.Ended)
	s.Require().NotNil(res.Session.EndedAt)
	s.True(res.Session.EndedAt.Equal(s.now))

	stored := s.reload(id)
	s.Equal(models.SessionEnded, stored.Status)
	s.Equal(int64(4), stored.Version)

	history, err := s.svc.History(s.ctx, s.player, nil)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(1, history[0].Score)
	s.Equal(id, history[0].SessionID)

	s.Equal([]int{1}, s.metrics.ended)
	s.Equal(1, s.board.scores[s.player.ID])
}

func (s *SessionServiceTestSuite) TestFirstGuessGrace() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	res, err := s.svc.SubmitGuess(s.ctx, GuessRequest{
		SessionID: id, Option: wrongOption(view.Turn), ElapsedMs: 100, Version: 1, Player: s.player,
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeWrong, res.Outcome)
	s.Equal(models.SessionInProgress, res.Session.Status)
	s.Equal(1, res.Session.Health)
	s.Equal(int64(2), res.Session.Version)
	s.Equal(models.OutcomePending, res.Turn.Outcome)
	s.Equal(1, res.Turn.Attempts)
	s.Equal(view.Turn.ID, *res.Session.CurrentTurnID)

	// 超时同样不扣血
	res, err = s.svc.SubmitGuess(s.ctx, GuessRequest{
		SessionID: id, ElapsedMs: 60000, Version: 2, Player: s.player,
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeTimeout, res.Outcome)
	s.Equal(models.SessionInProgress, res.Session.Status)
	s.Equal(2, res.Turn.Attempts)

	res, err = s.svc.SubmitGuess(s.ctx, GuessRequest{
		SessionID: id, Option: view.Turn.CorrectOption, ElapsedMs: 100, Version: 3, Player: s.player,
	})
	s.Require().NoError(err)
	s.Equal(models.SessionRevealing, res.Session.Status)
	s.Equal(1, res.Session.Score)
	s.Equal(int64(4), res.Session.Version)
}

func (s *SessionServiceTestSuite) TestMissWithHealthLeft() {
	cfg := testGameConfig()
	cfg.InitialHealth = 3
	svc := s.newService(cfg)

	view, err := svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	res, err := svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: view.Turn.CorrectOption, Version: 1, Player: s.player})
	s.Require().NoError(err)
	adv, err := svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: res.Session.Version, Player: s.player})
	s.Require().NoError(err)

	res, err = svc.SubmitGuess(s.ctx, GuessRequest{
		SessionID: id, TurnID: adv.Turn.ID, ElapsedMs: 999999, Version: adv.Session.Version, Player: s.player,
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeTimeout, res.Outcome)
	s.Equal(models.SessionInProgress, res.Session.Status)
	s.Equal(2, res.Session.Health)
	s.Equal(1, res.Session.Score)
	s.False(res.Ended)
	s.Equal(models.OutcomeTimeout, res.Turn.Outcome)
	s.Nil(res.Turn.SelectedOption)
	s.Require().NotNil(res.NextTurn)
	s.Equal(3, res.NextTurn.SequenceIndex)
	s.Equal(res.NextTurn.ID, *res.Session.CurrentTurnID)
	s.Equal(models.OutcomePending, res.NextTurn.Outcome)
}

func (s *SessionServiceTestSuite) TestVersionIncrementsOncePerMutation() {
	cfg := testGameConfig()
	cfg.InitialHealth = 100
	svc := s.newService(cfg)

	view, err := svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID
	turn := view.Turn
	version := view.Session.Version

	const rounds = 10
	mutations := 0
	for i := 0; i < rounds; i++ {
		res, err := svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: turn.CorrectOption, Version: version, Player: s.player})
		s.Require().NoError(err)
		mutations++
		s.Equal(version+1, res.Session.Version)

		adv, err := svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: res.Session.Version, Player: s.player})
		s.Require().NoError(err)
		mutations++
		version = adv.Session.Version
		turn = adv.Turn
	}
	s.Equal(int64(1+mutations), version)
	s.Equal(int64(1+mutations), s.reload(id).Version)

	// 旧版本被拒绝且不改变状态
	before := s.reload(id)
	_, err = svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: turn.CorrectOption, Version: version - 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrVersionConflict))
	after := s.reload(id)
	s.Equal(before.Version, after.Version)
	s.Equal(before.Status, after.Status)
	s.Equal(before.Score, after.Score)
	s.Equal(*before.CurrentTurnID, *after.CurrentTurnID)
	s.Equal(1, s.metrics.conflicts)

	turns, err := svc.Turns(s.ctx, id, s.player)
	s.Require().NoError(err)
	s.assertSequential(turns)
}

func (s *SessionServiceTestSuite) TestPrefetchRotation() {
	cfg := testGameConfig()
	cfg.InitialHealth = 2
	cfg.PrefetchNextTurn = true
	svc := s.newService(cfg)

	view, err := svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID
	s.Require().NotNil(view.Session.NextTurnID)
	prefetched := *view.Session.NextTurnID

	res, err := svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: view.Turn.CorrectOption, Version: 1, Player: s.player})
	s.Require().NoError(err)
	adv, err := svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: res.Session.Version, Player: s.player})
	s.Require().NoError(err)

	// 预取回合成为当前回合，并在其后预取新回合
	s.Equal(prefetched, adv.Turn.ID)
	s.Equal(2, adv.Turn.SequenceIndex)
	s.Require().NotNil(adv.Session.NextTurnID)
	s.NotEqual(prefetched, *adv.Session.NextTurnID)

	res, err = svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: wrongOption(adv.Turn), Version: adv.Session.Version, Player: s.player})
	s.Require().NoError(err)
	s.Require().NotNil(res.NextTurn)
	s.Equal(3, res.NextTurn.SequenceIndex)

	end, err := svc.EndSession(s.ctx, EndRequest{SessionID: id, Version: res.Session.Version, Player: s.player})
	s.Require().NoError(err)
	s.Equal(models.SessionEnded, end.Session.Status)

	turns, err := svc.Turns(s.ctx, id, s.player)
	s.Require().NoError(err)
	s.Len(turns, 4)
	s.assertSequential(turns)
	for _, turn := range turns {
		s.NotEqual(models.OutcomePending, turn.Outcome, "turn %d left open", turn.SequenceIndex)
	}
}

func (s *SessionServiceTestSuite) assertSequential(turns []models.GameTurn) {
	s.Require().NotEmpty(turns)
	for i, turn := range turns {
		s.Equal(i+1, turn.SequenceIndex)
	}
}

func (s *SessionServiceTestSuite) TestConcurrentGuessesOnlyOneWins() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.SubmitGuess(s.ctx, GuessRequest{
				SessionID: id, Option: view.Turn.CorrectOption, Version: 1, Player: s.player,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperrors.Is(err, apperrors.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(workers-1, conflicts)
	stored := s.reload(id)
	s.Equal(int64(2), stored.Version)
	s.Equal(1, stored.Score)
	s.Equal(0, s.svc.locks.size())
}

func (s *SessionServiceTestSuite) TestEndSession() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	_, err = s.svc.EndSession(s.ctx, EndRequest{SessionID: id, Version: 5, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrVersionConflict))

	end, err := s.svc.EndSession(s.ctx, EndRequest{SessionID: id, Version: 1, Player: s.player})
	s.Require().NoError(err)
	s.Equal(models.SessionEnded, end.Session.Status)
	s.Equal(int64(2), end.Session.Version)
	s.NotNil(end.Session.EndedAt)
	s.Equal(models.OutcomeTimeout, end.Turn.Outcome)

	// 用旧版本重试被拒绝
	_, err = s.svc.EndSession(s.ctx, EndRequest{SessionID: id, Version: 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrVersionConflict))

	_, err = s.svc.EndSession(s.ctx, EndRequest{SessionID: id, Version: 2, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrInvalidState))

	_, err = s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: view.Turn.CorrectOption, Version: 2, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrInvalidState))
	s.Equal(int64(2), s.reload(id).Version)
}

func (s *SessionServiceTestSuite) TestGuessValidation() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	_, err = s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id + 100, Version: 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrSessionNotFound))

	_, err = s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Version: 1, Player: Player{ID: 99}})
	s.True(apperrors.Is(err, apperrors.ErrPermissionDenied))

	_, err = s.svc.Get(s.ctx, id, Player{ID: 99})
	s.True(apperrors.Is(err, apperrors.ErrPermissionDenied))

	_, err = s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, TurnID: view.Turn.ID + 999, Version: 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrTurnNotCurrent))

	_, err = s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: "Not A Real Song", Version: 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrOptionInvalid))

	_, err = s.svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrInvalidState))

	// 版本校验先于状态校验
	_, err = s.svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: 9, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrVersionConflict))

	// 失败的请求都不改变版本
	s.Equal(int64(1), s.reload(id).Version)

	// 当前回合已被结束但会话仍在进行中
	s.Require().NoError(s.db.Model(&models.GameTurn{}).Where("id = ?", view.Turn.ID).
		UpdateColumns(map[string]interface{}{"outcome": models.OutcomeWrong, "answered_at": s.now}).Error)
	_, err = s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: view.Turn.CorrectOption, Version: 1, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrTurnAlreadyAnswered))
}

// 事务中途失败时会话保持原状
func (s *SessionServiceTestSuite) TestFailedMutationRollsBack() {
	view, err := s.svc.Start(s.ctx, s.player)
	s.Require().NoError(err)
	id := view.Session.ID

	res, err := s.svc.SubmitGuess(s.ctx, GuessRequest{SessionID: id, Option: view.Turn.CorrectOption, Version: 1, Player: s.player})
	s.Require().NoError(err)

	// 清空曲库后无法出下一题
	s.Require().NoError(s.db.Exec("DELETE FROM songs").Error)

	_, err = s.svc.AdvanceTurn(s.ctx, AdvanceRequest{SessionID: id, Version: res.Session.Version, Player: s.player})
	s.True(apperrors.Is(err, apperrors.ErrCatalogEmpty))

	stored := s.reload(id)
	s.Equal(models.SessionRevealing, stored.Status)
	s.Equal(res.Session.Version, stored.Version)
	s.Equal(view.Turn.ID, *stored.CurrentTurnID)

	var count int64
	s.Require().NoError(s.db.Model(&models.GameTurn{}).Where("session_id = ?", id).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *SessionServiceTestSuite) TestStartWithEmptyCatalog() {
	s.Require().NoError(s.db.Exec("DELETE FROM songs").Error)

	_, err := s.svc.Start(s.ctx, s.player)
	s.True(apperrors.Is(err, apperrors.ErrCatalogEmpty))

	var count int64
	s.Require().NoError(s.db.Model(&models.GameSession{}).Count(&count).Error)
	s.Equal(int64(0), count)
}

func TestSessionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SessionServiceTestSuite))
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from  models.SessionStatus
		event Event
		to    models.SessionStatus
		ok    bool
	}{
		{models.SessionInProgress, EventGuessCorrect, models.SessionRevealing, true},
		{models.SessionInProgress, EventGuessRetry, models.SessionInProgress, true},
		{models.SessionInProgress, EventGuessMiss, models.SessionInProgress, true},
		{models.SessionInProgress, EventHealthOut, models.SessionEnded, true},
		{models.SessionInProgress, EventEnd, models.SessionEnded, true},
		{models.SessionRevealing, EventAdvance, models.SessionInProgress, true},
		{models.SessionRevealing, EventEnd, models.SessionEnded, true},
		{models.SessionInProgress, EventAdvance, "", false},
		{models.SessionRevealing, EventGuessCorrect, "", false},
		{models.SessionEnded, EventEnd, "", false},
		{models.SessionEnded, EventAdvance, "", false},
	}
	for _, c := range cases {
		session := &models.GameSession{Status: c.from}
		err := trigger(session, c.event)
		if !c.ok {
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState), "%s + %s", c.from, c.event)
			assert.Equal(t, c.from, session.Status)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.to, session.Status)
	}
}
