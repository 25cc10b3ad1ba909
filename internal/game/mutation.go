package game

import (
	"context"
	"time"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
)

// mutation 一次加锁事务内的上下文，所有仓储都绑定同一个事务
type mutation struct {
	svc      *SessionService
	ctx      context.Context
	session  *models.GameSession
	sessions repository.SessionRepository
	catalog  repository.CatalogRepository
	history  repository.HistoryRepository
	now      time.Time
}

// resolve 结束一个 PENDING 回合
func (m *mutation) resolve(turn *models.GameTurn, outcome models.TurnOutcome, option string) error {
	if !turn.Outcome.CanTransition(outcome) {
		return apperrors.Newf(apperrors.ErrTurnAlreadyAnswered, "turn %d: %s -> %s", turn.ID, turn.Outcome, outcome)
	}

	turn.Outcome = outcome
	if option != "" {
		selected := option
		turn.SelectedOption = &selected
	}
	answeredAt := m.now
	turn.AnsweredAt = &answeredAt

	if err := m.sessions.SaveTurn(m.ctx, turn); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "保存回合失败")
	}
	return nil
}

// rotate 换到下一题。有预取回合时预取回合成为当前回合，并在 current+2 预取新回合；
// 否则在 current+1 新建当前回合
func (m *mutation) rotate(current *models.GameTurn) (*models.GameTurn, error) {
	if m.session.NextTurnID == nil {
		next, err := m.svc.createTurn(m.ctx, m.sessions, m.catalog, m.session, current.SequenceIndex+1)
		if err != nil {
			return nil, err
		}
		m.session.CurrentTurnID = &next.ID
		return next, nil
	}

	next, err := m.sessions.FindTurn(m.ctx, *m.session.NextTurnID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取预取回合失败")
	}
	ahead, err := m.svc.createTurn(m.ctx, m.sessions, m.catalog, m.session, current.SequenceIndex+2)
	if err != nil {
		return nil, err
	}
	m.session.CurrentTurnID = &next.ID
	m.session.NextTurnID = &ahead.ID
	return next, nil
}

// finish 会话进入 ENDED 后的收尾：结束时间、关闭预取回合、写对局记录
func (m *mutation) finish() error {
	endedAt := m.now
	m.session.EndedAt = &endedAt

	if m.session.NextTurnID != nil {
		next, err := m.sessions.FindTurn(m.ctx, *m.session.NextTurnID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取预取回合失败")
		}
		if next.IsOpen() {
			if err := m.resolve(next, models.OutcomeTimeout, ""); err != nil {
				return err
			}
		}
	}

	err := m.history.Record(m.ctx, &models.GameHistory{
		UserID:    m.session.UserID,
		Username:  m.session.Username,
		SessionID: m.session.ID,
		Score:     m.session.Score,
		PlayedAt:  endedAt,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "写入对局记录失败")
	}
	return nil
}
