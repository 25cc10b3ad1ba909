package game

import (
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
)

// Event 会话事件
type Event string

const (
	EventGuessCorrect Event = "guess_correct" // 答对，展示海报
	EventGuessRetry   Event = "guess_retry"   // 0分时答错，不扣血，原题重答
	EventGuessMiss    Event = "guess_miss"    // 答错或超时，还有血量，换下一题
	EventHealthOut    Event = "health_out"    // 答错或超时，血量耗尽
	EventAdvance      Event = "advance"       // 展示结束，进入下一题
	EventEnd          Event = "end"           // 玩家主动结束
)

// StateTransition 状态转换定义
type StateTransition struct {
	From  models.SessionStatus
	Event Event
	To    models.SessionStatus
}

// transitions 会话状态转换表，表外的组合一律视为非法
var transitions = []StateTransition{
	{From: models.SessionInProgress, Event: EventGuessCorrect, To: models.SessionRevealing},
	{From: models.SessionInProgress, Event: EventGuessRetry, To: models.SessionInProgress},
	{From: models.SessionInProgress, Event: EventGuessMiss, To: models.SessionInProgress},
	{From: models.SessionInProgress, Event: EventHealthOut, To: models.SessionEnded},
	{From: models.SessionInProgress, Event: EventEnd, To: models.SessionEnded},
	{From: models.SessionRevealing, Event: EventAdvance, To: models.SessionInProgress},
	{From: models.SessionRevealing, Event: EventEnd, To: models.SessionEnded},
}

// nextStatus 查表得到目标状态
func nextStatus(from models.SessionStatus, event Event) (models.SessionStatus, error) {
	for _, t := range transitions {
		if t.From == from && t.Event == event {
			return t.To, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrInvalidState, "event %s not allowed in status %s", event, from)
}

// trigger 对会话应用事件
func trigger(session *models.GameSession, event Event) error {
	to, err := nextStatus(session.Status, event)
	if err != nil {
		return err
	}
	session.Status = to
	return nil
}
