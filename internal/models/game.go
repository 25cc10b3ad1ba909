package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS" // 当前回合等待作答
	SessionRevealing  SessionStatus = "REVEALING"   // 答对后展示海报，下一回合未开始
	SessionEnded      SessionStatus = "ENDED"
)

// Valid 是否为已知状态
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInProgress, SessionRevealing, SessionEnded:
		return true
	}
	return false
}

// CanTransition 状态迁移表
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case SessionInProgress:
		return to == SessionInProgress || to == SessionRevealing || to == SessionEnded
	case SessionRevealing:
		return to == SessionInProgress || to == SessionEnded
	case SessionEnded:
		return false
	}
	return false
}

// TurnOutcome 回合结果
type TurnOutcome string

const (
	OutcomePending TurnOutcome = "PENDING"
	OutcomeCorrect TurnOutcome = "CORRECT"
	OutcomeWrong   TurnOutcome = "WRONG"
	OutcomeTimeout TurnOutcome = "TIMEOUT"
)

// Valid 是否为已知结果
func (o TurnOutcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeCorrect, OutcomeWrong, OutcomeTimeout:
		return true
	}
	return false
}

// Resolved 是否已经出结果
func (o TurnOutcome) Resolved() bool {
	return o == OutcomeCorrect || o == OutcomeWrong || o == OutcomeTimeout
}

// CanTransition 只允许 PENDING 到终态
func (o TurnOutcome) CanTransition(to TurnOutcome) bool {
	return o == OutcomePending && to.Resolved()
}

// GameSession 单人游戏会话
type GameSession struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	UserID        uint          `gorm:"not null;index" json:"user_id"`
	Username      string        `gorm:"size:100" json:"username"`
	Status        SessionStatus `gorm:"size:20;not null;index" json:"status"`
	Score         int           `gorm:"not null;default:0" json:"score"`
	Health        int           `gorm:"not null" json:"health"`
	Version       int64         `gorm:"not null;default:1" json:"version"`
	CurrentTurnID *uint         `json:"current_turn_id"`
	NextTurnID    *uint         `json:"next_turn_id,omitempty"`
	StartedAt     time.Time     `gorm:"not null" json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TableName 指定表名
func (GameSession) TableName() string {
	return "game_sessions"
}

// BeforeSave 校验状态与结束时间一致
func (s *GameSession) BeforeSave(tx *gorm.DB) error {
	if !s.Status.Valid() {
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	if (s.Status == SessionEnded) != (s.EndedAt != nil) {
		return fmt.Errorf("session %d: ended_at must be set iff status is ENDED", s.ID)
	}
	if s.Score < 0 {
		return fmt.Errorf("session %d: negative score", s.ID)
	}
	return nil
}

// IsEnded 是否已结束
func (s *GameSession) IsEnded() bool {
	return s.Status == SessionEnded
}

// GameTurn 一道题
type GameTurn struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	SessionID       uint        `gorm:"not null;uniqueIndex:idx_turn_session_seq" json:"session_id"`
	SequenceIndex   int         `gorm:"not null;uniqueIndex:idx_turn_session_seq" json:"sequence_index"`
	SongID          uint        `gorm:"not null;index" json:"song_id"`
	Song            Song        `gorm:"foreignKey:SongID" json:"song"`
	Options         StringList  `json:"options"`
	CorrectOption   string      `gorm:"size:255;not null" json:"correct_option"`
	SelectedOption  *string     `gorm:"size:255" json:"selected_option"`
	Outcome         TurnOutcome `gorm:"size:20;not null;default:'PENDING'" json:"outcome"`
	TimeLimitSecs   int         `gorm:"not null" json:"time_limit_secs"`
	SnippetStartSec int         `gorm:"not null;default:0" json:"snippet_start_sec"`
	Attempts        int         `gorm:"not null;default:0" json:"attempts"`
	CreatedAt       time.Time   `json:"created_at"`
	AnsweredAt      *time.Time  `json:"answered_at"`
}

// TableName 指定表名
func (GameTurn) TableName() string {
	return "game_turns"
}

// BeforeSave 校验结果与作答时间一致
func (t *GameTurn) BeforeSave(tx *gorm.DB) error {
	if !t.Outcome.Valid() {
		return fmt.Errorf("invalid turn outcome %q", t.Outcome)
	}
	if t.Outcome.Resolved() != (t.AnsweredAt != nil) {
		return fmt.Errorf("turn %d: answered_at must be set iff outcome is resolved", t.ID)
	}
	return nil
}

// IsOpen 是否仍在等待作答
func (t *GameTurn) IsOpen() bool {
	return t.Outcome == OutcomePending
}

// GameHistory 结束的对局记录，排行榜和历史列表使用
type GameHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Username  string    `gorm:"size:100" json:"username"`
	SessionID uint      `gorm:"not null;uniqueIndex" json:"session_id"`
	Score     int       `gorm:"not null;index" json:"score"`
	PlayedAt  time.Time `gorm:"not null" json:"played_at"`
}

// TableName 指定表名
func (GameHistory) TableName() string {
	return "game_histories"
}
