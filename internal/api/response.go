package api

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/game"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/middleware"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SongPayload 回合中的音频，标题在出结果前不下发
type SongPayload struct {
	ID    uint   `json:"id"`
	File  string `json:"file"`
	Title string `json:"title,omitempty"`
}

// TurnPayload 下发给玩家的回合
type TurnPayload struct {
	ID              uint               `json:"id"`
	SequenceIndex   int                `json:"sequence_index"`
	Song            SongPayload        `json:"song"`
	Options         []string           `json:"options"`
	Outcome         models.TurnOutcome `json:"outcome"`
	SelectedOption  *string            `json:"selected_option"`
	CorrectOption   string             `json:"correct_option,omitempty"`
	TimeLimitSecs   int                `json:"time_limit_secs"`
	SnippetStartSec int                `json:"snippet_start_sec"`
	Attempts        int                `json:"attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	AnsweredAt      *time.Time         `json:"answered_at"`
}

// SessionResponse 会话和当前回合
type SessionResponse struct {
	Session *models.GameSession `json:"session"`
	Turn    *TurnPayload        `json:"turn"`
}

// GuessResponse 作答结果
type GuessResponse struct {
	Session   *models.GameSession `json:"session"`
	Turn      *TurnPayload        `json:"turn"`
	NextTurn  *TurnPayload        `json:"next_turn,omitempty"`
	Outcome   models.TurnOutcome  `json:"outcome"`
	PosterURL string              `json:"poster_url"`
	Ended     bool                `json:"ended"`
}

func newTurnPayload(turn *models.GameTurn) *TurnPayload {
	if turn == nil {
		return nil
	}
	p := &TurnPayload{
		ID:              turn.ID,
		SequenceIndex:   turn.SequenceIndex,
		Song:            SongPayload{ID: turn.SongID, File: turn.Song.File},
		Options:         []string(turn.Options),
		Outcome:         turn.Outcome,
		SelectedOption:  turn.SelectedOption,
		TimeLimitSecs:   turn.TimeLimitSecs,
		SnippetStartSec: turn.SnippetStartSec,
		Attempts:        turn.Attempts,
		CreatedAt:       turn.CreatedAt,
		AnsweredAt:      turn.AnsweredAt,
	}
	if turn.Outcome.Resolved() {
		p.CorrectOption = turn.CorrectOption
		p.Song.Title = turn.Song.SongTitle.Title
	}
	return p
}

func newSessionResponse(view *game.SessionView) SessionResponse {
	return SessionResponse{Session: view.Session, Turn: newTurnPayload(view.Turn)}
}

// respondError 把错误转换成统一的错误响应
func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.WithModule("api").Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
			zap.String("stack", appErr.GetStack()),
		)
	}
	c.JSON(status, apperrors.NewErrorResponse(appErr, c.GetHeader("X-Request-ID")))
}

func badRequest(c *gin.Context, details string) {
	respondError(c, apperrors.New(apperrors.ErrInvalidParam, details))
}

// currentPlayer 当前登录玩家，路由已经挂了 RequireAuth
func currentPlayer(c *gin.Context) game.Player {
	id, _ := middleware.GetUserID(c)
	name, _ := middleware.GetUsername(c)
	return game.Player{ID: id, Username: name}
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// intQuery 读取整数查询参数，缺省时返回 def
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
