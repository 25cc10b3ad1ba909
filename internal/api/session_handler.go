package api

import (
	"net/http"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/game"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"github.com/gin-gonic/gin"
)

// SessionHandler 单人猜歌会话
type SessionHandler struct {
	sessions *game.SessionService
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions *game.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// GuessRequest 作答请求，option 为空表示超时
type GuessRequest struct {
	TurnID    uint   `json:"turn_id"`
	Option    string `json:"option"`
	ElapsedMs int64  `json:"elapsed_time_ms" binding:"min=0"`
	Version   int64  `json:"version" binding:"required,min=1"`
}

// VersionRequest 只携带版本号的请求
type VersionRequest struct {
	Version int64 `json:"version" binding:"required,min=1"`
}

// Start 开始会话
// @Summary 开始猜歌会话
// @Tags GameSession
// @Security Bearer
// @Produce json
// @Success 201 {object} SessionResponse
// @Failure 503 {object} apperrors.ErrorResponse
// @Router /api/v1/game-sessions/ [post]
func (h *SessionHandler) Start(c *gin.Context) {
	view, err := h.sessions.Start(c.Request.Context(), currentPlayer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionResponse(view))
}

// Get 会话详情
func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	view, err := h.sessions.Get(c.Request.Context(), id, currentPlayer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(view))
}

// Turns 会话的全部回合
func (h *SessionHandler) Turns(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	turns, err := h.sessions.Turns(c.Request.Context(), id, currentPlayer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	payload := make([]*TurnPayload, 0, len(turns))
	for i := range turns {
		payload = append(payload, newTurnPayload(&turns[i]))
	}
	c.JSON(http.StatusOK, payload)
}

// Guess 作答
// @Summary 对当前回合作答
// @Tags GameSession
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path int true "会话ID"
// @Param request body GuessRequest true "作答"
// @Success 200 {object} GuessResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/game-sessions/{id}/guess/ [post]
func (h *SessionHandler) Guess(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req GuessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.sessions.SubmitGuess(c.Request.Context(), game.GuessRequest{
		SessionID: id,
		TurnID:    req.TurnID,
		Option:    req.Option,
		ElapsedMs: req.ElapsedMs,
		Version:   req.Version,
		Player:    currentPlayer(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GuessResponse{
		Session:   result.Session,
		Turn:      newTurnPayload(result.Turn),
		NextTurn:  newTurnPayload(result.NextTurn),
		Outcome:   result.Outcome,
		PosterURL: result.PosterURL,
		Ended:     result.Ended,
	})
}

// Next 展示结束，进入下一题
func (h *SessionHandler) Next(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	view, err := h.sessions.AdvanceTurn(c.Request.Context(), game.AdvanceRequest{
		SessionID: id,
		Version:   req.Version,
		Player:    currentPlayer(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(view))
}

// End 主动结束会话
func (h *SessionHandler) End(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	view, err := h.sessions.EndSession(c.Request.Context(), game.EndRequest{
		SessionID: id,
		Version:   req.Version,
		Player:    currentPlayer(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(view))
}

// HistoryResponse 历史对局分页
type HistoryResponse struct {
	Records  []models.GameHistory `json:"records"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// History 当前玩家的历史对局
func (h *SessionHandler) History(c *gin.Context) {
	page, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	size, ok := intQuery(c, "page_size", 10)
	if !ok {
		return
	}

	p := repository.NewPagination(page, size)
	records, err := h.sessions.History(c.Request.Context(), currentPlayer(c), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{
		Records:  records,
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
	})
}
