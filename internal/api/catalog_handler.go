package api

import (
	"net/http"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/leaderboard"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"github.com/gin-gonic/gin"
)

const (
	defaultRandomTitles = 4
	maxRandomTitles     = 50
	maxLeaderboard      = 100
)

// CatalogHandler 曲库和排行榜的只读接口
type CatalogHandler struct {
	catalog repository.CatalogRepository
	board   leaderboard.Board
}

// NewCatalogHandler 创建处理器
func NewCatalogHandler(catalog repository.CatalogRepository, board leaderboard.Board) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, board: board}
}

// RandomTitles 随机的不重复歌名
func (h *CatalogHandler) RandomTitles(c *gin.Context) {
	k, ok := intQuery(c, "k", defaultRandomTitles)
	if !ok {
		return
	}
	if k > maxRandomTitles {
		k = maxRandomTitles
	}

	titles, err := h.catalog.RandomDistinctTitles(c.Request.Context(), "", k)
	if err != nil {
		respondError(c, err)
		return
	}
	if titles == nil {
		titles = []string{}
	}
	c.JSON(http.StatusOK, titles)
}

// Top 排行榜
func (h *CatalogHandler) Top(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	if limit > maxLeaderboard {
		limit = maxLeaderboard
	}

	entries, err := h.board.Top(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
