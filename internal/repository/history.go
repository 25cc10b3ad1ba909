package repository

import (
	"context"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlayerScore 排行榜条目
type PlayerScore struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// HistoryRepository 对局记录仓储接口
type HistoryRepository interface {
	WithTx(tx *gorm.DB) HistoryRepository
	// Record 写入对局记录，同一会话重复写入被忽略
	Record(ctx context.Context, h *models.GameHistory) error
	FindByUser(ctx context.Context, userID uint, p *Pagination) ([]models.GameHistory, error)
	// TopPlayers 每个玩家的最高分，降序
	TopPlayers(ctx context.Context, limit int) ([]PlayerScore, error)
}

type historyRepo struct {
	*BaseRepo
}

// NewHistoryRepository 创建对局记录仓储
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepo{BaseRepo: NewBaseRepo(db)}
}

// WithTx 使用事务
func (r *historyRepo) WithTx(tx *gorm.DB) HistoryRepository {
	return &historyRepo{BaseRepo: NewBaseRepo(tx)}
}

func (r *historyRepo) Record(ctx context.Context, h *models.GameHistory) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(h).Error
}

func (r *historyRepo) FindByUser(ctx context.Context, userID uint, p *Pagination) ([]models.GameHistory, error) {
	if p == nil {
		p = NewPagination(1, 10)
	}
	var items []models.GameHistory

	byUser := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.GameHistory{}).Where("user_id = ?", userID)
	}
	if err := byUser().Count(&p.Total).Error; err != nil {
		return nil, err
	}
	err := byUser().Order("played_at DESC").Scopes(Paginate(p)).Find(&items).Error
	return items, err
}

func (r *historyRepo) TopPlayers(ctx context.Context, limit int) ([]PlayerScore, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []PlayerScore
	err := r.db.WithContext(ctx).
		Model(&models.GameHistory{}).
		Select("user_id, MAX(username) AS username, MAX(score) AS score").
		Group("user_id").
		Order("score DESC, user_id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
