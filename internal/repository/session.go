package repository

import (
	"context"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository 游戏会话与回合仓储接口
type SessionRepository interface {
	WithTx(tx *gorm.DB) SessionRepository
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	Create(ctx context.Context, session *models.GameSession) error
	Save(ctx context.Context, session *models.GameSession) error
	FindByID(ctx context.Context, id uint) (*models.GameSession, error)
	// FindForUpdate 读取并锁定会话行，必须在事务内调用
	FindForUpdate(ctx context.Context, id uint) (*models.GameSession, error)

	CreateTurn(ctx context.Context, turn *models.GameTurn) error
	SaveTurn(ctx context.Context, turn *models.GameTurn) error
	FindTurn(ctx context.Context, id uint) (*models.GameTurn, error)
	ListTurns(ctx context.Context, sessionID uint) ([]models.GameTurn, error)
}

type sessionRepo struct {
	*BaseRepo
}

// NewSessionRepository 创建会话仓储
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepo{BaseRepo: NewBaseRepo(db)}
}

// WithTx 使用事务
func (r *sessionRepo) WithTx(tx *gorm.DB) SessionRepository {
	return &sessionRepo{BaseRepo: NewBaseRepo(tx)}
}

func (r *sessionRepo) Create(ctx context.Context, session *models.GameSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepo) Save(ctx context.Context, session *models.GameSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *sessionRepo) FindByID(ctx context.Context, id uint) (*models.GameSession, error) {
	var session models.GameSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindForUpdate(ctx context.Context, id uint) (*models.GameSession, error) {
	var session models.GameSession
	if err := forUpdate(r.db.WithContext(ctx)).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) CreateTurn(ctx context.Context, turn *models.GameTurn) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(turn).Error
}

func (r *sessionRepo) SaveTurn(ctx context.Context, turn *models.GameTurn) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(turn).Error
}

func (r *sessionRepo) FindTurn(ctx context.Context, id uint) (*models.GameTurn, error) {
	var turn models.GameTurn
	err := r.db.WithContext(ctx).
		Preload("Song").
		Preload("Song.SongTitle").
		First(&turn, id).Error
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (r *sessionRepo) ListTurns(ctx context.Context, sessionID uint) ([]models.GameTurn, error) {
	var turns []models.GameTurn
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_index ASC").
		Find(&turns).Error
	return turns, err
}
