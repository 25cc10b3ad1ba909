package repository

import (
	"context"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogFilter 选歌过滤条件
type CatalogFilter struct {
	Album string
}

// CatalogRepository 曲库仓储接口
type CatalogRepository interface {
	WithTx(tx *gorm.DB) CatalogRepository
	// PickRandom 随机选一首有标题的歌，filter 为空时不过滤
	PickRandom(ctx context.Context, filter *CatalogFilter) (*models.Song, error)
	// RandomDistinctTitles 随机取 k 个不同的标题，排除 excluding
	RandomDistinctTitles(ctx context.Context, excluding string, k int) ([]string, error)
	// RandomPoster 随机取一张与标题关联的海报
	RandomPoster(ctx context.Context, songTitleID uint) (*models.Poster, error)
	CountSongs(ctx context.Context) (int64, error)
}

type catalogRepo struct {
	*BaseRepo
}

// NewCatalogRepository 创建曲库仓储
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepo{BaseRepo: NewBaseRepo(db)}
}

// WithTx 使用事务
func (r *catalogRepo) WithTx(tx *gorm.DB) CatalogRepository {
	return &catalogRepo{BaseRepo: NewBaseRepo(tx)}
}

func (r *catalogRepo) PickRandom(ctx context.Context, filter *CatalogFilter) (*models.Song, error) {
	q := r.db.WithContext(ctx).
		Select("songs.*").
		Joins("JOIN song_titles ON song_titles.id = songs.song_title_id").
		Where("song_titles.title <> ''").
		Preload("SongTitle")
	if filter != nil && filter.Album != "" {
		q = q.Where("song_titles.album = ?", filter.Album)
	}

	var song models.Song
	err := q.Clauses(clause.OrderBy{Expression: randomOrder(r.db)}).
		Limit(1).
		Take(&song).Error
	if err != nil {
		return nil, err
	}
	return &song, nil
}

func (r *catalogRepo) RandomDistinctTitles(ctx context.Context, excluding string, k int) ([]string, error) {
	if k <= 0 {
		return []string{}, nil
	}

	// title 有唯一索引，不需要 DISTINCT
	var titles []string
	err := r.db.WithContext(ctx).
		Model(&models.SongTitle{}).
		Where("title <> ? AND title <> ''", excluding).
		Clauses(clause.OrderBy{Expression: randomOrder(r.db)}).
		Limit(k).
		Pluck("title", &titles).Error
	if err != nil {
		return nil, err
	}
	return titles, nil
}

func (r *catalogRepo) RandomPoster(ctx context.Context, songTitleID uint) (*models.Poster, error) {
	var poster models.Poster
	err := r.db.WithContext(ctx).
		Select("posters.*").
		Joins("JOIN poster_pics ON poster_pics.poster_id = posters.id").
		Where("poster_pics.song_title_id = ?", songTitleID).
		Clauses(clause.OrderBy{Expression: randomOrder(r.db)}).
		Limit(1).
		Take(&poster).Error
	if err != nil {
		return nil, err
	}
	return &poster, nil
}

func (r *catalogRepo) CountSongs(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Song{}).Count(&n).Error
	return n, err
}
