package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Models 需要迁移的模型，顺序即外键依赖顺序
func Models() []interface{} {
	return []interface{}{
		// 曲库
		&models.Poster{},
		&models.SongTitle{},
		&models.Song{},

		// 对局
		&models.GameSession{},
		&models.GameTurn{},
		&models.GameHistory{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 多个进程同时启动时只让一个进程迁移 sqlite 文件
	if path := sqlitePath(db); path != "" {
		CleanupStaleLocks(path)
		lockFile, err := acquireMigrationLock(path)
		if err != nil {
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	log := logger.WithModule("database")
	log.Info("开始数据库迁移...")

	for _, model := range Models() {
		start := time.Now()
		err := db.AutoMigrate(model)
		logger.LogDatabaseOperation("migrate", fmt.Sprintf("%T", model), time.Since(start), err)
		if err != nil {
			return err
		}
	}

	log.Info("数据库迁移完成")
	return nil
}

// CatalogSeed 曲库导入文件格式
type CatalogSeed struct {
	Titles []struct {
		Title   string   `json:"title"`
		Album   string   `json:"album"`
		Lyrics  string   `json:"lyrics"`
		Songs   []string `json:"songs"`
		Posters []string `json:"posters"`
	} `json:"titles"`
}

// SeedCatalog 从JSON导入曲库，已存在的标题、文件和海报会被跳过
func SeedCatalog(ctx context.Context, db *gorm.DB, r io.Reader) (int, error) {
	var seed CatalogSeed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return 0, fmt.Errorf("解析曲库文件失败: %w", err)
	}

	imported := 0
	start := time.Now()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range seed.Titles {
			title := models.SongTitle{Title: t.Title}
			if err := tx.Where(models.SongTitle{Title: t.Title}).
				Assign(models.SongTitle{Album: t.Album, Lyrics: t.Lyrics}).
				FirstOrCreate(&title).Error; err != nil {
				return fmt.Errorf("导入标题 %q 失败: %w", t.Title, err)
			}

			for _, file := range t.Songs {
				song := models.Song{File: file, SongTitleID: title.ID}
				if err := tx.Omit(clause.Associations).
					Clauses(clause.OnConflict{DoNothing: true}).
					Create(&song).Error; err != nil {
					return fmt.Errorf("导入音频 %q 失败: %w", file, err)
				}
			}

			posters := make([]models.Poster, 0, len(t.Posters))
			for _, image := range t.Posters {
				p := models.Poster{Image: image}
				if err := tx.Where(models.Poster{Image: image}).FirstOrCreate(&p).Error; err != nil {
					return fmt.Errorf("导入海报 %q 失败: %w", image, err)
				}
				posters = append(posters, p)
			}
			if len(posters) > 0 {
				if err := tx.Model(&title).Association("Posters").Append(posters); err != nil {
					return fmt.Errorf("关联海报失败: %w", err)
				}
			}
			imported++
		}
		return nil
	})
	logger.LogDatabaseOperation("seed", "song_titles", time.Since(start), err)
	if err != nil {
		return 0, err
	}

	logger.WithModule("database").Info("曲库导入完成", zap.Int("titles", imported))
	return imported, nil
}
