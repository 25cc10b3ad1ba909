package repository

import (
	"fmt"
	"testing"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 创建迁移好的内存测试数据库
func TestDB(t testing.TB) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 内存库每个连接都是独立的数据库，只能用一个连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	err = db.AutoMigrate(
		&models.Poster{},
		&models.SongTitle{},
		&models.Song{},
		&models.GameSession{},
		&models.GameTurn{},
		&models.GameHistory{},
	)
	require.NoError(t, err)

	return db
}

// TestTitle 测试用曲目
type TestTitle struct {
	Title   string
	Album   string
	Songs   int
	Posters int
}

// SeedTitles 写入曲目、音频和海报
func SeedTitles(t testing.TB, db *gorm.DB, titles ...TestTitle) []models.SongTitle {
	out := make([]models.SongTitle, 0, len(titles))
	for _, tt := range titles {
		title := models.SongTitle{Title: tt.Title, Album: tt.Album}
		for i := 0; i < tt.Posters; i++ {
			title.Posters = append(title.Posters, models.Poster{
				Image: fmt.Sprintf("posters/%s_%d.jpg", tt.Title, i),
			})
		}
		require.NoError(t, db.Create(&title).Error)

		for i := 0; i < tt.Songs; i++ {
			song := models.Song{
				File:        fmt.Sprintf("songs/%s_%d.mp3", tt.Title, i),
				SongTitleID: title.ID,
			}
			require.NoError(t, db.Omit("SongTitle").Create(&song).Error)
		}
		out = append(out, title)
	}
	return out
}

// SeedDefaultCatalog 写入一份覆盖多张专辑的曲库
func SeedDefaultCatalog(t testing.TB, db *gorm.DB) []models.SongTitle {
	return SeedTitles(t, db,
		TestTitle{Title: "Love Story", Album: "Fearless", Songs: 2, Posters: 2},
		TestTitle{Title: "You Belong With Me", Album: "Fearless", Songs: 1, Posters: 1},
		TestTitle{Title: "Style", Album: "1989", Songs: 1, Posters: 2},
		TestTitle{Title: "Blank Space", Album: "1989", Songs: 1, Posters: 1},
		TestTitle{Title: "Willow", Album: "evermore", Songs: 1, Posters: 1},
		TestTitle{Title: "The Fate of Ophelia", Album: "The Life of a Showgirl", Songs: 2, Posters: 2},
		TestTitle{Title: "Elizabeth Taylor", Album: "The Life of a Showgirl", Songs: 1, Posters: 1},
	)
}
