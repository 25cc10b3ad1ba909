package models

// SongTitle 歌曲标题，选项从这里抽取
type SongTitle struct {
	BaseModel
	Title  string `gorm:"size:255;not null;uniqueIndex" json:"title"`
	Album  string `gorm:"size:255;index" json:"album"`
	Lyrics string `gorm:"type:text" json:"lyrics,omitempty"`

	// 答对后随机展示的海报
	Posters []Poster `gorm:"many2many:poster_pics;" json:"posters,omitempty"`
}

// TableName 指定表名
func (SongTitle) TableName() string {
	return "song_titles"
}

// Song 音频文件，一个标题可以对应多个片段
type Song struct {
	BaseModel
	File        string    `gorm:"size:512;not null;uniqueIndex" json:"file"`
	SongTitleID uint      `gorm:"not null;index" json:"song_title_id"`
	SongTitle   SongTitle `gorm:"foreignKey:SongTitleID" json:"song_title"`
}

// TableName 指定表名
func (Song) TableName() string {
	return "songs"
}

// Poster 海报图片
type Poster struct {
	BaseModel
	Image string `gorm:"size:512;not null;uniqueIndex" json:"image"`
}

// TableName 指定表名
func (Poster) TableName() string {
	return "posters"
}
