package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
)

// 分数到答题时限的分档，按分数从高到低匹配
var timeLimitTiers = []struct {
	minScore int
	secs     int
}{
	{35, 7},
	{20, 10},
	{10, 15},
	{0, 20},
}

// TimeLimitSecs 分数对应的答题时限
func TimeLimitSecs(score int) int {
	for _, tier := range timeLimitTiers {
		if score >= tier.minScore {
			return tier.secs
		}
	}
	return timeLimitTiers[len(timeLimitTiers)-1].secs
}

// Difficulty 一个回合的难度参数
type Difficulty struct {
	TimeLimitSecs int
	Era           *repository.CatalogFilter // nil 表示不限专辑
}

// Policy 难度策略
type Policy struct {
	featuredAlbum  string
	eraProbability float64
	eraMaxScore    int

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy 创建难度策略
func NewPolicy(cfg config.GameConfig) *Policy {
	return &Policy{
		featuredAlbum:  cfg.FeaturedAlbum,
		eraProbability: cfg.EraProbability,
		eraMaxScore:    cfg.EraMaxScore,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed 固定随机种子（测试使用）
func (p *Policy) WithSeed(seed int64) *Policy {
	p.mu.Lock()
	p.rand = rand.New(rand.NewSource(seed))
	p.mu.Unlock()
	return p
}

// Reload 配置热加载后更新主题专辑参数
func (p *Policy) Reload(cfg config.GameConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.featuredAlbum = cfg.FeaturedAlbum
	p.eraProbability = cfg.EraProbability
	p.eraMaxScore = cfg.EraMaxScore
}

// Evaluate 计算分数对应的难度。0分时强制主题专辑，
// (0, eraMaxScore] 按概率使用主题专辑，更高分不过滤
func (p *Policy) Evaluate(score int) Difficulty {
	d := Difficulty{TimeLimitSecs: TimeLimitSecs(score)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.featuredAlbum == "" {
		return d
	}

	switch {
	case score == 0:
		d.Era = &repository.CatalogFilter{Album: p.featuredAlbum}
	case score > 0 && score <= p.eraMaxScore:
		if p.rand.Float64() < p.eraProbability {
			d.Era = &repository.CatalogFilter{Album: p.featuredAlbum}
		}
	}
	return d
}
