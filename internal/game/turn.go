package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/models"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"go.uber.org/zap"
)

// TurnBuilder 出题器
type TurnBuilder struct {
	policy      *Policy
	optionCount int

	mu   sync.Mutex
	rand *rand.Rand
}

// NewTurnBuilder 创建出题器，optionCount 为干扰项个数
func NewTurnBuilder(policy *Policy, optionCount int) *TurnBuilder {
	return &TurnBuilder{
		policy:      policy,
		optionCount: optionCount,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Build 为会话出第 seq 题。catalog 可以是绑定了事务的仓储
func (b *TurnBuilder) Build(ctx context.Context, catalog repository.CatalogRepository, session *models.GameSession, seq int) (*models.GameTurn, error) {
	difficulty := b.policy.Evaluate(session.Score)

	song, err := b.pickSong(ctx, catalog, difficulty.Era)
	if err != nil {
		return nil, err
	}

	correct := song.SongTitle.Title
	distractors, err := catalog.RandomDistinctTitles(ctx, correct, b.optionCount)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "抽取干扰项失败")
	}

	return &models.GameTurn{
		SessionID:     session.ID,
		SequenceIndex: seq,
		SongID:        song.ID,
		Song:          *song,
		Options:       b.shuffle(append(distractors, correct)),
		CorrectOption: correct,
		Outcome:       models.OutcomePending,
		TimeLimitSecs: difficulty.TimeLimitSecs,
	}, nil
}

// pickSong 先按专辑选歌，选不到有标题的歌时退回全曲库
func (b *TurnBuilder) pickSong(ctx context.Context, catalog repository.CatalogRepository, era *repository.CatalogFilter) (*models.Song, error) {
	if era != nil {
		song, err := catalog.PickRandom(ctx, era)
		if err == nil && song.SongTitle.Title != "" {
			return song, nil
		}
		if err != nil && !repository.IsNotFound(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "选歌失败")
		}
		logger.WithModule("game").Debug("主题专辑没有可用歌曲，改为全曲库选歌", zap.String("album", era.Album))
	}

	song, err := catalog.PickRandom(ctx, nil)
	if repository.IsNotFound(err) || (err == nil && song.SongTitle.Title == "") {
		return nil, apperrors.New(apperrors.ErrCatalogEmpty)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "选歌失败")
	}
	return song, nil
}

// shuffle Fisher-Yates 洗牌，正确答案的位置均匀分布
func (b *TurnBuilder) shuffle(options []string) models.StringList {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return models.StringList(options)
}

// Evaluate 判定一次作答，不修改回合
func Evaluate(turn *models.GameTurn, option string, elapsedMs int64) models.TurnOutcome {
	switch {
	case elapsedMs > int64(turn.TimeLimitSecs)*1000:
		return models.OutcomeTimeout
	case option == turn.CorrectOption:
		return models.OutcomeCorrect
	default:
		return models.OutcomeWrong
	}
}
