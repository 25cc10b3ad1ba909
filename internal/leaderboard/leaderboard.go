package leaderboard

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/repository"
	"github.com/redis/go-redis/v9"
)

const defaultLimit = 10

// Entry 排行榜条目
type Entry struct {
	Rank     int    `json:"rank"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Board 玩家最高分排行榜
type Board interface {
	// Submit 提交一局分数，只保留玩家的最高分
	Submit(ctx context.Context, userID uint, username string, score int) error
	Top(ctx context.Context, limit int) ([]Entry, error)
}

// RedisBoard 基于 Redis 有序集合的排行榜
type RedisBoard struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisBoard 创建 Redis 排行榜
func NewRedisBoard(client redis.UniversalClient, prefix string) *RedisBoard {
	return &RedisBoard{redis: client, prefix: prefix}
}

func (b *RedisBoard) scoresKey() string {
	return fmt.Sprintf("%s:leaderboard:scores", b.prefix)
}

func (b *RedisBoard) namesKey() string {
	return fmt.Sprintf("%s:leaderboard:names", b.prefix)
}

func (b *RedisBoard) Submit(ctx context.Context, userID uint, username string, score int) error {
	member := strconv.FormatUint(uint64(userID), 10)

	_, err := b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddArgs(ctx, b.scoresKey(), redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(score), Member: member}},
		})
		pipe.HSet(ctx, b.namesKey(), member, username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

func (b *RedisBoard) Top(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	res, err := b.redis.ZRevRangeWithScores(ctx, b.scoresKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取排行榜失败")
	}
	if len(res) == 0 {
		return []Entry{}, nil
	}

	members := make([]string, 0, len(res))
	for _, z := range res {
		members = append(members, z.Member.(string))
	}
	names, err := b.redis.HMGet(ctx, b.namesKey(), members...).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取排行榜失败")
	}

	entries := make([]Entry, 0, len(res))
	for i, z := range res {
		id, err := strconv.ParseUint(members[i], 10, 64)
		if err != nil {
			continue
		}
		name, _ := names[i].(string)
		entries = append(entries, Entry{
			Rank:     len(entries) + 1,
			UserID:   uint(id),
			Username: name,
			Score:    int(z.Score),
		})
	}
	return entries, nil
}

// DBBoard 没有 Redis 时直接从对局记录聚合
type DBBoard struct {
	history repository.HistoryRepository
}

// NewDBBoard 创建数据库排行榜
func NewDBBoard(history repository.HistoryRepository) *DBBoard {
	return &DBBoard{history: history}
}

// Submit 对局记录已在会话结束的事务内写入
func (b *DBBoard) Submit(context.Context, uint, string, int) error {
	return nil
}

func (b *DBBoard) Top(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := b.history.TopPlayers(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取排行榜失败")
	}

	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, Entry{
			Rank:     i + 1,
			UserID:   row.UserID,
			Username: row.Username,
			Score:    row.Score,
		})
	}
	return entries, nil
}
