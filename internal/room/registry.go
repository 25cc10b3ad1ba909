package room

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultGraceWindow = 10 * time.Second
	defaultIDLength    = 8
)

// Registry 在线房间注册表。所有操作在同一把锁内完成，锁内不做 I/O
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	graceWindow time.Duration
	newID       func() string
	now         func() time.Time
	log         *zap.Logger
}

// Option 注册表可选项
type Option func(*Registry)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator 替换房间号生成
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// NewRegistry 创建房间注册表
func NewRegistry(cfg config.RoomConfig, opts ...Option) *Registry {
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	idLength := cfg.IDLength
	if idLength <= 0 || idLength > 32 {
		idLength = defaultIDLength
	}

	r := &Registry{
		rooms:       make(map[string]*Room),
		graceWindow: grace,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
		},
		now: time.Now,
		log: logger.WithModule("room"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom 创建房间，登录用户占据1号席位
func (r *Registry) CreateRoom(creator *uint) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, exists := r.rooms[id]; !exists {
			break
		}
		id = r.newID()
	}

	room := newRoom(id, r.now())
	if creator != nil {
		room.claim(*creator)
	}
	r.rooms[id] = room

	r.log.Info("房间已创建", zap.String("room_id", id))
	return room.snapshot()
}

// AddMember 连接加入房间。房间不存在时按房间号直接创建；
// 登录用户没有席位时占据第一个空席位，两个席位都被他人占据时返回 ErrRoomFull，成员不变。
// 匿名连接以观众身份加入
func (r *Registry) AddMember(roomID, connID string, userID *uint) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	room, ok := r.rooms[roomID]
	if !ok {
		room = newRoom(roomID, now)
		r.rooms[roomID] = room
		r.log.Info("按房间号创建房间", zap.String("room_id", roomID))
	}

	if userID != nil && !room.claim(*userID) {
		return Snapshot{}, apperrors.Newf(apperrors.ErrRoomFull, "room %s is full", roomID)
	}

	room.members[connID] = struct{}{}
	room.UpdatedAt = now
	r.log.Debug("成员加入",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Int("members", len(room.members)),
	)
	return room.snapshot(), nil
}

// RemoveMember 连接离开房间。房间变空后保留到宽限期结束，由 SnapshotRooms 清理
func (r *Registry) RemoveMember(roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return apperrors.Newf(apperrors.ErrRoomNotFound, "room %s", roomID)
	}
	delete(room.members, connID)
	room.UpdatedAt = r.now()
	r.log.Debug("成员离开",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Int("members", len(room.members)),
	)
	return nil
}

// SnapshotRooms 清理超过宽限期的空房间后返回全部房间，按创建时间排序
func (r *Registry) SnapshotRooms() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep(r.now())

	out := make([]Snapshot, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get 读取单个房间
func (r *Registry) Get(roomID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, apperrors.Newf(apperrors.ErrRoomNotFound, "room %s", roomID)
	}
	return room.snapshot(), nil
}

// Len 当前房间数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) sweep(now time.Time) {
	for id, room := range r.rooms {
		if room.empty() && now.Sub(room.UpdatedAt) > r.graceWindow {
			delete(r.rooms, id)
			r.log.Info("清理空房间", zap.String("room_id", id))
		}
	}
}
