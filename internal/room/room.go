package room

import (
	"time"
)

// Status 房间状态
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusInGame  Status = "IN_GAME"
)

// Room 对战房间，只存在于内存
type Room struct {
	ID           string
	Status       Status
	Player1      *uint
	Player2      *uint
	Player1Score int
	Player2Score int
	CurrentSong  *uint
	CreatedAt    time.Time
	UpdatedAt    time.Time

	members map[string]struct{}
}

// Snapshot 房间快照，广播和接口返回使用
type Snapshot struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Player1      *uint     `json:"player_1"`
	Player2      *uint     `json:"player_2"`
	Player1Score int       `json:"player_1_score"`
	Player2Score int       `json:"player_2_score"`
	CurrentSong  *uint     `json:"current_song"`
	Members      int       `json:"members"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:        id,
		Status:    StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
		members:   make(map[string]struct{}),
	}
}

// holds 用户是否已占据一个席位
func (r *Room) holds(userID uint) bool {
	return (r.Player1 != nil && *r.Player1 == userID) ||
		(r.Player2 != nil && *r.Player2 == userID)
}

// claim 先到先得占据空席位，没有空位时返回 false
func (r *Room) claim(userID uint) bool {
	if r.holds(userID) {
		return true
	}
	id := userID
	switch {
	case r.Player1 == nil:
		r.Player1 = &id
	case r.Player2 == nil:
		r.Player2 = &id
	default:
		return false
	}
	return true
}

// empty 没有任何连接
func (r *Room) empty() bool {
	return len(r.members) == 0
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		ID:           r.ID,
		Status:       r.Status,
		Player1:      copyID(r.Player1),
		Player2:      copyID(r.Player2),
		Player1Score: r.Player1Score,
		Player2Score: r.Player2Score,
		CurrentSong:  copyID(r.CurrentSong),
		Members:      len(r.members),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func copyID(id *uint) *uint {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
