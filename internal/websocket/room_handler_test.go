package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Shi-Yueyang/TrueSwiftie/internal/config"
	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/room"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireMessage struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Sender interface{}     `json:"sender"`
}

type testServer struct {
	*httptest.Server
	hub      *Hub
	registry *room.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hub := NewHub(NewMemoryBroker(64))
	registry := room.NewRegistry(config.RoomConfig{GraceWindow: 10 * time.Second, IDLength: 8})
	handler := NewRoomHandler(hub, registry, config.WebSocketConfig{})
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	serve := func(w http.ResponseWriter, r *http.Request, fn func(*websocket.Conn, *Identity)) {
		var user *Identity
		if uid := r.URL.Query().Get("uid"); uid != "" {
			id, err := strconv.Atoi(uid)
			require.NoError(t, err)
			user = &Identity{ID: uint(id), Username: "user" + uid}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(conn, user)
	}
	mux.HandleFunc("/lobby", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, func(conn *websocket.Conn, user *Identity) {
			handler.ServeLobby(r.Context(), conn, user)
		})
	})
	mux.HandleFunc("/room/", func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/room/")
		serve(w, r, func(conn *websocket.Conn, user *Identity) {
			handler.ServeRoom(r.Context(), conn, roomID, user)
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub, registry: registry}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readType 读取消息直到出现指定类型
func readType(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wireMessage
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func decodeSnapshot(t *testing.T, raw json.RawMessage) room.Snapshot {
	t.Helper()
	var snap room.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	return snap
}

func TestLobbyCreateRoom(t *testing.T) {
	srv := newTestServer(t)

	lobby := srv.dial(t, "/lobby?uid=1")
	initial := readType(t, lobby, MessageTypeRooms)
	assert.JSONEq(t, `[]`, string(initial.Data))

	// 非 create_room 消息被忽略
	require.NoError(t, lobby.WriteJSON(map[string]string{"type": "hello"}))
	require.NoError(t, lobby.WriteJSON(map[string]string{"type": MessageTypeCreateRoom}))

	created := readType(t, lobby, MessageTypeRoomCreated)
	snap := decodeSnapshot(t, created.Data)
	assert.Len(t, snap.ID, 8)
	require.NotNil(t, snap.Player1)
	assert.Equal(t, uint(1), *snap.Player1)

	rooms := readType(t, lobby, MessageTypeRooms)
	var list []room.Snapshot
	require.NoError(t, json.Unmarshal(rooms.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, snap.ID, list[0].ID)
}

func TestRoomJoinRelayAndLeave(t *testing.T) {
	srv := newTestServer(t)
	lobby := srv.dial(t, "/lobby")
	readType(t, lobby, MessageTypeRooms)

	alice := srv.dial(t, "/room/abcd1234?uid=1")
	state := readType(t, alice, MessageTypeRoomState)
	snap := decodeSnapshot(t, state.Data)
	assert.Equal(t, "abcd1234", snap.ID)
	assert.Equal(t, uint(1), *snap.Player1)
	assert.Equal(t, 1, snap.Members)

	joined := readType(t, alice, MessageTypePlayerJoined)
	assert.Equal(t, SenderSystem, joined.Sender)
	assert.JSONEq(t, `{"room_id":"abcd1234","user":{"id":1,"username":"user1"}}`, string(joined.Data))

	rooms := readType(t, lobby, MessageTypeRooms)
	assert.Contains(t, string(rooms.Data), "abcd1234")

	bob := srv.dial(t, "/room/abcd1234?uid=2")
	state = readType(t, bob, MessageTypeRoomState)
	snap = decodeSnapshot(t, state.Data)
	require.NotNil(t, snap.Player2)
	assert.Equal(t, uint(2), *snap.Player2)
	readType(t, alice, MessageTypePlayerJoined)

	// 两个席位已满
	carol := srv.dial(t, "/room/abcd1234?uid=3")
	failed := readType(t, carol, MessageTypeError)
	var body struct {
		Code apperrors.ErrorCode `json:"code"`
	}
	require.NoError(t, json.Unmarshal(failed.Data, &body))
	assert.Equal(t, apperrors.ErrRoomFull, body.Code)

	// 匿名观众可以加入
	viewer := srv.dial(t, "/room/abcd1234")
	readType(t, viewer, MessageTypeRoomState)

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"type": "guess",
		"data": map[string]string{"option": "Style"},
	}))
	relayed := readType(t, bob, "guess")
	assert.EqualValues(t, 1, relayed.Sender)
	assert.JSONEq(t, `{"option":"Style"}`, string(relayed.Data))
	readType(t, viewer, "guess")

	require.NoError(t, viewer.WriteJSON(map[string]string{"type": "cheer"}))
	cheer := readType(t, alice, "cheer")
	assert.Nil(t, cheer.Sender)
	assert.JSONEq(t, `{}`, string(cheer.Data))

	bob.Close()
	left := readType(t, alice, MessageTypePlayerLeft)
	assert.JSONEq(t, `{"room_id":"abcd1234"}`, string(left.Data))

	require.Eventually(t, func() bool {
		got, err := srv.registry.Get("abcd1234")
		return err == nil && got.Members == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomInvalidMessageKeepsConnection(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "/room/room0001?uid=5")
	readType(t, conn, MessageTypeRoomState)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	readType(t, conn, MessageTypeError)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readType(t, conn, "ping")
}

func TestHubReleasesTopicsOnDisconnect(t *testing.T) {
	srv := newTestServer(t)
	lobby := srv.dial(t, "/lobby")
	readType(t, lobby, MessageTypeRooms)
	conn := srv.dial(t, "/room/room0002?uid=9")
	readType(t, conn, MessageTypeRoomState)

	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, srv.hub.TopicCount())

	conn.Close()
	lobby.Close()
	require.Eventually(t, func() bool {
		return srv.hub.ClientCount() == 0 && srv.hub.TopicCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	srv := newTestServer(t)
	lobby := srv.dial(t, "/lobby")
	readType(t, lobby, MessageTypeRooms)
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.hub.Close())
	assert.Equal(t, 0, srv.hub.TopicCount())

	require.NoError(t, lobby.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := lobby.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
}
