package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/domain/entity"
)

func newTestHub(t *testing.T) (*Hub, string) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url, user string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.Online(user) > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func TestHub_DeliversToEverySessionOfUser(t *testing.T) {
	hub, url := newTestHub(t)
	first := dial(t, hub, url, "u1")
	second := dial(t, hub, url, "u1")
	require.Eventually(t, func() bool { return hub.Online("u1") == 2 }, time.Second, 10*time.Millisecond)

	err := hub.Deliver(context.Background(), &entity.User{ID: "u1"},
		&entity.Notification{ID: "n1", UserID: "u1", Type: entity.NotificationAssigned, Title: "Trip assigned"})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type string              `json:"type"`
			Data entity.Notification `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "notification", msg.Type)
		assert.Equal(t, "n1", msg.Data.ID)
		assert.Equal(t, "Trip assigned", msg.Data.Title)
	}
}

func TestHub_OfflineUserIsNotAnError(t *testing.T) {
	hub, _ := newTestHub(t)
	err := hub.Deliver(context.Background(), &entity.User{ID: "nobody"}, &entity.Notification{ID: "n1"})
	assert.NoError(t, err)
}

func TestHub_ForgetsClosedSessions(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, hub, url, "u2")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return hub.Online("u2") == 0 }, 2*time.Second, 10*time.Millisecond)
}
