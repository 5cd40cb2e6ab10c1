package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/coursemarket_backend/models"
)

func newTestServer(t *testing.T, origins []string) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	handler := NewHandler(hub, origins)
	e := echo.New()
	e.GET("/events", func(c echo.Context) error {
		return handler.HandleWebSocket(c, c.QueryParam("session"), map[string]string{"stage": "idle"})
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNotification(t *testing.T, conn *websocket.Conn) Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n Notification
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestHub_DeliversToOwnSessionOnly(t *testing.T) {
	hub, url := newTestServer(t, nil)

	ann := dial(t, url+"?session=s-ann", nil)
	bob := dial(t, url+"?session=s-bob", nil)

	greeting := readNotification(t, ann)
	assert.Equal(t, NotificationTypeConnected, greeting.Type)
	assert.Equal(t, "s-ann", greeting.SessionID)
	readNotification(t, bob)

	require.Eventually(t, func() bool {
		return hub.Connected("s-ann") == 1 && hub.Connected("s-bob") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish(models.Event{Type: models.EventCodeSent, SessionID: "s-ann", Stage: models.StageAwaitingVerification, Message: "code sent"})

	n := readNotification(t, ann)
	assert.Equal(t, NotificationTypeSignup, n.Type)
	assert.Equal(t, "code sent", n.Message)
	data, ok := n.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "codeSent", data["type"])

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob gets nothing")
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, url := newTestServer(t, nil)

	conn := dial(t, url+"?session=s-1", nil)
	readNotification(t, conn)
	require.Eventually(t, func() bool { return hub.Connected("s-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Connected("s-1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, hub.SendToSession("s-1", Notification{Type: "x"}))
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	_, url := newTestServer(t, []string{"https://app.example.com"})

	_, resp, err := websocket.DefaultDialer.Dial(url+"?session=s-1", http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, url+"?session=s-1", http.Header{"Origin": []string{"https://app.example.com"}})
	assert.Equal(t, NotificationTypeConnected, readNotification(t, conn).Type)
}
