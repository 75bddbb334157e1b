package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/usecase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestHubBroadcastsPredictions(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	hub.PredictionCreated(usecase.Prediction{ID: "p1", PredictedClass: "00 Anatomia Normal", ConfidenceScore: 0.91, CreatedAt: created})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventPredictionCreated, msg.Type)
	assert.Equal(t, "p1", msg.PredictionID)
	assert.Equal(t, "00 Anatomia Normal", msg.PredictedClass)
	assert.InDelta(t, 0.91, msg.ConfidenceScore, 1e-9)
	assert.True(t, created.Equal(msg.CreatedAt))
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Shutdown()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	// Broadcasting after shutdown must not block.
	hub.PredictionCreated(usecase.Prediction{ID: "late"})
	hub.Shutdown()
}
