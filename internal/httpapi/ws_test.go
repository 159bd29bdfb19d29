package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-relay/internal/chess/rules"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func (f *fixture) join(t *testing.T, path, channel string, members int) *websocket.Conn {
	t.Helper()
	ws := f.dial(t, path+"?token="+f.token)
	require.Eventually(t, func() bool { return f.reg.Len(channel) == members }, 3*time.Second, 10*time.Millisecond)
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) domain.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeFrame(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, b))
}

func closeStatus(t *testing.T, ws *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := ws.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestWebSocketWithoutTokenClosedUnauthorized(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "/games/ws/g1")
	assert.Equal(t, websocket.StatusCode(4401), closeStatus(t, ws))
	assert.Zero(t, f.reg.Len("game:g1"))

	ws = f.dial(t, "/games/ws/g1?token=forged")
	assert.Equal(t, websocket.StatusCode(4401), closeStatus(t, ws))
}

func TestWebSocketMoveBroadcastsToChannel(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "/games/ws/g1", "game:g1", 1)
	bob := f.join(t, "/games/ws/g1", "game:g1", 2)

	writeFrame(t, alice, relaydto.InboundFrame{
		Type:    relaydto.FrameMove,
		Payload: json.RawMessage(`{"fen":"` + rules.StartFEN + `","uci":"e2e4"}`),
	})

	for _, ws := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, ws)
		assert.Equal(t, domain.TypeGameMove, env.Type)
		assert.Equal(t, "game:g1", env.Channel)
		var mv relaydto.GameMove
		require.NoError(t, json.Unmarshal(env.Payload, &mv))
		assert.Equal(t, "e2e4", mv.UCI)
		assert.Equal(t, "g1", mv.GameID)
		assert.Equal(t, "user-1", mv.By)
	}
}

func TestWebSocketIllegalMoveKeepsConnection(t *testing.T) {
	f := newFixture(t)
	ws := f.join(t, "/games/ws/g1", "game:g1", 1)

	writeFrame(t, ws, relaydto.InboundFrame{
		Type:    relaydto.FrameMove,
		Payload: json.RawMessage(`{"fen":"` + rules.StartFEN + `","uci":"e2e5"}`),
	})
	env := readEnvelope(t, ws)
	require.Equal(t, domain.TypeRejected, env.Type)
	var rej relaydto.ErrorResponse
	require.NoError(t, json.Unmarshal(env.Payload, &rej))
	assert.Equal(t, domain.CodeIllegalMove, rej.Code)

	writeFrame(t, ws, relaydto.InboundFrame{Type: relaydto.FramePing})
	assert.Equal(t, domain.TypePong, readEnvelope(t, ws).Type)
	assert.Equal(t, 1, f.reg.Len("game:g1"))
}

func TestWebSocketProtocolViolationCloses1002(t *testing.T) {
	f := newFixture(t)
	ws := f.join(t, "/rooms/ws/r1", "room:r1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("not json")))

	assert.Equal(t, websocket.StatusProtocolError, closeStatus(t, ws))
	require.Eventually(t, func() bool { return f.reg.Len("room:r1") == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestRoomMessageReachesRoomSockets(t *testing.T) {
	f := newFixture(t)
	ws := f.join(t, "/rooms/ws/r1", "room:r1", 1)
	f.backend.On("PostRoomMessage", mock.Anything, mock.Anything).Return(json.RawMessage(`{"id":"m1"}`), nil)

	status, _ := f.do(t, http.MethodPost, "/rooms/message", relaydto.RoomMessageRequest{RoomID: "r1", UserID: "u1", Content: "hello"})
	require.Equal(t, http.StatusOK, status)

	env := readEnvelope(t, ws)
	assert.Equal(t, domain.TypeNewMessage, env.Type)
	assert.JSONEq(t, `{"room_id":"r1","user_id":"u1","content":"hello"}`, string(env.Payload))
}

func TestGlobalEventsRebroadcast(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "/ws/events", domain.GlobalChannel, 1)
	b := f.join(t, "/ws/events", domain.GlobalChannel, 2)

	writeFrame(t, a, relaydto.InboundFrame{Type: relaydto.FrameEvent, Payload: json.RawMessage(`{"kind":"online","user":"u1"}`)})
	env := readEnvelope(t, b)
	assert.Equal(t, domain.TypeEvent, env.Type)
	assert.JSONEq(t, `{"kind":"online","user":"u1"}`, string(env.Payload))
}

func TestCloseConnectionsSendsGoingAway(t *testing.T) {
	f := newFixture(t)
	ws := f.join(t, "/games/ws/g2", "game:g2", 1)

	done := make(chan int, 1)
	go func() { done <- f.api.CloseConnections() }()

	assert.Equal(t, websocket.StatusGoingAway, closeStatus(t, ws))
	assert.Equal(t, 1, <-done)
	require.Eventually(t, func() bool { return f.reg.Connections() == 0 }, 3*time.Second, 10*time.Millisecond)
}
