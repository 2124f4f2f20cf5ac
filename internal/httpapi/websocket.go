package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/internal/runstream"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 64 << 10
)

const (
	wsTypeStart   = "start"
	wsTypeReply   = "reply"
	wsTypeCancel  = "cancel"
	wsTypeSession = "session"
	wsTypeEvent   = "event"
	wsTypeError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 4 << 10,
	// Browsers connect from other origins; access is controlled by the token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClientMessage is sent by the client.
type wsClientMessage struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Text    string `json:"text,omitempty"`
}

// wsServerMessage is sent by the server.
type wsServerMessage struct {
	Type    string                 `json:"type"`
	Session *sessionResponse       `json:"session,omitempty"`
	Event   *runstream.StreamEvent `json:"event,omitempty"`
	Error   *apiError              `json:"error,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(message wsServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(message)
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebsocket drives one session over a websocket: the client sends
// start, reply and cancel messages and receives every session event.
func (h *handlers) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}
	sessionID, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	cursor, err := parseCursor(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if h.runtime.Metrics != nil {
		defer h.runtime.Metrics.WebsocketOpened()()
	}

	ws := &wsConn{conn: conn}
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	if state, err := h.runtime.Get(r.Context(), sessionID); err == nil {
		snapshot := toSessionResponse(state)
		if err := ws.send(wsServerMessage{Type: wsTypeSession, Session: &snapshot}); err != nil {
			return
		}
	}

	group, ctx := errgroup.WithContext(context.WithoutCancel(r.Context()))
	group.Go(func() error {
		return h.pumpEvents(ctx, ws, sessionID, cursor)
	})
	group.Go(func() error {
		return h.readCommands(ctx, ws, sessionID)
	})
	group.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	_ = group.Wait()
}

func (h *handlers) pumpEvents(ctx context.Context, ws *wsConn, sessionID agent.RunID, cursor int64) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, wsPingPeriod)
		events, err := h.runtime.StreamBroker.Wait(waitCtx, sessionID, cursor)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := ws.ping(); err != nil {
				return err
			}
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			_, code := mapRuntimeError(err)
			_ = ws.send(wsServerMessage{Type: wsTypeError, Error: &apiError{Code: code, Message: err.Error()}})
			return err
		}

		for _, event := range events {
			if err := ws.send(wsServerMessage{Type: wsTypeEvent, Event: &event}); err != nil {
				return err
			}
			cursor = event.ID
		}
	}
}

func (h *handlers) readCommands(ctx context.Context, ws *wsConn, sessionID agent.RunID) error {
	for {
		var message wsClientMessage
		if err := ws.conn.ReadJSON(&message); err != nil {
			return err
		}

		var (
			result agent.RunResult
			err    error
		)
		switch strings.ToLower(strings.TrimSpace(message.Type)) {
		case wsTypeStart:
			if strings.TrimSpace(message.Request) == "" {
				err = invalidRequestError("request is required")
				break
			}
			result, err = h.runtime.Start(ctx, sessionID, message.Request)
		case wsTypeReply:
			result, err = h.runtime.Reply(ctx, sessionID, message.Text)
		case wsTypeCancel:
			result, err = h.runtime.Cancel(ctx, sessionID)
		default:
			err = invalidRequestError("unknown message type " + message.Type)
		}

		reply := wsServerMessage{Type: wsTypeSession}
		if runtimewire.Recorded(result, err) {
			snapshot := toSessionResponse(result.State)
			reply.Session = &snapshot
		} else {
			_, code := mapRuntimeError(err)
			reply = wsServerMessage{Type: wsTypeError, Error: &apiError{Code: code, Message: err.Error()}}
		}
		if err := ws.send(reply); err != nil {
			return err
		}
	}
}
