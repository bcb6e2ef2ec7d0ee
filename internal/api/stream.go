package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamBuffer     = 64
)

// Stream event types.
const (
	EventConnected = "connected"
	EventResult    = "result"
	EventAlert     = "alert"
)

// StreamEvent is one websocket frame on /api/results/stream.
type StreamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(h.AllowedOrigins, "*") || slices.Contains(h.AllowedOrigins, origin)
		},
	}
}

// StreamResults handles GET /api/results/stream. Recorded results and
// alerts are pushed as they are published on the event bus.
func (h *Handler) StreamResults(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("event bus not available"))
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	streamClients.Inc()
	defer streamClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan []byte, streamBuffer)
	forward := func(kind string) domain.MessageHandler {
		return func(_ context.Context, msg *domain.Message) error {
			frame, err := json.Marshal(StreamEvent{Type: kind, Data: msg.Payload})
			if err != nil {
				return err
			}
			select {
			case send <- frame:
			default:
				slog.Warn("stream client too slow, dropping event", "type", kind, "message_id", msg.ID)
			}
			return nil
		}
	}

	for topic, kind := range map[string]string{
		domain.TopicResultRecorded: EventResult,
		domain.TopicAlert:          EventAlert,
	} {
		sub, err := h.Bus.Subscribe(ctx, topic, forward(kind))
		if err != nil {
			slog.Error("stream subscribe failed", "topic", topic, "error", err)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
				time.Now().Add(streamWriteWait))
			return
		}
		defer sub.Unsubscribe()
	}

	// Subscriptions are live once the client sees this frame.
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(StreamEvent{Type: EventConnected}); err != nil {
		return
	}

	go readStream(conn, cancel)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return

		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readStream drains client frames so pongs and close frames are processed,
// and cancels the stream when the client goes away.
func readStream(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("stream client disconnected", "error", err)
			}
			return
		}
	}
}
