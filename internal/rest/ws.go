package rest

import (
	"net/http"
	"time"

	"zabon/realtime-service/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscribeMessages upgrades to a WebSocket and pushes every message inserted
// for the path user until either side closes.
func (h *Handler) subscribeMessages(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Warn("WebSocket upgrade failed")
		return
	}

	entry := h.logger.WithField("user_id", userID)
	send := make(chan *models.Message, sendBuffer)
	done := make(chan struct{})

	sub, err := h.chats.SubscribeToIncoming(userID, func(msg *models.Message) {
		select {
		case send <- msg:
		case <-done:
		default:
			entry.WithField("message_id", msg.ID).Warn("Subscriber send buffer full, dropping message")
		}
	})
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}

	entry.Info("Message subscriber connected")

	go writePump(conn, send, done, entry)
	readPump(conn, entry)

	sub.Unsubscribe()
	close(done)
	entry.Info("Message subscriber disconnected")
}

// readPump discards client frames and returns once the connection is gone.
func readPump(conn *websocket.Conn, entry *logrus.Entry) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.WithError(err).Warn("WebSocket read error")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan *models.Message, done <-chan struct{}, entry *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				entry.WithError(err).Warn("WebSocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
