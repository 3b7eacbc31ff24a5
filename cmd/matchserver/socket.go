package main

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsSocket adapts a *websocket.Conn to conn.Socket, grounded on the
// teacher's ClientConnection: a buffered send channel drained by a
// dedicated writePump goroutine (so a slow client can never block the
// caller), a done channel for idempotent close, and a readPump that
// extends the read deadline on every pong.
type wsSocket struct {
	ws       *websocket.Conn
	sendChan chan []byte
	done     chan struct{}
	log      zerolog.Logger
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
)

func newWsSocket(ws *websocket.Conn, log zerolog.Logger) *wsSocket {
	return &wsSocket{
		ws:       ws,
		sendChan: make(chan []byte, 256),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Send queues a frame for the write pump. Non-blocking: a full buffer
// drops the message rather than stall the caller (teacher's Send).
func (s *wsSocket) Send(frame []byte) error {
	select {
	case s.sendChan <- frame:
		return nil
	case <-s.done:
		return errClosed
	default:
		return nil
	}
}

func (s *wsSocket) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.ws.Close()
}

func (s *wsSocket) RemoteAddr() string {
	return s.ws.RemoteAddr().String()
}

func (s *wsSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendChan:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames and hands them to onFrame until the socket closes.
func (s *wsSocket) readPump(onFrame func([]byte)) {
	defer s.Close()

	s.ws.SetReadLimit(maxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("unexpected close reading socket")
			}
			return
		}
		onFrame(data)
	}
}
