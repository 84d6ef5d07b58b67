package server

import (
	"net/http"
	"sync"
	"time"

	"blind_relay/internal/protocol/frame"
	"blind_relay/internal/service/relay"
	"blind_relay/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type wsConn struct {
	handle relay.Handle
	ws     *websocket.Conn
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(handle relay.Handle, ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		handle: handle,
		ws:     ws,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) Handle() relay.Handle {
	return c.handle
}

// Send never blocks: a full queue means the peer is not keeping up and the
// frame is skipped.
func (c *wsConn) Send(out frame.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	data, err := frame.Encode(out)
	if err != nil {
		log.Error("encode frame failed", zap.Error(err))
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) write(messageType int, data []byte, wait time.Duration) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// writeLoop owns every write on the socket. On close it flushes what is
// already queued, sends a close frame and releases the socket, which also
// unblocks the reader.
func (c *wsConn) writeLoop(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data, writeWait); err != nil {
				log.Debug("write failed", zap.String("conn", string(c.handle)), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, writeWait); err != nil {
				c.close()
				return
			}
		case <-c.done:
		drain:
			for {
				select {
				case data := <-c.send:
					if err := c.write(websocket.TextMessage, data, writeWait); err != nil {
						return
					}
				default:
					break drain
				}
			}
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), writeWait)
			return
		}
	}
}

func (s *HttpServer) HandleWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		c := newWSConn(relay.NewHandle(), ws, s.opts.SendBuffer)
		s.conns.Store(c.handle, c)
		session := s.hub.Open(c)
		log.Debug("connection opened", zap.String("conn", string(c.handle)), zap.String("remote", r.RemoteAddr))

		go c.writeLoop(s.opts.WriteWait, s.opts.PingPeriod)
		s.readLoop(c, session)
	}
}

func (s *HttpServer) readLoop(c *wsConn, session *relay.Session) {
	defer func() {
		session.Close()
		c.close()
		s.conns.Delete(c.handle)
	}()

	c.ws.SetReadLimit(s.opts.MaxFrameBytes)
	// unbound connections get AUTH_TIMEOUT to send auth or join
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.AuthTimeout))

	bound := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("connection read failed", zap.String("conn", string(c.handle)), zap.Error(err))
			}
			return
		}

		if err := session.HandleRaw(s.ctx, data); err != nil {
			log.Error("relay failed, closing connection", zap.String("conn", string(c.handle)), zap.Error(err))
			return
		}

		if !bound && session.State() == relay.StateBound {
			bound = true
			_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
			c.ws.SetPongHandler(func(string) error {
				return c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
			})
		}
	}
}
