package webserver

import (
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// wsTransport carries webgui messages as websocket text messages.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func newWSTransport(conn *websocket.Conn, config *Config) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		writeTimeout: config.WriteTimeout,
	}
	if config.ReadLimit > 0 {
		conn.SetReadLimit(config.ReadLimit)
	}
	if config.PingInterval > 0 {
		// a peer answering pings never hits the read deadline, even when idle
		t.readTimeout = 2 * config.PingInterval
		conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		})
	}
	return t
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		op, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, errors.New("closed by peer")
			}
			return nil, errors.Wrap(err, "websocket read")
		}
		if t.readTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		}
		if op != websocket.TextMessage {
			glog.V(2).Infof("webgui: ignoring websocket message of type %d", op)
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close() error {
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.writeTimeout))
	return t.conn.Close()
}
