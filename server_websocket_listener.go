package rtspserver

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsNetConn exposes a WebSocket connection as a byte stream.
// Every write is sent as a binary message.
type wsNetConn struct {
	wc *websocket.Conn

	buf        []byte
	writeMutex sync.Mutex
}

func (c *wsNetConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		msgType, buf, err := c.wc.ReadMessage()
		if err != nil {
			return 0, err
		}

		if msgType != websocket.BinaryMessage {
			return 0, fmt.Errorf("unexpected message type %v", msgType)
		}

		c.buf = buf
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *wsNetConn) Write(p []byte) (int, error) {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	err := c.wc.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsNetConn) Close() error {
	return c.wc.Close()
}

func (c *wsNetConn) LocalAddr() net.Addr {
	return c.wc.LocalAddr()
}

func (c *wsNetConn) RemoteAddr() net.Addr {
	return c.wc.RemoteAddr()
}

func (c *wsNetConn) SetDeadline(t time.Time) error {
	err := c.wc.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return c.wc.SetWriteDeadline(t)
}

func (c *wsNetConn) SetReadDeadline(t time.Time) error {
	return c.wc.SetReadDeadline(t)
}

func (c *wsNetConn) SetWriteDeadline(t time.Time) error {
	return c.wc.SetWriteDeadline(t)
}

type serverWebSocketListener struct {
	s *Server

	ln       net.Listener
	httpServ *http.Server
	upgrader websocket.Upgrader
}

func (sl *serverWebSocketListener) initialize() error {
	var err error
	sl.ln, err = sl.s.Listen(restrictNetwork("tcp", sl.s.WebSocketAddress))
	if err != nil {
		return err
	}

	sl.upgrader = websocket.Upgrader{
		Subprotocols: []string{"rtsp.onvif.org"},
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}

	sl.httpServ = &http.Server{
		Handler:           sl,
		ReadHeaderTimeout: sl.s.ReadTimeout,
	}

	sl.s.wg.Add(1)
	go sl.run()

	return nil
}

func (sl *serverWebSocketListener) close() {
	sl.httpServ.Close()
}

func (sl *serverWebSocketListener) port() int {
	return listenerPort(sl.ln)
}

func (sl *serverWebSocketListener) run() {
	defer sl.s.wg.Done()

	err := sl.httpServ.Serve(sl.ln)
	if err != http.ErrServerClosed {
		sl.s.acceptErr(err)
	}
}

// ServeHTTP implements http.Handler.
func (sl *serverWebSocketListener) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	wc, err := sl.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	sl.s.newConn(&wsNetConn{wc: wc}, true)
}
