package transport

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// ErrConnectionClosed is returned when writing to a closed websocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// Inbound receives messages read from websocket connections
type Inbound interface {
	Route(ctx context.Context, msg *message.Message) routing.Outcome
}

// WebSocketServer accepts websocket clients. A client identifies itself with a hello
// frame and is then reachable at WebSocketClientAddress{ID}.
type WebSocketServer struct {
	upgrader websocket.Upgrader
	inbound  Inbound
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	conns  map[string]*wsConn
	closed bool
	wg     sync.WaitGroup
}

// NewWebSocketServer creates a server that routes every received message through inbound.
func NewWebSocketServer(inbound Inbound, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		inbound: inbound,
		logger:  logger.Named("websocket-server"),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*wsConn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID, err := readHello(ws)
	if err != nil {
		s.logger.Info("rejecting websocket client without hello", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = ws.Close()
		return
	}

	conn := newWSConn(ws)
	if !s.attach(clientID, conn) {
		_ = ws.Close()
		return
	}
	s.logger.Info("websocket client connected", zap.String("client_id", clientID), zap.String("remote", r.RemoteAddr))

	defer s.wg.Done()
	defer s.detach(clientID, conn)

	readLoop(s.ctx, ws, s.logger.With(zap.String("client_id", clientID)), func(env message.Envelope) {
		env.ReceivedFromGlobal = false
		msg, ok := message.FromEnvelope(env)
		if !ok {
			s.logger.Warn("dropping frame with unknown message type", zap.String("type", env.Type))
			return
		}
		s.inbound.Route(s.ctx, msg)
	})
}

// Transport returns a transport writing to the connection of clientID.
func (s *WebSocketServer) Transport(clientID string) (routing.Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[clientID]
	if !ok {
		return nil, false
	}
	return conn, true
}

// Clients returns the ids of connected clients, sorted
func (s *WebSocketServer) Clients() []string {
	s.mu.RLock()
	result := make([]string, 0, len(s.conns))
	for id := range s.conns {
		result = append(result, id)
	}
	s.mu.RUnlock()
	sort.Strings(result)
	return result
}

// Close disconnects every client. It is safe to call more than once.
func (s *WebSocketServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = make(map[string]*wsConn)
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	return nil
}

// attach registers conn for clientID; a previous connection of the same client is closed.
func (s *WebSocketServer) attach(clientID string, conn *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if old, ok := s.conns[clientID]; ok {
		old.close()
	}
	s.conns[clientID] = conn
	s.wg.Add(1)
	return true
}

func (s *WebSocketServer) detach(clientID string, conn *wsConn) {
	s.mu.Lock()
	if s.conns[clientID] == conn {
		delete(s.conns, clientID)
	}
	s.mu.Unlock()
	conn.close()
	s.logger.Info("websocket client disconnected", zap.String("client_id", clientID))
}

func readHello(ws *websocket.Conn) (string, error) {
	_ = ws.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}
	_ = ws.SetReadDeadline(time.Time{})

	f, err := decodeFrame(data)
	if err != nil {
		return "", err
	}
	if f.Hello == "" {
		return "", errors.New("first frame carries no client id")
	}
	return f.Hello, nil
}

// readLoop decodes frames until the connection fails or ctx is done.
func readLoop(ctx context.Context, ws *websocket.Conn, logger *zap.Logger, handle func(message.Envelope)) {
	for ctx.Err() == nil {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		if f.Envelope == nil {
			continue
		}
		handle(*f.Envelope)
	}
}

// wsConn serialises writes to one websocket connection.
type wsConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Transmit writes msg as one binary frame
func (c *wsConn) Transmit(ctx context.Context, msg *message.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *wsConn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ routing.Transport = (*wsConn)(nil)
