package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// WebSocketClient dials websocket servers. One connection per server URL is kept and
// reused; a failed connection is dropped and redialled on the next transmission.
// Frames read back from a server are routed through inbound.
type WebSocketClient struct {
	clientID string
	inbound  Inbound
	dialer   *websocket.Dialer
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
	wg     sync.WaitGroup
}

// NewWebSocketClient creates a client that introduces itself as clientID. An empty
// clientID skips the hello frame. inbound may be nil when nothing is expected back.
func NewWebSocketClient(clientID string, inbound Inbound, logger *zap.Logger) *WebSocketClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketClient{
		clientID: clientID,
		inbound:  inbound,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: logger.Named("websocket-client"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*wsConn),
	}
}

// Transport returns a transport for the server at addr
func (c *WebSocketClient) Transport(addr address.WebSocketAddress) routing.Transport {
	return &clientTransport{client: c, url: addr.URL()}
}

// Connect dials the server at addr unless a connection already exists.
func (c *WebSocketClient) Connect(ctx context.Context, addr address.WebSocketAddress) error {
	_, err := c.connect(ctx, addr.URL())
	return err
}

// Connected returns the URLs with a live connection
func (c *WebSocketClient) Connected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, 0, len(c.conns))
	for url := range c.conns {
		result = append(result, url)
	}
	return result
}

// Close closes every connection. It is safe to call more than once.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := c.conns
	c.conns = make(map[string]*wsConn)
	c.mu.Unlock()

	c.cancel()
	for _, conn := range conns {
		conn.close()
	}
	c.wg.Wait()
	return nil
}

func (c *WebSocketClient) connect(ctx context.Context, url string) (*wsConn, error) {
	errb := oops.In("transport").With("url", url)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errb.Wrapf(ErrConnectionClosed, "websocket client is closed")
	}
	if conn, ok := c.conns[url]; ok && !conn.isClosed() {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	ws, resp, err := c.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errb.Wrapf(err, "dial websocket server")
	}

	conn := newWSConn(ws)
	if c.clientID != "" {
		hello, err := encodeHello(c.clientID)
		if err == nil {
			err = conn.write(ctx, hello)
		}
		if err != nil {
			conn.close()
			return nil, errb.Wrapf(err, "send hello")
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close()
		return nil, errb.Wrapf(ErrConnectionClosed, "websocket client is closed")
	}
	if existing, ok := c.conns[url]; ok && !existing.isClosed() {
		// lost a dial race
		c.mu.Unlock()
		conn.close()
		return existing, nil
	}
	c.conns[url] = conn
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("connected to websocket server", zap.String("url", url))
	go c.serve(url, conn)
	return conn, nil
}

// serve reads frames from the server until the connection fails.
func (c *WebSocketClient) serve(url string, conn *wsConn) {
	defer c.wg.Done()
	defer c.drop(url, conn)

	logger := c.logger.With(zap.String("url", url))
	readLoop(c.ctx, conn.ws, logger, func(env message.Envelope) {
		if c.inbound == nil {
			return
		}
		// multicasts coming down from a parent must not be sent back up
		if env.Type == message.TypeMulticast.String() {
			env.ReceivedFromGlobal = true
		}
		msg, ok := message.FromEnvelope(env)
		if !ok {
			logger.Warn("dropping frame with unknown message type", zap.String("type", env.Type))
			return
		}
		c.inbound.Route(c.ctx, msg)
	})
}

func (c *WebSocketClient) drop(url string, conn *wsConn) {
	c.mu.Lock()
	if c.conns[url] == conn {
		delete(c.conns, url)
	}
	c.mu.Unlock()
	conn.close()
}

type clientTransport struct {
	client *WebSocketClient
	url    string
}

func (t *clientTransport) Transmit(ctx context.Context, msg *message.Message) error {
	conn, err := t.client.connect(ctx, t.url)
	if err != nil {
		return err
	}
	if err := conn.Transmit(ctx, msg); err != nil {
		t.client.drop(t.url, conn)
		return oops.In("transport").With("url", t.url).Wrapf(err, "write frame")
	}
	return nil
}
