// Package node assembles a meshrouter node: the message router with its persistent
// store, the transports, the routing service for child routers, the websocket server
// for clients, the admin API, and the link to the parent router.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/oops"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rmacdonaldsmith/meshrouter/internal/auth"
	"github.com/rmacdonaldsmith/meshrouter/internal/config"
	"github.com/rmacdonaldsmith/meshrouter/internal/discovery"
	"github.com/rmacdonaldsmith/meshrouter/internal/httpapi"
	"github.com/rmacdonaldsmith/meshrouter/internal/metrics"
	"github.com/rmacdonaldsmith/meshrouter/internal/msgqueue"
	"github.com/rmacdonaldsmith/meshrouter/internal/router"
	"github.com/rmacdonaldsmith/meshrouter/internal/routingservice"
	"github.com/rmacdonaldsmith/meshrouter/internal/store"
	"github.com/rmacdonaldsmith/meshrouter/internal/transport"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

const shutdownTimeout = 5 * time.Second

var (
	// ErrClosed is returned when starting a closed node
	ErrClosed = errors.New("node is closed")
)

// Option customises a Node
type Option func(*Node)

// WithClock replaces the wall clock, mainly for tests
func WithClock(clk clock.Clock) Option {
	return func(n *Node) { n.clock = clk }
}

// WithDiscovery replaces the static discovery built from routing.parent_endpoints
func WithDiscovery(d discovery.Discovery) Option {
	return func(n *Node) { n.discovery = d }
}

// WithDialOptions adds gRPC dial options for the parent routing service
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(n *Node) { n.dialOpts = append(n.dialOpts, opts...) }
}

// Node owns every component of a running router.
type Node struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  clock.Clock

	store     store.Store
	queue     *msgqueue.InMemoryQueue
	metrics   *metrics.Metrics
	router    *router.Router
	inprocess *transport.InProcessRegistry
	wsServer  *transport.WebSocketServer
	wsClient  *transport.WebSocketClient
	discovery discovery.Discovery
	dialOpts  []grpc.DialOption

	mu         sync.Mutex
	started    bool
	closed     bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	grpcServer *routingservice.Server
	wsHTTP     *http.Server
	wsListener net.Listener
	admin      *httpapi.Server
	proxy      *routingservice.Client
}

// New builds a node from cfg. Nothing listens until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Node, error) {
	errb := oops.In("node")
	if cfg == nil {
		return nil, errb.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errb.Wrapf(err, "invalid config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Node{
		cfg:    cfg,
		logger: logger.With(zap.String("node_id", cfg.NodeID)),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.discovery == nil {
		n.discovery = discovery.NewStaticDiscovery(cfg.Routing.ParentEndpoints)
	}

	incoming, err := cfg.IncomingAddress()
	if err != nil {
		return nil, errb.Wrapf(err, "incoming address")
	}
	parent, err := cfg.ParentAddress()
	if err != nil {
		return nil, errb.Wrapf(err, "parent address")
	}

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path, n.logger)
	if err != nil {
		return nil, errb.Wrapf(err, "open %s store", cfg.Store.Backend)
	}
	n.store = st

	n.queue = msgqueue.New(msgqueue.Config{
		MaxPerParticipant: cfg.Routing.Queue.MaxPerParticipant,
		Clock:             n.clock,
		Logger:            n.logger,
	})
	if cfg.Metrics.Enabled {
		n.metrics = metrics.New()
	}

	n.inprocess = transport.NewInProcessRegistry()
	factory := &transport.Factory{InProcess: n.inprocess}

	replyTo := cfg.Routing.ReplyToAddress
	if replyTo == "" && !cfg.HasParent() {
		replyTo = address.MustMarshal(rootReplyAddress(cfg))
	}

	r, err := router.New(router.Options{
		InstanceID:        cfg.InstanceID,
		IncomingAddress:   incoming,
		ParentAddress:     parent,
		ReplyToAddress:    replyTo,
		Store:             st,
		Queue:             n.queue,
		Transports:        factory,
		Calculator:        transport.NewMulticastCalculator(parent),
		Skeletons:         n.inprocess,
		Logger:            n.logger,
		Clock:             n.clock,
		Metrics:           n.metrics,
		MulticastFanout:   cfg.Routing.MulticastFanout,
		ParentCallTimeout: cfg.Routing.ParentCallTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, errb.Wrapf(err, "create router")
	}
	n.router = r

	clientID := cfg.NodeID
	if a, ok := incoming.(address.WebSocketClientAddress); ok {
		clientID = a.ID
	}
	n.wsClient = transport.NewWebSocketClient(clientID, r, n.logger)
	n.wsServer = transport.NewWebSocketServer(r, n.logger)
	factory.Client = n.wsClient
	factory.Server = n.wsServer

	return n, nil
}

// rootReplyAddress is where replies reach a root node: its websocket server when one
// is configured, otherwise an in-process name.
func rootReplyAddress(cfg *config.Config) address.Address {
	host, portStr, err := net.SplitHostPort(cfg.WebSocket.Listen)
	if err != nil {
		return address.InProcessAddress{Name: cfg.NodeID}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return address.InProcessAddress{Name: cfg.NodeID}
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = cfg.NodeID
	}
	return address.WebSocketAddress{Protocol: "ws", Host: host, Port: port, Path: cfg.WebSocket.Path}
}

// Start brings up the configured listeners and, when a parent is configured, begins
// attaching to it in the background.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.queue.RunPurger(runCtx, n.cfg.Routing.Queue.PurgeInterval)
	}()

	if err := n.startListeners(); err != nil {
		cancel()
		_ = n.stopListeners()
		return err
	}

	if n.cfg.HasParent() {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.attachLoop(runCtx)
		}()
	}

	n.started = true
	n.logger.Info("node started",
		zap.String("state", n.router.State().String()),
		zap.Strings("parent_endpoints", n.cfg.Routing.ParentEndpoints))
	return nil
}

// startListeners must be called with n.mu held
func (n *Node) startListeners() error {
	errb := oops.In("node")

	if listen := n.cfg.Routing.GRPCListen; listen != "" {
		var jwtAuth *auth.JWTAuth
		if n.cfg.Routing.SecretKey != "" {
			jwtAuth = auth.NewJWTAuth(n.cfg.Routing.SecretKey)
		}
		n.grpcServer = routingservice.NewServer(n.router, routingservice.ServerOptions{Auth: jwtAuth, Logger: n.logger})
		if err := n.grpcServer.Listen(listen); err != nil {
			return errb.With("listen", listen).Wrapf(err, "start routing service")
		}
	}

	if listen := n.cfg.WebSocket.Listen; listen != "" {
		lis, err := net.Listen("tcp", listen)
		if err != nil {
			return errb.With("listen", listen).Wrapf(err, "start websocket server")
		}
		mux := http.NewServeMux()
		mux.Handle(n.cfg.WebSocket.Path, n.wsServer)
		n.wsListener = lis
		n.wsHTTP = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := n.wsHTTP.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error("websocket server stopped", zap.Error(err))
			}
		}()
		n.logger.Info("websocket server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("path", n.cfg.WebSocket.Path))
	}

	if listen := n.cfg.Admin.Listen; listen != "" {
		var metricsHandler http.Handler
		if n.metrics != nil {
			metricsHandler = n.metrics.Handler()
		}
		n.admin = httpapi.NewServer(adminBackend{Router: n.router, node: n}, httpapi.Config{
			Listen:    listen,
			SecretKey: n.cfg.Admin.SecretKey,
			NoAuth:    n.cfg.Admin.NoAuth,
			Metrics:   metricsHandler,
			Logger:    n.logger,
		})
		if err := n.admin.Start(); err != nil {
			return errb.With("listen", listen).Wrapf(err, "start admin API")
		}
	}
	return nil
}

// stopListeners must be called with n.mu held
func (n *Node) stopListeners() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if n.admin != nil {
		err = multierr.Append(err, n.admin.Stop(ctx))
	}
	if n.grpcServer != nil {
		n.grpcServer.Stop()
	}
	err = multierr.Append(err, n.wsServer.Close())
	if n.wsHTTP != nil {
		err = multierr.Append(err, n.wsHTTP.Shutdown(ctx))
	}
	return err
}

// attachLoop retries attach with exponential backoff until it succeeds or ctx ends.
func (n *Node) attachLoop(ctx context.Context) {
	backoff := n.cfg.Routing.AttachBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := n.cfg.Routing.AttachBackoffMax
	if maxBackoff < backoff {
		maxBackoff = backoff
	}

	for attempt := 1; ; attempt++ {
		err := n.attach(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil || routing.KindOf(err) == routing.KindAlreadyShutDown {
			return
		}
		n.logger.Warn("could not attach to parent router, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := n.clock.Timer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// attach connects the websocket to the parent and hands the first candidate routing
// service that accepts the registration to the router.
func (n *Node) attach(ctx context.Context) error {
	if ws, ok := n.router.ParentAddress().(address.WebSocketAddress); ok {
		if err := n.wsClient.Connect(ctx, ws); err != nil {
			return oops.In("node").With("parent_address", ws.URL()).Wrapf(err, "connect to parent websocket")
		}
	}

	candidates, err := n.discovery.FindParents(ctx)
	if err != nil {
		return oops.In("node").Wrapf(err, "find parent routers")
	}
	if len(candidates) == 0 {
		return oops.In("node").Errorf("no parent router candidates")
	}

	var jwtAuth *auth.JWTAuth
	if n.cfg.Routing.SecretKey != "" {
		jwtAuth = auth.NewJWTAuth(n.cfg.Routing.SecretKey)
	}

	var errs error
	for _, c := range candidates {
		client, err := routingservice.Dial(c.Endpoint, routingservice.ClientOptions{
			ParticipantID: n.cfg.NodeID,
			Auth:          jwtAuth,
			Subject:       n.cfg.NodeID,
			DialOptions:   n.dialOpts,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if err := n.router.SetRoutingProxy(ctx, client); err != nil {
			_ = client.Close()
			if routing.KindOf(err) == routing.KindAlreadyShutDown {
				return err
			}
			errs = multierr.Append(errs, oops.In("node").With("endpoint", c.Endpoint).Wrapf(err, "attach"))
			continue
		}

		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			return multierr.Append(client.Close(), ErrClosed)
		}
		old := n.proxy
		n.proxy = client
		n.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}

		n.logger.Info("attached to parent routing service", zap.String("endpoint", c.Endpoint))
		return nil
	}
	return errs
}

// Close stops every component. It is idempotent.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	if n.cancel != nil {
		n.cancel()
	}

	n.router.Shutdown()
	err := n.stopListeners()
	err = multierr.Append(err, n.wsClient.Close())
	proxy := n.proxy
	n.proxy = nil
	n.mu.Unlock()

	n.wg.Wait()

	if proxy != nil {
		err = multierr.Append(err, proxy.Close())
	}
	err = multierr.Append(err, n.store.Close())

	n.logger.Info("node closed")
	return err
}

// RegisterParticipant makes dispatch reachable in this process as participantID and
// adds its route. A child router also registers the participant at its parent under
// the node's incoming address.
func (n *Node) RegisterParticipant(ctx context.Context, participantID string, dispatch transport.Dispatcher, isGloballyVisible bool) *routing.Completion {
	n.inprocess.Register(participantID, dispatch)
	return n.router.AddNextHop(ctx, participantID, address.InProcessAddress{Name: participantID}, isGloballyVisible)
}

// UnregisterParticipant removes the route and the in-process dispatcher of participantID
func (n *Node) UnregisterParticipant(ctx context.Context, participantID string) *routing.Completion {
	n.inprocess.Unregister(participantID)
	return n.router.RemoveNextHop(ctx, participantID)
}

// Health summarises the node for the admin API
func (n *Node) Health(ctx context.Context) httpapi.HealthResponse {
	state := n.router.State()
	resp := httpapi.HealthResponse{
		NodeID:            n.cfg.NodeID,
		Healthy:           state != routing.ShutDown,
		State:             state.String(),
		Routes:            len(n.router.Routes()),
		PendingOperations: n.router.PendingOperations(),
		QueuedMessages:    n.queue.Len(),
		WebSocketClients:  len(n.wsServer.Clients()),
		MulticastPatterns: len(n.router.MulticastPatterns()),
	}
	if parent := n.router.ParentAddress(); parent != nil {
		resp.Parent = parent.String()
	}
	switch state {
	case routing.Unattached:
		resp.Message = "waiting for parent router"
	case routing.ShutDown:
		resp.Message = "message router is shut down"
	}
	return resp
}

// NodeID returns the configured node id
func (n *Node) NodeID() string { return n.cfg.NodeID }

// Router returns the message router
func (n *Node) Router() *router.Router { return n.router }

// InProcess returns the registry of in-process participants
func (n *Node) InProcess() *transport.InProcessRegistry { return n.inprocess }

// Metrics returns the collectors, or nil when metrics are disabled
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// GRPCAddr returns the routing service address, or nil if it is not running
func (n *Node) GRPCAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.grpcServer == nil {
		return nil
	}
	return n.grpcServer.Addr()
}

// WebSocketAddr returns the websocket server address, or nil if it is not running
func (n *Node) WebSocketAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.wsListener == nil {
		return nil
	}
	return n.wsListener.Addr()
}

// AdminAddr returns the admin API address, or nil if it is not running
func (n *Node) AdminAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.admin == nil {
		return nil
	}
	return n.admin.Addr()
}

// adminBackend exposes the router plus node health to the admin API
type adminBackend struct {
	*router.Router
	node *Node
}

var _ httpapi.Backend = adminBackend{}

func (b adminBackend) Health(ctx context.Context) httpapi.HealthResponse {
	return b.node.Health(ctx)
}
