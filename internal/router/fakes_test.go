package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rmacdonaldsmith/meshrouter/internal/msgqueue"
	"github.com/rmacdonaldsmith/meshrouter/internal/store"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

var errTransmit = errors.New("transmit failed")

type transmission struct {
	addr address.Address
	msg  *message.Message
}

// fakeTransports records every transmission in order
type fakeTransports struct {
	mu      sync.Mutex
	sent    []transmission
	absent  map[address.Address]bool
	failing map[address.Address]bool
}

func newFakeTransports() *fakeTransports {
	return &fakeTransports{
		absent:  make(map[address.Address]bool),
		failing: make(map[address.Address]bool),
	}
}

type fakeTransport struct {
	factory *fakeTransports
	addr    address.Address
}

func (t fakeTransport) Transmit(_ context.Context, msg *message.Message) error {
	t.factory.mu.Lock()
	defer t.factory.mu.Unlock()
	if t.factory.failing[t.addr] {
		return errTransmit
	}
	t.factory.sent = append(t.factory.sent, transmission{addr: t.addr, msg: msg})
	return nil
}

func (f *fakeTransports) Create(addr address.Address) (routing.Transport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.absent[addr] {
		return nil, false
	}
	return fakeTransport{factory: f, addr: addr}, true
}

func (f *fakeTransports) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]string, len(f.sent))
	for i, s := range f.sent {
		result[i] = s.msg.ID()
	}
	return result
}

func (f *fakeTransports) sentTo(addr address.Address) []*message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*message.Message
	for _, s := range f.sent {
		if address.Equal(s.addr, addr) {
			result = append(result, s.msg)
		}
	}
	return result
}

func (f *fakeTransports) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// proxyCall is one recorded parent router call
type proxyCall struct {
	method        string
	participantID string
	addr          address.Address
	visible       bool
	receiver      routing.MulticastReceiver
}

// fakeProxy is a scriptable parent router
type fakeProxy struct {
	mu             sync.Mutex
	participantID  string
	calls          []proxyCall
	replyTo        string
	replyToErr     error
	addErr         error
	resolvable     map[string]bool
	resolveErr     error
	blockAdd       chan struct{}
	addStarted     chan struct{}
	onReplyToFetch func()
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		replyTo:    address.MustMarshal(address.WebSocketAddress{Protocol: "ws", Host: "parent", Port: 4242}),
		resolvable: make(map[string]bool),
	}
}

func (p *fakeProxy) record(c proxyCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *fakeProxy) ProxyParticipantID() string { return p.participantID }

func (p *fakeProxy) AddNextHop(ctx context.Context, participantID string, addr address.Address, visible bool) error {
	if p.blockAdd != nil {
		if p.addStarted != nil {
			p.addStarted <- struct{}{}
		}
		select {
		case <-p.blockAdd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.record(proxyCall{method: "addNextHop", participantID: participantID, addr: addr, visible: visible})
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addErr
}

func (p *fakeProxy) RemoveNextHop(_ context.Context, participantID string) error {
	p.record(proxyCall{method: "removeNextHop", participantID: participantID})
	return nil
}

func (p *fakeProxy) ResolveNextHop(_ context.Context, participantID string) (bool, error) {
	p.record(proxyCall{method: "resolveNextHop", participantID: participantID})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolveErr != nil {
		return false, p.resolveErr
	}
	return p.resolvable[participantID], nil
}

func (p *fakeProxy) AddMulticastReceiver(_ context.Context, receiver routing.MulticastReceiver) error {
	p.record(proxyCall{method: "addMulticastReceiver", receiver: receiver})
	return nil
}

func (p *fakeProxy) RemoveMulticastReceiver(_ context.Context, receiver routing.MulticastReceiver) error {
	p.record(proxyCall{method: "removeMulticastReceiver", receiver: receiver})
	return nil
}

func (p *fakeProxy) ReplyToAddress(context.Context) (string, error) {
	if p.onReplyToFetch != nil {
		p.onReplyToFetch()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replyTo, p.replyToErr
}

func (p *fakeProxy) recorded() []proxyCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]proxyCall, len(p.calls))
	copy(result, p.calls)
	return result
}

func (p *fakeProxy) methods() []string {
	var result []string
	for _, c := range p.recorded() {
		result = append(result, c.method+":"+c.participantID+c.receiver.MulticastID)
	}
	return result
}

type fakeCalculator struct {
	addr address.Address
}

func (c fakeCalculator) Calculate(*message.Message) (address.Address, bool) {
	if c.addr == nil {
		return nil, false
	}
	return c.addr, true
}

var (
	parentAddr   = address.WebSocketAddress{Protocol: "ws", Host: "parent", Port: 4242, Path: "/"}
	incomingAddr = address.WebSocketClientAddress{ID: "leaf-1"}
	addrA        = address.WebSocketClientAddress{ID: "A"}
	addrB        = address.WebSocketClientAddress{ID: "B"}
)

type harness struct {
	router     *Router
	transports *fakeTransports
	queue      *msgqueue.InMemoryQueue
	store      *store.MemoryStore
	clock      *clock.Mock
}

type harnessOption func(*Options)

func withParent() harnessOption {
	return func(o *Options) {
		o.ParentAddress = parentAddr
		o.IncomingAddress = incomingAddr
	}
}

func withReplyTo(replyTo string) harnessOption {
	return func(o *Options) { o.ReplyToAddress = replyTo }
}

func withStore(s *store.MemoryStore) harnessOption {
	return func(o *Options) { o.Store = s }
}

func withCalculator(addr address.Address) harnessOption {
	return func(o *Options) { o.Calculator = fakeCalculator{addr: addr} }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	h := &harness{
		transports: newFakeTransports(),
		queue:      msgqueue.New(msgqueue.Config{Clock: clk}),
		store:      store.NewMemoryStore(),
		clock:      clk,
	}

	o := Options{
		InstanceID:        "node",
		ReplyToAddress:    "reply-to-self",
		Store:             h.store,
		Queue:             h.queue,
		Transports:        h.transports,
		Clock:             clk,
		ParentCallTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Store != nil {
		if s, ok := o.Store.(*store.MemoryStore); ok {
			h.store = s
		}
	}

	r, err := New(o)
	if err != nil {
		t.Fatalf("Failed to create router: %v", err)
	}
	t.Cleanup(r.Shutdown)
	h.router = r
	return h
}

func (h *harness) msg(id, to string, typ message.Type) *message.Message {
	return message.New(message.Params{
		ID:     id,
		From:   "sender",
		To:     to,
		Type:   typ,
		Expiry: h.clock.Now().Add(time.Minute),
	})
}

func waitCompletion(t *testing.T, c *routing.Completion) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("completion did not settle")
	}
	return err
}

// blockingStore holds every Set until release is closed
type blockingStore struct {
	routing.PersistentStore
	setStarted chan struct{}
	release    chan struct{}
}

func newBlockingStore(backing routing.PersistentStore) *blockingStore {
	return &blockingStore{
		PersistentStore: backing,
		setStarted:      make(chan struct{}, 4),
		release:         make(chan struct{}),
	}
}

func (s *blockingStore) Set(ctx context.Context, key, value string) error {
	s.setStarted <- struct{}{}
	<-s.release
	return s.PersistentStore.Set(ctx, key, value)
}
