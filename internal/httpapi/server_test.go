package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshrouter/internal/metrics"
	"github.com/rmacdonaldsmith/meshrouter/internal/msgqueue"
	"github.com/rmacdonaldsmith/meshrouter/internal/router"
	"github.com/rmacdonaldsmith/meshrouter/internal/transport"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

const testSecret = "admin-secret"

type testBackend struct {
	*router.Router
}

func (b testBackend) Health(context.Context) HealthResponse {
	state := b.State()
	return HealthResponse{
		NodeID:  "test-node",
		Healthy: state != routing.ShutDown,
		State:   state.String(),
		Routes:  len(b.Routes()),
	}
}

type testSetup struct {
	server    *httptest.Server
	router    *router.Router
	inprocess *transport.InProcessRegistry
	delivered chan *message.Message
}

func newTestSetup(t *testing.T, noAuth bool) *testSetup {
	t.Helper()
	inprocess := transport.NewInProcessRegistry()
	m := metrics.New()
	r, err := router.New(router.Options{
		InstanceID:     "test-node",
		ReplyToAddress: address.MustMarshal(address.InProcessAddress{Name: "replies"}),
		Queue:          msgqueue.New(msgqueue.Config{}),
		Transports:     &transport.Factory{InProcess: inprocess},
		Metrics:        m,
	})
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)

	setup := &testSetup{router: r, inprocess: inprocess, delivered: make(chan *message.Message, 4)}
	inprocess.Register("app", func(_ context.Context, msg *message.Message) error {
		setup.delivered <- msg
		return nil
	})

	srv := NewServer(testBackend{r}, Config{SecretKey: testSecret, NoAuth: noAuth, Metrics: m.Handler()})
	setup.server = httptest.NewServer(srv.Handler())
	t.Cleanup(setup.server.Close)
	return setup
}

func (s *testSetup) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testSetup) login(t *testing.T) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Secret: testSecret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "admin", login.Subject)
	return login.Token
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestLogin(t *testing.T) {
	s := newTestSetup(t, false)

	resp := s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Secret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	s.login(t)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s := newTestSetup(t, false)

	resp := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "test-node", health.NodeID)
	assert.Equal(t, "Detached", health.State)

	s.router.Shutdown()
	resp = s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestSetup(t, false)

	resp := s.do(t, http.MethodGet, "/api/v1/routes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/routes", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoutes_CRUD(t *testing.T) {
	s := newTestSetup(t, false)
	token := s.login(t)

	resp := s.do(t, http.MethodPut, "/api/v1/routes/p1", token, AddRouteRequest{Address: "inprocess:app"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	route := decode[RouteResponse](t, resp)
	assert.Equal(t, "InProcessAddress", route.Kind)
	assert.Equal(t, "inprocess:app", route.Address)

	resp = s.do(t, http.MethodPut, "/api/v1/routes/p2", token, AddRouteRequest{Address: "wsclient:leaf-1", IsGloballyVisible: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/routes", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[RoutesListResponse](t, resp)
	require.Len(t, list.Routes, 2)
	assert.Equal(t, "p1", list.Routes[0].ParticipantID)
	assert.Equal(t, "p2", list.Routes[1].ParticipantID)

	resp = s.do(t, http.MethodGet, "/api/v1/routes/p2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "wsclient:leaf-1", decode[RouteResponse](t, resp).Address)

	resp = s.do(t, http.MethodDelete, "/api/v1/routes/p2", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/routes/p2", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/v1/routes/p3", token, AddRouteRequest{Address: "carrier:pigeon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	s := newTestSetup(t, true)
	ctx := context.Background()
	require.NoError(t, s.router.AddNextHop(ctx, "p1", address.InProcessAddress{Name: "app"}, false).Wait(ctx))

	resp := s.do(t, http.MethodPost, "/api/v1/messages", "", SendMessageRequest{
		ID:      "m1",
		From:    "cli",
		To:      "p1",
		Type:    "request",
		Payload: []byte("ping"),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sent := decode[SendMessageResponse](t, resp)
	assert.Equal(t, "m1", sent.MessageID)
	assert.Equal(t, "delivered", sent.Outcome)

	msg := <-s.delivered
	assert.Equal(t, []byte("ping"), msg.Payload())

	resp = s.do(t, http.MethodPost, "/api/v1/messages", "", SendMessageRequest{To: "nobody"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", decode[SendMessageResponse](t, resp).Outcome)

	resp = s.do(t, http.MethodPost, "/api/v1/messages", "", SendMessageRequest{To: "p1", Type: "telegram"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMulticastAndMetrics(t *testing.T) {
	s := newTestSetup(t, true)
	ctx := context.Background()
	require.NoError(t, s.router.AddNextHop(ctx, "provider", address.InProcessAddress{Name: "app"}, false).Wait(ctx))
	require.NoError(t, s.router.AddMulticastReceiver(ctx, routing.MulticastReceiver{
		MulticastID:             "provider/weather",
		SubscriberParticipantID: "sub-b",
		ProviderParticipantID:   "provider",
	}).Wait(ctx))
	require.NoError(t, s.router.AddMulticastReceiver(ctx, routing.MulticastReceiver{
		MulticastID:             "provider/weather",
		SubscriberParticipantID: "sub-a",
		ProviderParticipantID:   "provider",
	}).Wait(ctx))

	resp := s.do(t, http.MethodGet, "/api/v1/multicast", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[MulticastListResponse](t, resp)
	require.Len(t, list.Patterns, 1)
	assert.Equal(t, []string{"sub-a", "sub-b"}, list.Patterns[0].Receivers)

	resp = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "meshrouter_routing_entries")
}
