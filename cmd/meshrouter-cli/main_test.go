package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshrouter/pkg/httpclient"
)

type fakeAdmin struct {
	t        *testing.T
	routes   map[string]httpclient.Route
	lastSend httpclient.SendMessageRequest
}

func newFakeAdmin(t *testing.T) *httptest.Server {
	f := &fakeAdmin{t: t, routes: map[string]httpclient.Route{
		"p1": {ParticipantID: "p1", Kind: "InProcessAddress", Address: "inprocess:p1"},
	}}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return server
}

func (f *fakeAdmin) reply(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAdmin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/auth/login":
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["secret"] != "s3cret" {
			f.reply(w, http.StatusUnauthorized, httpclient.ErrorResponse{Error: "Unauthorized", Message: "Invalid credentials", Code: 401})
			return
		}
		f.reply(w, http.StatusOK, httpclient.LoginResponse{Token: "tok-1", Subject: req["subject"], ExpiresAt: time.Now().Add(time.Hour)})
		return
	case "/api/v1/health":
		f.reply(w, http.StatusOK, httpclient.HealthResponse{NodeID: "hub", Healthy: true, State: "Detached", Routes: len(f.routes)})
		return
	}

	if r.Header.Get("Authorization") != "Bearer tok-1" {
		f.reply(w, http.StatusUnauthorized, httpclient.ErrorResponse{Error: "Unauthorized", Message: "Authorization required", Code: 401})
		return
	}

	switch {
	case r.URL.Path == "/api/v1/routes":
		resp := httpclient.RoutesResponse{}
		for _, route := range f.routes {
			resp.Routes = append(resp.Routes, route)
		}
		f.reply(w, http.StatusOK, resp)
	case r.URL.Path == "/api/v1/routes/p2" && r.Method == http.MethodPut:
		var req httpclient.AddRouteRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		route := httpclient.Route{ParticipantID: "p2", Kind: "WebSocketClientAddress", Address: req.Address}
		f.routes["p2"] = route
		f.reply(w, http.StatusOK, route)
	case r.URL.Path == "/api/v1/routes/p1" && r.Method == http.MethodGet:
		f.reply(w, http.StatusOK, f.routes["p1"])
	case r.URL.Path == "/api/v1/routes/p1" && r.Method == http.MethodDelete:
		delete(f.routes, "p1")
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/api/v1/multicast":
		f.reply(w, http.StatusOK, httpclient.MulticastResponse{Patterns: []httpclient.MulticastPattern{{MulticastID: "p1/news", Receivers: []string{"a", "b"}}}})
	case r.URL.Path == "/api/v1/messages":
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastSend))
		f.reply(w, http.StatusAccepted, httpclient.SendMessageResponse{MessageID: "m-1", Outcome: "delivered"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHealthCommand(t *testing.T) {
	server := newFakeAdmin(t)

	out, err := run(t, "--server", server.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Node hub is healthy")
	assert.Contains(t, out, "State: Detached")
}

func TestLoginCommand(t *testing.T) {
	server := newFakeAdmin(t)

	out, err := run(t, "--server", server.URL, "--secret", "s3cret", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Token: tok-1")

	_, err = run(t, "--server", server.URL, "--secret", "wrong", "login")
	assert.ErrorContains(t, err, "Invalid credentials")

	_, err = run(t, "--server", server.URL, "--secret", "", "login")
	assert.ErrorContains(t, err, "--secret is required")
}

func TestRoutesCommands(t *testing.T) {
	server := newFakeAdmin(t)
	base := []string{"--server", server.URL, "--secret", "s3cret"}

	out, err := run(t, append(base, "routes", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "PARTICIPANT")
	assert.Contains(t, out, "inprocess:p1")

	out, err = run(t, append(base, "routes", "get", "p1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "p1 -> inprocess:p1 (InProcessAddress)")

	out, err = run(t, append(base, "routes", "add", "p2", "wsclient:leaf-1", "--global")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Added p2 -> wsclient:leaf-1")

	out, err = run(t, "--server", server.URL, "--token", "tok-1", "routes", "rm", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed p1")
}

func TestRoutesCommand_RequiresCredentials(t *testing.T) {
	server := newFakeAdmin(t)

	_, err := run(t, "--server", server.URL, "--secret", "", "routes", "list")
	assert.ErrorContains(t, err, "not authenticated")
}

func TestMulticastAndSendCommands(t *testing.T) {
	server := newFakeAdmin(t)
	base := []string{"--server", server.URL, "--token", "tok-1"}

	out, err := run(t, append(base, "multicast", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "p1/news: a, b")

	out, err = run(t, append(base, "send", "p1", "hello", "--type", "request", "--header", "k=v")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Message m-1: delivered")
}
