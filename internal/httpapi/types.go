package httpapi

import "time"

// Request/Response types for the admin API

// LoginRequest exchanges the admin secret for a token
type LoginRequest struct {
	Secret  string `json:"secret"`
	Subject string `json:"subject,omitempty"`
}

// LoginResponse carries an admin token
type LoginResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse describes the node and its router
type HealthResponse struct {
	NodeID            string `json:"nodeId"`
	Healthy           bool   `json:"healthy"`
	State             string `json:"state"`
	Parent            string `json:"parent,omitempty"`
	Routes            int    `json:"routes"`
	PendingOperations int    `json:"pendingOperations"`
	QueuedMessages    int    `json:"queuedMessages"`
	WebSocketClients  int    `json:"websocketClients"`
	MulticastPatterns int    `json:"multicastPatterns"`
	Message           string `json:"message,omitempty"`
}

// RouteResponse is one routing table entry
type RouteResponse struct {
	ParticipantID string `json:"participantId"`
	Kind          string `json:"kind"`
	// Address is the human readable form, e.g. wsclient:leaf-1
	Address string `json:"address"`
}

// RoutesListResponse lists the routing table
type RoutesListResponse struct {
	Routes []RouteResponse `json:"routes"`
}

// AddRouteRequest binds a participant to an address. Address accepts the forms
// understood by address.Parse.
type AddRouteRequest struct {
	Address           string `json:"address"`
	IsGloballyVisible bool   `json:"isGloballyVisible"`
}

// MulticastPatternResponse is one multicast id and its receivers
type MulticastPatternResponse struct {
	MulticastID string   `json:"multicastId"`
	Receivers   []string `json:"receivers"`
}

// MulticastListResponse lists multicast receivers
type MulticastListResponse struct {
	Patterns []MulticastPatternResponse `json:"patterns"`
}

// SendMessageRequest injects a message into the router
type SendMessageRequest struct {
	ID      string            `json:"id,omitempty"`
	From    string            `json:"from"`
	To      string            `json:"to"`
	Type    string            `json:"type"`
	TTLMS   int64             `json:"ttlMs,omitempty"`
	ReplyTo string            `json:"replyTo,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SendMessageResponse reports what the router did with an injected message
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Outcome   string `json:"outcome"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
