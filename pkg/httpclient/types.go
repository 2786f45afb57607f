package httpclient

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the meshrouter admin API (e.g., "http://localhost:8090")
	ServerURL string

	// Subject names this client in issued tokens; defaults to "admin"
	Subject string

	// SecretKey is the admin secret exchanged for a token by Login
	SecretKey string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Subject == "" {
		c.Subject = "admin"
	}
}

// LoginResponse represents the response from authentication
type LoginResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse represents the health of a node
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

// Route is one routing table entry
type Route struct {
	ParticipantID string `json:"participantId"`
	Kind          string `json:"kind"`
	Address       string `json:"address"`
}

// RoutesResponse lists the routing table
type RoutesResponse struct {
	Routes []Route `json:"routes"`
}

// AddRouteRequest registers a next hop
type AddRouteRequest struct {
	Address           string `json:"address"`
	IsGloballyVisible bool   `json:"isGloballyVisible"`
}

// MulticastPattern lists the receivers of one multicast id
type MulticastPattern struct {
	MulticastID string   `json:"multicastId"`
	Receivers   []string `json:"receivers"`
}

// MulticastResponse lists the multicast receivers
type MulticastResponse struct {
	Patterns []MulticastPattern `json:"patterns"`
}

// SendMessageRequest injects a message into the router
type SendMessageRequest struct {
	ID      string            `json:"id,omitempty"`
	From    string            `json:"from"`
	To      string            `json:"to"`
	Type    string            `json:"type,omitempty"`
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
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
