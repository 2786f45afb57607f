package routingservice

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/meshrouter/internal/auth"
)

const authorizationHeader = "authorization"

// AuthInterceptor rejects calls that do not carry a router token signed by a.
func AuthInterceptor(a *auth.JWTAuth) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get(authorizationHeader)
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "authorization metadata required")
		}
		if _, err := a.Authorize(values[0], auth.RoleRouter); err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "%v", err)
		}
		return handler(ctx, req)
	}
}

// tokenCredentials attaches a router token to every call and renews it before expiry.
type tokenCredentials struct {
	auth    *auth.JWTAuth
	subject string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenCredentials(a *auth.JWTAuth, subject string) *tokenCredentials {
	return &tokenCredentials{auth: a, subject: subject}
}

func (c *tokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || time.Until(c.expiresAt) < time.Minute {
		token, expiresAt, err := c.auth.GenerateToken(c.subject, auth.RoleRouter)
		if err != nil {
			return nil, err
		}
		c.token, c.expiresAt = token, expiresAt
	}
	return map[string]string{authorizationHeader: "Bearer " + c.token}, nil
}

// Tokens are sent over plaintext connections inside the mesh
func (c *tokenCredentials) RequireTransportSecurity() bool {
	return false
}

var _ credentials.PerRPCCredentials = (*tokenCredentials)(nil)
