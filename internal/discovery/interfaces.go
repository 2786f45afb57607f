// Package discovery finds the parent routers a child router may attach to.
package discovery

import (
	"context"
)

// Candidate is a parent routing service endpoint
type Candidate struct {
	// Endpoint is the gRPC target, e.g. hub-a:7443
	Endpoint string
}

// Discovery lists parent candidates in the order they should be tried
type Discovery interface {
	FindParents(ctx context.Context) ([]Candidate, error)
}
