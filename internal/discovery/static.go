package discovery

import (
	"context"
	"strings"
	"sync"
)

// StaticDiscovery serves a fixed list of parent endpoints. Each call starts one
// position further into the list so repeated attach attempts spread over candidates.
type StaticDiscovery struct {
	endpoints []string

	mu   sync.Mutex
	next int
}

// NewStaticDiscovery creates a discovery over endpoints. Blank entries are skipped.
func NewStaticDiscovery(endpoints []string) *StaticDiscovery {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return &StaticDiscovery{endpoints: cleaned}
}

// FindParents returns every endpoint, rotated by one on each call
func (s *StaticDiscovery) FindParents(ctx context.Context) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	start := s.next
	if len(s.endpoints) > 0 {
		s.next = (s.next + 1) % len(s.endpoints)
	}
	s.mu.Unlock()

	candidates := make([]Candidate, len(s.endpoints))
	for i := range s.endpoints {
		candidates[i] = Candidate{Endpoint: s.endpoints[(start+i)%len(s.endpoints)]}
	}
	return candidates, nil
}
