package discovery

import (
	"context"
	"testing"
)

func endpoints(candidates []Candidate) []string {
	result := make([]string, len(candidates))
	for i, c := range candidates {
		result[i] = c.Endpoint
	}
	return result
}

func TestStaticDiscovery_FindParents(t *testing.T) {
	d := NewStaticDiscovery([]string{"hub-a:7443", " ", "hub-b:7443"})
	ctx := context.Background()

	first, err := d.FindParents(ctx)
	if err != nil {
		t.Fatalf("Expected no error from FindParents, got %v", err)
	}
	if got := endpoints(first); len(got) != 2 || got[0] != "hub-a:7443" || got[1] != "hub-b:7443" {
		t.Errorf("Expected [hub-a:7443 hub-b:7443], got %v", got)
	}

	second, _ := d.FindParents(ctx)
	if got := endpoints(second); got[0] != "hub-b:7443" || got[1] != "hub-a:7443" {
		t.Errorf("Expected rotation to start at hub-b:7443, got %v", got)
	}

	third, _ := d.FindParents(ctx)
	if got := endpoints(third); got[0] != "hub-a:7443" {
		t.Errorf("Expected rotation to wrap around, got %v", got)
	}
}

func TestStaticDiscovery_Empty(t *testing.T) {
	d := NewStaticDiscovery(nil)

	candidates, err := d.FindParents(context.Background())
	if err != nil {
		t.Errorf("Expected no error with no endpoints, got %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Expected 0 candidates, got %d", len(candidates))
	}
}

func TestStaticDiscovery_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewStaticDiscovery([]string{"hub:1"}).FindParents(ctx); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestStaticDiscovery_InterfaceCompliance(t *testing.T) {
	var _ Discovery = (*StaticDiscovery)(nil)
}
