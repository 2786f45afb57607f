package msgqueue

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
)

func newMessage(clk clock.Clock, id, to string, ttl time.Duration) *message.Message {
	return message.New(message.Params{
		ID:     id,
		To:     to,
		Type:   message.TypeRequest,
		Expiry: clk.Now().Add(ttl),
	})
}

func ids(msgs []*message.Message) []string {
	result := make([]string, len(msgs))
	for i, m := range msgs {
		result[i] = m.ID()
	}
	return result
}

func TestInMemoryQueue_DrainPreservesOrder(t *testing.T) {
	clk := clock.NewMock()
	q := New(Config{Clock: clk})

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := q.Enqueue(newMessage(clk, id, "p1", time.Minute)); err != nil {
			t.Fatalf("Expected enqueue to succeed, got: %v", err)
		}
	}
	q.Enqueue(newMessage(clk, "other", "p2", time.Minute))

	if q.Len() != 4 {
		t.Fatalf("Expected 4 messages, got %d", q.Len())
	}

	got := ids(q.DrainFor("p1"))
	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if len(q.DrainFor("p1")) != 0 {
		t.Error("Expected second drain to be empty")
	}
	if q.Len() != 1 {
		t.Errorf("Expected 1 message left, got %d", q.Len())
	}
}

func TestInMemoryQueue_DrainSkipsExpired(t *testing.T) {
	clk := clock.NewMock()
	q := New(Config{Clock: clk})

	q.Enqueue(newMessage(clk, "short", "p1", time.Second))
	q.Enqueue(newMessage(clk, "long", "p1", time.Hour))

	clk.Add(time.Minute)

	got := ids(q.DrainFor("p1"))
	if len(got) != 1 || got[0] != "long" {
		t.Errorf("Expected only the unexpired message, got %v", got)
	}
}

func TestInMemoryQueue_EvictsOldestOverCap(t *testing.T) {
	clk := clock.NewMock()
	q := New(Config{Clock: clk, MaxPerParticipant: 2})

	q.Enqueue(newMessage(clk, "m1", "p1", time.Minute))
	q.Enqueue(newMessage(clk, "m2", "p1", time.Minute))
	q.Enqueue(newMessage(clk, "m3", "p1", time.Minute))

	if q.Len() != 2 {
		t.Fatalf("Expected 2 messages, got %d", q.Len())
	}
	got := ids(q.DrainFor("p1"))
	if got[0] != "m2" || got[1] != "m3" {
		t.Errorf("Expected [m2 m3], got %v", got)
	}
}

func TestInMemoryQueue_PurgeExpired(t *testing.T) {
	clk := clock.NewMock()
	q := New(Config{Clock: clk})

	q.Enqueue(newMessage(clk, "a", "p1", time.Second))
	q.Enqueue(newMessage(clk, "b", "p2", time.Second))
	q.Enqueue(newMessage(clk, "c", "p2", time.Hour))

	clk.Add(time.Minute)

	if n := q.PurgeExpired(); n != 2 {
		t.Errorf("Expected 2 purged, got %d", n)
	}
	if q.Len() != 1 {
		t.Errorf("Expected 1 message left, got %d", q.Len())
	}
	if parts := q.Participants(); len(parts) != 1 || parts[0] != "p2" {
		t.Errorf("Expected only p2 to remain, got %v", parts)
	}
}

func TestInMemoryQueue_RunPurger(t *testing.T) {
	clk := clock.NewMock()
	q := New(Config{Clock: clk})
	q.Enqueue(newMessage(clk, "a", "p1", time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.RunPurger(ctx, 10*time.Second)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for q.Len() != 0 && time.Now().Before(deadline) {
		clk.Add(10 * time.Second)
		time.Sleep(time.Millisecond)
	}
	if q.Len() != 0 {
		t.Error("Expected purger to drop the expired message")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Purger did not stop after cancellation")
	}
}

func TestInMemoryQueue_Shutdown(t *testing.T) {
	clk := clock.NewMock()
	q := New(Config{Clock: clk})
	q.Enqueue(newMessage(clk, "a", "p1", time.Minute))

	q.Shutdown()
	q.Shutdown()

	if q.Len() != 0 {
		t.Errorf("Expected empty queue after shutdown, got %d", q.Len())
	}
	if err := q.Enqueue(newMessage(clk, "b", "p1", time.Minute)); err != ErrShutDown {
		t.Errorf("Expected ErrShutDown, got: %v", err)
	}
	if err := q.Enqueue(nil); err != ErrNilMessage {
		t.Errorf("Expected ErrNilMessage, got: %v", err)
	}
}
