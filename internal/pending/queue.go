// Package pending holds parent-forwarding operations issued before the parent router
// link exists, and replays them in submission order once it does.
package pending

import (
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

var (
	// ErrClosed is returned when enqueueing into a queue that was rejected
	ErrClosed = errors.New("pending operation queue is closed")
	// ErrDrained is returned when enqueueing into a queue that has already been replayed
	ErrDrained = errors.New("pending operation queue is drained")
)

// Kind is the parent operation an Operation forwards
type Kind int

const (
	KindAddNextHop Kind = iota
	KindRemoveNextHop
	KindAddMulticastReceiver
	KindRemoveMulticastReceiver
)

func (k Kind) String() string {
	switch k {
	case KindAddNextHop:
		return "addNextHop"
	case KindRemoveNextHop:
		return "removeNextHop"
	case KindAddMulticastReceiver:
		return "addMulticastReceiver"
	case KindRemoveMulticastReceiver:
		return "removeMulticastReceiver"
	default:
		return "unknown"
	}
}

// Operation is a recorded intent to call the parent router. Its Completion settles
// exactly once.
type Operation struct {
	Kind Kind

	// ParticipantID, Address and IsGloballyVisible are set for hop operations
	ParticipantID     string
	Address           address.Address
	IsGloballyVisible bool

	// Receiver is set for multicast receiver operations
	Receiver routing.MulticastReceiver

	Completion *routing.Completion
}

// State tells a queue that has never been replayed apart from one that has
type State int

const (
	// Collecting accepts operations while no parent link exists
	Collecting State = iota
	// Draining is replaying; new operations are still appended and replayed
	Draining
	// Drained has been fully replayed; callers forward directly from now on
	Drained
	// Closed rejected every remaining operation
	Closed
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Draining:
		return "Draining"
	case Drained:
		return "Drained"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Queue is a single FIFO across all operation kinds. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	state State
	ops   []*Operation
}

// NewQueue creates a collecting queue
func NewQueue() *Queue {
	return &Queue{state: Collecting}
}

// Enqueue appends op and gives it a completion if it has none.
func (q *Queue) Enqueue(op *Operation) (*routing.Completion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case Closed:
		return nil, ErrClosed
	case Drained:
		return nil, ErrDrained
	}

	if op.Completion == nil {
		op.Completion = routing.NewCompletion()
	}
	q.ops = append(q.ops, op)
	return op.Completion, nil
}

// BeginDrain switches a collecting queue to Draining. It reports false if the queue is
// closed or already drained.
func (q *Queue) BeginDrain() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case Collecting, Draining:
		q.state = Draining
		return true
	default:
		return false
	}
}

// Pop removes the oldest operation.
func (q *Queue) Pop() (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}
	op := q.ops[0]
	q.ops[0] = nil
	q.ops = q.ops[1:]
	return op, true
}

// MarkDrained records that replay finished. Operations enqueued afterwards are refused
// with ErrDrained. It reports false if operations are still waiting.
func (q *Queue) MarkDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) > 0 || q.state == Closed {
		return false
	}
	q.state = Drained
	return true
}

// Reject closes the queue and rejects every waiting operation with err.
// It returns the number of rejected operations.
func (q *Queue) Reject(err error) int {
	q.mu.Lock()
	ops := q.ops
	q.ops = nil
	q.state = Closed
	q.mu.Unlock()

	for _, op := range ops {
		op.Completion.Reject(err)
	}
	return len(ops)
}

// State returns the queue state
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of waiting operations
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
