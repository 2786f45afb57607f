// Package addressbook holds the routing table: the in-memory mapping from participant id
// to next-hop address, with optional write-through to a persistent store.
package addressbook

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// Entry is a snapshot of one routing table row
type Entry struct {
	ParticipantID string
	Address       address.Address
}

// AddressBook maps participant ids to addresses. At most one address is held per
// participant; the last write wins. It is safe for concurrent use.
type AddressBook struct {
	mu         sync.RWMutex
	entries    map[string]address.Address
	store      routing.PersistentStore
	instanceID string
	logger     *zap.Logger
}

// New creates an address book. store may be nil, in which case nothing is persisted.
func New(instanceID string, store routing.PersistentStore, logger *zap.Logger) *AddressBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddressBook{
		entries:    make(map[string]address.Address),
		store:      store,
		instanceID: instanceID,
		logger:     logger.Named("addressbook"),
	}
}

// StorageKey returns the persistent store key for participantID
func (b *AddressBook) StorageKey(participantID string) string {
	return b.instanceID + "_" + participantID
}

// Lookup returns the in-memory address of participantID.
func (b *AddressBook) Lookup(participantID string) (address.Address, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	addr, ok := b.entries[participantID]
	return addr, ok
}

// Store sets the address of participantID, replacing any previous one. When persist is
// set, the address is also written to the persistent store unless it serializes to an
// empty object. Persistence failures are logged; the in-memory entry is kept.
func (b *AddressBook) Store(ctx context.Context, participantID string, addr address.Address, persist bool) {
	b.mu.Lock()
	b.entries[participantID] = addr
	b.mu.Unlock()

	if !persist || b.store == nil || !address.Persistable(addr) {
		return
	}

	serialized, err := address.Marshal(addr)
	if err != nil {
		b.logger.Warn("could not serialize address, not persisting",
			zap.String("participant_id", participantID),
			zap.Error(err))
		return
	}

	if err := b.store.Set(ctx, b.StorageKey(participantID), serialized); err != nil {
		b.logger.Warn("could not persist address",
			zap.String("participant_id", participantID),
			zap.Error(err))
	}
}

// Remove clears participantID from memory and from the persistent store.
func (b *AddressBook) Remove(ctx context.Context, participantID string) {
	b.mu.Lock()
	delete(b.entries, participantID)
	b.mu.Unlock()

	if b.store == nil {
		return
	}
	if err := b.store.Remove(ctx, b.StorageKey(participantID)); err != nil {
		b.logger.Warn("could not remove persisted address",
			zap.String("participant_id", participantID),
			zap.Error(err))
	}
}

// LoadFromPersistentStore reads the persisted address of participantID. A hit is promoted
// into memory without being written back. Empty, "{}" and undecodable values count as
// absent and their key is purged. Store failures are logged and count as absent.
func (b *AddressBook) LoadFromPersistentStore(ctx context.Context, participantID string) (address.Address, bool) {
	if b.store == nil {
		return nil, false
	}

	key := b.StorageKey(participantID)
	serialized, ok, err := b.store.Get(ctx, key)
	if err != nil {
		b.logger.Warn("could not read persisted address",
			zap.String("participant_id", participantID),
			zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	addr, err := address.Unmarshal(serialized)
	if err != nil {
		if !errors.Is(err, address.ErrEmptyAddress) {
			b.logger.Warn("discarding corrupt persisted address",
				zap.String("participant_id", participantID),
				zap.String("value", serialized),
				zap.Error(err))
		}
		if rmErr := b.store.Remove(ctx, key); rmErr != nil {
			b.logger.Debug("could not purge stale key", zap.String("key", key), zap.Error(rmErr))
		}
		return nil, false
	}

	b.mu.Lock()
	b.entries[participantID] = addr
	b.mu.Unlock()

	return addr, true
}

// Entries returns a snapshot of the table sorted by participant id
func (b *AddressBook) Entries() []Entry {
	b.mu.RLock()
	result := make([]Entry, 0, len(b.entries))
	for id, addr := range b.entries {
		result = append(result, Entry{ParticipantID: id, Address: addr})
	}
	b.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ParticipantID < result[j].ParticipantID
	})
	return result
}

// Len returns the number of in-memory entries
func (b *AddressBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
