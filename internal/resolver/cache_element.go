package resolver

import (
	"sort"
	"strings"
	"sync"

	"playerident/db"
	"playerident/models"

	"github.com/google/uuid"
)

// CacheElement is the authoritative in-memory record of one identity.
//
// Changes append statements to pending under mu. At most one goroutine at a
// time hands them to storage, outside mu, so a stalled write queue never
// holds up readers of the element.
type CacheElement struct {
	mu                 sync.Mutex
	name               string
	addresses          map[string]struct{}
	nameUpdatedAt      int64
	addressesUpdatedAt int64

	pending  []db.Statement
	flushing bool
	idle     *sync.Cond // signaled when flushing drops back to false
}

func newCacheElement(name string, addresses []string, nameAt, addressesAt int64) *CacheElement {
	e := &CacheElement{
		name:               name,
		addresses:          make(map[string]struct{}, len(addresses)),
		nameUpdatedAt:      nameAt,
		addressesUpdatedAt: addressesAt,
	}
	e.idle = sync.NewCond(&e.mu)
	for _, a := range addresses {
		if a != "" {
			e.addresses[a] = struct{}{}
		}
	}
	return e
}

func (e *CacheElement) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// Addresses returns the observed addresses in sorted order
func (e *CacheElement) Addresses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedAddresses()
}

func (e *CacheElement) HasAddress(address string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.addresses[address]
	return ok
}

func (e *CacheElement) nameMatches(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.EqualFold(e.name, name)
}

// Timestamps returns when the name and the address list last changed
func (e *CacheElement) Timestamps() (nameAt, addressesAt int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nameUpdatedAt, e.addressesUpdatedAt
}

func (e *CacheElement) sortedAddresses() []string {
	out := make([]string, 0, len(e.addresses))
	for a := range e.addresses {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (e *CacheElement) ipList() string {
	return models.EncodeIPList(e.sortedAddresses())
}

// insertStatement persists the whole element. e.mu must be held unless the
// element is not yet shared.
func (e *CacheElement) insertStatement(id uuid.UUID) db.Statement {
	return db.InsertIdentity(id, e.name, e.ipList(), e.nameUpdatedAt, e.addressesUpdatedAt)
}

// apply merges an observation into the element. An empty name or address
// means the caller did not observe one. When something changed, exactly one
// statement covering the changed fields is queued on the element; call flush
// to hand it to storage.
func (e *CacheElement) apply(id uuid.UUID, name, address string, now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	nameChanged := name != "" && !strings.EqualFold(e.name, name)
	_, known := e.addresses[address]
	addressChanged := address != "" && !known

	if nameChanged {
		e.name = name
		e.nameUpdatedAt = now
	}
	if addressChanged {
		e.addresses[address] = struct{}{}
		e.addressesUpdatedAt = now
	}

	switch {
	case nameChanged && addressChanged:
		e.pending = append(e.pending, db.UpdateNameAndIPList(id, e.name, e.ipList(), e.nameUpdatedAt, e.addressesUpdatedAt))
	case nameChanged:
		e.pending = append(e.pending, db.UpdateName(id, e.name, e.nameUpdatedAt))
	case addressChanged:
		e.pending = append(e.pending, db.UpdateIPList(id, e.ipList(), e.addressesUpdatedAt))
	default:
		return false
	}
	return true
}

// removeAddress drops address from the element and queues the shrunken list
func (e *CacheElement) removeAddress(id uuid.UUID, address string, now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeAddressLocked(id, address, now)
}

func (e *CacheElement) removeAddressLocked(id uuid.UUID, address string, now int64) bool {
	if _, ok := e.addresses[address]; !ok {
		return false
	}
	delete(e.addresses, address)
	e.addressesUpdatedAt = now
	e.pending = append(e.pending, db.UpdateIPList(id, e.ipList(), e.addressesUpdatedAt))
	return true
}

// flush hands queued statements to persist in the order they were queued.
// When another goroutine is already flushing, it picks them up instead and
// flush returns at once.
func (e *CacheElement) flush(persist func(...db.Statement)) {
	e.mu.Lock()
	if e.flushing {
		e.mu.Unlock()
		return
	}
	e.flushing = true
	e.drain(persist)
}

// drain is entered with e.mu held and e.flushing set, and returns with e.mu
// released and e.flushing cleared.
func (e *CacheElement) drain(persist func(...db.Statement)) {
	for {
		stmts := e.pending
		e.pending = nil
		if len(stmts) == 0 {
			e.flushing = false
			e.idle.Broadcast()
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		persist(stmts...)
		e.mu.Lock()
	}
}

// claimRemoval removes address and takes ownership of the element's queued
// statements, the removal included, so the caller can write them itself.
// The caller must release the element once they are written. Nothing is
// claimed when the element lacks address.
func (e *CacheElement) claimRemoval(id uuid.UUID, address string, now int64) ([]db.Statement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.flushing {
		e.idle.Wait()
	}
	if !e.removeAddressLocked(id, address, now) {
		return nil, false
	}
	stmts := e.pending
	e.pending = nil
	e.flushing = true
	return stmts, true
}

// release ends a claim, handing statements queued in the meantime to persist
func (e *CacheElement) release(persist func(...db.Statement)) {
	e.mu.Lock()
	e.drain(persist)
}
