// Package presence tracks the players connected to the running server. It is
// the local environment the resolver asks before going to the network.
package presence

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"playerident/models"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("presence")

type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.Session
	clock    clock.Clock

	onlineMode atomic.Bool
}

// NewRegistry creates an empty registry. onlineMode tells whether players are
// authenticated by the identity services. A nil clk uses the wall clock.
func NewRegistry(onlineMode bool, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	r := &Registry{
		sessions: make(map[uuid.UUID]models.Session),
		clock:    clk,
	}
	r.onlineMode.Store(onlineMode)
	return r
}

// Join records a connected player, replacing any earlier session of the same
// identity.
func (r *Registry) Join(id uuid.UUID, name, address string) models.Session {
	s := models.Session{
		ID:       id,
		Name:     name,
		Address:  address,
		JoinedAt: r.clock.Now(),
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	log.Debugw("Player joined", "uuid", id, "name", name)
	return s
}

// Leave forgets the player and reports whether it was connected
func (r *Registry) Leave(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	log.Debugw("Player left", "uuid", id)
	return true
}

// Online lists connected players ordered by name
func (r *Registry) Online() []models.Session {
	r.mu.RLock()
	sessions := make([]models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return strings.ToLower(sessions[i].Name) < strings.ToLower(sessions[j].Name)
	})
	return sessions
}

func (r *Registry) SetOnlineMode(onlineMode bool) {
	r.onlineMode.Store(onlineMode)
}

// LookupLocalByName finds a connected player by name, ignoring case
func (r *Registry) LookupLocalByName(name string) (uuid.UUID, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.sessions {
		if strings.EqualFold(s.Name, name) {
			return id, s.Name, true
		}
	}
	return uuid.Nil, "", false
}

func (r *Registry) LookupLocalByID(id uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s.Name, ok
}

// NetworkVerification reports whether the server runs in online mode
func (r *Registry) NetworkVerification() bool {
	return r.onlineMode.Load()
}
