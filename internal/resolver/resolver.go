// Package resolver keeps the cached mapping between player identifiers,
// display names and connection addresses, and reconciles it against the
// local environment and the external identity and geo-IP services.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"playerident/db"
	"playerident/internal/config"
	"playerident/internal/fetcher"
	"playerident/internal/metrics"
	"playerident/internal/ratelimit"
	"playerident/internal/util"
	"playerident/models"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/singleflight"
)

var log = logging.Logger("resolver")

// Persister writes identity statements. Enqueue does not wait for the write
// but may block while the queue is full; Execute waits until the statements,
// and everything queued before them, are written.
type Persister interface {
	Enqueue(stmts ...db.Statement)
	Execute(ctx context.Context, stmts ...db.Statement) error
}

// RowLoader reads the persisted snapshot at startup
type RowLoader interface {
	FindAll(ctx context.Context) ([]*models.IdentityRow, error)
}

// Environment answers questions about players known to the running server
type Environment interface {
	// LookupLocalByName returns the identifier and properly cased name of a
	// player known locally.
	LookupLocalByName(name string) (uuid.UUID, string, bool)
	LookupLocalByID(id uuid.UUID) (string, bool)
	// NetworkVerification is false when players authenticate themselves and
	// asking the identity services would be pointless.
	NetworkVerification() bool
}

// Deps are the collaborators of a Resolver. Client, Clock and Metrics may be
// nil.
type Deps struct {
	Store     Persister
	Rows      RowLoader
	Env       Environment
	Client    *fetcher.Client
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Endpoints config.Endpoints
}

// Resolver is safe for concurrent use
type Resolver struct {
	cache   *cache
	store   Persister
	rows    RowLoader
	env     Environment
	client  *fetcher.Client
	clock   clock.Clock
	metrics *metrics.Metrics

	fetchers atomic.Pointer[config.FetcherConfig]

	ashcon *fetcher.Ashcon
	mojang *fetcher.Mojang

	ashconSvc         *ratelimit.Service
	mojangProfilesSvc *ratelimit.Service
	mojangSessionsSvc *ratelimit.Service
	ipstackSvc        *ratelimit.Service
	freeGeoIPSvc      *ratelimit.Service
	ipapiSvc          *ratelimit.Service

	inflight singleflight.Group
	purgeMu  sync.Mutex
}

// New creates a resolver with an empty cache. Call Load to populate it.
func New(deps Deps, fc config.FetcherConfig) *Resolver {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	client := deps.Client
	if client == nil {
		client = fetcher.NewClient(5*time.Second, 1, clk)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	r := &Resolver{
		cache:   newCache(),
		store:   deps.Store,
		rows:    deps.Rows,
		env:     deps.Env,
		client:  client,
		clock:   clk,
		metrics: m,

		ashconSvc:         ratelimit.New("Ashcon", deps.Endpoints.Ashcon, fetcher.AshconCooldown, clk),
		mojangProfilesSvc: ratelimit.New("Mojang profiles", deps.Endpoints.MojangProfile, fetcher.MojangCooldown, clk),
		mojangSessionsSvc: ratelimit.New("Mojang sessions", deps.Endpoints.MojangSession, fetcher.MojangCooldown, clk),
		ipstackSvc:        ratelimit.New("IPStack", deps.Endpoints.IPStack, fetcher.IPStackCooldown, clk),
		freeGeoIPSvc:      ratelimit.New("FreeGeoIP", deps.Endpoints.FreeGeoIP, fetcher.FreeGeoIPCooldown, clk),
		ipapiSvc:          ratelimit.New("IPAPI", deps.Endpoints.IPAPI, fetcher.IPAPICooldown, clk),
	}
	r.ashcon = fetcher.NewAshcon(client, r.ashconSvc)
	r.mojang = fetcher.NewMojang(client, r.mojangProfilesSvc, r.mojangSessionsSvc)
	r.Configure(fc)
	return r
}

// Configure replaces the source toggles. Cached identities and cooldowns are
// kept.
func (r *Resolver) Configure(fc config.FetcherConfig) {
	r.fetchers.Store(&fc)
	log.Infow("Resolver configured",
		"local", fc.LocalLookup, "ashcon", fc.Ashcon, "mojang", fc.Mojang,
		"ipstack", fc.IPStack, "freegeoip", fc.FreeGeoIP, "ipapi", fc.IPAPI)
}

func (r *Resolver) config() config.FetcherConfig {
	return *r.fetchers.Load()
}

// Services reports the rate-limit state of every external service
func (r *Resolver) Services() []models.ServiceStatus {
	services := []*ratelimit.Service{
		r.ashconSvc, r.mojangProfilesSvc, r.mojangSessionsSvc,
		r.ipstackSvc, r.freeGeoIPSvc, r.ipapiSvc,
	}
	statuses := make([]models.ServiceStatus, 0, len(services))
	for _, svc := range services {
		statuses = append(statuses, svc.Status())
	}
	return statuses
}

// Len returns the number of cached identities
func (r *Resolver) Len() int {
	return r.cache.len()
}

func (r *Resolver) GetName(id uuid.UUID) (string, error) {
	e, ok := r.cache.get(id)
	if !ok {
		return "", &MissingCacheEntryError{Key: id.String()}
	}
	return e.Name(), nil
}

func (r *Resolver) GetAddresses(id uuid.UUID) ([]string, error) {
	e, ok := r.cache.get(id)
	if !ok {
		return nil, &MissingCacheEntryError{Key: id.String()}
	}
	return e.Addresses(), nil
}

// GetID finds a cached identity by name, ignoring case. Should two cached
// identities share a name, either may be returned.
func (r *Resolver) GetID(name string) (uuid.UUID, error) {
	var found uuid.UUID
	ok := false
	r.cache.each(func(id uuid.UUID, e *CacheElement) bool {
		if e.nameMatches(name) {
			found, ok = id, true
			return false
		}
		return true
	})
	if !ok {
		return uuid.Nil, &MissingCacheEntryError{Key: name}
	}
	return found, nil
}

// GetIDsByAddress returns every identity seen connecting from address
func (r *Resolver) GetIDsByAddress(address string) []uuid.UUID {
	ids := []uuid.UUID{}
	r.cache.each(func(id uuid.UUID, e *CacheElement) bool {
		if e.HasAddress(address) {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

func (r *Resolver) HasAddress(id uuid.UUID, address string) bool {
	e, ok := r.cache.get(id)
	return ok && e.HasAddress(address)
}

func (r *Resolver) IDExists(id uuid.UUID) bool {
	_, ok := r.cache.get(id)
	return ok
}

// Update records that id goes by name and was seen at address. Either may be
// empty when unknown, and an address that does not parse as an IP address is
// ignored. The cache reflects the change before Update returns; the write to
// storage is queued and only issued when something changed.
func (r *Resolver) Update(id uuid.UUID, name, address string) {
	if address != "" && !models.ValidAddress(address) {
		log.Warnw("Ignoring malformed address", "uuid", id, "address", address)
		address = ""
	}
	now := r.clock.Now().Unix()

	fresh := newCacheElement(name, []string{address}, now, now)
	fresh.pending = []db.Statement{fresh.insertStatement(id)}
	e, loaded := r.cache.loadOrStore(id, fresh)
	if !loaded {
		fresh.flush(r.store.Enqueue)
		r.metrics.CacheUpdates.WithLabelValues("insert").Inc()
		log.Debugw("Cached new identity", "uuid", id, "name", name)
		return
	}

	if e.apply(id, name, address, now) {
		e.flush(r.store.Enqueue)
		r.metrics.CacheUpdates.WithLabelValues("update").Inc()
		log.Debugw("Updated cached identity", "uuid", id, "name", name, "address", address)
	}
}

// ClearCachedAddress removes address from every identity and reports whether
// any had it. Unless async is set the removals are written as one batch and
// ClearCachedAddress returns once they are stored, with any write error.
func (r *Resolver) ClearCachedAddress(ctx context.Context, address string, async bool) (bool, error) {
	now := r.clock.Now().Unix()
	if async {
		matched := 0
		r.cache.each(func(id uuid.UUID, e *CacheElement) bool {
			if e.removeAddress(id, address, now) {
				e.flush(r.store.Enqueue)
				matched++
			}
			return true
		})
		r.purged(address, matched)
		return matched > 0, nil
	}

	// Claims are held across elements, so synchronous purges must not overlap
	r.purgeMu.Lock()
	defer r.purgeMu.Unlock()

	var (
		batch   []db.Statement
		claimed []*CacheElement
	)
	r.cache.each(func(id uuid.UUID, e *CacheElement) bool {
		if !e.HasAddress(address) {
			return true
		}
		if stmts, ok := e.claimRemoval(id, address, now); ok {
			batch = append(batch, stmts...)
			claimed = append(claimed, e)
		}
		return true
	})
	if len(claimed) == 0 {
		return false, nil
	}
	r.purged(address, len(claimed))

	err := r.store.Execute(ctx, batch...)
	for _, e := range claimed {
		e.release(r.store.Enqueue)
	}
	if err != nil {
		log.Errorw("Failed to store address purge", "address", address, "err", err)
		return true, fmt.Errorf("storing purge of %s: %w", address, err)
	}
	return true, nil
}

func (r *Resolver) purged(address string, matched int) {
	if matched == 0 {
		return
	}
	r.metrics.CacheUpdates.WithLabelValues("purge").Add(float64(matched))
	log.Infow("Purged address from cache", "address", address, "identities", matched)
}

// LoadAll fills the cache from persisted rows and returns how many were
// loaded. Rows with a malformed identifier are logged and skipped.
func (r *Resolver) LoadAll(rows []*models.IdentityRow) int {
	loaded := 0
	for _, row := range rows {
		if row == nil {
			continue
		}
		id, err := uuid.Parse(strings.TrimSpace(row.UUID))
		if err != nil {
			log.Warnw("Skipping identity row with malformed uuid", "uuid", row.UUID, "err", err)
			continue
		}
		r.cache.store(id, newCacheElement(row.Name, models.DecodeIPList(row.IPList), row.NameUpdatedAt, row.IPListUpdatedAt))
		loaded++
	}
	return loaded
}

// Load reads every persisted identity into the cache
func (r *Resolver) Load(ctx context.Context) (int, error) {
	rows, err := util.RetryOnLockWithResult(func() ([]*models.IdentityRow, error) {
		return r.rows.FindAll(ctx)
	})
	if err != nil {
		return 0, err
	}
	n := r.LoadAll(rows)
	log.Infow("Loaded identity cache", "loaded", n, "skipped", len(rows)-n)
	return n, nil
}
