package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"playerident/internal/ratelimit"
	"playerident/models"

	"github.com/google/uuid"
)

const (
	AshconCooldown = time.Minute
	MojangCooldown = 10 * time.Minute
)

// IdentityAPI is a web service that maps names to identifiers and back
type IdentityAPI interface {
	IDByName(ctx context.Context, name string) (models.Identity, error)
	NameByID(ctx context.Context, id uuid.UUID) (models.Identity, error)
	String() string
}

// Ashcon queries the Ashcon mirror of the Mojang API. It answers both
// directions from a single endpoint and has lenient rate limits.
type Ashcon struct {
	client *Client
	svc    *ratelimit.Service
}

func NewAshcon(client *Client, svc *ratelimit.Service) *Ashcon {
	return &Ashcon{client: client, svc: svc}
}

type ashconUser struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}

func (a *Ashcon) IDByName(ctx context.Context, name string) (models.Identity, error) {
	return a.lookup(ctx, name)
}

func (a *Ashcon) NameByID(ctx context.Context, id uuid.UUID) (models.Identity, error) {
	return a.lookup(ctx, id.String())
}

func (a *Ashcon) lookup(ctx context.Context, subject string) (models.Identity, error) {
	u, err := a.svc.RequestURL(subject, "")
	if err != nil {
		return models.Identity{}, &Failure{Kind: RateLimited, Source: a.svc.Name(), Err: err}
	}

	var user ashconUser
	if err := a.client.GetJSON(ctx, a.svc.Name(), u, &user); err != nil {
		return models.Identity{}, checkRateLimit(err, http.StatusTooManyRequests, func() {
			a.svc.MarkRateLimited(a.client.Now())
		})
	}
	return toIdentity(a.svc.Name(), user.UUID, user.Username)
}

func (a *Ashcon) String() string {
	return a.svc.Name()
}

// Mojang queries the canonical Mojang API. Names are resolved against the
// profile service and identifiers against the session service, each with its
// own rate limit.
type Mojang struct {
	client   *Client
	profiles *ratelimit.Service
	sessions *ratelimit.Service
}

func NewMojang(client *Client, profiles, sessions *ratelimit.Service) *Mojang {
	return &Mojang{client: client, profiles: profiles, sessions: sessions}
}

type mojangProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m *Mojang) IDByName(ctx context.Context, name string) (models.Identity, error) {
	return m.lookup(ctx, m.profiles, name)
}

func (m *Mojang) NameByID(ctx context.Context, id uuid.UUID) (models.Identity, error) {
	// the session service wants the undashed form
	identity, err := m.lookup(ctx, m.sessions, strings.ReplaceAll(id.String(), "-", ""))
	if err == nil && identity.ID != id {
		return models.Identity{}, &Failure{Kind: Transient, Source: m.sessions.Name(),
			Err: fmt.Errorf("asked for %s but got %s", id, identity.ID)}
	}
	return identity, err
}

func (m *Mojang) lookup(ctx context.Context, svc *ratelimit.Service, subject string) (models.Identity, error) {
	u, err := svc.RequestURL(subject, "")
	if err != nil {
		return models.Identity{}, &Failure{Kind: RateLimited, Source: svc.Name(), Err: err}
	}

	var profile mojangProfile
	if err := m.client.GetJSON(ctx, svc.Name(), u, &profile); err != nil {
		return models.Identity{}, checkRateLimit(err, http.StatusTooManyRequests, func() {
			svc.MarkRateLimited(m.client.Now())
		})
	}
	return toIdentity(svc.Name(), profile.ID, profile.Name)
}

func (m *Mojang) String() string {
	return "Mojang"
}

func toIdentity(source, rawID, name string) (models.Identity, error) {
	// uuid.Parse accepts both the dashed and the 32 digit compact form
	id, err := uuid.Parse(rawID)
	if err != nil {
		return models.Identity{}, &Failure{Kind: Transient, Source: source, Err: fmt.Errorf("malformed uuid %q: %w", rawID, err)}
	}
	if name == "" {
		return models.Identity{}, &Failure{Kind: Transient, Source: source, Err: errors.New("response has no name")}
	}
	return models.Identity{ID: id, Name: name}, nil
}
