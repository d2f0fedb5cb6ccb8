package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"playerident/internal/chain"
	"playerident/internal/fetcher"
	"playerident/models"

	"github.com/google/uuid"
)

type (
	nameSource = chain.Source[string, models.Identity]
	idSource   = chain.Source[uuid.UUID, models.Identity]
)

// resolveTimeout bounds a shared resolution once it no longer follows the
// context of the caller that started it.
const resolveTimeout = 30 * time.Second

// ResolveIdentity finds the identifier of the player called name. The cache
// is consulted first, then the local environment, then, when allowNetwork is
// set and the environment verifies identities, the Ashcon and Mojang APIs.
// Results from outside the cache are written back to it.
func (r *Resolver) ResolveIdentity(ctx context.Context, name string, allowNetwork bool) (uuid.UUID, error) {
	key := "name:" + strings.ToLower(name) + ":" + strconv.FormatBool(allowNetwork)
	v, err := r.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		identity, err := chain.Walk(ctx, r.nameSources(allowNetwork), name, r.observer("identity"))
		if err != nil {
			return nil, &PlayerNotFoundError{Subject: name, Err: err}
		}
		return identity.ID, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.(uuid.UUID), nil
}

// ResolveName finds the current name of the player with the given identifier,
// walking the same stages as ResolveIdentity.
func (r *Resolver) ResolveName(ctx context.Context, id uuid.UUID, allowNetwork bool) (string, error) {
	key := "id:" + id.String() + ":" + strconv.FormatBool(allowNetwork)
	v, err := r.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		identity, err := chain.Walk(ctx, r.idSources(allowNetwork), id, r.observer("name"))
		if err != nil {
			return nil, &PlayerNotFoundError{Subject: id.String(), Err: err}
		}
		return identity.Name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// coalesce runs one resolve per key at a time and shares its result. The
// shared run ignores cancellation of whichever caller started it; each caller
// stops waiting when its own ctx is done.
func (r *Resolver) coalesce(ctx context.Context, key string, resolve func(context.Context) (any, error)) (any, error) {
	ch := r.inflight.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return resolve(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) networkAllowed(allowNetwork bool) bool {
	return allowNetwork && r.env.NetworkVerification()
}

func (r *Resolver) nameSources(allowNetwork bool) []nameSource {
	fc := r.config()
	sources := []nameSource{
		chain.SourceFunc[string, models.Identity]{Name: "cache", Fn: r.cachedByName},
	}
	if fc.LocalLookup {
		sources = append(sources, filling[string]{r, chain.SourceFunc[string, models.Identity]{Name: "local", Fn: r.localByName}})
	}
	if r.networkAllowed(allowNetwork) {
		if fc.Ashcon {
			sources = append(sources, filling[string]{r, chain.SourceFunc[string, models.Identity]{Name: r.ashcon.String(), Fn: r.ashcon.IDByName}})
		}
		if fc.Mojang {
			sources = append(sources, filling[string]{r, chain.SourceFunc[string, models.Identity]{Name: r.mojang.String(), Fn: r.mojang.IDByName}})
		}
	}
	return sources
}

func (r *Resolver) idSources(allowNetwork bool) []idSource {
	fc := r.config()
	sources := []idSource{
		chain.SourceFunc[uuid.UUID, models.Identity]{Name: "cache", Fn: r.cachedByID},
	}
	if fc.LocalLookup {
		sources = append(sources, filling[uuid.UUID]{r, chain.SourceFunc[uuid.UUID, models.Identity]{Name: "local", Fn: r.localByID}})
	}
	if r.networkAllowed(allowNetwork) {
		if fc.Ashcon {
			sources = append(sources, filling[uuid.UUID]{r, chain.SourceFunc[uuid.UUID, models.Identity]{Name: r.ashcon.String(), Fn: r.ashcon.NameByID}})
		}
		if fc.Mojang {
			sources = append(sources, filling[uuid.UUID]{r, chain.SourceFunc[uuid.UUID, models.Identity]{Name: r.mojang.String(), Fn: r.mojang.NameByID}})
		}
	}
	return sources
}

func (r *Resolver) cachedByName(_ context.Context, name string) (models.Identity, error) {
	id, err := r.GetID(name)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", chain.ErrNotFound, err)
	}
	cached, err := r.GetName(id)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", chain.ErrNotFound, err)
	}
	return models.Identity{ID: id, Name: cached}, nil
}

func (r *Resolver) cachedByID(_ context.Context, id uuid.UUID) (models.Identity, error) {
	name, err := r.GetName(id)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", chain.ErrNotFound, err)
	}
	return models.Identity{ID: id, Name: name}, nil
}

func (r *Resolver) localByName(_ context.Context, name string) (models.Identity, error) {
	id, localName, ok := r.env.LookupLocalByName(name)
	if !ok {
		return models.Identity{}, chain.ErrNotFound
	}
	return models.Identity{ID: id, Name: localName}, nil
}

func (r *Resolver) localByID(_ context.Context, id uuid.UUID) (models.Identity, error) {
	name, ok := r.env.LookupLocalByID(id)
	if !ok {
		return models.Identity{}, chain.ErrNotFound
	}
	return models.Identity{ID: id, Name: name}, nil
}

// filling writes every identity its source produces back into the cache
type filling[S any] struct {
	r   *Resolver
	src chain.Source[S, models.Identity]
}

func (f filling[S]) Attempt(ctx context.Context, subject S) (models.Identity, error) {
	identity, err := f.src.Attempt(ctx, subject)
	if err != nil {
		return identity, err
	}
	f.r.Update(identity.ID, identity.Name, "")
	return identity, nil
}

func (f filling[S]) String() string {
	return f.src.String()
}

// observer logs and counts every attempt made while walking chainName
func (r *Resolver) observer(chainName string) chain.Observer {
	return func(source string, outcome chain.Outcome, err error) {
		r.metrics.SourceAttempts.WithLabelValues(chainName, source, outcome.String()).Inc()

		switch outcome {
		case chain.Found:
			log.Debugw("Source answered", "chain", chainName, "source", source)
		case chain.NotFound:
			log.Debugw("Source has no answer", "chain", chainName, "source", source)
		default:
			var f *fetcher.Failure
			if errors.As(err, &f) && f.Kind == fetcher.RateLimited {
				if f.Status != 0 {
					r.metrics.RateLimited.WithLabelValues(f.Source).Inc()
				}
				log.Debugw("Source is rate limited", "chain", chainName, "source", source, "err", err)
				return
			}
			log.Warnw("Source failed", "chain", chainName, "source", source, "err", err)
		}
	}
}
