package suggest

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Service answers queries from the cache first and generates on a miss.
// Concurrent misses for one key share a single backend call.
type Service struct {
	Cache     *Cache
	Generator ports.SuggestionGenerator
	Logger    ports.Logger
	// Timeout bounds a shared generation once it is detached from its
	// callers. Zero leaves the bound to the generator's transport.
	Timeout time.Duration

	group singleflight.Group
}

// Suggest returns the pending suggestion for query in snapshot. On a miss
// exactly one generation runs and its result is stored once.
func (s *Service) Suggest(ctx context.Context, query string, snapshot domain.ContextSnapshot) (domain.PendingSuggestion, error) {
	if s.Generator == nil {
		return domain.PendingSuggestion{}, errors.New("suggest.Service dependencies not satisfied")
	}
	key := DeriveKey(query, snapshot)

	if s.Cache != nil {
		entry, ok, err := s.Cache.Get(ctx, key)
		if err != nil {
			s.warn("cache lookup failed", err, key)
		} else if ok {
			return domain.PendingSuggestion{
				Query:      query,
				Suggestion: entry.Suggestion,
				CacheID:    entry.ID,
				CacheKey:   key,
				FromCache:  true,
			}, nil
		}
	}

	// The flight outlives any single caller: abandoning it must not fail
	// others waiting on the same key.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		flightCtx := context.WithoutCancel(ctx)
		if s.Timeout > 0 {
			var cancel context.CancelFunc
			flightCtx, cancel = context.WithTimeout(flightCtx, s.Timeout)
			defer cancel()
		}
		return s.generate(flightCtx, key, query, snapshot)
	})
	select {
	case <-ctx.Done():
		return domain.PendingSuggestion{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.PendingSuggestion{}, res.Err
		}
		pending := res.Val.(domain.PendingSuggestion)
		pending.Query = query
		return pending, nil
	}
}

// Accept records that the user chose to run a suggestion.
func (s *Service) Accept(ctx context.Context, pending domain.PendingSuggestion) error {
	if s.Cache == nil || pending.CacheID == "" {
		return nil
	}
	return s.Cache.MarkAccepted(ctx, pending.CacheID)
}

func (s *Service) generate(ctx context.Context, key, query string, snapshot domain.ContextSnapshot) (domain.PendingSuggestion, error) {
	suggestion, err := s.Generator.Generate(ctx, query, snapshot)
	if err != nil {
		return domain.PendingSuggestion{}, err
	}
	pending := domain.PendingSuggestion{Query: query, Suggestion: suggestion, CacheKey: key}
	if s.Cache == nil {
		return pending, nil
	}
	entry, err := s.Cache.Put(ctx, domain.CacheEntry{
		Key:         key,
		Query:       query,
		Fingerprint: snapshot.Fingerprint(),
		Suggestion:  suggestion,
		ModelID:     s.Generator.ModelID(),
		ProviderID:  s.Generator.ProviderID(),
	})
	if err != nil {
		s.warn("cache put failed", err, key)
		return pending, nil
	}
	pending.CacheID = entry.ID
	return pending, nil
}

func (s *Service) warn(msg string, err error, key string) {
	if s.Logger != nil {
		s.Logger.Warn(msg, map[string]interface{}{"key": key, "error": err.Error()})
	}
}

var _ ports.Suggester = (*Service)(nil)
