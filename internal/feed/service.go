// Package feed answers the two hot decision-feed queries through a
// short-TTL page cache. Cached pages are returned verbatim; writes to
// the store are never reflected before the TTL expires.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"think/api/internal/cache"
	"think/api/internal/store"
)

type Store interface {
	ListFeedPage(ctx context.Context, filter store.FeedFilter) ([]store.Decision, int, error)
}

type Service struct {
	store Store
	cache *cache.Cache
	ttl   time.Duration
}

func NewService(dataStore Store, pageCache *cache.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Service{store: dataStore, cache: pageCache, ttl: ttl}
}

// MyDecisions serves one page of the owner's feed. The second return
// value reports whether the page came from cache.
func (s *Service) MyDecisions(ctx context.Context, ownerID string, p Params) ([]byte, bool, error) {
	filter := p.filter()
	filter.OwnerID = ownerID
	return s.page(ctx, MyKey(ownerID, p), filter, p)
}

// PublicDecisions serves one page of the community feed.
func (s *Service) PublicDecisions(ctx context.Context, p Params) ([]byte, bool, error) {
	filter := p.filter()
	filter.PublicOnly = true
	return s.page(ctx, PublicKey(p), filter, p)
}

func (s *Service) page(ctx context.Context, key string, filter store.FeedFilter, p Params) ([]byte, bool, error) {
	if payload, ok := s.cache.Get(ctx, key); ok {
		return payload, true, nil
	}

	decisions, total, err := s.store.ListFeedPage(ctx, filter)
	if err != nil {
		return nil, false, fmt.Errorf("list feed page: %w", err)
	}

	docs := make([]DecisionDoc, 0, len(decisions))
	for _, decision := range decisions {
		docs = append(docs, DecisionPayload(decision))
	}

	payload, err := json.Marshal(envelope{
		Success: true,
		Data: pageData{
			Decisions:  docs,
			Pagination: PaginationFor(p.Page, p.Limit, total),
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal feed page: %w", err)
	}

	s.populate(ctx, key, payload)
	return payload, false, nil
}

// PingCache reports cache backend health for readiness checks.
func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// populate writes the page back without blocking the response. Two
// concurrent misses may both write the same key; last write wins and
// the values are equivalent, so the stampede is tolerated rather than
// prevented.
func (s *Service) populate(ctx context.Context, key string, payload []byte) {
	writeCtx := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(writeCtx, 5*time.Second)
		defer cancel()
		if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
			log.Printf("feed cache populate failed: %v", err)
		}
	}()
}
