package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"think/api/internal/cache"
	"think/api/internal/store"
)

type fakeFeedStore struct {
	decisions []store.Decision
	calls     int
	err       error
}

func (f *fakeFeedStore) ListFeedPage(_ context.Context, filter store.FeedFilter) ([]store.Decision, int, error) {
	f.calls++
	if f.err != nil {
		return nil, 0, f.err
	}
	total := len(f.decisions)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return f.decisions[start:end], total, nil
}

func testDecision(id string) store.Decision {
	rating := 4
	return store.Decision{
		ID:              id,
		UserID:          "user-1",
		Owner:           store.UserRef{ID: "user-1", Name: "Avery", Avatar: ""},
		Title:           "Switch teams",
		Description:     "Stay on platform or move to infra",
		Category:        "career",
		ConfidenceLevel: 70,
		Options: []store.Option{
			{ID: id + "-opt-a", Title: "Stay", Pros: []string{"familiar"}, Cons: []string{}},
			{ID: id + "-opt-b", Title: "Move", Pros: []string{}, Cons: []string{"ramp-up"}},
		},
		ReviewDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SuccessRating: &rating,
		IsPublic:      true,
		Tags:          []string{"work"},
		CreatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func setupFeed(t *testing.T, fs *fakeFeedStore) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	pageCache, err := cache.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = pageCache.Close() })
	return NewService(fs, pageCache, 60*time.Second), mr
}

func waitForCacheKey(t *testing.T, mr *miniredis.Miniredis, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mr.Exists("feed:" + key) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache key %q never populated", key)
}

func TestSecondQueryWithinTTLIsCacheHit(t *testing.T) {
	fs := &fakeFeedStore{decisions: []store.Decision{testDecision("d1")}}
	svc, mr := setupFeed(t, fs)

	p := ParsePublicParams(url.Values{"category": {"career"}})
	ctx := context.Background()

	first, hit, err := svc.PublicDecisions(ctx, p)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	if hit {
		t.Fatal("first query should be a miss")
	}

	waitForCacheKey(t, mr, PublicKey(p))

	second, hit, err := svc.PublicDecisions(ctx, p)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if !hit {
		t.Fatal("second query should be a hit")
	}
	if !bytes.Equal(first, second) {
		t.Fatal("cached payload must be byte-identical to the original response")
	}
	if fs.calls != 1 {
		t.Fatalf("expected exactly one store query, got %d", fs.calls)
	}
}

func TestStalePageServedUntilTTLExpires(t *testing.T) {
	fs := &fakeFeedStore{decisions: []store.Decision{testDecision("d1")}}
	svc, mr := setupFeed(t, fs)

	p := ParsePublicParams(url.Values{})
	ctx := context.Background()

	if _, _, err := svc.PublicDecisions(ctx, p); err != nil {
		t.Fatalf("prime query: %v", err)
	}
	waitForCacheKey(t, mr, PublicKey(p))

	// A new decision lands in the store; the cached page must not
	// reflect it yet.
	fs.decisions = append([]store.Decision{testDecision("d2")}, fs.decisions...)

	stale, hit, err := svc.PublicDecisions(ctx, p)
	if err != nil {
		t.Fatalf("stale query: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit inside TTL window")
	}
	if bytes.Contains(stale, []byte(`"d2"`)) {
		t.Fatal("stale page must not contain the new decision")
	}

	mr.FastForward(61 * time.Second)

	fresh, hit, err := svc.PublicDecisions(ctx, p)
	if err != nil {
		t.Fatalf("fresh query: %v", err)
	}
	if hit {
		t.Fatal("expected miss after TTL expiry")
	}
	if !bytes.Contains(fresh, []byte(`"d2"`)) {
		t.Fatal("fresh page must contain the new decision")
	}
}

func TestPageSizeNeverExceedsLimit(t *testing.T) {
	fs := &fakeFeedStore{}
	for i := 0; i < 30; i++ {
		fs.decisions = append(fs.decisions, testDecision("d"+string(rune('a'+i))))
	}
	svc, _ := setupFeed(t, fs)

	p := ParsePublicParams(url.Values{"limit": {"7"}, "page": {"2"}})
	payload, _, err := svc.PublicDecisions(context.Background(), p)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var parsed struct {
		Data struct {
			Decisions  []json.RawMessage `json:"decisions"`
			Pagination Pagination        `json:"pagination"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if len(parsed.Data.Decisions) > 7 {
		t.Fatalf("page size %d exceeds limit 7", len(parsed.Data.Decisions))
	}
	pg := parsed.Data.Pagination
	if pg.TotalDocs != 30 || pg.TotalPages != 5 {
		t.Fatalf("unexpected pagination %+v", pg)
	}
	if pg.HasNext != (pg.Page < pg.TotalPages) {
		t.Fatalf("hasNext inconsistent: %+v", pg)
	}
}

func TestEmptyResultIsAnEmptyPageNotAnError(t *testing.T) {
	svc, _ := setupFeed(t, &fakeFeedStore{})

	payload, _, err := svc.MyDecisions(context.Background(), "user-1", ParseMyParams(url.Values{}))
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var parsed struct {
		Success bool `json:"success"`
		Data    struct {
			Decisions  []json.RawMessage `json:"decisions"`
			Pagination Pagination        `json:"pagination"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if !parsed.Success {
		t.Fatal("expected success envelope")
	}
	if len(parsed.Data.Decisions) != 0 {
		t.Fatalf("expected empty page, got %d docs", len(parsed.Data.Decisions))
	}
	if parsed.Data.Pagination.TotalDocs != 0 || parsed.Data.Pagination.TotalPages != 1 {
		t.Fatalf("unexpected pagination %+v", parsed.Data.Pagination)
	}
}

func TestCacheUnavailableFallsThroughToStore(t *testing.T) {
	fs := &fakeFeedStore{decisions: []store.Decision{testDecision("d1")}}
	svc, mr := setupFeed(t, fs)
	mr.Close()

	payload, hit, err := svc.PublicDecisions(context.Background(), ParsePublicParams(url.Values{}))
	if err != nil {
		t.Fatalf("query with dead cache: %v", err)
	}
	if hit {
		t.Fatal("dead cache cannot produce a hit")
	}
	if !bytes.Contains(payload, []byte(`"d1"`)) {
		t.Fatal("expected store-backed payload")
	}
	if fs.calls != 1 {
		t.Fatalf("expected store query, got %d calls", fs.calls)
	}
}

func TestOwnerScopeIsPartOfTheCacheKey(t *testing.T) {
	fs := &fakeFeedStore{decisions: []store.Decision{testDecision("d1")}}
	svc, mr := setupFeed(t, fs)

	p := ParseMyParams(url.Values{})
	ctx := context.Background()

	if _, _, err := svc.MyDecisions(ctx, "user-1", p); err != nil {
		t.Fatalf("query user-1: %v", err)
	}
	waitForCacheKey(t, mr, MyKey("user-1", p))

	if _, hit, err := svc.MyDecisions(ctx, "user-2", p); err != nil {
		t.Fatalf("query user-2: %v", err)
	} else if hit {
		t.Fatal("another owner's page must not hit the first owner's entry")
	}
	if fs.calls != 2 {
		t.Fatalf("expected two store queries, got %d", fs.calls)
	}
}
